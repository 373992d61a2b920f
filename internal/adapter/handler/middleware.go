package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/pkg/logging"
)

const (
	headerRequestID    = "X-Request-ID"
	headerCustomerID   = "X-Customer-ID"
	headerCustomerRole = "X-Customer-Role"
	roleAdmin          = "admin"

	actorKey = "actor"
)

// requestContext tags each request with an id and a request-scoped logger.
func requestContext(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(headerRequestID, reqID)

		logger := base.With(zap.String("request_id", reqID))
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			logger = logger.With(
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))

		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireActor reads the caller identity asserted by the gateway.
func requireActor(c *gin.Context) {
	id, err := strconv.ParseInt(c.GetHeader(headerCustomerID), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthenticated",
			"message": "missing or invalid " + headerCustomerID,
		})
		return
	}
	c.Set(actorKey, domain.Actor{CustomerID: id, Admin: c.GetHeader(headerCustomerRole) == roleAdmin})
	c.Next()
}

func actorFrom(c *gin.Context) domain.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(domain.Actor)
	return actor
}
