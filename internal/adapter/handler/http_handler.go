package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/webhook"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/pkg/logging"
)

const headerIdempotencyKey = "Idempotency-Key"

type HTTPHandler struct {
	carts          *service.CartService
	orders         *service.OrderService
	payments       *service.PaymentService
	settlement     *service.SettlementService
	refunds        *service.RefundService
	decoder        *webhook.Decoder
	validate       *validator.Validate
	logger         *zap.Logger
	metricsHandler http.Handler
	requestTimeout time.Duration
}

type HTTPHandlerConfig struct {
	Carts          *service.CartService
	Orders         *service.OrderService
	Payments       *service.PaymentService
	Settlement     *service.SettlementService
	Refunds        *service.RefundService
	Decoder        *webhook.Decoder
	Logger         *zap.Logger
	MetricsHandler http.Handler
	RequestTimeout time.Duration
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Qty       int   `json:"qty"`
}

type updateCartItemRequest struct {
	Qty *int `json:"qty" validate:"required"`
}

type createIntentRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

type refundRequest struct {
	OrderID int64            `json:"order_id" validate:"required,gt=0"`
	Amount  *decimal.Decimal `json:"amount"`
}

type createIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func NewHTTPHandler(cfg HTTPHandlerConfig) *HTTPHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		carts:          cfg.Carts,
		orders:         cfg.Orders,
		payments:       cfg.Payments,
		settlement:     cfg.Settlement,
		refunds:        cfg.Refunds,
		decoder:        cfg.Decoder,
		validate:       validator.New(),
		logger:         logger,
		metricsHandler: cfg.MetricsHandler,
		requestTimeout: cfg.RequestTimeout,
	}
}

// Router builds the gin engine wrapped in OpenTelemetry instrumentation.
func (h *HTTPHandler) Router() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestContext(h.logger), requestTimeout(h.requestTimeout))

	r.GET("/health", h.HealthCheck)
	if h.metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(h.metricsHandler))
	}

	api := r.Group("/api")
	api.POST("/payments/webhook", h.Webhook)

	authed := api.Group("", requireActor)
	authed.GET("/cart", h.GetCart)
	authed.GET("/cart/items", h.ListCartItems)
	authed.GET("/cart/items/:id", h.GetCartItem)
	authed.POST("/cart/items", h.AddCartItem)
	authed.PATCH("/cart/items/:id", h.UpdateCartItem)
	authed.DELETE("/cart/items/:id", h.RemoveCartItem)
	authed.POST("/checkout/create-order", h.CreateOrder)
	authed.GET("/orders", h.ListOrders)
	authed.GET("/orders/:id", h.GetOrder)
	authed.POST("/payments/create-intent", h.CreatePaymentIntent)
	authed.POST("/payments/refund", h.Refund)

	return otelhttp.NewHandler(r, "storefront.http")
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) GetCart(c *gin.Context) {
	cart, err := h.carts.GetCart(c.Request.Context(), actorFrom(c).CustomerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(cart))
}

func (h *HTTPHandler) ListCartItems(c *gin.Context) {
	cart, err := h.carts.GetCart(c.Request.Context(), actorFrom(c).CustomerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(cart).Lines)
}

func (h *HTTPHandler) GetCartItem(c *gin.Context) {
	lineID, ok := pathID(c)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), actorFrom(c).CustomerID)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, l := range cart.Lines {
		if l.ID == lineID {
			c.JSON(http.StatusOK, toCartLine(l))
			return
		}
	}
	writeError(c, domain.ErrCartLineNotFound)
}

func (h *HTTPHandler) AddCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := h.bind(c, &req); err != nil {
		return
	}

	line, err := h.carts.AddOrMergeLine(c.Request.Context(), actorFrom(c).CustomerID, req.ProductID, req.Qty)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCartLine(*line))
}

func (h *HTTPHandler) UpdateCartItem(c *gin.Context) {
	lineID, ok := pathID(c)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if err := h.bind(c, &req); err != nil {
		return
	}

	line, err := h.carts.SetLineQuantity(c.Request.Context(), actorFrom(c).CustomerID, lineID, *req.Qty)
	if err != nil {
		writeError(c, err)
		return
	}
	if line == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, toCartLine(*line))
}

func (h *HTTPHandler) RemoveCartItem(c *gin.Context) {
	lineID, ok := pathID(c)
	if !ok {
		return
	}

	removed, err := h.carts.RemoveLine(c.Request.Context(), actorFrom(c).CustomerID, lineID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !removed {
		writeError(c, domain.ErrCartLineNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	key := c.GetHeader(headerIdempotencyKey)
	if len(key) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "Idempotency-Key longer than 255 characters"})
		return
	}

	order, created, err := h.orders.CreateOrder(c.Request.Context(), actorFrom(c).CustomerID, key)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toOrder(order))
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrder(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(order))
}

func (h *HTTPHandler) CreatePaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := h.bind(c, &req); err != nil {
		return
	}

	intent, err := h.payments.GetOrCreateIntent(c.Request.Context(), actorFrom(c), req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, createIntentResponse{
		PaymentIntentID: intent.HandleID,
		ClientSecret:    intent.ClientSecret,
	})
}

func (h *HTTPHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := h.bind(c, &req); err != nil {
		return
	}

	refund, err := h.refunds.Refund(c.Request.Context(), actorFrom(c), req.OrderID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, refundResponse{RefundID: refund.ID, Status: refund.Status})
}

// Webhook acknowledges every event it recorded or had already recorded, so
// the processor stops redelivering it.
func (h *HTTPHandler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": err.Error()})
		return
	}

	ev, err := h.decoder.Decode(payload, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		code := "invalid_payload"
		if errors.Is(err, webhook.ErrInvalidSignature) {
			code = "invalid_signature"
		}
		logging.FromContext(c.Request.Context()).Warn("webhook rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
		return
	}

	outcome, err := h.settlement.Handle(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": webhookStatus(outcome)})
}

func webhookStatus(o domain.SettlementOutcome) string {
	switch o {
	case domain.OutcomeDuplicate:
		return "ignored"
	case domain.OutcomeUnhandled:
		return "unhandled"
	default:
		return "ok"
	}
}

// bind decodes and validates a JSON body, writing a 400 on failure.
func (h *HTTPHandler) bind(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": err.Error()})
		return err
	}
	if err := h.validate.Struct(out); err != nil {
		fields := map[string]string{}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": fields})
		return err
	}
	return nil
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "invalid id"})
		return 0, false
	}
	return id, true
}
