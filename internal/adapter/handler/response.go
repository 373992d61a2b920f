package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/storefront/internal/core/domain"
)

type cartLineResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type cartResponse struct {
	ID       int64              `json:"id"`
	Status   string             `json:"status"`
	Lines    []cartLineResponse `json:"lines"`
	Subtotal string             `json:"subtotal"`
}

type orderLineResponse struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Title     string `json:"title"`
	UnitPrice string `json:"unit_price"`
	Qty       int    `json:"qty"`
	LineTotal string `json:"line_total"`
}

type orderResponse struct {
	ID              int64               `json:"id"`
	PublicID        string              `json:"public_id"`
	Status          string              `json:"status"`
	Currency        string              `json:"currency"`
	Subtotal        string              `json:"subtotal"`
	Tax             string              `json:"tax"`
	Shipping        string              `json:"shipping"`
	Total           string              `json:"total"`
	PaymentIntentID string              `json:"payment_intent_id,omitempty"`
	PaidAt          *time.Time          `json:"paid_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	Lines           []orderLineResponse `json:"lines"`
}

func toCartLine(l domain.CartLine) cartLineResponse {
	return cartLineResponse{
		ID:        l.ID,
		ProductID: l.ProductID,
		Qty:       l.Qty,
		UnitPrice: l.UnitPrice.StringFixed(2),
	}
}

func toCart(c *domain.Cart) cartResponse {
	lines := make([]cartLineResponse, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, toCartLine(l))
	}
	return cartResponse{
		ID:       c.ID,
		Status:   string(c.Status),
		Lines:    lines,
		Subtotal: c.Subtotal().StringFixed(2),
	}
}

func toOrder(o *domain.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineResponse{
			ProductID: l.ProductID,
			SKU:       l.SKU,
			Title:     l.Title,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Qty:       l.Qty,
			LineTotal: l.LineTotal.StringFixed(2),
		})
	}
	return orderResponse{
		ID:              o.ID,
		PublicID:        o.PublicID.String(),
		Status:          string(o.Status),
		Currency:        o.Currency,
		Subtotal:        o.Subtotal.StringFixed(2),
		Tax:             o.Tax.StringFixed(2),
		Shipping:        o.Shipping.StringFixed(2),
		Total:           o.Total.StringFixed(2),
		PaymentIntentID: o.PaymentHandleID,
		PaidAt:          o.PaidAt,
		CreatedAt:       o.CreatedAt,
		Lines:           lines,
	}
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotPayable),
		errors.Is(err, domain.ErrNotPaid),
		errors.Is(err, domain.ErrNoPaymentHandle):
		return http.StatusBadRequest
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.JSON(status, gin.H{
		"error":   domain.CodeOf(err),
		"message": message,
	})
}
