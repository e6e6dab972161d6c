package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"ecorder/internal/payment"
	"ecorder/internal/usecase"

	"github.com/labstack/echo/v4"
)

// Stripeの上限に合わせる
const maxWebhookBody = 65536

type PaymentEventService interface {
	HandlePaymentEvent(ctx context.Context, ev payment.Event) (usecase.PaymentEventResult, error)
}

// /webhooks/stripe（JWTなし、署名で認証）
type WebhookHandler struct {
	uc     PaymentEventService
	secret string
}

func NewWebhookHandler(uc PaymentEventService, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{uc: uc, secret: webhookSecret}
}

type WebhookResponse struct {
	Result string `json:"result"`
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/stripe", h.stripe)
}

func (h *WebhookHandler) stripe(c echo.Context) error {
	if h.secret == "" {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "webhook not configured"})
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	ev, err := payment.ParseStripeWebhook(payload, c.Request().Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
	}

	res, err := h.uc.HandlePaymentEvent(c.Request().Context(), ev)
	if err != nil {
		// 409/500はStripeが再送する
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, WebhookResponse{Result: string(res)})
}
