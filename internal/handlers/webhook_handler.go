package handlers

import (
	"storefront/internal/apperrors"
	"storefront/internal/payments"
	"storefront/internal/services"

	"github.com/gofiber/fiber/v2"
)

// razorpayEventIDHeader carries Razorpay's unique delivery id.
const razorpayEventIDHeader = "X-Razorpay-Event-Id"

// WebhookHandler receives payment gateway webhooks. Its responses follow what
// the gateways expect rather than the API envelope.
type WebhookHandler struct {
	service *services.WebhookService
	gateway payments.Gateway
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(service *services.WebhookService, gateway payments.Gateway) *WebhookHandler {
	return &WebhookHandler{service: service, gateway: gateway}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/orders/webhook", h.HandleWebhook)
}

// HandleWebhook verifies the raw body against the provider signature header
// and applies the event.
func (h *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns.
	payload := append([]byte(nil), c.Body()...)

	_, err := h.service.Handle(c.UserContext(), payments.WebhookDelivery{
		Payload:    payload,
		Signature:  c.Get(h.gateway.SignatureHeader()),
		DeliveryID: c.Get(razorpayEventIDHeader),
	})
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"received": true})
	case apperrors.Is(err, apperrors.KindInvalidSignature):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Webhook signature verification failed"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Webhook handler failed",
			"message": err.Error(),
		})
	}
}
