package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/payments"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// CheckoutRequest is a cart submitted for payment.
type CheckoutRequest struct {
	Items           []models.OrderItem `json:"items"`
	CustomerEmail   string             `json:"customerEmail"`
	ShippingAddress *models.Address    `json:"shippingAddress,omitempty"`
	BillingAddress  *models.Address    `json:"billingAddress,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

// CheckoutResult is what the client needs to complete payment.
type CheckoutResult struct {
	OrderID      string  `json:"orderId"`
	Provider     string  `json:"provider"`
	GatewayID    string  `json:"gatewayId"`
	ClientSecret string  `json:"clientSecret,omitempty"`
	SessionID    string  `json:"sessionId,omitempty"`
	URL          string  `json:"url,omitempty"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	PublicKey    string  `json:"publicKey"`
}

// RefundResult pairs the gateway refund with the order after it.
type RefundResult struct {
	Order  *models.Order    `json:"order"`
	Refund *payments.Refund `json:"refund"`
}

// CheckoutService runs the cart → gateway → order flow.
type CheckoutService struct {
	orders  *OrderService
	gateway payments.Gateway
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(orders *OrderService, gateway payments.Gateway) *CheckoutService {
	return &CheckoutService{orders: orders, gateway: gateway}
}

// ValidateCheckoutRequest reports the first problem with req.
func ValidateCheckoutRequest(req CheckoutRequest) error {
	if len(req.Items) == 0 {
		return apperrors.Validation("Items array is required and must not be empty")
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		return apperrors.Validation("Customer email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperrors.Validation("Invalid email format")
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Name == "" || item.Price == 0 || item.Quantity == 0 {
			return apperrors.Validation("Each item must have productId, name, price, and quantity")
		}
		if item.Price <= 0 || item.Quantity <= 0 {
			return apperrors.Validation("Price and quantity must be positive numbers")
		}
	}
	return nil
}

func (s *CheckoutService) newOrder(req CheckoutRequest, id string, total float64) *models.Order {
	return &models.Order{
		ID:              id,
		Items:           req.Items,
		CustomerEmail:   req.CustomerEmail,
		TotalAmount:     total,
		Currency:        s.gateway.Currency(),
		Provider:        s.gateway.Provider(),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Metadata:        req.Metadata,
		OrderStatus:     models.OrderCreated,
	}
}

// Checkout creates a gateway payment intent for the cart and records the order
// in "created" payment status. Nothing is sent to the gateway or stored if the
// request is invalid.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := ValidateCheckoutRequest(req); err != nil {
		return nil, err
	}
	total := CalculateTotal(req.Items)
	orderID := uuid.NewString()

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		Amount:        total,
		CustomerEmail: models.NormalizeEmail(req.CustomerEmail),
		OrderID:       orderID,
	})
	metrics.ObserveGatewayCall(s.gateway.Provider(), "create_intent", err)
	if err != nil {
		return nil, err
	}

	order := s.newOrder(req, orderID, total)
	order.GatewayID = intent.GatewayID
	order.PaymentStatus = models.PaymentCreated
	if intent.Currency != "" {
		order.Currency = intent.Currency
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		slog.Error("order not stored after gateway intent was created",
			"order_id", orderID, "gateway_id", intent.GatewayID, "error", err)
		return nil, err
	}

	return &CheckoutResult{
		OrderID:      order.ID,
		Provider:     order.Provider,
		GatewayID:    intent.GatewayID,
		ClientSecret: intent.ClientSecret,
		Amount:       total,
		Currency:     order.Currency,
		PublicKey:    s.gateway.PublicKey(),
	}, nil
}

// CreateSession creates a hosted checkout session. The order is stored in
// "pending" status with a placeholder gateway id until the session completes.
func (s *CheckoutService) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := ValidateCheckoutRequest(req); err != nil {
		return nil, err
	}
	total := CalculateTotal(req.Items)
	orderID := uuid.NewString()

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.SessionRequest{
		Items:         req.Items,
		CustomerEmail: models.NormalizeEmail(req.CustomerEmail),
		OrderID:       orderID,
	})
	metrics.ObserveGatewayCall(s.gateway.Provider(), "create_session", err)
	if err != nil {
		return nil, err
	}

	order := s.newOrder(req, orderID, total)
	order.GatewayID = "pending_" + orderID
	order.SessionID = session.ID
	order.PaymentStatus = models.PaymentPending
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		slog.Error("order not stored after checkout session was created",
			"order_id", orderID, "session_id", session.ID, "error", err)
		return nil, err
	}

	return &CheckoutResult{
		OrderID:   order.ID,
		Provider:  order.Provider,
		GatewayID: order.GatewayID,
		SessionID: session.ID,
		URL:       session.URL,
		Amount:    total,
		Currency:  order.Currency,
		PublicKey: s.gateway.PublicKey(),
	}, nil
}

// VerifyPayment confirms a payment with the gateway and marks the order paid.
func (s *CheckoutService) VerifyPayment(ctx context.Context, proof payments.PaymentProof) (*models.Order, error) {
	v, err := s.gateway.VerifyPayment(ctx, proof)
	metrics.ObserveGatewayCall(s.gateway.Provider(), "verify_payment", err)
	if err != nil {
		return nil, err
	}

	captured := models.PaymentCaptured
	processing := models.OrderProcessing
	patch := models.OrderPatch{PaymentStatus: &captured, OrderStatus: &processing}
	if v.PaymentID != "" {
		patch.PaymentID = &v.PaymentID
	}
	if v.PaymentMethodID != "" {
		patch.PaymentMethodID = &v.PaymentMethodID
	}
	if v.Signature != "" {
		patch.PaymentSignature = &v.Signature
	}

	if v.SessionID != "" {
		if v.GatewayID != "" {
			patch.GatewayID = &v.GatewayID
		}
		return s.orders.UpdateOrderBySessionID(ctx, v.SessionID, patch)
	}
	return s.orders.UpdateOrderByGatewayID(ctx, v.GatewayID, patch)
}

// Refund refunds a captured order. A zero amount refunds the full total, which
// also cancels the order.
func (s *CheckoutService) Refund(ctx context.Context, orderID string, amount float64, reason string) (*RefundResult, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.PaymentCaptured {
		return nil, apperrors.Conflict(fmt.Sprintf("Only captured payments can be refunded (payment status is %s)", order.PaymentStatus), nil)
	}
	if amount < 0 || amount > order.TotalAmount {
		return nil, apperrors.Validation("Refund amount must be between 0 and the order total")
	}
	if amount == 0 {
		amount = order.TotalAmount
	}

	refund, err := s.gateway.Refund(ctx, payments.RefundRequest{
		GatewayID: order.GatewayID,
		PaymentID: order.PaymentID,
		Amount:    amount,
		Reason:    reason,
	})
	metrics.ObserveGatewayCall(s.gateway.Provider(), "refund", err)
	if err != nil {
		return nil, err
	}
	slog.Info("refund issued", "order_id", order.ID, "refund_id", refund.ID, "amount", amount)

	if payments.ToMinorUnits(amount) < payments.ToMinorUnits(order.TotalAmount) {
		return &RefundResult{Order: order, Refund: refund}, nil
	}

	cancelled := models.PaymentCancelled
	orderCancelled := models.OrderCancelled
	updated, err := s.orders.UpdateOrder(ctx, order.ID, models.OrderPatch{PaymentStatus: &cancelled, OrderStatus: &orderCancelled})
	if err != nil {
		return nil, err
	}
	return &RefundResult{Order: updated, Refund: refund}, nil
}
