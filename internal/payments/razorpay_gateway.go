package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/apperrors"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

// RazorpayConfig configures a RazorpayGateway.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// RazorpayGateway implements Gateway on top of razorpay-go. Razorpay has no
// hosted session object here; the client opens Checkout with the order id.
type RazorpayGateway struct {
	rc  *razorpay.Client
	cfg RazorpayConfig
}

// NewRazorpayGateway builds a gateway around its own API client.
func NewRazorpayGateway(cfg RazorpayConfig) *RazorpayGateway {
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	return &RazorpayGateway{
		rc:  razorpay.NewClient(cfg.KeyID, cfg.KeySecret),
		cfg: cfg,
	}
}

func (g *RazorpayGateway) Provider() string        { return ProviderRazorpay }
func (g *RazorpayGateway) SignatureHeader() string { return "X-Razorpay-Signature" }
func (g *RazorpayGateway) PublicKey() string       { return g.cfg.KeyID }
func (g *RazorpayGateway) Currency() string        { return g.cfg.Currency }

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func num(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// CreateIntent creates a Razorpay order. Razorpay has no client secret; the
// order id is what the client needs to open Checkout.
func (g *RazorpayGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	data := map[string]interface{}{
		"amount":   ToMinorUnits(req.Amount),
		"currency": strings.ToUpper(g.cfg.Currency),
		"receipt":  req.OrderID,
		"notes": map[string]interface{}{
			"orderId":       req.OrderID,
			"customerEmail": req.CustomerEmail,
		},
	}
	body, err := g.rc.Order.Create(data, nil)
	if err != nil {
		return nil, apperrors.Gateway("Failed to create Razorpay order", err)
	}
	return &Intent{
		GatewayID:    str(body, "id"),
		ClientSecret: str(body, "id"),
		Amount:       num(body, "amount"),
		Currency:     strings.ToLower(str(body, "currency")),
		Status:       str(body, "status"),
	}, nil
}

// CreateCheckoutSession is not available for Razorpay.
func (g *RazorpayGateway) CreateCheckoutSession(context.Context, SessionRequest) (*Session, error) {
	return nil, apperrors.Validation("Checkout sessions are not supported by the razorpay gateway")
}

// GetIntent fetches a Razorpay order.
func (g *RazorpayGateway) GetIntent(_ context.Context, gatewayID string) (*Intent, error) {
	body, err := g.rc.Order.Fetch(gatewayID, nil, nil)
	if err != nil {
		return nil, apperrors.Gateway("Failed to fetch Razorpay order", err)
	}
	return &Intent{
		GatewayID: str(body, "id"),
		Amount:    num(body, "amount"),
		Currency:  strings.ToLower(str(body, "currency")),
		Status:    str(body, "status"),
	}, nil
}

// VerifyPayment checks the checkout signature, HMAC-SHA256 of
// "order_id|payment_id" keyed with the key secret.
func (g *RazorpayGateway) VerifyPayment(_ context.Context, proof PaymentProof) (*Verification, error) {
	if proof.GatewayID == "" || proof.PaymentID == "" || proof.Signature == "" {
		return nil, apperrors.Validation("Missing payment verification details")
	}
	params := map[string]interface{}{
		"razorpay_order_id":   proof.GatewayID,
		"razorpay_payment_id": proof.PaymentID,
	}
	if !utils.VerifyPaymentSignature(params, proof.Signature, g.cfg.KeySecret) {
		return nil, apperrors.InvalidSignature("Invalid payment signature", nil)
	}
	return &Verification{
		GatewayID: proof.GatewayID,
		PaymentID: proof.PaymentID,
		Signature: proof.Signature,
	}, nil
}

type razorpayEntity struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	PaymentID      string `json:"payment_id"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	RefundStatus   string `json:"refund_status"`
}

// fullyRefunded reports whether the payment entity shows its whole amount
// refunded. Without a payment entity the refund cannot be judged and is
// treated as partial.
func fullyRefunded(payment *razorpayEntity) bool {
	if payment == nil {
		return false
	}
	if payment.RefundStatus == "full" {
		return true
	}
	return payment.Amount > 0 && payment.AmountRefunded >= payment.Amount
}

type razorpayWebhook struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

var razorpayKinds = map[string]EventKind{
	"order.paid":         EventPaymentSucceeded,
	"payment.captured":   EventPaymentSucceeded,
	"payment.authorized": EventPaymentProcessing,
	"payment.failed":     EventPaymentFailed,
	"payment.refunded":   EventPaymentRefunded,
	"refund.processed":   EventPaymentRefunded,
}

// ParseWebhook verifies X-Razorpay-Signature with the webhook secret and maps
// the event onto an EventKind.
func (g *RazorpayGateway) ParseWebhook(delivery WebhookDelivery) (*Event, error) {
	if delivery.Signature == "" {
		return nil, apperrors.InvalidSignature("Webhook signature verification failed", errors.New("missing X-Razorpay-Signature header"))
	}
	if !utils.VerifyWebhookSignature(string(delivery.Payload), delivery.Signature, g.cfg.WebhookSecret) {
		return nil, apperrors.InvalidSignature("Webhook signature verification failed", errors.New("signature mismatch"))
	}

	var body razorpayWebhook
	if err := json.Unmarshal(delivery.Payload, &body); err != nil {
		return nil, apperrors.Validation("Malformed webhook payload")
	}

	event := &Event{
		ID:       delivery.DeliveryID,
		Provider: ProviderRazorpay,
		Type:     body.Event,
		Kind:     EventIgnored,
	}
	if kind, ok := razorpayKinds[body.Event]; ok {
		event.Kind = kind
	}
	if p := body.Payload.Payment; p != nil {
		event.GatewayID = p.Entity.OrderID
		event.PaymentID = p.Entity.ID
		event.PaymentMethodID = p.Entity.Method
	}
	if o := body.Payload.Order; o != nil && event.GatewayID == "" {
		event.GatewayID = o.Entity.ID
	}
	if r := body.Payload.Refund; r != nil && event.PaymentID == "" {
		event.PaymentID = r.Entity.PaymentID
	}
	if event.Kind == EventPaymentRefunded {
		var payment *razorpayEntity
		if p := body.Payload.Payment; p != nil {
			payment = &p.Entity
		}
		if !fullyRefunded(payment) {
			event.Kind = EventIgnored
		}
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("%s:%s:%s:%d", body.Event, event.GatewayID, event.PaymentID, body.CreatedAt)
	}
	return event, nil
}

// Refund refunds a captured payment.
func (g *RazorpayGateway) Refund(_ context.Context, req RefundRequest) (*Refund, error) {
	if req.PaymentID == "" {
		return nil, apperrors.Validation("Order has no captured payment to refund")
	}
	data := map[string]interface{}{}
	if req.Reason != "" {
		data["notes"] = map[string]interface{}{"reason": req.Reason}
	}
	body, err := g.rc.Payment.Refund(req.PaymentID, int(ToMinorUnits(req.Amount)), data, nil)
	if err != nil {
		return nil, apperrors.Gateway("Failed to create refund", err)
	}
	return &Refund{
		ID:       str(body, "id"),
		Amount:   num(body, "amount"),
		Currency: strings.ToLower(str(body, "currency")),
		Status:   str(body, "status"),
	}, nil
}
