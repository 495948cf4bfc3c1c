// Package payments adapts the Stripe and Razorpay SDKs to a single Gateway
// interface. Exactly one gateway is built at startup from configuration and
// injected wherever payments are needed.
package payments

import (
	"context"
	"fmt"
	"math"

	"storefront/internal/apperrors"
	"storefront/internal/config"
	"storefront/internal/models"
)

const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
)

// Gateway is the capability set every payment provider implements.
type Gateway interface {
	Provider() string
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	PublicKey() string
	Currency() string

	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetIntent(ctx context.Context, gatewayID string) (*Intent, error)
	// VerifyPayment confirms that the payment described by proof completed.
	VerifyPayment(ctx context.Context, proof PaymentProof) (*Verification, error)
	// ParseWebhook authenticates a raw delivery and normalizes it into an Event.
	// A delivery failing authentication returns an InvalidSignature error.
	ParseWebhook(delivery WebhookDelivery) (*Event, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// IntentRequest asks the gateway for a payment intent (Stripe) or order (Razorpay).
type IntentRequest struct {
	Amount        float64
	CustomerEmail string
	OrderID       string // correlation id stored in the gateway object's metadata
}

// Intent is the gateway-side payment object.
type Intent struct {
	GatewayID       string
	ClientSecret    string
	Amount          int64 // minor units
	Currency        string
	Status          string
	PaymentID       string
	PaymentMethodID string
}

// Succeeded reports whether the gateway considers the payment complete.
func (i *Intent) Succeeded() bool {
	return i.Status == "succeeded" || i.Status == "paid" || i.Status == "captured"
}

// SessionRequest asks for a hosted checkout page.
type SessionRequest struct {
	Items         []models.OrderItem
	CustomerEmail string
	OrderID       string
}

// Session is a hosted checkout session.
type Session struct {
	ID        string
	URL       string
	GatewayID string // payment intent id, when already attached
	Paid      bool
}

// PaymentProof is what the client sends back after paying.
type PaymentProof struct {
	GatewayID string
	PaymentID string
	Signature string
	SessionID string
}

// Verification is the gateway's confirmation of a completed payment.
type Verification struct {
	GatewayID       string
	SessionID       string
	PaymentID       string
	PaymentMethodID string
	Signature       string
}

// WebhookDelivery is an inbound webhook exactly as received.
type WebhookDelivery struct {
	Payload    []byte
	Signature  string
	DeliveryID string // provider event id header, when the provider sends one
}

// RefundRequest refunds a captured payment. A zero Amount refunds in full.
type RefundRequest struct {
	GatewayID string
	PaymentID string
	Amount    float64
	Reason    string
}

// Refund is the gateway's refund record.
type Refund struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// EventKind is a provider-independent webhook event classification.
type EventKind string

const (
	EventIntentCreated     EventKind = "intent_created"
	EventPaymentProcessing EventKind = "payment_processing"
	EventPaymentSucceeded  EventKind = "payment_succeeded"
	EventPaymentFailed     EventKind = "payment_failed"
	EventPaymentCanceled   EventKind = "payment_canceled"
	EventPaymentRefunded   EventKind = "payment_refunded"
	EventSessionCompleted  EventKind = "session_completed"
	EventSessionExpired    EventKind = "session_expired"
	EventIgnored           EventKind = "ignored"
)

// Event is a verified, normalized webhook event.
type Event struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	Type            string    `json:"type"`
	Kind            EventKind `json:"kind"`
	GatewayID       string    `json:"gatewayId,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`
	PaymentID       string    `json:"paymentId,omitempty"`
	PaymentMethodID string    `json:"paymentMethodId,omitempty"`
	Paid            bool      `json:"paid,omitempty"`
}

// ToMinorUnits converts a decimal amount to the gateway's smallest currency unit.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// New builds the gateway selected by cfg.PaymentGateway.
func New(cfg *config.Config) (Gateway, error) {
	switch cfg.PaymentGateway {
	case ProviderStripe:
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe gateway")
		}
		return NewStripeGateway(StripeConfig{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			Currency:       cfg.Currency,
			SuccessURL:     cfg.CheckoutSuccessURL,
			CancelURL:      cfg.CheckoutCancelURL,
		}, nil), nil
	case ProviderRazorpay:
		if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
			return nil, fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required for the razorpay gateway")
		}
		return NewRazorpayGateway(RazorpayConfig{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
			Currency:      cfg.Currency,
		}), nil
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unsupported payment gateway %q", cfg.PaymentGateway))
	}
}
