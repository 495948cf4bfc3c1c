package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront/internal/apperrors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig configures a StripeGateway.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	Currency       string
	SuccessURL     string
	CancelURL      string
}

// StripeGateway implements Gateway on top of stripe-go.
type StripeGateway struct {
	sc  *client.API
	cfg StripeConfig
}

// NewStripeGateway builds a gateway around its own API client. backends may be
// nil to use Stripe's default endpoints.
func NewStripeGateway(cfg StripeConfig, backends *stripe.Backends) *StripeGateway {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &StripeGateway{
		sc:  client.New(cfg.SecretKey, backends),
		cfg: cfg,
	}
}

func (g *StripeGateway) Provider() string        { return ProviderStripe }
func (g *StripeGateway) SignatureHeader() string { return "Stripe-Signature" }
func (g *StripeGateway) PublicKey() string       { return g.cfg.PublishableKey }
func (g *StripeGateway) Currency() string        { return g.cfg.Currency }

func stripeMessage(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return errors.New(stripeErr.Msg)
	}
	return err
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		GatewayID:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}
	if pi.PaymentMethod != nil {
		intent.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LatestCharge != nil {
		intent.PaymentID = pi.LatestCharge.ID
	}
	return intent
}

// CreateIntent creates a payment intent with automatic payment methods.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(ToMinorUnits(req.Amount)),
		Currency:     stripe.String(g.cfg.Currency),
		ReceiptEmail: stripe.String(req.CustomerEmail),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderId", req.OrderID)
	params.AddMetadata("customerEmail", req.CustomerEmail)

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, apperrors.Gateway("Failed to create Stripe payment intent", stripeMessage(err))
	}
	return intentFromStripe(pi), nil
}

// CreateCheckoutSession creates a hosted checkout page for the items.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Image != "" {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.cfg.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(ToMinorUnits(item.Price)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		CustomerEmail:     stripe.String(req.CustomerEmail),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"orderId": req.OrderID, "customerEmail": req.CustomerEmail},
		},
	}
	params.Context = ctx
	params.AddMetadata("orderId", req.OrderID)

	cs, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, apperrors.Gateway("Failed to create Stripe checkout session", stripeMessage(err))
	}
	return sessionFromStripe(cs), nil
}

func sessionFromStripe(cs *stripe.CheckoutSession) *Session {
	s := &Session{
		ID:   cs.ID,
		URL:  cs.URL,
		Paid: cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if cs.PaymentIntent != nil {
		s.GatewayID = cs.PaymentIntent.ID
	}
	return s
}

// GetIntent fetches the current state of a payment intent.
func (g *StripeGateway) GetIntent(ctx context.Context, gatewayID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(gatewayID, params)
	if err != nil {
		return nil, apperrors.Gateway("Failed to fetch payment intent", stripeMessage(err))
	}
	return intentFromStripe(pi), nil
}

// VerifyPayment asks Stripe whether the session or intent has been paid.
func (g *StripeGateway) VerifyPayment(ctx context.Context, proof PaymentProof) (*Verification, error) {
	if proof.SessionID != "" {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		cs, err := g.sc.CheckoutSessions.Get(proof.SessionID, params)
		if err != nil {
			return nil, apperrors.Gateway("Failed to fetch checkout session", stripeMessage(err))
		}
		session := sessionFromStripe(cs)
		if !session.Paid {
			return nil, apperrors.Validation("Payment not successful")
		}
		return &Verification{GatewayID: session.GatewayID, SessionID: session.ID}, nil
	}

	if proof.GatewayID == "" {
		return nil, apperrors.Validation("Missing payment intent ID")
	}
	intent, err := g.GetIntent(ctx, proof.GatewayID)
	if err != nil {
		return nil, err
	}
	if intent.Status != string(stripe.PaymentIntentStatusSucceeded) {
		return nil, apperrors.Validation("Payment not successful")
	}
	return &Verification{
		GatewayID:       intent.GatewayID,
		PaymentID:       intent.PaymentID,
		PaymentMethodID: intent.PaymentMethodID,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw payload and
// maps the event onto an EventKind.
func (g *StripeGateway) ParseWebhook(delivery WebhookDelivery) (*Event, error) {
	if delivery.Signature == "" {
		return nil, apperrors.InvalidSignature("Webhook signature verification failed", errors.New("missing Stripe-Signature header"))
	}
	evt, err := webhook.ConstructEventWithOptions(delivery.Payload, delivery.Signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperrors.InvalidSignature("Webhook signature verification failed", err)
	}

	event := &Event{ID: evt.ID, Provider: ProviderStripe, Type: string(evt.Type), Kind: EventIgnored}
	if evt.Data == nil {
		return event, nil
	}
	raw := evt.Data.Raw

	switch event.Type {
	case "payment_intent.created", "payment_intent.succeeded", "payment_intent.processing",
		"payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("Malformed %s payload", event.Type))
		}
		intent := intentFromStripe(&pi)
		event.GatewayID = intent.GatewayID
		event.PaymentID = intent.PaymentID
		event.PaymentMethodID = intent.PaymentMethodID
		event.Kind = map[string]EventKind{
			"payment_intent.created":        EventIntentCreated,
			"payment_intent.succeeded":      EventPaymentSucceeded,
			"payment_intent.processing":     EventPaymentProcessing,
			"payment_intent.payment_failed": EventPaymentFailed,
			"payment_intent.canceled":       EventPaymentCanceled,
		}[event.Type]

	case "charge.succeeded", "charge.failed", "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("Malformed %s payload", event.Type))
		}
		if ch.PaymentIntent != nil {
			event.GatewayID = ch.PaymentIntent.ID
		}
		event.PaymentID = ch.ID
		event.PaymentMethodID = ch.PaymentMethod
		event.Kind = map[string]EventKind{
			"charge.succeeded": EventPaymentSucceeded,
			"charge.failed":    EventPaymentFailed,
			"charge.refunded":  EventPaymentRefunded,
		}[event.Type]
		// charge.refunded also fires for partial refunds; only a full refund
		// cancels the order.
		if event.Kind == EventPaymentRefunded && !ch.Refunded {
			event.Kind = EventIgnored
		}

	case "checkout.session.completed", "checkout.session.expired":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw, &cs); err != nil {
			return nil, apperrors.Validation(fmt.Sprintf("Malformed %s payload", event.Type))
		}
		session := sessionFromStripe(&cs)
		event.SessionID = session.ID
		event.GatewayID = session.GatewayID
		event.Paid = session.Paid
		event.Kind = EventSessionCompleted
		if event.Type == "checkout.session.expired" {
			event.Kind = EventSessionExpired
		}
	}
	return event, nil
}

// Refund refunds a payment intent, fully when req.Amount is zero.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.GatewayID)}
	params.Context = ctx
	if req.Amount > 0 {
		params.Amount = stripe.Int64(ToMinorUnits(req.Amount))
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}

	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, apperrors.Gateway("Failed to create refund", stripeMessage(err))
	}
	return &Refund{ID: r.ID, Amount: r.Amount, Currency: string(r.Currency), Status: string(r.Status)}, nil
}
