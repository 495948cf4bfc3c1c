package services

import (
	"context"
	"log/slog"
	"time"

	"storefront/internal/apperrors"
	"storefront/internal/deadletter"
	"storefront/internal/ledger"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/payments"
)

// Webhook outcomes, also used as metric label values.
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeRejected     = "rejected"
	OutcomeNotFound     = "not_found"
	OutcomeDeadLettered = "dead_lettered"
)

// WebhookResult summarizes how a delivery was handled.
type WebhookResult struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
}

// WebhookService turns verified gateway events into order updates.
type WebhookService struct {
	gateway payments.Gateway
	orders  *OrderService
	ledger  ledger.Ledger
	dlq     deadletter.Queue
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(gateway payments.Gateway, orders *OrderService, l ledger.Ledger, dlq deadletter.Queue) *WebhookService {
	return &WebhookService{gateway: gateway, orders: orders, ledger: l, dlq: dlq}
}

// Handle verifies and applies one delivery.
//
// An unauthenticated delivery returns an InvalidSignature error and no order is
// read or written. Once verified, a failure to update the order does not fail
// the delivery: rejected transitions and unknown orders are recorded, anything
// else goes to the dead-letter queue. Only ledger or dead-letter failures are
// returned, so the gateway redelivers.
func (s *WebhookService) Handle(ctx context.Context, delivery payments.WebhookDelivery) (*WebhookResult, error) {
	provider := s.gateway.Provider()
	event, err := s.gateway.ParseWebhook(delivery)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(provider, "unknown", "invalid_signature").Inc()
		slog.Warn("webhook rejected", "provider", provider, "error", err)
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, Type: event.Type}
	log := slog.With("provider", provider, "event_id", event.ID, "event_type", event.Type)

	seen, err := s.ledger.Seen(ctx, event.ID)
	if err != nil {
		return nil, apperrors.Internal("Webhook handler failed", err)
	}
	if seen {
		result.Outcome = OutcomeDuplicate
		metrics.WebhookEvents.WithLabelValues(provider, event.Type, result.Outcome).Inc()
		log.Info("duplicate webhook event skipped")
		return result, nil
	}

	applyErr := s.apply(ctx, *event)
	switch {
	case applyErr == nil && event.Kind == payments.EventIgnored:
		result.Outcome = OutcomeIgnored
		log.Debug("unhandled webhook event type")
	case applyErr == nil:
		result.Outcome = OutcomeApplied
		log.Info("webhook event applied", "gateway_id", event.GatewayID, "session_id", event.SessionID)
	case apperrors.Is(applyErr, apperrors.KindConflict):
		result.Outcome = OutcomeRejected
		log.Warn("webhook event would regress order status, not applied", "error", applyErr)
	case apperrors.Is(applyErr, apperrors.KindNotFound):
		result.Outcome = OutcomeNotFound
		log.Warn("webhook event for unknown order", "gateway_id", event.GatewayID, "session_id", event.SessionID)
	default:
		log.Error("webhook event could not be applied, dead-lettering", "error", applyErr)
		fe := deadletter.FailedEvent{Event: *event, Error: applyErr.Error(), Attempts: 1, FailedAt: time.Now().UTC()}
		if err := s.dlq.Push(ctx, fe); err != nil {
			return nil, apperrors.Internal("Webhook handler failed", err)
		}
		result.Outcome = OutcomeDeadLettered
	}
	metrics.WebhookEvents.WithLabelValues(provider, event.Type, result.Outcome).Inc()

	if err := s.ledger.Mark(ctx, event.ID); err != nil {
		return nil, apperrors.Internal("Webhook handler failed", err)
	}
	return result, nil
}

// Replay re-applies a previously verified event, bypassing the ledger.
func (s *WebhookService) Replay(ctx context.Context, event payments.Event) error {
	return s.apply(ctx, event)
}

// PatchFor maps an event kind to the order update it implies. ok is false for
// kinds that do not touch orders.
func PatchFor(event payments.Event) (patch models.OrderPatch, ok bool) {
	ps := func(s models.PaymentStatus) *models.PaymentStatus { return &s }
	os := func(s models.OrderStatus) *models.OrderStatus { return &s }
	str := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}

	switch event.Kind {
	case payments.EventIntentCreated:
		return models.OrderPatch{PaymentStatus: ps(models.PaymentCreated)}, true
	case payments.EventPaymentProcessing:
		return models.OrderPatch{PaymentStatus: ps(models.PaymentAuthorized)}, true
	case payments.EventPaymentSucceeded:
		return models.OrderPatch{
			PaymentStatus:   ps(models.PaymentCaptured),
			OrderStatus:     os(models.OrderProcessing),
			PaymentID:       str(event.PaymentID),
			PaymentMethodID: str(event.PaymentMethodID),
		}, true
	case payments.EventPaymentFailed:
		return models.OrderPatch{PaymentStatus: ps(models.PaymentFailed), OrderStatus: os(models.OrderCancelled)}, true
	case payments.EventPaymentCanceled, payments.EventPaymentRefunded, payments.EventSessionExpired:
		return models.OrderPatch{PaymentStatus: ps(models.PaymentCancelled), OrderStatus: os(models.OrderCancelled)}, true
	case payments.EventSessionCompleted:
		patch := models.OrderPatch{GatewayID: str(event.GatewayID)}
		if event.Paid {
			patch.PaymentStatus = ps(models.PaymentCaptured)
			patch.OrderStatus = os(models.OrderProcessing)
		} else {
			patch.PaymentStatus = ps(models.PaymentAuthorized)
		}
		return patch, true
	default:
		return models.OrderPatch{}, false
	}
}

func (s *WebhookService) apply(ctx context.Context, event payments.Event) error {
	patch, ok := PatchFor(event)
	if !ok {
		return nil
	}

	var err error
	switch event.Kind {
	case payments.EventSessionCompleted, payments.EventSessionExpired:
		_, err = s.orders.UpdateOrderBySessionID(ctx, event.SessionID, patch)
	default:
		if event.GatewayID == "" {
			return apperrors.NotFound("Order not found")
		}
		_, err = s.orders.UpdateOrderByGatewayID(ctx, event.GatewayID, patch)
	}
	return err
}
