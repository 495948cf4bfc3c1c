package deadletter

import (
	"context"
	"log/slog"
	"time"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/payments"

	amqp "github.com/streadway/amqp"
)

// DefaultMaxAttempts is used when the configured maximum is not positive.
const DefaultMaxAttempts = 5

// EventApplier re-applies a verified webhook event to its order.
type EventApplier interface {
	Replay(ctx context.Context, event payments.Event) error
}

// Replayer retries dead-lettered events. A failure that retrying cannot fix
// (unknown order, refused transition) is dropped; any other failure is pushed
// back with one more attempt until the maximum is reached.
type Replayer struct {
	applier     EventApplier
	queue       Queue
	maxAttempts int
}

// NewReplayer creates a Replayer that requeues through queue.
func NewReplayer(applier EventApplier, queue Queue, maxAttempts int) *Replayer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Replayer{applier: applier, queue: queue, maxAttempts: maxAttempts}
}

// Process replays one failed event. It only returns an error when the event
// could not be handed back to the queue, in which case the caller must keep it.
func (r *Replayer) Process(ctx context.Context, fe FailedEvent) error {
	log := slog.With("event_id", fe.Event.ID, "event_type", fe.Event.Type, "attempts", fe.Attempts)

	err := r.applier.Replay(ctx, fe.Event)
	if err == nil {
		metrics.DeadLetters.WithLabelValues("replayed").Inc()
		log.Info("dead-lettered webhook event replayed")
		return nil
	}

	if apperrors.Is(err, apperrors.KindNotFound) || apperrors.Is(err, apperrors.KindConflict) {
		metrics.DeadLetters.WithLabelValues("dropped").Inc()
		log.Warn("dead-lettered webhook event cannot be applied, dropping", "error", err)
		return nil
	}

	next := fe.Attempts + 1
	if next >= r.maxAttempts {
		metrics.DeadLetters.WithLabelValues("dropped").Inc()
		log.Error("dead-lettered webhook event exhausted retries, dropping", "error", err)
		return nil
	}

	retry := FailedEvent{Event: fe.Event, Error: err.Error(), Attempts: next, FailedAt: time.Now().UTC()}
	if pushErr := r.queue.Push(ctx, retry); pushErr != nil {
		return pushErr
	}
	metrics.DeadLetters.WithLabelValues("retried").Inc()
	log.Warn("dead-lettered webhook event failed again, requeued", "error", err)
	return nil
}

// ReplayMemory runs one pass over the events held in q. Events that fail again
// are requeued by Process and wait for the next pass.
func (r *Replayer) ReplayMemory(ctx context.Context, q *MemoryQueue) (int, error) {
	events := q.Take()
	for i, fe := range events {
		if err := r.Process(ctx, fe); err != nil {
			for _, rest := range events[i:] {
				_ = q.Push(ctx, rest)
			}
			return i, err
		}
	}
	return len(events), nil
}

// HandleDelivery adapts Process to a RabbitMQ consumer. Undecodable messages
// are logged and acknowledged.
func (r *Replayer) HandleDelivery(ctx context.Context) func(msg amqp.Delivery) error {
	return func(msg amqp.Delivery) error {
		fe, err := Decode(msg.Body)
		if err != nil {
			metrics.DeadLetters.WithLabelValues("dropped").Inc()
			slog.Error("discarding malformed dead letter", "error", err)
			return nil
		}
		return r.Process(ctx, fe)
	}
}
