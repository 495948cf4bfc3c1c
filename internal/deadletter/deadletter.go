// Package deadletter holds webhook events whose order update failed so they can
// be inspected and replayed instead of being lost after the gateway has been
// acknowledged.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/metrics"
	"storefront/internal/payments"
	"storefront/pkg/rabbitmq"
)

// FailedEvent is a verified webhook event that could not be applied.
type FailedEvent struct {
	Event    payments.Event `json:"event"`
	Error    string         `json:"error"`
	Attempts int            `json:"attempts"`
	FailedAt time.Time      `json:"failedAt"`
}

// Queue accepts failed events.
type Queue interface {
	Push(ctx context.Context, fe FailedEvent) error
}

// MemoryQueue is an in-process Queue used when no broker is configured. Its
// contents are lost on restart, so every push is also logged in full.
type MemoryQueue struct {
	mu     sync.Mutex
	events []FailedEvent
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, fe FailedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, fe)
	metrics.DeadLetters.WithLabelValues("pushed").Inc()
	slog.Error("webhook event dead-lettered in memory",
		"event_id", fe.Event.ID,
		"event_type", fe.Event.Type,
		"provider", fe.Event.Provider,
		"gateway_id", fe.Event.GatewayID,
		"session_id", fe.Event.SessionID,
		"attempts", fe.Attempts,
		"error", fe.Error,
	)
	return nil
}

// Len returns the number of queued events.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Events returns a snapshot of the queued events.
func (q *MemoryQueue) Events() []FailedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedEvent, len(q.events))
	copy(out, q.events)
	return out
}

// Take removes and returns every queued event.
func (q *MemoryQueue) Take() []FailedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Publisher is the part of the RabbitMQ client RabbitQueue needs.
type Publisher interface {
	PublishJSON(exchange, routingKey string, v interface{}) error
}

// RabbitQueue publishes failed events to the durable webhook_dead_letters queue.
type RabbitQueue struct {
	pub Publisher
}

// NewRabbitQueue creates a RabbitQueue on pub.
func NewRabbitQueue(pub Publisher) *RabbitQueue {
	return &RabbitQueue{pub: pub}
}

func (q *RabbitQueue) Push(_ context.Context, fe FailedEvent) error {
	if err := q.pub.PublishJSON("", rabbitmq.DeadLetterQueue, fe); err != nil {
		return fmt.Errorf("deadletter: push %s: %w", fe.Event.ID, err)
	}
	metrics.DeadLetters.WithLabelValues("pushed").Inc()
	return nil
}

// Decode parses a FailedEvent from a queue message body.
func Decode(body []byte) (FailedEvent, error) {
	var fe FailedEvent
	if err := json.Unmarshal(body, &fe); err != nil {
		return fe, fmt.Errorf("deadletter: decode: %w", err)
	}
	return fe, nil
}
