package app

import (
	"encoding/json"
	"log/slog"

	"storefront/internal/services"

	amqp "github.com/streadway/amqp"
)

// logOrderEvent is the order_events consumer. It records each lifecycle event;
// downstream consumers (mail, fulfillment) bind their own queues to the exchange.
func logOrderEvent(msg amqp.Delivery) error {
	var evt services.OrderEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		slog.Warn("discarding malformed order event", "delivery_tag", msg.DeliveryTag, "error", err)
		return nil
	}
	slog.Info("order event received",
		"type", evt.Type,
		"order_id", evt.OrderID,
		"payment_status", evt.PaymentStatus,
		"order_status", evt.OrderStatus,
	)
	return nil
}
