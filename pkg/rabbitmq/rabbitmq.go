package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/streadway/amqp"
)

const (
	// OrdersExchange is the topic exchange order lifecycle events are published to.
	OrdersExchange = "storefront.orders"
	// OrderEventsQueue receives every order.* event.
	OrderEventsQueue = "order_events"
	// DeadLetterQueue holds webhook events whose order update failed.
	DeadLetterQueue = "webhook_dead_letters"
)

// Client holds the RabbitMQ connection and channel. A channel is not safe for
// concurrent publishing, so publishes are serialized.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ, opens a channel and declares the storefront
// topology.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Client{conn: conn, channel: ch}
	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}

	slog.Info("rabbitmq connected", "exchange", OrdersExchange, "queues", []string{OrderEventsQueue, DeadLetterQueue})
	return c, nil
}

func (c *Client) declareTopology() error {
	if err := c.channel.ExchangeDeclare(
		OrdersExchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", OrdersExchange, err)
	}

	for _, name := range []string{OrderEventsQueue, DeadLetterQueue} {
		if _, err := c.channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name, err)
		}
	}

	if err := c.channel.QueueBind(OrderEventsQueue, "order.#", OrdersExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", OrderEventsQueue, err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// Publish sends a persistent JSON message. An empty exchange routes directly to
// the queue named by routingKey.
func (c *Client) Publish(exchange, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	err := c.channel.Publish(
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(exchange, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Publish(exchange, routingKey, body)
}

// Consume starts a goroutine delivering messages from queue to handler. A nil
// error acks the message; an error nacks and requeues it. The goroutine exits
// when the channel closes.
func (c *Client) Consume(queue string, handler func(msg amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	msgs, err := c.channel.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer on %s: %w", queue, err)
	}

	go func() {
		for msg := range msgs {
			settle(queue, msg, handler(msg))
		}
		slog.Info("rabbitmq consumer stopped", "queue", queue)
	}()
	return nil
}

// Drain handles the messages that are in queue when it is called and returns
// how many were processed. Messages a handler publishes back to the same queue
// are left for the next call.
func (c *Client) Drain(queue string, handler func(msg amqp.Delivery) error) (int, error) {
	c.mu.Lock()
	q, err := c.channel.QueueInspect(queue)
	c.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to inspect %s: %w", queue, err)
	}

	n := 0
	for n < q.Messages {
		c.mu.Lock()
		msg, ok, err := c.channel.Get(queue, false)
		c.mu.Unlock()
		if err != nil {
			return n, fmt.Errorf("failed to get from %s: %w", queue, err)
		}
		if !ok {
			return n, nil
		}
		if herr := handler(msg); herr != nil {
			// Leave it for the next run rather than spinning on it now.
			settle(queue, msg, herr)
			return n, herr
		}
		settle(queue, msg, nil)
		n++
	}
	return n, nil
}

func settle(queue string, msg amqp.Delivery, handlerErr error) {
	if handlerErr != nil {
		slog.Error("rabbitmq message handling failed", "queue", queue, "delivery_tag", msg.DeliveryTag, "error", handlerErr)
		if err := msg.Nack(false, true); err != nil {
			slog.Error("rabbitmq nack failed", "queue", queue, "delivery_tag", msg.DeliveryTag, "error", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		slog.Error("rabbitmq ack failed", "queue", queue, "delivery_tag", msg.DeliveryTag, "error", err)
	}
}
