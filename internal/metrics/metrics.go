// Package metrics provides Prometheus instrumentation for the storefront API.
//
// Wire it up once when building the Fiber app:
//
//	app.Use(metrics.Middleware())
//	app.Get("/metrics", metrics.Handler())
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

var (
	// RequestDuration tracks how long each HTTP request takes.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RequestTotal counts all HTTP requests.
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEvents counts webhook deliveries by provider, event type and outcome.
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook events received, by outcome.",
		},
		[]string{"provider", "type", "outcome"}, // applied | duplicate | ignored | rejected | not_found | dead_lettered | invalid_signature
	)

	// OrderTransitions counts status changes applied to orders and those refused
	// by the transition table.
	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions, by field and result.",
		},
		[]string{"field", "from", "to", "result"}, // result: applied | rejected
	)

	// GatewayCalls counts payment SDK calls by provider, operation and status.
	GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment gateway calls.",
		},
		[]string{"provider", "operation", "status"}, // status: ok | error
	)

	// DeadLetters counts dead-letter queue activity.
	DeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dead_letters_total",
			Help:      "Dead-lettered webhook events, by action.",
		},
		[]string{"action"}, // pushed | replayed | retried | dropped
	)
)

// Registry is the Prometheus registry the storefront exposes at /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(
		RequestDuration,
		RequestTotal,
		WebhookEvents,
		OrderTransitions,
		GatewayCalls,
		DeadLetters,
	)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

// Middleware records request count and latency per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		// Let the error handler write the response first so the recorded
		// status is the one the client sees.
		if err := c.Next(); err != nil {
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		labels := []string{c.Method(), c.Route().Path, strconv.Itoa(c.Response().StatusCode())}
		RequestTotal.WithLabelValues(labels...).Inc()
		RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return nil
	}
}

// ObserveGatewayCall records the outcome of one payment SDK call.
func ObserveGatewayCall(provider, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	GatewayCalls.WithLabelValues(provider, operation, status).Inc()
}
