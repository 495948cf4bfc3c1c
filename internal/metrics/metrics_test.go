package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveGatewayCall(t *testing.T) {
	before := testutil.ToFloat64(GatewayCalls.WithLabelValues("stripe", "create_intent", "error"))
	ObserveGatewayCall("stripe", "create_intent", errors.New("boom"))
	after := testutil.ToFloat64(GatewayCalls.WithLabelValues("stripe", "create_intent", "error"))
	assert.Equal(t, before+1, after)
}

func TestHandlerExposesRequestMetrics(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/metrics", Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `storefront_http_requests_total{method="GET",path="/ping",status="200"}`)
}

func TestMiddlewareRecordsErrorStatus(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware())
	app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.ErrTeapot })

	resp, err := app.Test(httptest.NewRequest("GET", "/teapot", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(RequestTotal.WithLabelValues("GET", "/teapot", "418")))
}
