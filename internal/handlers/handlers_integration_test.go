package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"storefront/internal/app"
	"storefront/internal/apperrors"
	"storefront/internal/deadletter"
	"storefront/internal/ledger"
	"storefront/internal/logger"
	"storefront/internal/models"
	"storefront/internal/payments"
	"storefront/internal/repositories"
	"storefront/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeGateway accepts webhooks signed "valid" whose body is a JSON payments.Event.
type fakeGateway struct {
	intents int
}

func (g *fakeGateway) Provider() string        { return payments.ProviderStripe }
func (g *fakeGateway) SignatureHeader() string { return "Stripe-Signature" }
func (g *fakeGateway) PublicKey() string       { return "pk_test_123" }
func (g *fakeGateway) Currency() string        { return "usd" }

func (g *fakeGateway) CreateIntent(_ context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	g.intents++
	id := "pi_" + req.OrderID
	return &payments.Intent{GatewayID: id, ClientSecret: id + "_secret", Amount: payments.ToMinorUnits(req.Amount), Currency: "usd"}, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payments.SessionRequest) (*payments.Session, error) {
	return &payments.Session{ID: "cs_" + req.OrderID, URL: "https://checkout.example/cs_" + req.OrderID}, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, gatewayID string) (*payments.Intent, error) {
	return &payments.Intent{GatewayID: gatewayID, Status: "succeeded"}, nil
}

func (g *fakeGateway) VerifyPayment(_ context.Context, proof payments.PaymentProof) (*payments.Verification, error) {
	return &payments.Verification{GatewayID: proof.GatewayID, PaymentMethodID: "pm_card_visa"}, nil
}

func (g *fakeGateway) ParseWebhook(delivery payments.WebhookDelivery) (*payments.Event, error) {
	if delivery.Signature != "valid" {
		return nil, apperrors.InvalidSignature("Webhook signature verification failed", nil)
	}
	var evt payments.Event
	if err := json.Unmarshal(delivery.Payload, &evt); err != nil {
		return nil, apperrors.InvalidSignature("Webhook payload is not valid JSON", err)
	}
	return &evt, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payments.RefundRequest) (*payments.Refund, error) {
	return &payments.Refund{ID: "re_1", Amount: payments.ToMinorUnits(req.Amount), Currency: "usd", Status: "succeeded"}, nil
}

type testEnv struct {
	app     *fiber.App
	auth    *services.AuthService
	orders  repositories.OrderRepository
	gateway *fakeGateway
	dlq     *deadletter.MemoryQueue
}

// setupApp sets up the full application on an in-memory SQLite database.
func setupApp(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.User{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	env := &testEnv{
		orders:  repositories.NewGORMOrderRepository(db),
		gateway: &fakeGateway{},
		dlq:     deadletter.NewMemoryQueue(),
		auth:    services.NewAuthService(repositories.NewGORMUserRepository(db), "test_jwt_secret", time.Hour),
	}
	orders := services.NewOrderService(env.orders, nil)
	env.app = app.NewApp(app.Dependencies{
		Orders:         orders,
		Checkout:       services.NewCheckoutService(orders, env.gateway),
		Webhooks:       services.NewWebhookService(env.gateway, orders, ledger.NewMemoryLedger(0), env.dlq),
		Products:       services.NewProductService(repositories.NewCatalogRepository(nil)),
		Auth:           env.auth,
		Gateway:        env.gateway,
		AllowedOrigins: "*",
	})
	return env
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		jsonBody, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(jsonBody)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, -1) // -1 for no timeout
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func (e *testEnv) call(t *testing.T, method, path string, body interface{}, token string) (int, envelope) {
	t.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	resp, raw := e.do(t, method, path, body, headers)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	_, err := e.auth.CreateAdmin(context.Background(), services.RegisterInput{Name: "Admin", Email: "admin@example.com", Password: "adminpass"})
	require.NoError(t, err)
	result, err := e.auth.Login(context.Background(), services.LoginInput{Email: "admin@example.com", Password: "adminpass"})
	require.NoError(t, err)
	return result.Token
}

func cart() map[string]interface{} {
	return map[string]interface{}{
		"customerEmail": "buyer@example.com",
		"items": []map[string]interface{}{
			{"productId": "prod_001", "name": "Headphones", "price": 10, "quantity": 2},
			{"productId": "prod_002", "name": "Cable", "price": 5, "quantity": 1},
		},
	}
}

// TestMain silences logging during tests for cleaner output.
func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

func TestUserRegisterAndLogin(t *testing.T) {
	env := setupApp(t)

	user := map[string]string{"name": "Test User", "email": "test@example.com", "password": "password123"}
	status, body := env.call(t, http.MethodPost, "/api/users/register", user, "")
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, body.Success)
	assert.Equal(t, "User registered successfully", body.Message)

	// Duplicate registration
	status, body = env.call(t, http.MethodPost, "/api/users/register", user, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, body.Success)

	// Every failing field is reported.
	status, body = env.call(t, http.MethodPost, "/api/users/register", map[string]string{"email": "nope", "password": "1"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation failed", body.Message)
	assert.Len(t, body.Errors, 3)
	assert.Equal(t, "Field 'Email' failed on the 'email' tag", body.Errors["Email"])

	status, body = env.call(t, http.MethodPost, "/api/users/login", map[string]string{"email": "test@example.com", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, status)
	var login struct {
		Token string       `json:"token"`
		User  *models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, models.RoleUser, login.User.Role)

	claims, err := env.auth.ValidateToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", claims["email"])

	status, _ = env.call(t, http.MethodPost, "/api/users/login", map[string]string{"email": "test@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.call(t, http.MethodGet, "/api/users/profile", nil, login.Token)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), "test@example.com")
	assert.NotContains(t, string(body.Data), "password")

	status, _ = env.call(t, http.MethodGet, "/api/users/profile", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	// User management is admin only.
	status, _ = env.call(t, http.MethodGet, "/api/users", nil, login.Token)
	assert.Equal(t, http.StatusForbidden, status)

	admin := env.adminToken(t)
	status, body = env.call(t, http.MethodGet, "/api/users", nil, admin)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"count":2`)

	status, body = env.call(t, http.MethodPut, "/api/users/"+login.User.ID, map[string]string{"role": "admin"}, admin)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"role":"admin"`)

	status, _ = env.call(t, http.MethodDelete, "/api/users/"+login.User.ID, nil, admin)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.call(t, http.MethodGet, "/api/users/"+login.User.ID, nil, admin)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProductEndpoints(t *testing.T) {
	env := setupApp(t)

	status, body := env.call(t, http.MethodGet, "/api/products", nil, "")
	assert.Equal(t, http.StatusOK, status)
	var list struct {
		Products []models.Product `json:"products"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Equal(t, len(repositories.DefaultCatalog()), list.Count)

	status, body = env.call(t, http.MethodGet, "/api/products/categories", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), "categories")

	status, _ = env.call(t, http.MethodGet, "/api/products/prod_001", nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, body = env.call(t, http.MethodGet, "/api/products/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, body.Success)
}

func TestCheckoutAndWebhookFlow(t *testing.T) {
	env := setupApp(t)

	// Invalid carts never reach the gateway.
	bad := cart()
	bad["customerEmail"] = "a@b"
	status, body := env.call(t, http.MethodPost, "/api/orders/create", bad, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid email format", body.Message)
	assert.Zero(t, env.gateway.intents)

	status, body = env.call(t, http.MethodPost, "/api/orders/create", cart(), "")
	require.Equal(t, http.StatusCreated, status)
	var created services.CheckoutResult
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, 25.0, created.Amount)
	assert.Equal(t, "pk_test_123", created.PublicKey)
	assert.NotEmpty(t, created.ClientSecret)

	status, body = env.call(t, http.MethodGet, "/api/orders/"+created.OrderID, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"paymentStatus":"created"`)

	// A tampered webhook is refused and changes nothing.
	event := payments.Event{ID: "evt_1", Type: "payment_intent.succeeded", Kind: payments.EventPaymentSucceeded, GatewayID: created.GatewayID}
	payload, _ := json.Marshal(event)
	resp, raw := env.do(t, http.MethodPost, "/api/orders/webhook", payload, map[string]string{"Stripe-Signature": "forged"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Webhook signature verification failed"}`, string(raw))

	order, err := env.orders.GetByID(context.Background(), created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCreated, order.PaymentStatus)

	resp, raw = env.do(t, http.MethodPost, "/api/orders/webhook", payload, map[string]string{"Stripe-Signature": "valid"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"received":true}`, string(raw))

	order, err = env.orders.GetByID(context.Background(), created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)
	assert.Equal(t, models.OrderProcessing, order.OrderStatus)

	// A late processing event is acknowledged but does not regress the order.
	late, _ := json.Marshal(payments.Event{ID: "evt_0", Type: "payment_intent.processing", Kind: payments.EventPaymentProcessing, GatewayID: created.GatewayID})
	resp, _ = env.do(t, http.MethodPost, "/api/orders/webhook", late, map[string]string{"Stripe-Signature": "valid"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	order, _ = env.orders.GetByID(context.Background(), created.OrderID)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)

	// Client-side verification after the webhook is idempotent.
	status, body = env.call(t, http.MethodPost, "/api/orders/verify", map[string]string{"payment_intent_id": created.GatewayID}, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"verified":true`)

	status, body = env.call(t, http.MethodPost, "/api/orders/verify", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing payment intent ID", body.Message)

	status, body = env.call(t, http.MethodGet, "/api/orders/customer/orders?email=BUYER@example.com", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"count":1`)

	status, _ = env.call(t, http.MethodGet, "/api/orders/customer/orders", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.call(t, http.MethodGet, "/api/orders?page=1&limit=5&paymentStatus=captured", nil, "")
	assert.Equal(t, http.StatusOK, status)
	var page models.OrderPage
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Equal(t, models.Pagination{Page: 1, Limit: 5, Total: 1, Pages: 1}, page.Pagination)

	assert.Empty(t, env.dlq.Events())
}

func TestCheckoutSessionEndpoint(t *testing.T) {
	env := setupApp(t)

	status, body := env.call(t, http.MethodPost, "/api/orders/checkout/session", cart(), "")
	require.Equal(t, http.StatusCreated, status)
	var created services.CheckoutResult
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Contains(t, created.URL, "https://checkout.example/")

	completed, _ := json.Marshal(payments.Event{
		ID: "evt_cs", Type: "checkout.session.completed", Kind: payments.EventSessionCompleted,
		SessionID: created.SessionID, GatewayID: "pi_from_session", Paid: true,
	})
	resp, _ := env.do(t, http.MethodPost, "/api/orders/webhook", completed, map[string]string{"Stripe-Signature": "valid"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	order, err := env.orders.GetByID(context.Background(), created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pi_from_session", order.GatewayID)
	assert.Equal(t, models.PaymentCaptured, order.PaymentStatus)
}

func TestAdminOrderEndpoints(t *testing.T) {
	env := setupApp(t)

	status, body := env.call(t, http.MethodPost, "/api/orders/checkout/payment-intent", cart(), "")
	require.Equal(t, http.StatusCreated, status)
	var created services.CheckoutResult
	require.NoError(t, json.Unmarshal(body.Data, &created))
	statusURL := "/api/orders/" + created.OrderID + "/status"

	status, _ = env.call(t, http.MethodPatch, statusURL, map[string]string{"status": "shipped"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	reg, err := env.auth.Register(context.Background(), services.RegisterInput{Name: "Shopper", Email: "shopper@example.com", Password: "password123"})
	require.NoError(t, err)
	status, _ = env.call(t, http.MethodPatch, statusURL, map[string]string{"status": "shipped"}, reg.Token)
	assert.Equal(t, http.StatusForbidden, status)

	admin := env.adminToken(t)

	// created → shipped skips processing.
	status, body = env.call(t, http.MethodPatch, statusURL, map[string]string{"status": "shipped"}, admin)
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, body.Success)

	status, _ = env.call(t, http.MethodPatch, statusURL, map[string]string{"status": "teleported"}, admin)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.call(t, http.MethodPost, "/api/orders/"+created.OrderID+"/refund", nil, admin)
	assert.Equal(t, http.StatusConflict, status, body.Message)

	status, _ = env.call(t, http.MethodPost, "/api/orders/verify", map[string]string{"payment_intent_id": created.GatewayID}, "")
	require.Equal(t, http.StatusOK, status)

	status, body = env.call(t, http.MethodPatch, statusURL, map[string]string{"status": "shipped"}, admin)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"orderStatus":"shipped"`)

	status, body = env.call(t, http.MethodPost, "/api/orders/"+created.OrderID+"/refund", map[string]interface{}{"reason": "requested_by_customer"}, admin)
	assert.Equal(t, http.StatusOK, status, body.Message)
	assert.Contains(t, string(body.Data), `"paymentStatus":"cancelled"`)

	status, _ = env.call(t, http.MethodDelete, "/api/orders/"+created.OrderID, nil, admin)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.call(t, http.MethodGet, "/api/orders/"+created.OrderID, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupApp(t)

	resp, raw := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"status":"healthy"`)

	env.do(t, http.MethodGet, "/api/products", nil, nil)
	resp, raw = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "storefront_http_requests_total")
}
