package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fxwallet/internal/config"
	"fxwallet/internal/handlers"
	"fxwallet/internal/middleware"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"
	"fxwallet/internal/providers/paystack"
	"fxwallet/internal/repositories"
	"fxwallet/internal/repositories/repotest"
	"fxwallet/internal/services/conversion"
	"fxwallet/internal/services/reconciliation"
	"fxwallet/internal/services/topup"
	"fxwallet/internal/services/transfer"
	"fxwallet/internal/services/wallet"
	"fxwallet/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret      = "routes-test"
	paystackSecret = "sk_test_routes"
)

type staticRates map[string]map[string]float64

func (r staticRates) Rates(_ context.Context, base string) (map[string]float64, error) {
	return r[base], nil
}

type stubCheckout struct{}

func (stubCheckout) Provider() string { return models.ProviderPaystack }

func (stubCheckout) CreateCheckout(_ context.Context, req providers.CheckoutRequest) (*providers.Checkout, error) {
	return &providers.Checkout{ProviderReference: "acc_" + req.Reference, RedirectURL: "https://checkout.paystack.com/" + req.Reference}, nil
}

type server struct {
	app   *fiber.App
	store *repositories.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := repotest.NewStore(t)
	reg := prometheus.NewRegistry()
	metrics := wallet.NewPrometheusMetrics(reg)
	wallets := wallet.NewService(store, metrics, nil)

	registry := providers.NewRegistry(paystack.NewWebhook(paystackSecret))
	recon := reconciliation.NewService(wallets, registry, nil, time.Second, nil, metrics, nil)
	transfers := transfer.NewService(wallets, transfer.Options{Reconciler: recon, Metrics: metrics})
	conversions := conversion.NewService(wallets, staticRates{"USD": {"NGN": 1500}}, config.ConversionConfig{FeeBps: 100}, nil, metrics, nil)
	topups := topup.NewService(store, []providers.CheckoutGateway{stubCheckout{}}, recon, time.Second, metrics, nil)

	app := fiber.New()
	SetupRoutes(app, Handlers{
		Auth:       middleware.NewAuthMiddleware(jwtSecret, nil),
		Wallet:     handlers.NewWalletHandler(wallets),
		Transfer:   handlers.NewTransferHandler(transfers),
		Conversion: handlers.NewConversionHandler(conversions),
		TopUp:      handlers.NewTopUpHandler(topups, recon),
		Webhook:    handlers.NewWebhookHandler(recon, nil),
		Health:     handlers.NewHealthHandler(store.DB(), nil),
		Gatherer:   reg,
	})
	return &server{app: app, store: store}
}

func bearer(t *testing.T, userID uint, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(jwtSecret, &models.UserClaims{
		UserID:      userID,
		Email:       fmt.Sprintf("user%d@example.com", userID),
		Role:        role,
		Permissions: models.GetDefaultPermissions(role),
	}, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *server) do(t *testing.T, method, path, auth, key string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if key != "" {
		req.Header.Set(handlers.IdempotencyHeader, key)
	}
	return s.send(t, req)
}

func (s *server) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestTransferRoutes(t *testing.T) {
	s := newServer(t)
	alice := bearer(t, 1, models.RoleUser)
	repotest.Fund(t, s.store, 1, "USD", 10_000)

	tests := []struct {
		name     string
		key      string
		body     fiber.Map
		wantCode int
	}{
		{"missing idempotency key", "", fiber.Map{"recipient_id": 2, "amount": 10, "currency": "USD"}, fiber.StatusBadRequest},
		{"too precise", "k0", fiber.Map{"recipient_id": 2, "amount": 1.234, "currency": "USD"}, fiber.StatusBadRequest},
		{"insufficient funds", "k1", fiber.Map{"recipient_id": 2, "amount": 1000, "currency": "USD"}, fiber.StatusPaymentRequired},
		{"created", "k2", fiber.Map{"recipient_id": 2, "amount": 12.5, "currency": "USD"}, fiber.StatusCreated},
		{"replayed", "k2", fiber.Map{"recipient_id": 2, "amount": 99, "currency": "USD"}, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := s.do(t, "POST", "/api/transfers", alice, tt.key, tt.body)
			assert.Equal(t, tt.wantCode, code)
		})
	}

	code, body := s.do(t, "GET", "/api/wallets/usd", bearer(t, 2, models.RoleUser), "", nil)
	require.Equal(t, fiber.StatusOK, code)
	balance := body["wallet"].(map[string]interface{})["balance"].(map[string]interface{})
	assert.Equal(t, float64(1250), balance["minor"])
	assert.Equal(t, "12.50", balance["display"])

	code, body = s.do(t, "GET", "/api/transactions?limit=5", alice, "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, body["data"], 2)
}

func TestConversionRoute(t *testing.T) {
	s := newServer(t)
	alice := bearer(t, 1, models.RoleUser)
	repotest.Fund(t, s.store, 1, "USD", 5000)

	code, body := s.do(t, "POST", "/api/conversions", alice, "c1", fiber.Map{"from_currency": "USD", "to_currency": "NGN", "amount": 10})
	require.Equal(t, fiber.StatusCreated, code)
	credited := body["credited"].(map[string]interface{})
	assert.Equal(t, float64(1_485_000), credited["minor"])
	assert.Equal(t, "14850.00", credited["display"])
}

func TestTopUpWebhookRoundTrip(t *testing.T) {
	s := newServer(t)
	alice := bearer(t, 1, models.RoleUser)

	code, body := s.do(t, "POST", "/api/topups", alice, "t1", fiber.Map{"provider": "paystack", "amount": 50, "currency": "NGN"})
	require.Equal(t, fiber.StatusAccepted, code)
	reference := body["transaction"].(map[string]interface{})["reference"].(string)
	assert.Contains(t, body["redirect_url"], reference)

	event := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"id":77,"reference":%q,"amount":5000,"currency":"NGN","metadata":{"user_id":"1"}}}`, reference))

	t.Run("bad signature is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/paystack", bytes.NewReader(event))
		req.Header.Set(paystack.SignatureHeader, paystack.Sign(event, "wrong"))
		code, _ := s.send(t, req)
		assert.Equal(t, fiber.StatusUnauthorized, code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhooks/venmo", bytes.NewReader(event))
		code, _ := s.send(t, req)
		assert.Equal(t, fiber.StatusNotFound, code)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/webhooks/paystack", bytes.NewReader(event))
		req.Header.Set(paystack.SignatureHeader, paystack.Sign(event, paystackSecret))
		code, _ := s.send(t, req)
		require.Equal(t, fiber.StatusOK, code)
	}

	code, body = s.do(t, "GET", "/api/wallets/NGN", alice, "", nil)
	require.Equal(t, fiber.StatusOK, code)
	balance := body["wallet"].(map[string]interface{})["balance"].(map[string]interface{})
	assert.Equal(t, float64(5000), balance["minor"])

	code, body = s.do(t, "GET", "/api/transactions/"+reference, alice, "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, models.StateCompleted, body["transaction"].(map[string]interface{})["state"])
	assert.Len(t, body["entries"], 1)
}

func TestAdminAndOperationalRoutes(t *testing.T) {
	s := newServer(t)
	w := repotest.Fund(t, s.store, 1, "USD", 700)

	code, _ := s.do(t, "GET", fmt.Sprintf("/api/admin/wallets/%d/reconcile", w.ID), bearer(t, 1, models.RoleUser), "", nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body := s.do(t, "GET", fmt.Sprintf("/api/admin/wallets/%d/reconcile", w.ID), bearer(t, 9, models.RoleAdmin), "", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, true, body["reconciliation"].(map[string]interface{})["balanced"])

	code, _ = s.do(t, "GET", "/api/wallets", "", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, body = s.do(t, "GET", "/health", "", "", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = s.do(t, "GET", "/metrics", "", "", nil)
	assert.Equal(t, fiber.StatusOK, code)
}
