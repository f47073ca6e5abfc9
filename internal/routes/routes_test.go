package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/paymentwall/internal/auth"
	"github.com/congo-pay/paymentwall/internal/config"
	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/logging"
	"github.com/congo-pay/paymentwall/internal/metrics"
	"github.com/congo-pay/paymentwall/internal/wallet"
)

const testSecret = "test-secret"

func testConfig() config.Config {
	return config.Config{
		AppName:         "PaymentWall",
		AppEnv:          "development",
		JWTSecret:       testSecret,
		IdempotencyTTL:  time.Minute,
		TransferTimeout: 5 * time.Second,
		MaxRetries:      3,
		RateLimitPerMin: 60,
		Currencies:      []string{"USD", "CHF"},
	}
}

type harness struct {
	app    *fiber.App
	comps  Components
	tokens *auth.Tokens
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	comps, err := Setup(app, Deps{Cfg: testConfig(), Cache: cache, Logger: logging.Discard(), Metrics: metrics.New()})
	require.NoError(t, err)
	return &harness{app: app, comps: comps, tokens: auth.NewTokens(testSecret, "PaymentWall")}
}

func (h *harness) do(t *testing.T, method, path, user, key, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		token, err := h.tokens.Issue(user, time.Hour)
		require.NoError(t, err)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (h *harness) createWallet(t *testing.T, user, code string) int64 {
	t.Helper()
	status, out := h.do(t, fiber.MethodPost, "/api/v1/wallets", user, user+"-"+code, `{"currency":"`+code+`"}`)
	require.Equal(t, fiber.StatusCreated, status)
	return int64(out["id"].(float64))
}

func (h *harness) fund(t *testing.T, id int64, user, amount, code string) {
	t.Helper()
	value := decimal.RequireFromString(amount)
	wallet.SeedBalance(h.comps.Wallets, id, value)
	require.NoError(t, ledger.SeedOpening(h.comps.Ledger, id, user, value, code))
}

func TestSetupRequiresBackendsOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	_, err := Setup(fiber.New(), Deps{Cfg: cfg, Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestTransferFlowEndToEnd(t *testing.T) {
	h := newHarness(t)
	alice := h.createWallet(t, "alice", "USD")
	bob := h.createWallet(t, "bob", "USD")
	h.fund(t, alice, "alice", "100", "USD")

	body := `{"recipient_wallet_id":` + strconv.FormatInt(bob, 10) + `,"amount":"30"}`
	status, out := h.do(t, fiber.MethodPost, "/api/v1/transfers", "alice", "lunch-1", body)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "70", out["sender_balance"])
	transferID := out["transfer_id"].(string)

	status, replay := h.do(t, fiber.MethodPost, "/api/v1/transfers", "alice", "lunch-1", body)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, transferID, replay["transfer_id"])

	status, seen := h.do(t, fiber.MethodGet, "/api/v1/transfers/"+transferID, "bob", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "30", seen["amount"])

	status, details := h.do(t, fiber.MethodGet, "/api/v1/wallets/"+strconv.FormatInt(bob, 10), "bob", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "30", details["wallet"].(map[string]any)["balance"])

	status, _ = h.do(t, fiber.MethodPost, "/api/v1/transfers", "alice", "lunch-2",
		`{"recipient_wallet_id":`+strconv.FormatInt(bob, 10)+`,"amount":"500"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)

	report, err := h.comps.Reconciler.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean(), "findings: %v", report.Findings)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	status, _ := h.do(t, fiber.MethodGet, "/api/v1/wallets", "", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = h.do(t, fiber.MethodPost, "/api/v1/transfers", "alice", "", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status, "Idempotency-Key is required for transfers")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	status, out := h.do(t, fiber.MethodGet, "/healthz", "", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"postgres": "memory", "redis": "ok"}, out["status"])

	resp, err := h.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
