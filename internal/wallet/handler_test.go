package wallet

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newHandlerApp(svc *Service) *fiber.App {
	h := NewHandler(svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	app.Post("/wallets", h.Create)
	app.Get("/wallets", h.List)
	app.Get("/wallets/:walletId", h.Get)
	app.Get("/wallets/:walletId/entries", h.Entries)
	app.Get("/summary", h.Summary)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", user)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestHandlerWalletLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	app := newHandlerApp(svc)

	status, created := call(t, app, fiber.MethodPost, "/wallets", "alice", `{"currency":"usd"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	if created["currency"] != "USD" || created["balance"] != "0" || created["status"] != "active" {
		t.Fatalf("unexpected wallet: %v", created)
	}
	id := strconv.FormatInt(int64(created["id"].(float64)), 10)

	if status, _ := call(t, app, fiber.MethodPost, "/wallets", "alice", `{"currency":"USD"}`); status != fiber.StatusConflict {
		t.Fatalf("expected conflict for duplicate currency, got %d", status)
	}
	if status, _ := call(t, app, fiber.MethodPost, "/wallets", "alice", `{"currency":"XXX"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected bad request for unsupported currency, got %d", status)
	}

	status, listed := call(t, app, fiber.MethodGet, "/wallets", "alice", "")
	if status != fiber.StatusOK || len(listed["wallets"].([]any)) != 1 {
		t.Fatalf("unexpected list %d %v", status, listed)
	}

	status, details := call(t, app, fiber.MethodGet, "/wallets/"+id, "alice", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if _, ok := details["recent_entries"]; !ok {
		t.Fatalf("details missing recent entries: %v", details)
	}

	if status, _ := call(t, app, fiber.MethodGet, "/wallets/"+id, "mallory", ""); status != fiber.StatusNotFound {
		t.Fatalf("expected foreign wallet to be hidden, got %d", status)
	}
	if status, _ := call(t, app, fiber.MethodGet, "/wallets/123", "alice", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected bad request for malformed id, got %d", status)
	}
	if status, _ := call(t, app, fiber.MethodGet, "/wallets/"+id+"/entries?from=yesterday", "alice", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected bad request for malformed from, got %d", status)
	}
	if status, _ := call(t, app, fiber.MethodGet, "/wallets/"+id+"/entries?from=2024-01-01&page=2&page_size=500", "alice", ""); status != fiber.StatusOK {
		t.Fatalf("expected history page, got %d", status)
	}
	if status, body := call(t, app, fiber.MethodGet, "/summary", "alice", ""); status != fiber.StatusOK || body["summary"] == nil {
		t.Fatalf("unexpected summary %d %v", status, body)
	}
}

func TestParseFilterCapsPageSize(t *testing.T) {
	app := fiber.New()
	var got struct{ limit, offset int }
	app.Get("/", func(c *fiber.Ctx) error {
		f, err := ParseFilter(c)
		if err != nil {
			return err
		}
		got.limit, got.offset = f.Limit, f.Offset
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/?page=3&page_size=500", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got.limit != 50 || got.offset != 100 {
		t.Fatalf("expected limit 50 offset 100, got %+v", got)
	}
}
