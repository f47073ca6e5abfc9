package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paymentwall/internal/logging"
)

func TestErrorHandlerRendersJSON(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler(logging.Discard())})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("pq: connection refused")
	})

	cases := map[string]struct {
		status  int
		message string
	}{
		"/teapot": {fiber.StatusTeapot, "short and stout"},
		"/boom":   {fiber.StatusInternalServerError, "internal server error"},
	}
	for path, want := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want.status {
			t.Fatalf("%s: expected %d got %d", path, want.status, resp.StatusCode)
		}
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		resp.Body.Close()
		if body.Error.Message != want.message {
			t.Fatalf("%s: expected message %q got %q", path, want.message, body.Error.Message)
		}
	}
}
