package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/paymentwall/internal/transfer"
)

// RegisterTransferRoutes wires transfer endpoints behind the submission limiter.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler, limiter fiber.Handler) {
	r.Post("/transfers", limiter, h.Create)
	r.Get("/transfers/:transferId", h.Get)
}
