package transfer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/paymentwall/internal/middleware"
)

// idempotencyNamespace derives transfer ids from non-UUID Idempotency-Keys.
var idempotencyNamespace = uuid.MustParse("6f1d9c2e-3b7a-5c41-9e0f-8a2d4b6c1e37")

// Handler exposes transfer HTTP endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler builds a transfer HTTP handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type createRequest struct {
	TransferID        string          `json:"transfer_id"`
	RecipientWalletID int64           `json:"recipient_wallet_id"`
	Amount            decimal.Decimal `json:"amount"`
}

type resultResponse struct {
	TransferID        string           `json:"transfer_id"`
	SenderWalletID    int64            `json:"sender_wallet_id"`
	RecipientWalletID int64            `json:"recipient_wallet_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	SenderBalance     *decimal.Decimal `json:"sender_balance,omitempty"`
	OccurredAt        time.Time        `json:"occurred_at"`
	Replayed          bool             `json:"replayed"`
}

type errorBody struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Limit    string `json:"limit,omitempty"`
	WalletID int64  `json:"wallet_id,omitempty"`
}

// Create executes a transfer from the authenticated user's wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	userID := middleware.UserID(c)

	transferID, err := transferIDFor(req.TransferID, userID, middleware.IdempotencyKey(c))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transfer_id")
	}

	res, err := h.coordinator.Execute(c.UserContext(), Request{
		TransferID:        transferID,
		InitiatingUserID:  userID,
		RecipientWalletID: req.RecipientWalletID,
		Amount:            req.Amount,
	})
	if err != nil {
		return respondError(c, err)
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(toResponse(res, true))
}

// Get returns a transfer the caller took part in.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("transferId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transfer id")
	}
	userID := middleware.UserID(c)
	res, err := h.coordinator.Lookup(c.UserContext(), userID, id)
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(res, res.SenderUserID == userID))
}

// transferIDFor picks the explicit transfer id, else derives one from the
// caller's Idempotency-Key so HTTP retries replay the same transfer.
func transferIDFor(explicit, userID, key string) (uuid.UUID, error) {
	if explicit != "" {
		return uuid.Parse(explicit)
	}
	if key == "" {
		return uuid.Nil, nil
	}
	if id, err := uuid.Parse(key); err == nil {
		return id, nil
	}
	return uuid.NewSHA1(idempotencyNamespace, []byte(userID+":"+key)), nil
}

// respondError renders business rejections as JSON so they are replayed for
// the same Idempotency-Key; conflicts and internal failures are returned as
// errors so the key is released and the client may retry.
func respondError(c *fiber.Ctx, err error) error {
	var te *Error
	if !errors.As(err, &te) {
		return fiber.NewError(http.StatusServiceUnavailable, "transfer could not be completed")
	}

	body := errorBody{Kind: te.Kind.String(), Message: te.Error(), WalletID: te.WalletID}
	var status int
	switch te.Kind {
	case KindInvalidRequest:
		status = http.StatusBadRequest
	case KindWalletNotFound:
		status = http.StatusNotFound
	case KindCurrencyMismatch, KindInsufficientFunds:
		status = http.StatusUnprocessableEntity
	case KindLimitViolation:
		status = http.StatusUnprocessableEntity
		body.Limit = te.LimitKind.String()
	case KindConflict:
		return fiber.NewError(http.StatusConflict, "transfer conflicted with concurrent updates, retry")
	default:
		return fiber.NewError(http.StatusServiceUnavailable, "transfer could not be completed, retry")
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}

func toResponse(res Result, withBalance bool) resultResponse {
	out := resultResponse{
		TransferID:        res.TransferID.String(),
		SenderWalletID:    res.SenderWalletID,
		RecipientWalletID: res.RecipientWalletID,
		Amount:            res.Amount,
		Currency:          res.Currency,
		OccurredAt:        res.OccurredAt,
		Replayed:          res.Replayed,
	}
	if withBalance {
		balance := res.SenderBalance
		out.SenderBalance = &balance
	}
	return out
}
