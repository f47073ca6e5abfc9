package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/middleware"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID        int64           `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type entryResponse struct {
	ID                   string          `json:"id"`
	TransferID           string          `json:"transfer_id"`
	CounterpartyWalletID int64           `json:"counterparty_wallet_id"`
	Amount               decimal.Decimal `json:"amount"`
	BalanceAfter         decimal.Decimal `json:"balance_after"`
	Currency             string          `json:"currency"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

// Create provisions a wallet for the authenticated owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{OwnerID: middleware.UserID(c), Currency: req.Currency})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// List returns the caller's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	wallets, err := h.service.ListByOwner(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return mapError(err)
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toResponse(w))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": out})
}

// Get returns one of the caller's wallets with its latest entries.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := walletIDParam(c)
	if err != nil {
		return err
	}
	details, err := h.service.Details(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet":         toResponse(details.Wallet),
		"recent_entries": toEntries(details.Recent),
	})
}

// Entries pages through a wallet's ledger history.
func (h *Handler) Entries(c *fiber.Ctx) error {
	id, err := walletIDParam(c)
	if err != nil {
		return err
	}
	filter, err := ParseFilter(c)
	if err != nil {
		return err
	}
	entries, err := h.service.History(c.UserContext(), middleware.UserID(c), id, filter)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"entries": toEntries(entries)})
}

type summaryResponse struct {
	Currency string          `json:"currency"`
	Income   decimal.Decimal `json:"income"`
	Expense  decimal.Decimal `json:"expense"`
	Net      decimal.Decimal `json:"net"`
}

// Summary reports the caller's income, expense and net per currency.
func (h *Handler) Summary(c *fiber.Ctx) error {
	filter, err := ParseFilter(c)
	if err != nil {
		return err
	}
	totals, err := h.service.Summary(c.UserContext(), middleware.UserID(c), filter.From, filter.To)
	if err != nil {
		return err
	}
	out := make([]summaryResponse, 0, len(totals))
	for _, s := range totals {
		out = append(out, summaryResponse{Currency: s.Currency, Income: s.Income, Expense: s.Expense, Net: s.Net})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"from": filter.From, "to": filter.To, "summary": out})
}

// ParseFilter reads from/to (RFC 3339 or YYYY-MM-DD), page and page_size query parameters.
func ParseFilter(c *fiber.Ctx) (ledger.Filter, error) {
	var f ledger.Filter
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return ledger.Filter{}, fiber.NewError(http.StatusBadRequest, "invalid "+p.name+" parameter")
		}
		*p.dst = t
	}
	size := c.QueryInt("page_size", ledger.MaxPageSize)
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	f.Limit = size
	if f.Limit <= 0 || f.Limit > ledger.MaxPageSize {
		f.Limit = ledger.MaxPageSize
	}
	f.Offset = (page - 1) * f.Limit
	return f, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func walletIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("walletId"), 10, 64)
	if err != nil || !ValidID(id) {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid wallet id")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateCurrency):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnsupportedCurrency), errors.Is(err, ErrStatusUnchanged):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Balance:   w.Balance,
		Currency:  w.Currency,
		Status:    w.Status.String(),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func toEntries(entries []ledger.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:                   e.ID,
			TransferID:           e.TransferID.String(),
			CounterpartyWalletID: e.CounterpartyWalletID,
			Amount:               e.Amount,
			BalanceAfter:         e.BalanceAfter,
			Currency:             e.Currency,
			OccurredAt:           e.OccurredAt,
		})
	}
	return out
}
