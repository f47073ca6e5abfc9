package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const summaryPageSize = 500

// Summary totals a user's movements in one currency over a range.
type Summary struct {
	Currency string          `json:"currency"`
	Income   decimal.Decimal `json:"income"`
	Expense  decimal.Decimal `json:"expense"`
	Net      decimal.Decimal `json:"net"`
}

// Summarize pages through the user's entries in [from, to) and totals income
// and expense per currency. Results are sorted by currency.
func Summarize(ctx context.Context, r Recorder, userID string, from, to time.Time) ([]Summary, error) {
	totals := make(map[string]*Summary)
	filter := Filter{UserID: userID, From: from, To: to, Limit: summaryPageSize}
	for {
		page, err := r.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			s, ok := totals[e.Currency]
			if !ok {
				s = &Summary{Currency: e.Currency, Income: decimal.Zero, Expense: decimal.Zero}
				totals[e.Currency] = s
			}
			if e.Debit() {
				s.Expense = s.Expense.Add(e.Amount.Neg())
			} else {
				s.Income = s.Income.Add(e.Amount)
			}
		}
		if len(page) < summaryPageSize {
			break
		}
		filter.Offset += len(page)
	}

	out := make([]Summary, 0, len(totals))
	for _, s := range totals {
		s.Net = s.Income.Sub(s.Expense)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}
