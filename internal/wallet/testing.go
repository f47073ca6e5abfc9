package wallet

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets the balance for a wallet when using the in-memory store.
func SeedBalance(s Store, id int64, amount decimal.Decimal) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.storage[id]; exists {
			w.Balance = amount
			w.Version++
			mem.storage[id] = w
		}
	}
}
