package currency

import (
	"sort"
	"strings"
)

// DefaultCodes lists the currencies wallets may be opened in when no
// explicit configuration is supplied.
var DefaultCodes = []string{"CHF", "USD", "TRY"}

// Directory validates ISO-like currency codes against a configured allow list.
type Directory struct {
	codes map[string]struct{}
}

// NewDirectory builds a directory from the provided codes. Blank entries are
// ignored; an empty list falls back to DefaultCodes.
func NewDirectory(codes []string) *Directory {
	d := &Directory{codes: make(map[string]struct{})}
	for _, code := range codes {
		if c := Normalize(code); c != "" {
			d.codes[c] = struct{}{}
		}
	}
	if len(d.codes) == 0 {
		for _, code := range DefaultCodes {
			d.codes[code] = struct{}{}
		}
	}
	return d
}

// Normalize trims and upper-cases a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Supported reports whether code is in the directory.
func (d *Directory) Supported(code string) bool {
	if d == nil {
		return false
	}
	_, ok := d.codes[Normalize(code)]
	return ok
}

// Codes returns the configured codes in sorted order.
func (d *Directory) Codes() []string {
	out := make([]string, 0, len(d.codes))
	for code := range d.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
