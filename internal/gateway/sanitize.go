package gateway

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ticket-payments/internal/status"
)

// RoundAmount rounds to two decimal places, half away from zero.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// EnforceMinimum rejects non-positive amounts and amounts below min, and
// returns the rounded amount otherwise.
func EnforceMinimum(d, min decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, status.Validation("amount", "amount must be greater than zero")
	}
	if d.LessThan(min) {
		return decimal.Zero, status.Validation("amount", "amount must be at least "+min.StringFixed(2))
	}
	return RoundAmount(d), nil
}

// disallowed matches runes the processor rejects in free text: pictographs and
// modifier symbols, format and zero-width characters, variation selectors,
// combining enclosing marks (keycaps), private use and surrogates.
var disallowed = runes.Predicate(func(r rune) bool {
	switch {
	case unicode.In(r, unicode.So, unicode.Sk, unicode.Cf, unicode.Co, unicode.Cs, unicode.Me):
		return true
	case unicode.Is(unicode.Variation_Selector, r):
		return true
	case r == unicode.ReplacementChar:
		return true
	}
	return false
})

// SanitizeText normalizes s to NFKC, drops disallowed runes, folds control
// characters and runs of whitespace into single spaces and truncates to
// maxLen runes.
func SanitizeText(s string, maxLen int) string {
	s = norm.NFKC.String(s)
	cleaned, _, err := transform.String(runes.Remove(disallowed), s)
	if err != nil {
		cleaned = s
	}
	cleaned = strings.Join(strings.FieldsFunc(cleaned, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
	return truncate(cleaned, maxLen)
}

// SanitizeName is SanitizeText restricted to letters, digits, spaces and
// - . ' &.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == ' ':
			return r
		case r == '-', r == '.', r == '\'', r == '&':
			return r
		}
		return -1
	}, SanitizeText(s, 0))
	return truncate(strings.Join(strings.Fields(cleaned), " "), maxLen)
}

// truncate cuts s to max runes; max <= 0 means no limit.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}
