package gateway

import (
	"net/http"
	"strings"
	"unicode"
)

const (
	msgInvalidRequest = "the payment request was rejected; check the amount and customer details"
	msgCredentials    = "payment service credentials were rejected; contact support"
	msgUnavailable    = "payment service is temporarily unavailable; please try again shortly"
	msgConfiguration  = "payment service is misconfigured; contact support"
	msgDefault        = "payment could not be processed"
)

type category int

const (
	categoryUnknown category = iota
	categoryInvalidRequest
	categoryCredentials
	categoryUnavailable
	categoryConfiguration
)

func (c category) message() (string, bool) {
	switch c {
	case categoryInvalidRequest:
		return msgInvalidRequest, false
	case categoryCredentials:
		return msgCredentials, false
	case categoryUnavailable:
		return msgUnavailable, true
	case categoryConfiguration:
		return msgConfiguration, false
	default:
		return msgDefault, false
	}
}

// responseCodes maps the processor's machine-readable reason codes. Generic
// codes such as "99" are absent and fall through to the message rules.
var responseCodes = map[string]category{
	"R01": categoryInvalidRequest,
	"R02": categoryCredentials,
	"R03": categoryUnavailable,
	"R04": categoryConfiguration,
	"D01": categoryInvalidRequest,
	"D02": categoryUnavailable,
	"S01": categoryUnavailable,
}

// rule rewrites a vendor message containing any of match (lowercase
// substrings) or any of words (lowercase, whole words only).
type rule struct {
	match     []string
	words     []string
	message   string
	retryable bool
}

func (r rule) matches(lower string) bool {
	for _, m := range r.match {
		if strings.Contains(lower, m) {
			return true
		}
	}
	for _, w := range r.words {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// containsWord reports whether w occurs in s bounded by non-alphanumerics.
func containsWord(s, w string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], w)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(w)
		if !wordRuneBefore(s, start) && !wordRuneAt(s, end) {
			return true
		}
		i = start + 1
	}
}

func wordRuneBefore(s string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if s[j]&0xC0 != 0x80 {
			return isWordRune([]rune(s[j:i])[0])
		}
	}
	return false
}

func wordRuneAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	return isWordRune([]rune(s[i:])[0])
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

var accountRules = []rule{
	{words: []string{"bvn", "nin"}, message: "verification identifier missing or invalid"},
	{match: []string{"contract", "category"}, message: "contract code or business category misconfigured"},
	{match: []string{"duplicate", "already exist", "already been used"}, message: "account already provisioned for this reference"},
}

var transferRules = []rule{
	{match: []string{"unavailable", "timeout", "timed out", "try again"}, message: "service temporarily unavailable", retryable: true},
	{match: []string{"insufficient"}, message: "insufficient wallet balance"},
	{match: []string{"invalid", "account", "beneficiary"}, message: "invalid destination account"},
}

var transactionRules = []rule{
	{match: []string{"invalid", "required", "amount", "email"}, message: msgInvalidRequest},
	{match: []string{"contract", "merchant"}, message: msgConfiguration},
}

var refundRules = []rule{
	{match: []string{"exceed", "greater than"}, message: "refund amount exceeds the amount paid"},
	{match: []string{"already", "duplicate"}, message: "a refund was already requested for this payment"},
	{match: []string{"not found", "does not exist"}, message: "transaction not found"},
}

// translate picks the user-safe message for a rejection. Order: reason code
// table, HTTP status class, operation rules, default.
func translate(code string, httpStatus int, vendorMessage string, rules []rule) (string, bool) {
	if cat, ok := responseCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return cat.message()
	}

	if cat := statusCategory(httpStatus); cat != categoryUnknown {
		return cat.message()
	}

	lower := strings.ToLower(vendorMessage)
	for _, r := range rules {
		if r.matches(lower) {
			return r.message, r.retryable
		}
	}
	return msgDefault, false
}

func statusCategory(code int) category {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return categoryCredentials
	case code == http.StatusTooManyRequests, code >= 500:
		return categoryUnavailable
	case code == http.StatusUnprocessableEntity:
		return categoryInvalidRequest
	default:
		return categoryUnknown
	}
}
