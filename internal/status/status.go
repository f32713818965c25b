package status

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error produced by the gateway layer matches exactly one of
// these with errors.Is.
var (
	ErrAuthentication = errors.New("gateway: authentication failed")
	ErrValidation     = errors.New("gateway: invalid request")
	ErrConfiguration  = errors.New("gateway: missing configuration")
	ErrGateway        = errors.New("gateway: rejected by processor")
	ErrTransport      = errors.New("gateway: transport failure")
)

var (
	ErrFailedPayment    = errors.New("payment: payment failed")
	ErrRecordNotFound   = errors.New("payment: record not found")
	ErrUnverifiedNotice = errors.New("payment: webhook not verified")
	ErrDuplicateNotice  = errors.New("payment: webhook already processed")
)

// Error is a classified gateway failure. Message is safe to show to end users;
// the vendor payload only goes to the server log.
type Error struct {
	Kind       error
	Op         string
	Message    string
	Code       string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func Validation(op, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: message}
}

func Configuration(op, message string) *Error {
	return &Error{Kind: ErrConfiguration, Op: op, Message: message}
}

func Authentication(op, message string, err error) *Error {
	return &Error{Kind: ErrAuthentication, Op: op, Message: message, Err: err}
}

func Transport(op string, statusCode int, err error) *Error {
	return &Error{
		Kind:       ErrTransport,
		Op:         op,
		Message:    "payment service is temporarily unreachable",
		StatusCode: statusCode,
		Retryable:  true,
		Err:        err,
	}
}

// UserMessage returns the message that may be shown to an end user.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "payment could not be processed"
}

// IsRetryable reports whether the caller may retry the same logical operation.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Payment is the normalized settlement status of a transaction.
type Payment string

const (
	Pending Payment = "pending"
	Paid    Payment = "paid"
	Failed  Payment = "failed"
)

// Normalize collapses the vendor payment status vocabulary. The mapping is
// lossy; keep the raw value next to the result.
func Normalize(raw string) Payment {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "SUCCESS":
		return Paid
	case "FAILED", "EXPIRED", "CANCELLED":
		return Failed
	default:
		return Pending
	}
}

func (p Payment) Terminal() bool { return p == Paid || p == Failed }

// Transition returns the status a record moves to when next is observed.
// Terminal states never change.
func Transition(current, next Payment) Payment {
	if current.Terminal() {
		return current
	}
	if current == "" {
		current = Pending
	}
	if next.Terminal() {
		return next
	}
	return current
}
