// Package errs defines the failure taxonomy shared by every engine. Each
// failure carries a kind, matched with errors.Is, and a stable reason text that
// integrators key off.
package errs

import "errors"

var (
	ErrAuthorization     = errors.New("authorization error")
	ErrNotFound          = errors.New("not found")
	ErrState             = errors.New("state error")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOracle            = errors.New("oracle error")
)

// Error is a classified failure with a stable reason.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func Authorization(reason string) *Error { return &Error{Kind: ErrAuthorization, Reason: reason} }

func NotFound(reason string) *Error { return &Error{Kind: ErrNotFound, Reason: reason} }

func State(reason string) *Error { return &Error{Kind: ErrState, Reason: reason} }

func Validation(reason string) *Error { return &Error{Kind: ErrValidation, Reason: reason} }

func InsufficientFunds(reason string) *Error {
	return &Error{Kind: ErrInsufficientFunds, Reason: reason}
}

func Oracle(reason string) *Error { return &Error{Kind: ErrOracle, Reason: reason} }

// Reason extracts the stable reason from err, falling back to err.Error().
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Reason
	}
	return err.Error()
}

// KindOf returns the taxonomy kind of err or nil when err is unclassified.
func KindOf(err error) error {
	for _, kind := range []error{ErrAuthorization, ErrNotFound, ErrState, ErrValidation, ErrInsufficientFunds, ErrOracle} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Shared reasons used by more than one engine.
var (
	ErrMissingRole      = Authorization("missing role")
	ErrBlacklisted      = Authorization("blacklisted")
	ErrNotGreenlisted   = Authorization("not greenlisted")
	ErrInvalidAddress   = Validation("invalid address")
	ErrInvalidAmount    = Validation("invalid amount")
	ErrInsufficientBal  = InsufficientFunds("insufficient balance")
	ErrInsufficientAllw = InsufficientFunds("insufficient allowance")
)
