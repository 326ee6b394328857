package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrAuth                  = errors.New("authentication failed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrBusy                  = errors.New("agent busy")
	ErrSettlementTimeout     = errors.New("settlement timeout")
	ErrSettlementFailed      = errors.New("settlement failed")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrNotFound              = errors.New("not found")
)

// AuthReason says why a credential was rejected.
type AuthReason string

const (
	AuthInvalidKey AuthReason = "InvalidKey"
	AuthSuspended  AuthReason = "Suspended"
)

// AuthError is returned before any ledger access. errors.Is(err, ErrAuth) holds for it.
type AuthError struct {
	Reason AuthReason
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Inconsistencyf wraps ErrInternalInconsistency with a formatted message.
func Inconsistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternalInconsistency, fmt.Sprintf(format, args...))
}
