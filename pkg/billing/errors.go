package billing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies billing failures
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindNoActiveSubscription ErrorKind = "no_active_subscription"
	KindValidation           ErrorKind = "validation"
	KindConflict             ErrorKind = "conflict"
	KindPersistence          ErrorKind = "persistence"
)

// Error is the error type returned by Service
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, "" if none
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsNoActiveSubscription checks if an error reports a tenant without an active subscription
func IsNoActiveSubscription(err error) bool {
	return KindOf(err) == KindNoActiveSubscription
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsConflict checks if an error is a concurrent modification error
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsPersistence checks if an error is a storage failure
func IsPersistence(err error) bool {
	return KindOf(err) == KindPersistence
}

// storeError maps store sentinels onto error kinds
func storeError(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return newError(KindNotFound, err, format, args...)
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrActiveSubscriptionExists):
		return newError(KindConflict, err, format, args...)
	case KindOf(err) != "":
		return err
	default:
		return newError(KindPersistence, err, format, args...)
	}
}
