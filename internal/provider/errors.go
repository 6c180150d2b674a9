package provider

import (
	"errors"
	"fmt"
)

// Kind classifies adapter failures for the Selector's skip/retry policy.
type Kind string

const (
	// KindAuth covers missing or rejected credentials. Never retried.
	KindAuth Kind = "auth"
	// KindTransient covers overload/5xx responses. Retried inside the
	// adapter with bounded backoff before escalating.
	KindTransient Kind = "transient"
	// KindUnavailable covers other non-2xx replies and network failures.
	KindUnavailable Kind = "unavailable"
)

// Error is a failed adapter call. Parse failures are not Errors; adapters
// convert those into fallback DetectionResults instead.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a provider failure of the given kind.
func NewError(providerName string, kind Kind, err error) *Error {
	return &Error{Provider: providerName, Kind: kind, Err: err}
}

// AuthErrorf builds a KindAuth error, typically for a missing API key.
func AuthErrorf(providerName, format string, args ...any) *Error {
	return &Error{Provider: providerName, Kind: KindAuth, Err: fmt.Errorf(format, args...)}
}

// IsAuth reports whether err is a credentials failure.
func IsAuth(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindAuth
}

// AllFailedError is raised by the Selector when every adapter failed or
// returned the fallback sentinel.
type AllFailedError struct {
	Attempted []string
	Last      error
}

func (e *AllFailedError) Error() string {
	if e.Last == nil {
		return "all providers failed"
	}
	return fmt.Sprintf("all providers failed. last error: %v", e.Last)
}

func (e *AllFailedError) Unwrap() error { return e.Last }
