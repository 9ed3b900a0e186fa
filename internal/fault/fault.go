// Package fault defines the error taxonomy shared by the provider adapters,
// the registry, and the consensus orchestrator. Every failure that crosses a
// package boundary is wrapped in an *Error carrying a Kind so callers can
// decide between retrying, degrading, and failing the thread.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and propagation decisions.
type Kind string

const (
	// Provider-side kinds.
	KindAuth          Kind = "provider_auth"
	KindRateLimited   Kind = "provider_rate_limited"
	KindTimeout       Kind = "provider_timeout"
	KindOverloaded    Kind = "provider_overloaded"
	KindModelNotFound Kind = "model_not_found"

	// Registry-side kinds.
	KindCostLimit          Kind = "cost_limit_exceeded"
	KindInsufficientModels Kind = "insufficient_models"

	// Consensus-side kinds.
	KindInvalidState     Kind = "invalid_state"
	KindDecomposeInvalid Kind = "decompose_invalid"

	// Persistence.
	KindStorage Kind = "storage"

	KindUnknown Kind = "unknown"
)

// Error is a classified error. RetryHint is non-zero only when the upstream
// provider supplied one (Retry-After on a 429).
type Error struct {
	Kind      Kind
	Msg       string
	RetryHint time.Duration
	wrapped   error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.wrapped.Error())
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, wrapped: err}
}

// WithRetryHint attaches a provider-supplied retry hint.
func (e *Error) WithRetryHint(d time.Duration) *Error {
	e.RetryHint = d
	return e
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// RetryHintOf returns the retry hint buried in an error chain, if any.
func RetryHintOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryHint
	}
	return 0
}

// Retryable reports whether the error kind is safe to retry. Rate limits,
// timeouts and overloaded providers are transient; everything else fails fast.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTimeout, KindOverloaded:
		return true
	}
	return false
}
