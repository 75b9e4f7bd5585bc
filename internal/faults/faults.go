// Package faults defines the error taxonomy shared by the registry, pipeline,
// search gateway, and transport layers. Every failure that crosses a component
// boundary is classified into exactly one Kind before it does.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure for retry logic and user-facing reporting.
type Kind string

const (
	// KindValidation indicates bad or forbidden input. Never retried.
	KindValidation Kind = "validation"

	// KindRateLimited indicates the session is already executing or the
	// provider throttled the call.
	KindRateLimited Kind = "rate_limited"

	// KindTimeout indicates the wall-clock budget was exceeded. Never
	// retried at the point it is raised.
	KindTimeout Kind = "timeout"

	// KindAgent indicates the reasoning engine failed.
	KindAgent Kind = "agent"

	// KindConnection indicates a transport failure. Always disconnects the
	// affected session, never retried.
	KindConnection Kind = "connection"

	// KindSearch indicates the search provider failed.
	KindSearch Kind = "search"

	// KindInternal is the catch-all for unclassified failures at the
	// outermost dispatch boundary.
	KindInternal Kind = "internal"
)

// Retryable reports whether a failure of this kind may succeed on retry.
// Only throttling and generic search/operation failures qualify; validation,
// timeout, and connection failures never do.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindSearch:
		return true
	default:
		return false
	}
}

// Fault is a classified error. It wraps the underlying cause so callers can
// still unwrap sentinel errors from the SDKs underneath.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Cause != nil && f.Message != "" {
		return fmt.Sprintf("[%s] %s: %v", f.Kind, f.Message, f.Cause)
	}
	if f.Cause != nil {
		return fmt.Sprintf("[%s] %v", f.Kind, f.Cause)
	}
	return fmt.Sprintf("[%s] %s", f.Kind, f.Message)
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error { return f.Cause }

// New creates a Fault with the given kind and message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Newf creates a Fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Fault {
	return &Fault{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}

// Retryable reports whether err should be retried.
func Retryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind.Retryable()
	}
	return Classify(err).Retryable()
}

// Classify infers a Kind from the error content. Used at boundaries where
// errors arrive from SDKs and the standard library rather than as Faults.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "deadline exceeded"),
		strings.Contains(s, "context deadline"):
		return KindTimeout
	case strings.Contains(s, "rate limit"),
		strings.Contains(s, "too many requests"),
		strings.Contains(s, "429"):
		return KindRateLimited
	case strings.Contains(s, "connection"),
		strings.Contains(s, "broken pipe"),
		strings.Contains(s, "websocket"),
		strings.Contains(s, "refused"),
		strings.Contains(s, "reset by peer"):
		return KindConnection
	case strings.Contains(s, "invalid"),
		strings.Contains(s, "validation"):
		return KindValidation
	default:
		return KindInternal
	}
}

// UserMessage maps a classified error to a human-readable summary safe to
// echo to the client. Internal details are logged, never sent.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		var f *Fault
		if errors.As(err, &f) && f.Message != "" {
			return "Input validation error: " + f.Message
		}
		return "Input validation error."
	case KindRateLimited:
		return "Already processing a request. Please wait for completion."
	case KindTimeout:
		return "Request timed out. Please try again with a more specific query."
	case KindAgent:
		return "I encountered an issue processing your request. Please try rephrasing your question."
	case KindConnection:
		return "Connection issue occurred. Please refresh and try again."
	case KindSearch:
		return "Search is temporarily unavailable. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
