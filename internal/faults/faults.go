// Package faults defines the typed failures external collaborators surface to
// the workflow engine. Every adapter (content source, reply generator) maps
// its provider-specific errors onto these kinds so the engine can classify
// them without knowing provider details.
package faults

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the four-way failure taxonomy.
type Kind string

const (
	// KindAuthentication means the credential is expired or revoked. Fatal:
	// automation must stop.
	KindAuthentication Kind = "authentication"
	// KindRateLimited means the platform asked us to slow down. The work item
	// must be preserved, not dropped.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers network and server errors worth retrying with
	// backoff.
	KindTransient Kind = "transient"
	// KindPermanent covers malformed input, not-found, and permanently
	// rejected content. The single work item is skipped, never retried.
	KindPermanent Kind = "permanent"
)

// Error carries a classification kind alongside the underlying cause.
type Error struct {
	kind       Kind
	message    string
	retryAfter *time.Duration
	cause      error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s: %s", e.kind, msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Retryable reports whether the retry executor may attempt the call again.
func (e *Error) Retryable() bool {
	return e.kind == KindTransient || e.kind == KindRateLimited
}

// RetryAfter returns the server-requested wait, if any.
func (e *Error) RetryAfter() *time.Duration { return e.retryAfter }

func New(kind Kind, message string) error {
	return &Error{kind: kind, message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{kind: kind, message: message, cause: cause}
}

func Authentication(message string) error {
	return &Error{kind: KindAuthentication, message: message}
}

func RateLimited(message string, retryAfter *time.Duration) error {
	return &Error{kind: KindRateLimited, message: message, retryAfter: retryAfter}
}

func Transient(message string, cause error) error {
	return &Error{kind: KindTransient, message: message, cause: cause}
}

func Permanent(message string) error {
	return &Error{kind: KindPermanent, message: message}
}

// KindOf extracts the classification kind from an error chain. Unknown errors
// default to transient: a failure we cannot name is more often a blip than a
// credential or content problem, and the retry ceiling bounds the damage.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindTransient
}

// RetryAfterOf returns the server-requested wait from an error chain, if any.
func RetryAfterOf(err error) *time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.retryAfter
	}
	return nil
}
