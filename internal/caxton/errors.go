package caxton

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is a stable tag classifying a terminal failure. Kinds group
// into the families described by the error taxonomy: Validation, Resource,
// Isolation, Routing, Lifecycle, and Transient.
type ErrorKind string

const (
	// Validation family — surfaced to the caller, never retried.
	KindInvalidModule  ErrorKind = "InvalidModule"
	KindInvalidMessage ErrorKind = "InvalidMessage"
	KindInvalidConfig  ErrorKind = "InvalidConfig"

	// Resource family — surfaced to the caller, retry acceptable after backoff.
	KindResourceExhausted ErrorKind = "ResourceExhausted"
	KindInboxOverflow     ErrorKind = "InboxOverflow"
	KindStorageFull       ErrorKind = "StorageFull"

	// Isolation family — internal to the sandbox; the current invocation is
	// terminated and the owning agent is marked Failed.
	KindFuelExhausted   ErrorKind = "FuelExhausted"
	KindMemoryTrap      ErrorKind = "MemoryTrap"
	KindTimeout         ErrorKind = "Timeout"
	KindIllegalHostCall ErrorKind = "IllegalHostCall"

	// Routing family — surfaced to the sender as a Failure message, never
	// retried by the core itself.
	KindNoProvider      ErrorKind = "NoProvider"
	KindAgentUnavailable ErrorKind = "AgentUnavailable"
	KindOutOfOrder      ErrorKind = "OutOfOrder"
	KindUnauthorized    ErrorKind = "Unauthorized"

	// Lifecycle family — surfaced to whichever caller triggered the
	// transition; no automatic recovery.
	KindIllegalTransition ErrorKind = "IllegalTransition"
	KindHotReloadFailed   ErrorKind = "HotReloadFailed"

	// Transient family — observable events; the core continues operating.
	KindBackpressure            ErrorKind = "Backpressure"
	KindConversationResumedStale ErrorKind = "ConversationResumedStale"
)

// retryable marks the kinds for which a caller may reasonably retry after
// RetryAfter elapses.
var retryable = map[ErrorKind]bool{
	KindResourceExhausted: true,
	KindInboxOverflow:     true,
	KindStorageFull:       true,
	KindBackpressure:      true,
}

// ErrInvalidID is returned by ParseID and ID.Scan on malformed input.
var ErrInvalidID = errors.New("caxton: invalid id")

// Error is the structured failure value every subsystem boundary in Caxton
// returns. It carries a stable Kind tag, a correlation ID linking it back to
// the triggering message/agent, the underlying cause, and — for retryable
// kinds — a suggested minimum backoff.
type Error struct {
	Kind          ErrorKind
	Correlation   ID
	Cause         error
	RetryAfter    *time.Duration
	detailMessage string
}

// NewError constructs a structured Error. cause may be nil.
func NewError(kind ErrorKind, correlation ID, cause error, detail string) *Error {
	return &Error{
		Kind:          kind,
		Correlation:   correlation,
		Cause:         cause,
		detailMessage: detail,
	}
}

// WithRetryAfter attaches a suggested minimum backoff and returns the
// receiver for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = &d
	return e
}

// Retryable reports whether the error's kind is in the retry-eligible set.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// Error implements the error interface with a one-line cause, matching the
// taxonomy's "stable kind tag, correlation ID, one-line cause" contract.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Correlation, e.detailMessage, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Correlation, e.detailMessage)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &Error{Kind: K}) style kind comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *Error, reporting ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
