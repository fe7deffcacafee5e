// Package clinerr defines the error taxonomy shared by every Clinvox
// subsystem.
//
// Errors are classified by [Kind]. Producers wrap underlying causes with
// [New] or [Wrap]; consumers classify with [KindOf] and never inspect error
// strings. The taxonomy is a closed set: new kinds require a wire-mapping
// decision in [HTTPStatus].
package clinerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for routing, retry, and wire-mapping decisions.
type Kind int

const (
	// KindUnknown is the zero value; treated as [KindInternal] on the wire.
	KindUnknown Kind = iota

	// KindInvalidInput marks malformed caller input (bad query, bad filter).
	KindInvalidInput

	// KindInvalidMedia marks uploads that fail validation: wrong magic bytes,
	// size over cap, unreadable audio, OCR confidence below threshold.
	KindInvalidMedia

	// KindNotFound marks lookups of records or vector entries that do not exist.
	KindNotFound

	// KindConflict marks a lost compare-and-swap: the record changed between
	// read and write.
	KindConflict

	// KindBusy marks submissions rejected because the ingest queue is full.
	KindBusy

	// KindProviderUnavailable marks a provider that cannot be reached or
	// returned a server-side failure.
	KindProviderUnavailable

	// KindRateLimited marks a provider 429. Adapters retry these internally.
	KindRateLimited

	// KindTimeout marks a deadline expiry on an external call.
	KindTimeout

	// KindCancelled marks work aborted by caller cancellation.
	KindCancelled

	// KindInternal marks everything else.
	KindInternal
)

// String returns the stable snake_case name used in logs and JSON bodies.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidMedia:
		return "invalid_media"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusy:
		return "busy"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified error. It carries an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// Permanent marks a failure that retrying cannot fix, such as rejected
	// credentials or an unknown model name. [IsRetryable] returns false for
	// permanent errors regardless of Kind.
	Permanent bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf walks err's chain and returns its [Kind]. Context cancellation and
// deadline errors classify as [KindCancelled] and [KindTimeout] even when not
// wrapped in an [Error]. A nil err returns [KindUnknown].
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// Is supports errors.Is matching on bare Kind sentinels created by [New] with
// an empty message, so `errors.Is(err, &Error{Kind: KindNotFound})` works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// IsRetryable reports whether an adapter should retry the call. Only
// rate limiting and transient provider-side unavailability qualify;
// validation, cancellation, timeout, and permanent errors are terminal
// for the attempt loop.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) && ce.Permanent {
		return false
	}
	switch KindOf(err) {
	case KindRateLimited, KindProviderUnavailable:
		return true
	default:
		return false
	}
}

// FromHTTPStatus classifies an HTTP status returned by an upstream provider.
// The second return reports whether the failure is permanent. Adapters may
// refine the generic 4xx mapping with endpoint-specific knowledge, for
// example treating a 400 from a transcription endpoint as invalid media.
func FromHTTPStatus(status int) (Kind, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited, false
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout, false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindProviderUnavailable, true
	case status >= 500:
		return KindProviderUnavailable, false
	case status >= 400:
		return KindProviderUnavailable, true
	default:
		return KindUnknown, false
	}
}

// HTTPStatus maps a [Kind] to its wire status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidInput, KindInvalidMedia:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBusy, KindRateLimited:
		return http.StatusTooManyRequests
	case KindProviderUnavailable, KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
