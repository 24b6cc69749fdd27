package orchestrator

import "fmt"

// Kind distinguishes the error taxonomy of spec §7. It is a plain enum, not
// an exception class hierarchy, matching the teacher's preference for
// sentinel-style error handling over custom error types per failure mode.
type Kind string

const (
	// KindAdapterTransport covers network failure, HTTP 5xx, stream parse errors.
	KindAdapterTransport Kind = "adapter_transport"
	// KindAdapterAuth covers 401/403 responses.
	KindAdapterAuth Kind = "adapter_auth"
	// KindAdapterProtocol covers malformed backend payloads.
	KindAdapterProtocol Kind = "adapter_protocol"
	// KindToolFailure covers onCall throwing or timing out.
	KindToolFailure Kind = "tool_failure"
	// KindToolUnknown covers a model calling a tool absent from toolMap.
	KindToolUnknown Kind = "tool_unknown"
	// KindToolArgumentMalformed covers JSON arguments that failed to parse.
	KindToolArgumentMalformed Kind = "tool_argument_malformed"
	// KindToolIDMismatch covers a result id matching no registered call,
	// even after tolerant matching. Fatal.
	KindToolIDMismatch Kind = "tool_id_mismatch"
	// KindSchemaUnsupported covers typed output requested but refused by the
	// backend with no return_result fallback installed.
	KindSchemaUnsupported Kind = "schema_unsupported"
	// KindCancelled covers caller cancellation.
	KindCancelled Kind = "cancelled"
)

// Error wraps an underlying error with its taxonomy Kind so callers can
// errors.As to *Error and switch on Kind without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError constructs an *Error, wrapping err (which may be nil).
func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// newErrorf constructs an *Error from a format string.
func newErrorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}
