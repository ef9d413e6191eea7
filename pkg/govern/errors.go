// Package govern defines the typed error taxonomy (§7) shared by every
// package in this module: Validation, NotFound, Permission, State, Storage,
// and Fatal. It is a leaf package — it imports nothing from the rest of the
// module — so that both low-level packages (canon, ident) and the top-level
// resolver can report errors through the same shape without an import
// cycle.
//
// Grounded on core/pkg/runtime/budget/budget.go's ComputeBudgetError: a
// typed struct with a deterministic string Code, generalized from one
// concern (compute budget) to the full error taxonomy this core needs.
package govern

import "fmt"

// Kind is the coarse error category from §7.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindState      Kind = "state"
	KindStorage    Kind = "storage"
	KindFatal      Kind = "fatal"
)

// Machine-readable codes named in §7.
const (
	CodeSessionNotFound    = "session_not_found"
	CodeSessionClosed      = "session_closed"
	CodeAtlasNotFound      = "atlas_not_found"
	CodeResolutionNotFound = "resolution_not_found"
	CodeActionNotFound     = "action_not_found"
	CodeActionNotPermitted = "action_not_permitted"
	CodePolicyDenied       = "policy_denied"
	CodeRequiresApproval   = "requires_approval"
	CodeResolutionExpired  = "resolution_expired"
	CodeChainBroken        = "chain_broken"
	CodeManifestInvalid    = "manifest_invalid"
	CodeDuplicateAtlas     = "duplicate_atlas"
	CodeDependencyUnmet    = "dependency_unsatisfied"
	CodeInvalidPayload     = "invalid_payload"
	CodeInvalidParameters  = "invalid_parameters"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeStorageUnavailable = "storage_unavailable"
	CodeNoValidResolution  = "no_valid_resolution"
	CodeRequestIDReused    = "request_id_reused"
	CodeClockSkew          = "clock_skew_exceeded"
)

// Error is the structured error value returned by every fallible operation
// in this module.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes a wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that wraps an underlying cause.
func Wrap(kind Kind, code string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, cause: cause}
}

// WithDetail attaches structured diagnostic fields and returns the receiver
// for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// Is reports whether err is a govern.Error of the given kind and code, so
// callers can use errors.Is(err, govern.New(govern.KindState, govern.CodeSessionClosed, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}
