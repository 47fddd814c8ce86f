package shopauth

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind categorizes failures so the UI can decide how to present them
type ErrorKind string

const (
	ErrorKindTransportUnreachable  ErrorKind = "transport_unreachable"
	ErrorKindAuthExpired           ErrorKind = "auth_expired"
	ErrorKindAuthRaceDeferred      ErrorKind = "auth_race_deferred"
	ErrorKindValidationFailed      ErrorKind = "validation_failed"
	ErrorKindPermissionDenied      ErrorKind = "permission_denied"
	ErrorKindResourceNotFound      ErrorKind = "resource_not_found"
	ErrorKindServerFault           ErrorKind = "server_fault"
	ErrorKindTokenGrantUnsupported ErrorKind = "token_grant_unsupported"
	ErrorKindBadRequest            ErrorKind = "bad_request"

	// ErrorKindCanceled is a call the caller abandoned before a response arrived
	ErrorKindCanceled ErrorKind = "canceled"
)

// Error is the categorized failure carried by a Result
type Error struct {
	Kind    ErrorKind           `json:"kind"`
	Status  int                 `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
	Cause   error               `json:"-"`
}

// Sentinels for errors.Is. Matching compares only the Kind.
var (
	ErrTransportUnreachable  = &Error{Kind: ErrorKindTransportUnreachable}
	ErrAuthExpired           = &Error{Kind: ErrorKindAuthExpired}
	ErrAuthRaceDeferred      = &Error{Kind: ErrorKindAuthRaceDeferred}
	ErrValidationFailed      = &Error{Kind: ErrorKindValidationFailed}
	ErrPermissionDenied      = &Error{Kind: ErrorKindPermissionDenied}
	ErrResourceNotFound      = &Error{Kind: ErrorKindResourceNotFound}
	ErrServerFault           = &Error{Kind: ErrorKindServerFault}
	ErrTokenGrantUnsupported = &Error{Kind: ErrorKindTokenGrantUnsupported}
	ErrBadRequest            = &Error{Kind: ErrorKindBadRequest}
	ErrCanceled              = &Error{Kind: ErrorKindCanceled}
)

// NewError creates an Error of the given kind
func NewError(kind ErrorKind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsAuth returns true for the two kinds produced by the 401/403 session policy
func (e *Error) IsAuth() bool {
	return e != nil && (e.Kind == ErrorKindAuthExpired || e.Kind == ErrorKindAuthRaceDeferred)
}

// FieldError returns the first message for field, or ""
func (e *Error) FieldError(field string) string {
	if e == nil {
		return ""
	}
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// KindForStatus maps a non-auth HTTP status to its error kind.
// 401 and 403 are decided by the session policy, not by this table.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return ErrorKindResourceNotFound
	case status == http.StatusUnprocessableEntity:
		return ErrorKindValidationFailed
	case status == http.StatusForbidden:
		return ErrorKindPermissionDenied
	case status >= 500:
		return ErrorKindServerFault
	default:
		return ErrorKindBadRequest
	}
}
