package shopauth

import (
	"encoding/json"
	"fmt"
)

// Result is the uniform shape every API-facing call returns.
// Success results carry Data; failures carry Error. Message is the backend's
// human readable message when one was sent.
type Result struct {
	Success bool            `json:"success"`
	Status  int             `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// OK builds a successful result
func OK(status int, data json.RawMessage, message string) *Result {
	return &Result{Success: true, Status: status, Data: data, Message: message}
}

// Fail builds a failed result from err
func Fail(err *Error) *Result {
	res := &Result{Error: err}
	if err != nil {
		res.Status = err.Status
		res.Message = err.Message
	}
	return res
}

// Failf builds a failed result with a formatted message
func Failf(kind ErrorKind, format string, args ...any) *Result {
	return Fail(NewError(kind, 0, fmt.Sprintf(format, args...)))
}

// Decode unmarshals Data into v. Decoding a result without data is a no-op.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// Err returns the failure as an error value, or nil for successful results
func (r *Result) Err() error {
	if r == nil {
		return ErrTransportUnreachable
	}
	if r.Success || r.Error == nil {
		return nil
	}
	return r.Error
}

// Is reports whether the result failed with the given kind
func (r *Result) Is(kind ErrorKind) bool {
	return r != nil && r.Error != nil && r.Error.Kind == kind
}
