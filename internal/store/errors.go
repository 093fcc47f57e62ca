package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrConflict    = errors.New("version conflict")
	ErrUnavailable = errors.New("content store unavailable")
)

// RemoteError is a failed store operation. It matches its Kind with
// errors.Is and keeps the status and body the store answered with.
type RemoteError struct {
	Op     string
	Kind   error
	Status int
	Body   json.RawMessage
	Err    error
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Is(target error) bool {
	return target == e.Kind
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError keeps body verbatim when it is JSON and wraps it as
// {"raw": body} otherwise.
func NewRemoteError(op string, kind error, status int, body []byte, err error) *RemoteError {
	return &RemoteError{
		Op:     op,
		Kind:   kind,
		Status: status,
		Body:   normalizeBody(body),
		Err:    err,
	}
}

// Conflict builds the error a store returns when a version token is stale.
func Conflict(op, message string) *RemoteError {
	body, _ := json.Marshal(map[string]string{"message": message})
	return NewRemoteError(op, ErrConflict, http.StatusConflict, body, nil)
}

func normalizeBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(append([]byte(nil), body...))
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return nil
	}
	return wrapped
}
