package app

import (
	"errors"
	"fmt"
	"net/http"

	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/publish"
	"solusiemas/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func wrapDomainError(err error, status int, code, message string, details any) *DomainError {
	e := domainError(status, code, message, details)
	e.Err = err
	return e
}

// remoteDetail exposes the store's status and body so an operator can see
// why a commit was refused.
func remoteDetail(err error) any {
	var remote *store.RemoteError
	if errors.As(err, &remote) && remote.Status != 0 {
		return map[string]any{
			"status": remote.Status,
			"body":   remote.Body,
		}
	}
	return map[string]any{"message": err.Error()}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "price.json not found", nil
	case errors.Is(err, pricedoc.ErrMissingPrices):
		return http.StatusBadRequest, "MISSING_PRICES", "Missing prices object", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", conflictMessage, remoteDetail(err)
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusInternalServerError, "COMMIT_FAILED", "Commit failed", remoteDetail(err)
	case errors.Is(err, publish.ErrLocalWrite):
		return http.StatusInternalServerError, "WRITE_FAILED", "Failed to write file", err.Error()
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
