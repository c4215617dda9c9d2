package app

import (
	"errors"
	"fmt"
	"net/http"

	"agora/api/internal/errs"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errRateLimited      = domainError(http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, please try again later", nil)
	errRouteNotFound    = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	errMethodNotAllowed = domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
)

// mapError translates the shared error taxonomy into a JSON error response.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validation *errs.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", validation.Messages
	}
	switch {
	case errors.Is(err, errs.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", errs.MsgInvalidCredentials, nil
	case errors.Is(err, errs.ErrAuthenticationRequired):
		return http.StatusUnauthorized, "UNAUTHORIZED", errs.MsgMustBeLoggedIn, nil
	case errors.Is(err, errs.ErrPermissionDenied):
		return http.StatusForbidden, "FORBIDDEN", errs.MsgPermissionDenied, nil
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrUnknownTarget):
		return http.StatusNotFound, "NOT_FOUND", errs.MsgNotFound, nil
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE", errs.MsgTryAgainLater, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
