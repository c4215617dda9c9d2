package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"agora/api/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "wrapped domain error", err: fmt.Errorf("decode: %w", domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)), status: http.StatusBadRequest, code: "INVALID_BODY"},
		{name: "rate limited", err: errRateLimited, status: http.StatusTooManyRequests, code: "RATE_LIMITED"},
		{name: "validation", err: errs.Validation("bad"), status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "login required", err: errs.ErrAuthenticationRequired, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "not owner", err: errs.ErrPermissionDenied, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "unknown target", err: errs.ErrUnknownTarget, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "store down", err: errs.Unavailable("load", errors.New("db down")), status: http.StatusServiceUnavailable, code: "UNAVAILABLE"},
		{name: "anything else", err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}
