// Package errs defines the error taxonomy shared by the domain packages and
// the messages users see when those errors are carried across a redirect.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrNotFound               = errors.New("not found")
	ErrUnknownTarget          = errors.New("unknown target")
	ErrDuplicateEdge          = errors.New("duplicate edge")
	ErrEdgeNotFound           = errors.New("edge not found")
	ErrSelfFollow             = errors.New("self follow")
	ErrStoreUnavailable       = errors.New("store unavailable")

	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrAuthenticationRequired)
)

const (
	MsgMustBeLoggedIn     = "You must be logged in to perform that action."
	MsgPermissionDenied   = "You do not have permission to perform that action."
	MsgInvalidCredentials = "Invalid username or password."
	MsgNotFound           = "The requested item could not be found."
	MsgTryAgainLater      = "Please try again later."
)

// Unavailable marks a collaborator failure so it surfaces as "try again later"
// while keeping the underlying cause for logs.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ValidationError carries every user-fixable problem found in one submission.
// Causes are optional typed sentinels so callers can still use errors.Is.
type ValidationError struct {
	Messages []string
	causes   []error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.causes
}

// Validation builds a ValidationError from plain messages.
func Validation(messages ...string) *ValidationError {
	return &ValidationError{Messages: append([]string(nil), messages...)}
}

// Problems accumulates messages during a single validation pass.
type Problems struct {
	messages []string
	causes   []error
}

// Add records a message and an optional typed cause.
func (p *Problems) Add(message string, cause error) {
	p.messages = append(p.messages, message)
	if cause != nil {
		p.causes = append(p.causes, cause)
	}
}

func (p *Problems) Empty() bool {
	return len(p.messages) == 0
}

// Err returns nil when nothing was recorded.
func (p *Problems) Err() error {
	if p.Empty() {
		return nil
	}
	return &ValidationError{
		Messages: append([]string(nil), p.messages...),
		causes:   append([]error(nil), p.causes...),
	}
}

// UserMessages converts any domain error into the strings shown to a user.
func UserMessages(err error) []string {
	if err == nil {
		return nil
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return append([]string(nil), validation.Messages...)
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return []string{MsgInvalidCredentials}
	case errors.Is(err, ErrAuthenticationRequired):
		return []string{MsgMustBeLoggedIn}
	case errors.Is(err, ErrPermissionDenied):
		return []string{MsgPermissionDenied}
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownTarget):
		return []string{MsgNotFound}
	default:
		return []string{MsgTryAgainLater}
	}
}
