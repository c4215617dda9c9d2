// Package flash carries one-shot, identity-scoped messages across the
// redirect that follows a mutating request.
package flash

import "context"

// Categories used by the HTTP layer.
const (
	Errors    = "errors"
	Success   = "success"
	RegErrors = "regErrors"
)

// Store is keyed by the raw session token. Implementations never persist the
// token itself.
type Store interface {
	Push(ctx context.Context, token, category, text string) error
	// Drain returns the messages of one category in insertion order and
	// clears them. It returns an empty, non-nil slice when nothing is queued.
	Drain(ctx context.Context, token, category string) ([]string, error)
	// Clear drops every category for the token, used on logout.
	Clear(ctx context.Context, token string) error
}

// PushAll queues each message under the same category, stopping at the first failure.
func PushAll(ctx context.Context, s Store, token, category string, messages []string) error {
	for _, msg := range messages {
		if err := s.Push(ctx, token, category, msg); err != nil {
			return err
		}
	}
	return nil
}
