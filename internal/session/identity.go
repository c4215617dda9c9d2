// Package session provides the store-backed identity attached to every
// request and realtime connection.
package session

import (
	"context"
	"time"
)

// DefaultTTL applies when a store is built without an explicit lifetime.
const DefaultTTL = 24 * time.Hour

// Identity is who a request or connection acts as. UserID is empty for anonymous visitors.
type Identity struct {
	Token     string `json:"-"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// Store is the IdentityStore contract. Resolve never fails: an unknown,
// expired or unreadable token is simply absent.
type Store interface {
	Resolve(ctx context.Context, token string) (Identity, bool)
	Establish(ctx context.Context, userID, username, avatarRef string) (Identity, error)
	Destroy(ctx context.Context, token string) error
	Touch(ctx context.Context, token string) error
}
