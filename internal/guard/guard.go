// Package guard holds the side-effect-free authorization predicates evaluated
// before every mutating operation.
package guard

import (
	"agora/api/internal/errs"
	"agora/api/internal/session"
)

// RequireAuthenticated admits any identity bound to a user.
func RequireAuthenticated(identity session.Identity) error {
	if !identity.Authenticated() {
		return errs.ErrAuthenticationRequired
	}
	return nil
}

// RequireOwner admits the viewer only when it is the entity's author. For a
// follow edge the author is the follower, never the followed user.
func RequireOwner(viewerID, authorID string) error {
	if viewerID == "" {
		return errs.ErrAuthenticationRequired
	}
	if authorID == "" || viewerID != authorID {
		return errs.ErrPermissionDenied
	}
	return nil
}

// IsOwner is the boolean form used to decorate read models.
func IsOwner(viewerID, authorID string) bool {
	return RequireOwner(viewerID, authorID) == nil
}
