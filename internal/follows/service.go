// Package follows manages the directed follow relation between users.
package follows

import (
	"context"
	"errors"
	"log/slog"

	"agora/api/internal/errs"
	"agora/api/internal/guard"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

const (
	MsgUnknownTarget = "You cannot follow a user that does not exist."
	MsgDuplicateEdge = "You are already following that user."
	MsgEdgeNotFound  = "You cannot stop following someone you do not already follow."
	MsgSelfFollow    = "You cannot follow yourself."
)

type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	FollowExists(ctx context.Context, followerID, followedID string) (bool, error)
	InsertFollow(ctx context.Context, followerID, followedID string) error
	DeleteFollow(ctx context.Context, followerID, followedID string) (bool, error)
	CountFollowers(ctx context.Context, userID string) (int, error)
	CountFollowing(ctx context.Context, userID string) (int, error)
	ListFollowers(ctx context.Context, userID string) ([]store.UserSummary, error)
	ListFollowing(ctx context.Context, userID string) ([]store.UserSummary, error)
}

// Member is how a user appears in a follower or following list.
type Member struct {
	Username  string `json:"username"`
	AvatarRef string `json:"avatarRef"`
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

type action int

const (
	actionCreate action = iota
	actionDelete
)

// check resolves the target and collects every problem with the requested
// change. An unknown target stops the remaining checks since there is no id
// to compare against.
func (s *Service) check(ctx context.Context, visitorID, followedUsername string, act action) (string, error) {
	// An edge belongs to its follower and a visitor only ever acts on edges
	// that start at them. Ownership is settled before the store is touched.
	followerID := visitorID
	if err := guard.RequireOwner(visitorID, followerID); err != nil {
		return "", err
	}

	var problems errs.Problems
	target, err := s.repo.GetUserByUsername(ctx, util.FoldUsername(followedUsername))
	if errors.Is(err, store.ErrNotFound) {
		problems.Add(MsgUnknownTarget, errs.ErrUnknownTarget)
		return "", problems.Err()
	}
	if err != nil {
		s.logger.Error("resolve follow target failed", "error", err)
		return "", errs.Unavailable("resolve follow target", err)
	}

	exists, err := s.repo.FollowExists(ctx, followerID, target.ID)
	if err != nil {
		s.logger.Error("check follow failed", "error", err)
		return "", errs.Unavailable("check follow", err)
	}
	switch {
	case act == actionCreate && exists:
		problems.Add(MsgDuplicateEdge, errs.ErrDuplicateEdge)
	case act == actionDelete && !exists:
		problems.Add(MsgEdgeNotFound, errs.ErrEdgeNotFound)
	}
	if target.ID == followerID {
		problems.Add(MsgSelfFollow, errs.ErrSelfFollow)
	}
	return target.ID, problems.Err()
}

// Create adds the edge followerID -> followedUsername.
func (s *Service) Create(ctx context.Context, followerID, followedUsername string) error {
	followedID, err := s.check(ctx, followerID, followedUsername, actionCreate)
	if err != nil {
		return err
	}

	err = s.repo.InsertFollow(ctx, followerID, followedID)
	switch {
	case errors.Is(err, store.ErrDuplicateEdge):
		// Lost a race with an identical request.
		var problems errs.Problems
		problems.Add(MsgDuplicateEdge, errs.ErrDuplicateEdge)
		return problems.Err()
	case errors.Is(err, store.ErrSelfReference):
		var problems errs.Problems
		problems.Add(MsgSelfFollow, errs.ErrSelfFollow)
		return problems.Err()
	case err != nil:
		s.logger.Error("insert follow failed", "error", err)
		return errs.Unavailable("insert follow", err)
	}
	return nil
}

// Delete removes the edge. Removing an edge that does not exist is an error.
func (s *Service) Delete(ctx context.Context, followerID, followedUsername string) error {
	followedID, err := s.check(ctx, followerID, followedUsername, actionDelete)
	if err != nil {
		return err
	}

	removed, err := s.repo.DeleteFollow(ctx, followerID, followedID)
	if err != nil {
		s.logger.Error("delete follow failed", "error", err)
		return errs.Unavailable("delete follow", err)
	}
	if !removed {
		var problems errs.Problems
		problems.Add(MsgEdgeNotFound, errs.ErrEdgeNotFound)
		return problems.Err()
	}
	return nil
}

func (s *Service) IsFollowing(ctx context.Context, followedID, followerID string) (bool, error) {
	if followerID == "" {
		return false, nil
	}
	ok, err := s.repo.FollowExists(ctx, followerID, followedID)
	if err != nil {
		return false, errs.Unavailable("check follow", err)
	}
	return ok, nil
}

func (s *Service) CountFollowers(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountFollowers(ctx, userID)
	if err != nil {
		return 0, errs.Unavailable("count followers", err)
	}
	return n, nil
}

func (s *Service) CountFollowing(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountFollowing(ctx, userID)
	if err != nil {
		return 0, errs.Unavailable("count following", err)
	}
	return n, nil
}

func (s *Service) ListFollowers(ctx context.Context, userID string) ([]Member, error) {
	users, err := s.repo.ListFollowers(ctx, userID)
	if err != nil {
		return nil, errs.Unavailable("list followers", err)
	}
	return members(users), nil
}

func (s *Service) ListFollowing(ctx context.Context, userID string) ([]Member, error) {
	users, err := s.repo.ListFollowing(ctx, userID)
	if err != nil {
		return nil, errs.Unavailable("list following", err)
	}
	return members(users), nil
}

func members(users []store.UserSummary) []Member {
	out := make([]Member, 0, len(users))
	for _, u := range users {
		out = append(out, Member{Username: u.Username, AvatarRef: util.GravatarURL(u.Email)})
	}
	return out
}
