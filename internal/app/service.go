package app

import (
	"context"
	"errors"
	"log/slog"

	"agora/api/internal/authpw"
	"agora/api/internal/errs"
	"agora/api/internal/flash"
	"agora/api/internal/follows"
	"agora/api/internal/posts"
	"agora/api/internal/session"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

// UserDirectory looks up profile owners.
type UserDirectory interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
}

// Pinger is a dependency reported by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Sessions session.Store
	Flash    flash.Store
	Accounts *authpw.Service
	Posts    *posts.Service
	Follows  *follows.Service
	Users    UserDirectory
	// Checks are pinged by /api/ready, keyed by the name reported.
	Checks map[string]Pinger
}

// Service aggregates the domain services into the views the HTTP layer
// serves.
type Service struct {
	sessions session.Store
	flash    flash.Store
	accounts *authpw.Service
	posts    *posts.Service
	follows  *follows.Service
	users    UserDirectory
	checks   map[string]Pinger
	logger   *slog.Logger
}

func New(deps Dependencies, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: deps.Sessions,
		flash:    deps.Flash,
		accounts: deps.Accounts,
		posts:    deps.Posts,
		follows:  deps.Follows,
		users:    deps.Users,
		checks:   deps.Checks,
		logger:   logger,
	}
}

// Flash is every drained category of transient messages for one page.
type Flash map[string][]string

type HomeView struct {
	Authenticated bool         `json:"authenticated"`
	Username      string       `json:"username,omitempty"`
	AvatarRef     string       `json:"avatarRef,omitempty"`
	Feed          []posts.Post `json:"feed,omitempty"`
	Flash         Flash        `json:"flash"`
}

// Home is the guest page for anonymous visitors and the followed-authors
// feed otherwise.
func (s *Service) Home(ctx context.Context, identity session.Identity) (HomeView, error) {
	if !identity.Authenticated() {
		return HomeView{}, nil
	}
	feed, err := s.posts.Feed(ctx, identity.UserID)
	if err != nil {
		return HomeView{}, err
	}
	return HomeView{
		Authenticated: true,
		Username:      identity.Username,
		AvatarRef:     identity.AvatarRef,
		Feed:          feed,
	}, nil
}

const (
	TabPosts     = "posts"
	TabFollowers = "followers"
	TabFollowing = "following"
)

type ProfileCounts struct {
	Posts     int `json:"posts"`
	Followers int `json:"followers"`
	Following int `json:"following"`
}

type ProfileView struct {
	Username          string        `json:"username"`
	AvatarRef         string        `json:"avatarRef"`
	IsFollowing       bool          `json:"isFollowing"`
	IsVisitorsProfile bool          `json:"isVisitorsProfile"`
	Counts            ProfileCounts `json:"counts"`
	Tab               string        `json:"tab"`
	Items             any           `json:"items"`
	Flash             Flash         `json:"flash"`
}

// Profile loads username's profile as seen by viewer, with the list for tab.
func (s *Service) Profile(ctx context.Context, username string, viewer session.Identity, tab string) (ProfileView, error) {
	user, err := s.users.GetUserByUsername(ctx, util.FoldUsername(username))
	if errors.Is(err, store.ErrNotFound) {
		return ProfileView{}, errs.ErrNotFound
	}
	if err != nil {
		s.logger.Error("profile lookup failed", "username", username, "error", err)
		return ProfileView{}, errs.Unavailable("load profile", err)
	}

	view := ProfileView{
		Username:          user.Username,
		AvatarRef:         util.GravatarURL(user.Email),
		IsVisitorsProfile: viewer.Authenticated() && viewer.UserID == user.ID,
		Tab:               tab,
	}
	if view.IsFollowing, err = s.follows.IsFollowing(ctx, user.ID, viewer.UserID); err != nil {
		return ProfileView{}, err
	}
	if view.Counts.Posts, err = s.posts.CountByAuthor(ctx, user.ID); err != nil {
		return ProfileView{}, err
	}
	if view.Counts.Followers, err = s.follows.CountFollowers(ctx, user.ID); err != nil {
		return ProfileView{}, err
	}
	if view.Counts.Following, err = s.follows.CountFollowing(ctx, user.ID); err != nil {
		return ProfileView{}, err
	}

	switch tab {
	case TabFollowers:
		view.Items, err = s.follows.ListFollowers(ctx, user.ID)
	case TabFollowing:
		view.Items, err = s.follows.ListFollowing(ctx, user.ID)
	default:
		view.Tab = TabPosts
		view.Items, err = s.posts.ListByAuthor(ctx, user.ID, viewer.UserID)
	}
	if err != nil {
		return ProfileView{}, err
	}
	return view, nil
}

// DrainFlash empties every category for the identity. A store failure only
// costs the messages.
func (s *Service) DrainFlash(ctx context.Context, identity session.Identity) Flash {
	out := Flash{}
	if identity.Token == "" {
		return out
	}
	for _, category := range []string{flash.Errors, flash.Success, flash.RegErrors} {
		messages, err := s.flash.Drain(ctx, identity.Token, category)
		if err != nil {
			s.logger.Warn("flash drain failed", "category", category, "error", err)
			continue
		}
		if len(messages) > 0 {
			out[category] = messages
		}
	}
	return out
}

// Notify queues messages for the next page the identity loads.
func (s *Service) Notify(ctx context.Context, identity session.Identity, category string, messages ...string) {
	if identity.Token == "" || len(messages) == 0 {
		return
	}
	if err := flash.PushAll(ctx, s.flash, identity.Token, category, messages); err != nil {
		s.logger.Warn("flash push failed", "category", category, "error", err)
	}
}

// Ready pings every registered dependency.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	checks := make(map[string]any, len(s.checks))
	for name, pinger := range s.checks {
		if err := pinger.Ping(ctx); err != nil {
			ok = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return ok, checks
}
