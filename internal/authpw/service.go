// Package authpw provides username/password registration and login.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"agora/api/internal/errs"
	"agora/api/internal/store"
	"agora/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

const (
	MsgUsernameRequired   = "You must provide a username."
	MsgUsernameCharacters = "Username can only contain letters and numbers."
	MsgEmailInvalid       = "You must provide a valid email address."
	MsgPasswordRequired   = "You must provide a password."
	MsgPasswordTooShort   = "Password must be at least 12 characters."
	MsgPasswordTooLong    = "Password cannot exceed 50 characters."
	MsgUsernameTooShort   = "Username must be at least 3 characters."
	MsgUsernameTooLong    = "Username cannot exceed 30 characters."
	MsgUsernameTaken      = "That username is already taken."
	MsgEmailTaken         = "That email is already being used."
)

const (
	minPassword = 12
	maxPassword = 50
	minUsername = 3
	maxUsername = 30
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

// Service provides username/password authentication
type Service struct {
	store  UserStore
	cost   int
	logger *slog.Logger
}

type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(store UserStore, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, cost: bcrypt.DefaultCost, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account is the credential-free view of a user handed to the session layer.
type Account struct {
	ID        string
	Username  string
	AvatarRef string
}

func accountFor(user store.User) Account {
	return Account{ID: user.ID, Username: user.Username, AvatarRef: util.GravatarURL(user.Email)}
}

// RegisterRequest contains registration form fields
type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

func (r RegisterRequest) normalized() RegisterRequest {
	return RegisterRequest{
		Username: util.FoldUsername(r.Username),
		Email:    strings.ToLower(strings.TrimSpace(r.Email)),
		Password: r.Password,
	}
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

func wellFormedUsername(username string) bool {
	return util.IsAlphanumeric(username) && len(username) >= minUsername && len(username) <= maxUsername
}

// Register validates every field, reports all problems at once and creates
// the user only when there are none.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Account, error) {
	req = req.normalized()

	var problems errs.Problems
	if req.Username == "" {
		problems.Add(MsgUsernameRequired, nil)
	}
	if req.Username != "" && !util.IsAlphanumeric(req.Username) {
		problems.Add(MsgUsernameCharacters, nil)
	}
	emailOK := validEmail(req.Email)
	if !emailOK {
		problems.Add(MsgEmailInvalid, nil)
	}
	if req.Password == "" {
		problems.Add(MsgPasswordRequired, nil)
	}
	if req.Password != "" && len(req.Password) < minPassword {
		problems.Add(MsgPasswordTooShort, nil)
	}
	if len(req.Password) > maxPassword {
		problems.Add(MsgPasswordTooLong, nil)
	}
	if req.Username != "" && len(req.Username) < minUsername {
		problems.Add(MsgUsernameTooShort, nil)
	}
	if len(req.Username) > maxUsername {
		problems.Add(MsgUsernameTooLong, nil)
	}

	if wellFormedUsername(req.Username) {
		taken, err := s.UsernameExists(ctx, req.Username)
		if err != nil {
			return Account{}, err
		}
		if taken {
			problems.Add(MsgUsernameTaken, nil)
		}
	}
	if emailOK {
		taken, err := s.EmailExists(ctx, req.Email)
		if err != nil {
			return Account{}, err
		}
		if taken {
			problems.Add(MsgEmailTaken, nil)
		}
	}

	if err := problems.Err(); err != nil {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		// A concurrent registration won the race past the existence check.
		return Account{}, errs.Validation(MsgUsernameTaken)
	case errors.Is(err, store.ErrEmailTaken):
		return Account{}, errs.Validation(MsgEmailTaken)
	case err != nil:
		s.logger.Error("create user failed", "error", err)
		return Account{}, errs.Unavailable("create user", err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return accountFor(user), nil
}

// Login returns errs.ErrInvalidCredentials for an unknown user and for a
// wrong password alike.
func (s *Service) Login(ctx context.Context, username, password string) (Account, error) {
	username = util.FoldUsername(username)
	if username == "" || password == "" {
		return Account{}, errs.ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return Account{}, errs.ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("login lookup failed", "error", err)
		return Account{}, errs.Unavailable("lookup user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Account{}, errs.ErrInvalidCredentials
	}
	return accountFor(user), nil
}

func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists("username", func() error {
		_, err := s.store.GetUserByUsername(ctx, util.FoldUsername(username))
		return err
	})
}

func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists("email", func() error {
		_, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		return err
	})
}

func (s *Service) exists(field string, lookup func() error) (bool, error) {
	err := lookup()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	s.logger.Error("availability check failed", "field", field, "error", err)
	return false, errs.Unavailable("check "+field, err)
}
