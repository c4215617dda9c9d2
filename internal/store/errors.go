package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrUsernameTaken = errors.New("store: username taken")
	ErrEmailTaken    = errors.New("store: email taken")
	ErrDuplicateEdge = errors.New("store: follow already exists")
	ErrSelfReference = errors.New("store: follower equals followed")
)

const (
	sqlStateUniqueViolation = "23505"
	sqlStateCheckViolation  = "23514"
)

// mapConstraint translates constraint violations into store sentinels and
// leaves every other error untouched.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.SQLState() {
	case sqlStateUniqueViolation:
		switch pgErr.ConstraintName {
		case "users_username_key":
			return ErrUsernameTaken
		case "users_email_key":
			return ErrEmailTaken
		case "follows_pkey":
			return ErrDuplicateEdge
		}
	case sqlStateCheckViolation:
		if pgErr.ConstraintName == "follows_no_self" {
			return ErrSelfReference
		}
	}
	return err
}
