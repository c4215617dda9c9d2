package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapConstraint(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "no rows", in: sql.ErrNoRows, want: ErrNotFound},
		{name: "username", in: &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"}, want: ErrUsernameTaken},
		{name: "email", in: &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, want: ErrEmailTaken},
		{name: "follow pk", in: fmt.Errorf("insert follow: %w", &pgconn.PgError{Code: "23505", ConstraintName: "follows_pkey"}), want: ErrDuplicateEdge},
		{name: "self follow", in: &pgconn.PgError{Code: "23514", ConstraintName: "follows_no_self"}, want: ErrSelfReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapConstraint(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("mapConstraint(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}

	other := &pgconn.PgError{Code: "23505", ConstraintName: "something_else"}
	if got := mapConstraint(other); got != error(other) {
		t.Fatalf("expected unknown constraint to pass through, got %v", got)
	}
	if mapConstraint(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
}
