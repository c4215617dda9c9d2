package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// CreateUser inserts a user and fills in the generated id and timestamp.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, user.Username, user.Email, user.PasswordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if mapped := mapConstraint(err); mapped != err {
			return User{}, mapped
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

const selectUser = `SELECT id, username, email, password_hash, created_at FROM users`

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, selectUser+" WHERE "+where+" = $1", arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by %s: %w", where, err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *PostgresStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (title, body, author_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, post.Title, post.Body, post.AuthorID).Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

const selectPostRow = `
	SELECT p.id, p.title, p.body, p.author_id, p.created_at, u.username, u.email
	FROM posts p
	JOIN users u ON u.id = p.author_id`

func scanPostRows(rows *sql.Rows) ([]PostRow, error) {
	defer rows.Close()
	out := make([]PostRow, 0)
	for rows.Next() {
		var row PostRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Body, &row.AuthorID, &row.CreatedAt, &row.AuthorUsername, &row.AuthorEmail); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetPost expects a well-formed UUID; callers validate the id first.
func (s *PostgresStore) GetPost(ctx context.Context, postID string) (PostRow, error) {
	var row PostRow
	err := s.db.QueryRowContext(ctx, selectPostRow+` WHERE p.id = $1`, postID).
		Scan(&row.ID, &row.Title, &row.Body, &row.AuthorID, &row.CreatedAt, &row.AuthorUsername, &row.AuthorEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return PostRow{}, ErrNotFound
	}
	if err != nil {
		return PostRow{}, fmt.Errorf("get post: %w", err)
	}
	return row, nil
}

// UpdatePost writes only when authorID still owns the post. It reports
// whether a row changed.
func (s *PostgresStore) UpdatePost(ctx context.Context, postID, authorID, title, body string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET title=$3, body=$4
		WHERE id=$1 AND author_id=$2
	`, postID, authorID, title, body)
	if err != nil {
		return false, fmt.Errorf("update post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update post rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID, authorID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1 AND author_id=$2`, postID, authorID)
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete post rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListPostsByAuthor(ctx context.Context, authorID string) ([]PostRow, error) {
	rows, err := s.db.QueryContext(ctx, selectPostRow+`
		WHERE p.author_id = $1
		ORDER BY p.created_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w", err)
	}
	return scanPostRows(rows)
}

// ListPostsByIDs returns the posts that still exist, in the order of ids.
func (s *PostgresStore) ListPostsByIDs(ctx context.Context, ids []string) ([]PostRow, error) {
	if len(ids) == 0 {
		return []PostRow{}, nil
	}
	rows, err := s.db.QueryContext(ctx, selectPostRow+`
		WHERE p.id = ANY($1::uuid[])
		ORDER BY array_position($1::uuid[], p.id)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list posts by ids: %w", err)
	}
	return scanPostRows(rows)
}

// Feed lists posts by the authors followerID follows, newest first.
func (s *PostgresStore) Feed(ctx context.Context, followerID string, limit int) ([]PostRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectPostRow+`
		WHERE p.author_id IN (SELECT followed_id FROM follows WHERE follower_id = $1)
		ORDER BY p.created_at DESC
		LIMIT $2
	`, followerID, limit)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	return scanPostRows(rows)
}

func (s *PostgresStore) CountPostsByAuthor(ctx context.Context, authorID string) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM posts WHERE author_id=$1`, authorID)
}

func (s *PostgresStore) FollowExists(ctx context.Context, followerID, followedID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id=$1 AND followed_id=$2)
	`, followerID, followedID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return exists, nil
}

// InsertFollow returns ErrDuplicateEdge when the ordered pair already exists.
func (s *PostgresStore) InsertFollow(ctx context.Context, followerID, followedID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO follows (follower_id, followed_id) VALUES ($1, $2)`, followerID, followedID)
	if err != nil {
		if mapped := mapConstraint(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFollow(ctx context.Context, followerID, followedID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM follows WHERE follower_id=$1 AND followed_id=$2`, followerID, followedID)
	if err != nil {
		return false, fmt.Errorf("delete follow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete follow rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) CountFollowers(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM follows WHERE followed_id=$1`, userID)
}

func (s *PostgresStore) CountFollowing(ctx context.Context, userID string) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM follows WHERE follower_id=$1`, userID)
}

func (s *PostgresStore) ListFollowers(ctx context.Context, userID string) ([]UserSummary, error) {
	return s.listUsers(ctx, `
		SELECT u.id, u.username, u.email
		FROM follows f
		JOIN users u ON u.id = f.follower_id
		WHERE f.followed_id = $1
		ORDER BY f.created_at
	`, userID)
}

func (s *PostgresStore) ListFollowing(ctx context.Context, userID string) ([]UserSummary, error) {
	return s.listUsers(ctx, `
		SELECT u.id, u.username, u.email
		FROM follows f
		JOIN users u ON u.id = f.followed_id
		WHERE f.follower_id = $1
		ORDER BY f.created_at
	`, userID)
}

func (s *PostgresStore) listUsers(ctx context.Context, query, userID string) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]UserSummary, 0)
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) count(ctx context.Context, query string, arg any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
