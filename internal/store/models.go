package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Post struct {
	ID        string
	Title     string
	Body      string
	AuthorID  string
	CreatedAt time.Time
}

// PostRow is a post joined with the author columns needed for projection.
type PostRow struct {
	Post
	AuthorUsername string
	AuthorEmail    string
}

// UserSummary is the public slice of a user used in follow lists.
type UserSummary struct {
	ID       string
	Username string
	Email    string
}
