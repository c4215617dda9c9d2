// Package posts owns post creation, lookup and the author-only mutations.
package posts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/api/internal/errs"
	"agora/api/internal/guard"
	"agora/api/internal/sanitize"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/util"
	"github.com/google/uuid"
)

const (
	MsgTitleRequired = "You must provide a title."
	MsgBodyRequired  = "You must provide post content."
)

const (
	feedLimit   = 50
	searchLimit = 20
)

type Repository interface {
	InsertPost(ctx context.Context, post store.Post) (store.Post, error)
	GetPost(ctx context.Context, postID string) (store.PostRow, error)
	UpdatePost(ctx context.Context, postID, authorID, title, body string) (bool, error)
	DeletePost(ctx context.Context, postID, authorID string) (bool, error)
	ListPostsByAuthor(ctx context.Context, authorID string) ([]store.PostRow, error)
	ListPostsByIDs(ctx context.Context, ids []string) ([]store.PostRow, error)
	Feed(ctx context.Context, followerID string, limit int) ([]store.PostRow, error)
	CountPostsByAuthor(ctx context.Context, authorID string) (int, error)
}

// Index keeps the search backend in step with writes and answers queries.
// *search.Service satisfies it.
type Index interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPost(p search.PostRecord)
	DeletePost(id string)
}

// Author is the only projection of a user that leaves this package.
type Author struct {
	Username  string `json:"username"`
	AvatarRef string `json:"avatarRef"`
}

type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Author    Author    `json:"author"`
	IsOwner   bool      `json:"isOwner"`
}

type Service struct {
	repo   Repository
	index  Index
	logger *slog.Logger
}

// NewService wires the repository and an optional index.
func NewService(repo Repository, index Index, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, index: index, logger: logger}
}

func project(row store.PostRow, viewerID string) Post {
	return Post{
		ID:        row.ID,
		Title:     row.Title,
		Body:      row.Body,
		CreatedAt: row.CreatedAt,
		Author: Author{
			Username:  row.AuthorUsername,
			AvatarRef: util.GravatarURL(row.AuthorEmail),
		},
		IsOwner: guard.IsOwner(viewerID, row.AuthorID),
	}
}

func projectAll(rows []store.PostRow, viewerID string) []Post {
	out := make([]Post, 0, len(rows))
	for _, row := range rows {
		out = append(out, project(row, viewerID))
	}
	return out
}

// clean strips markup and surrounding whitespace, then reports every
// missing field.
func clean(title, body string) (string, string, error) {
	title = strings.TrimSpace(sanitize.Strip(title))
	body = strings.TrimSpace(sanitize.Strip(body))

	var problems errs.Problems
	if title == "" {
		problems.Add(MsgTitleRequired, nil)
	}
	if body == "" {
		problems.Add(MsgBodyRequired, nil)
	}
	return title, body, problems.Err()
}

func recordFor(row store.Post, authorUsername string) search.PostRecord {
	return search.PostRecord{
		ID:             row.ID,
		Title:          row.Title,
		Body:           row.Body,
		AuthorUsername: authorUsername,
		CreatedAt:      row.CreatedAt.Unix(),
	}
}

// Create stores a new post for authorID and returns its id.
func (s *Service) Create(ctx context.Context, authorID, authorUsername, title, body string) (string, error) {
	if authorID == "" {
		return "", errs.ErrAuthenticationRequired
	}
	title, body, err := clean(title, body)
	if err != nil {
		return "", err
	}

	post, err := s.repo.InsertPost(ctx, store.Post{Title: title, Body: body, AuthorID: authorID})
	if err != nil {
		s.logger.Error("insert post failed", "error", err)
		return "", errs.Unavailable("create post", err)
	}
	if s.index != nil {
		s.index.IndexPost(recordFor(post, authorUsername))
	}
	return post.ID, nil
}

func (s *Service) load(ctx context.Context, postID string) (store.PostRow, error) {
	if _, err := uuid.Parse(postID); err != nil {
		return store.PostRow{}, errs.ErrNotFound
	}
	row, err := s.repo.GetPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return store.PostRow{}, errs.ErrNotFound
	}
	if err != nil {
		s.logger.Error("load post failed", "post_id", postID, "error", err)
		return store.PostRow{}, errs.Unavailable("load post", err)
	}
	return row, nil
}

// FindByID returns the post with IsOwner computed for viewerID. A malformed
// id is reported as not found.
func (s *Service) FindByID(ctx context.Context, postID, viewerID string) (Post, error) {
	row, err := s.load(ctx, postID)
	if err != nil {
		return Post{}, err
	}
	return project(row, viewerID), nil
}

// Update checks ownership before validating the new fields, so a non-owner
// always gets ErrPermissionDenied and an owner with bad input gets a
// ValidationError. Neither writes.
func (s *Service) Update(ctx context.Context, postID, viewerID, title, body string) error {
	row, err := s.load(ctx, postID)
	if err != nil {
		return err
	}
	if err := guard.RequireOwner(viewerID, row.AuthorID); err != nil {
		return err
	}
	title, body, err = clean(title, body)
	if err != nil {
		return err
	}

	changed, err := s.repo.UpdatePost(ctx, postID, viewerID, title, body)
	if err != nil {
		s.logger.Error("update post failed", "post_id", postID, "error", err)
		return errs.Unavailable("update post", err)
	}
	if !changed {
		// Deleted between the ownership check and the write.
		return errs.ErrNotFound
	}
	if s.index != nil {
		row.Title, row.Body = title, body
		s.index.IndexPost(recordFor(row.Post, row.AuthorUsername))
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, postID, viewerID string) error {
	row, err := s.load(ctx, postID)
	if err != nil {
		return err
	}
	if err := guard.RequireOwner(viewerID, row.AuthorID); err != nil {
		return err
	}

	deleted, err := s.repo.DeletePost(ctx, postID, viewerID)
	if err != nil {
		s.logger.Error("delete post failed", "post_id", postID, "error", err)
		return errs.Unavailable("delete post", err)
	}
	if !deleted {
		return errs.ErrNotFound
	}
	if s.index != nil {
		s.index.DeletePost(postID)
	}
	return nil
}

// ListByAuthor returns the author's posts, newest first.
func (s *Service) ListByAuthor(ctx context.Context, authorID, viewerID string) ([]Post, error) {
	rows, err := s.repo.ListPostsByAuthor(ctx, authorID)
	if err != nil {
		s.logger.Error("list posts failed", "author_id", authorID, "error", err)
		return nil, errs.Unavailable("list posts", err)
	}
	return projectAll(rows, viewerID), nil
}

// Feed returns posts by the users viewerID follows, newest first.
func (s *Service) Feed(ctx context.Context, viewerID string) ([]Post, error) {
	rows, err := s.repo.Feed(ctx, viewerID, feedLimit)
	if err != nil {
		s.logger.Error("feed failed", "user_id", viewerID, "error", err)
		return nil, errs.Unavailable("feed", err)
	}
	return projectAll(rows, viewerID), nil
}

func (s *Service) CountByAuthor(ctx context.Context, authorID string) (int, error) {
	n, err := s.repo.CountPostsByAuthor(ctx, authorID)
	if err != nil {
		return 0, errs.Unavailable("count posts", err)
	}
	return n, nil
}

// Search never fails: any problem yields an empty result.
func (s *Service) Search(ctx context.Context, term string) []Post {
	term = strings.TrimSpace(term)
	if term == "" || s.index == nil {
		return []Post{}
	}

	resp := s.index.Search(ctx, search.Query{Text: term, Limit: searchLimit})
	if len(resp.Results) == 0 {
		return []Post{}
	}
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.ID)
	}

	rows, err := s.repo.ListPostsByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("search hydrate failed", "error", err)
		return []Post{}
	}
	return projectAll(rows, "")
}
