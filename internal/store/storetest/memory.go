// Package storetest provides an in-memory repository with the same
// semantics as the Postgres store, for service and handler tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/api/internal/store"
	"github.com/google/uuid"
)

type followKey struct {
	follower string
	followed string
}

// Memory enforces the same uniqueness and ownership rules as the schema.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]store.User
	posts   map[string]store.Post
	follows map[followKey]time.Time
	clock   time.Time

	// Fail, when set, is returned by every method. Tests use it to simulate
	// an unavailable database.
	Fail error
}

func New() *Memory {
	return &Memory{
		users:   make(map[string]store.User),
		posts:   make(map[string]store.Post),
		follows: make(map[followKey]time.Time),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SetFail is Fail for tests that share the store with a running server.
func (m *Memory) SetFail(err error) {
	m.mu.Lock()
	m.Fail = err
	m.mu.Unlock()
}

// tick hands out strictly increasing timestamps so ordering is deterministic.
func (m *Memory) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *Memory) CreateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return store.User{}, m.Fail
	}
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return store.User{}, store.ErrUsernameTaken
		}
		if existing.Email == user.Email {
			return store.User{}, store.ErrEmailTaken
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	return user, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	return m.findUser(func(u store.User) bool { return u.Username == username })
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	return m.findUser(func(u store.User) bool { return u.Email == email })
}

func (m *Memory) findUser(match func(store.User) bool) (store.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return store.User{}, m.Fail
	}
	for _, user := range m.users {
		if match(user) {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *Memory) InsertPost(_ context.Context, post store.Post) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return store.Post{}, m.Fail
	}
	post.ID = uuid.NewString()
	post.CreatedAt = m.tick()
	m.posts[post.ID] = post
	return post, nil
}

func (m *Memory) row(post store.Post) store.PostRow {
	author := m.users[post.AuthorID]
	return store.PostRow{Post: post, AuthorUsername: author.Username, AuthorEmail: author.Email}
}

func (m *Memory) GetPost(_ context.Context, postID string) (store.PostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return store.PostRow{}, m.Fail
	}
	post, ok := m.posts[postID]
	if !ok {
		return store.PostRow{}, store.ErrNotFound
	}
	return m.row(post), nil
}

func (m *Memory) UpdatePost(_ context.Context, postID, authorID, title, body string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	post, ok := m.posts[postID]
	if !ok || post.AuthorID != authorID {
		return false, nil
	}
	post.Title = title
	post.Body = body
	m.posts[postID] = post
	return true, nil
}

func (m *Memory) DeletePost(_ context.Context, postID, authorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	post, ok := m.posts[postID]
	if !ok || post.AuthorID != authorID {
		return false, nil
	}
	delete(m.posts, postID)
	return true, nil
}

func (m *Memory) sortedRows(match func(store.Post) bool) []store.PostRow {
	out := make([]store.PostRow, 0)
	for _, post := range m.posts {
		if match(post) {
			out = append(out, m.row(post))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListPostsByAuthor(_ context.Context, authorID string) ([]store.PostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	return m.sortedRows(func(p store.Post) bool { return p.AuthorID == authorID }), nil
}

func (m *Memory) ListPostsByIDs(_ context.Context, ids []string) ([]store.PostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	out := make([]store.PostRow, 0, len(ids))
	for _, id := range ids {
		if post, ok := m.posts[id]; ok {
			out = append(out, m.row(post))
		}
	}
	return out, nil
}

func (m *Memory) Feed(_ context.Context, followerID string, limit int) ([]store.PostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	out := m.sortedRows(func(p store.Post) bool {
		_, ok := m.follows[followKey{follower: followerID, followed: p.AuthorID}]
		return ok
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountPostsByAuthor(_ context.Context, authorID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	n := 0
	for _, post := range m.posts {
		if post.AuthorID == authorID {
			n++
		}
	}
	return n, nil
}

// SearchPosts is a substring match over title and body, newest first.
func (m *Memory) SearchPosts(_ context.Context, term string, limit int) ([]store.PostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return []store.PostRow{}, nil
	}
	out := m.sortedRows(func(p store.Post) bool {
		return strings.Contains(strings.ToLower(p.Title), needle) || strings.Contains(strings.ToLower(p.Body), needle)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FollowExists(_ context.Context, followerID, followedID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	_, ok := m.follows[followKey{follower: followerID, followed: followedID}]
	return ok, nil
}

func (m *Memory) InsertFollow(_ context.Context, followerID, followedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if followerID == followedID {
		return store.ErrSelfReference
	}
	key := followKey{follower: followerID, followed: followedID}
	if _, ok := m.follows[key]; ok {
		return store.ErrDuplicateEdge
	}
	m.follows[key] = m.tick()
	return nil
}

func (m *Memory) DeleteFollow(_ context.Context, followerID, followedID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	key := followKey{follower: followerID, followed: followedID}
	if _, ok := m.follows[key]; !ok {
		return false, nil
	}
	delete(m.follows, key)
	return true, nil
}

func (m *Memory) CountFollowers(ctx context.Context, userID string) (int, error) {
	list, err := m.ListFollowers(ctx, userID)
	return len(list), err
}

func (m *Memory) CountFollowing(ctx context.Context, userID string) (int, error) {
	list, err := m.ListFollowing(ctx, userID)
	return len(list), err
}

func (m *Memory) ListFollowers(_ context.Context, userID string) ([]store.UserSummary, error) {
	return m.listEdges(func(k followKey) (string, bool) { return k.follower, k.followed == userID })
}

func (m *Memory) ListFollowing(_ context.Context, userID string) ([]store.UserSummary, error) {
	return m.listEdges(func(k followKey) (string, bool) { return k.followed, k.follower == userID })
}

func (m *Memory) listEdges(pick func(followKey) (string, bool)) ([]store.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	type edge struct {
		userID string
		at     time.Time
	}
	var edges []edge
	for key, at := range m.follows {
		if id, ok := pick(key); ok {
			edges = append(edges, edge{userID: id, at: at})
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].at.Before(edges[j].at) })

	out := make([]store.UserSummary, 0, len(edges))
	for _, e := range edges {
		u := m.users[e.userID]
		out = append(out, store.UserSummary{ID: u.ID, Username: u.Username, Email: u.Email})
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Fail
}
