package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agora/api/internal/auth"
)

type memoryEntry struct {
	identity  Identity
	expiresAt time.Time
}

// MemoryStore is a single-process identity store. Lookups take a read lock
// only, so concurrent Resolve calls never block each other.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	stopC   chan struct{}
	once    sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		stopC:   make(chan struct{}),
	}
	go s.janitor()
	return s
}

// janitor drops expired entries so abandoned anonymous sessions do not accumulate.
func (s *MemoryStore) janitor() {
	interval := s.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopC:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopC) })
	return nil
}

func (s *MemoryStore) Establish(_ context.Context, userID, username, avatarRef string) (Identity, error) {
	token, err := auth.NewToken()
	if err != nil {
		return Identity{}, fmt.Errorf("generate session token: %w", err)
	}
	identity := Identity{
		Token:     token,
		UserID:    userID,
		Username:  username,
		AvatarRef: avatarRef,
	}

	s.mu.Lock()
	s.entries[auth.HashToken(token)] = memoryEntry{identity: identity, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return identity, nil
}

func (s *MemoryStore) Resolve(_ context.Context, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	s.mu.RLock()
	entry, ok := s.entries[auth.HashToken(token)]
	s.mu.RUnlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return Identity{}, false
	}
	return entry.identity, true
}

func (s *MemoryStore) Destroy(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.entries, auth.HashToken(token))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, token string) error {
	key := auth.HashToken(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil
	}
	entry.expiresAt = s.now().Add(s.ttl)
	s.entries[key] = entry
	return nil
}
