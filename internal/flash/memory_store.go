package flash

import (
	"context"
	"sync"
	"time"

	"agora/api/internal/auth"
)

type memoryQueue struct {
	messages  []string
	expiresAt time.Time
}

// MemoryStore is the single-process channel used when no Redis is configured.
// Like the Redis store, each queue expires ttl after its latest push.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]map[string]*memoryQueue
	ttl    time.Duration
	now    func() time.Time
	stopC  chan struct{}
	once   sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		queues: make(map[string]map[string]*memoryQueue),
		ttl:    ttl,
		now:    time.Now,
		stopC:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

// janitor drops queues nobody came back to drain.
func (s *MemoryStore) janitor() {
	interval := s.ttl / 2
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
	for key, byCategory := range s.queues {
		for category, q := range byCategory {
			if !now.Before(q.expiresAt) {
				delete(byCategory, category)
			}
		}
		if len(byCategory) == 0 {
			delete(s.queues, key)
		}
	}
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopC) })
	return nil
}

func (s *MemoryStore) Push(_ context.Context, token, category, text string) error {
	key := auth.HashToken(token)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	byCategory, ok := s.queues[key]
	if !ok {
		byCategory = make(map[string]*memoryQueue)
		s.queues[key] = byCategory
	}
	q, ok := byCategory[category]
	if !ok || !now.Before(q.expiresAt) {
		q = &memoryQueue{}
		byCategory[category] = q
	}
	q.messages = append(q.messages, text)
	q.expiresAt = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Drain(_ context.Context, token, category string) ([]string, error) {
	key := auth.HashToken(token)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	byCategory := s.queues[key]
	q, ok := byCategory[category]
	if !ok {
		return []string{}, nil
	}
	delete(byCategory, category)
	if len(byCategory) == 0 {
		delete(s.queues, key)
	}
	if !now.Before(q.expiresAt) {
		return []string{}, nil
	}
	return q.messages, nil
}

func (s *MemoryStore) Clear(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.queues, auth.HashToken(token))
	s.mu.Unlock()
	return nil
}
