package search

import (
	"context"
	"log/slog"
	"sync"
)

// Service is the facade that tries the primary backend first and falls back
// to the database. It never returns an error: search is non-critical.
type Service struct {
	primary  Backend
	fallback Searcher
	logger   *slog.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. primary may be nil when no external
// index is configured.
func NewService(primary Backend, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.With("component", "search")}
}

// Search tries the primary backend if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results)}
		}
		s.logger.Warn("primary search failed, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}}
	}
	results, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}}
	}
	return Response{Results: nonNil(results)}
}

func (s *Service) async(op, id string, fn func() error) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(); err != nil {
			s.logger.Warn("index update failed", "op", op, "post_id", id, "error", err)
		}
	}()
}

// IndexPost indexes a post (fire-and-forget).
func (s *Service) IndexPost(p PostRecord) {
	s.async("index", p.ID, func() error { return s.primary.IndexPost(p) })
}

// DeletePost removes a post from the index (fire-and-forget).
func (s *Service) DeletePost(id string) {
	s.async("delete", id, func() error { return s.primary.DeletePost(id) })
}

// Wait blocks until every in-flight index update has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Reindex pushes every post from loader into the primary backend.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) {
	if s.primary == nil || !s.primary.Healthy() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexPosts(records); err != nil {
		s.logger.Error("reindex failed", "error", err)
		return
	}
	s.logger.Info("reindexed posts", "count", len(records))
}

// ReindexOnRecovery schedules a full reindex from loader each time the
// primary comes back after an outage, so writes skipped while it was down
// reach the index. It is a no-op for backends that cannot report recovery.
func (s *Service) ReindexOnRecovery(ctx context.Context, loader RecordLoader) {
	r, ok := s.primary.(Recoverable)
	if !ok {
		return
	}
	r.OnRecover(func() {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.logger.Info("primary search recovered, reindexing")
			s.Reindex(ctx, loader)
		}()
	})
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
