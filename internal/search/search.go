package search

import "context"

// Result is a single search hit. Callers hydrate posts by ID.
type Result struct {
	ID string `json:"id"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by Service.Search.
type Response struct {
	Results []Result `json:"results"`
}

// Searcher can execute a full-text search. Results come back in rank order.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Healthy() bool
}

// Indexer can push posts into a search index.
type Indexer interface {
	IndexPost(p PostRecord) error
	IndexPosts(p []PostRecord) error
	DeletePost(id string) error
}

// Backend is an external index that both searches and accepts writes.
type Backend interface {
	Searcher
	Indexer
}

// Recoverable is implemented by backends that can report coming back after an
// outage. fn runs on the backend's own goroutine.
type Recoverable interface {
	OnRecover(fn func())
}

// RecordLoader lists every post for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PostRecord, error)
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	AuthorUsername string `json:"authorUsername"`
	CreatedAt      int64  `json:"createdAt"`
}
