package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs one HTTP GET and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HostLimiter paces requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// CatalogClient fetches and validates one catalog document.
type CatalogClient interface {
	Fetch(ctx context.Context, rawURL string) (Document, error)
}

// RootWalker walks one root catalog to completion.
type RootWalker interface {
	Walk(ctx context.Context, rootURL string) (WalkResult, error)
}

// RecordSink durably appends records, skipping URLs it already holds.
// Append returns the number of records actually written.
type RecordSink interface {
	Append(ctx context.Context, root string, records []LayerRecord) (int, error)
}

// RecordSource lists every persisted record ordered by URL.
type RecordSource interface {
	Records(ctx context.Context) ([]LayerRecord, error)
}

// Checkpoint tracks which roots have been fully walked.
type Checkpoint interface {
	IsDone(ctx context.Context, root string) (bool, error)
	MarkDone(ctx context.Context, root string) error
	Completed(ctx context.Context) ([]string, error)
	// Reset forgets the given roots, or every root when none are given.
	Reset(ctx context.Context, roots ...string) error
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes root completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when a failed fetch attempt is repeated.
// attempt is the number of attempts already made.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
