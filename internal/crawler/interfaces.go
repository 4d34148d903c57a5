package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves a single page of the listing.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// RetryPolicy decides whether and how long to wait before re-fetching a page.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(err error, attempt int) time.Duration
}

// Pauser suspends the run between attempts and pages.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// PageArchiver stores raw page bodies for diagnostics. Implementations must
// not fail the crawl.
type PageArchiver interface {
	ArchivePage(ctx context.Context, runID string, pageNumber int, body []byte)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes snapshot change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
