package crawler

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/gov-crawler/internal/dedup"
	"github.com/JakeFAU/gov-crawler/internal/model"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (model.FetchResponse, error)
}

// Renderer loads a URL in a real browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string) (model.FetchResponse, error)
}

// HeadlessDetector decides whether an HTML response needs a browser render.
type HeadlessDetector interface {
	ShouldPromote(probe model.FetchResponse) bool
}

// Parser extracts references and text from HTML documents.
type Parser interface {
	ExtractLinks(pageURL, content string) []string
	ExtractImages(pageURL, content string) []string
	Text(content string) string
}

// Store hands out per-worker sessions over the crawl database.
type Store interface {
	Acquire(ctx context.Context) (Session, error)
	TruncateAll(ctx context.Context) error
	Close()
}

// Session is a single worker's exclusive view of the store. It is not safe for
// concurrent use and must be released when the worker finishes its slice.
type Session interface {
	dedup.Store
	SiteIDByDomain(ctx context.Context, domain string) (int64, bool, error)
	InsertSite(ctx context.Context, site model.Site) (int64, error)
	EnsureFrontierPage(ctx context.Context, url string) (int64, error)
	InsertBinaryPage(ctx context.Context, page model.Page) (int64, error)
	InsertImage(ctx context.Context, image model.Image) error
	Release()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes page-recorded events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for blob names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// PageProcessor runs the per-page pipeline and returns the links it discovered.
type PageProcessor interface {
	Process(ctx context.Context, sess Session, url string) ([]string, error)
}
