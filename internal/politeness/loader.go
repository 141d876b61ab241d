package politeness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

// ErrNoPolicy means the origin did not serve a usable robots document.
var ErrNoPolicy = errors.New("no crawl policy document")

// Fetcher retrieves raw documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (model.FetchResponse, error)
}

// Policy is a loaded robots document.
type Policy struct {
	Rules *Rules
	Raw   string
}

// Loader fetches and parses robots documents. Any failure yields an allow-all policy.
type Loader struct {
	fetcher      Fetcher
	defaultDelay time.Duration
	logger       *zap.Logger
}

// NewLoader builds a Loader. A non-positive defaultDelay keeps DefaultCrawlDelay.
func NewLoader(fetcher Fetcher, defaultDelay time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultDelay <= 0 {
		defaultDelay = DefaultCrawlDelay
	}
	return &Loader{fetcher: fetcher, defaultDelay: defaultDelay, logger: logger}
}

// Load returns the policy for origin (scheme://host).
func (l *Loader) Load(ctx context.Context, origin string) Policy {
	raw, err := l.fetch(ctx, origin)
	if err != nil {
		l.logger.Debug("robots unavailable, allowing all",
			zap.String("origin", origin),
			zap.Error(err),
		)
		return Policy{Rules: AllowAll()}
	}
	rules := Parse(raw)
	rules.defaultDelay = l.defaultDelay
	return Policy{Rules: rules, Raw: raw}
}

func (l *Loader) fetch(ctx context.Context, origin string) (string, error) {
	if l.fetcher == nil {
		return "", ErrNoPolicy
	}
	resp, err := l.fetcher.Fetch(ctx, strings.TrimRight(origin, "/")+"/robots.txt")
	if err != nil {
		return "", fmt.Errorf("fetch robots: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrNoPolicy, resp.StatusCode)
	}
	return string(resp.Body), nil
}
