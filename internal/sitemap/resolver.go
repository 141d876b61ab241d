// Package sitemap turns sitemap documents into flat seed URL lists.
package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

const defaultMaxDocuments = 50

var errNotFound = errors.New("sitemap not available")

// Fetcher retrieves raw documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (model.FetchResponse, error)
}

// Config controls nested expansion.
type Config struct {
	// Nested follows <loc> entries that look like sitemaps themselves.
	Nested bool
	// MaxDocuments bounds how many sitemap documents one resolution may fetch.
	MaxDocuments int
}

// Result is a resolved sitemap. Raw holds the root document text.
type Result struct {
	Location string
	Raw      string
	URLs     []string
}

// Resolver fetches and flattens sitemaps.
type Resolver struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(fetcher Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = defaultMaxDocuments
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Resolve tries declared first and then origin/sitemap.xml. A missing or broken
// sitemap yields an empty Result; it is never an error for the caller.
func (r *Resolver) Resolve(ctx context.Context, origin, declared string) Result {
	candidates := make([]string, 0, 2)
	if strings.TrimSpace(declared) != "" {
		candidates = append(candidates, strings.TrimSpace(declared))
	}
	candidates = append(candidates, strings.TrimRight(origin, "/")+"/sitemap.xml")

	for _, location := range candidates {
		raw, locs, err := r.load(ctx, location)
		if err != nil {
			r.logger.Debug("sitemap candidate failed",
				zap.String("location", location),
				zap.Error(err),
			)
			continue
		}
		urls := locs
		if r.cfg.Nested {
			urls = r.expand(ctx, location, locs)
		}
		return Result{Location: location, Raw: raw, URLs: urls}
	}
	return Result{}
}

// expand walks nested sitemaps with an explicit work-list.
func (r *Resolver) expand(ctx context.Context, root string, locs []string) []string {
	fetched := map[string]struct{}{root: {}}
	seen := make(map[string]struct{})
	var out []string
	limited := false

	work := append([]string(nil), locs...)
	for len(work) > 0 {
		current := work[len(work)-1]
		work = work[:len(work)-1]

		if !LeadsToSitemap(current) {
			if _, dup := seen[current]; !dup {
				seen[current] = struct{}{}
				out = append(out, current)
			}
			continue
		}
		if _, done := fetched[current]; done {
			continue
		}
		if len(fetched) >= r.cfg.MaxDocuments {
			// Leaves already on the work-list are still collected.
			if !limited {
				limited = true
				r.logger.Warn("nested sitemap limit reached",
					zap.String("root", root),
					zap.Int("max_documents", r.cfg.MaxDocuments),
				)
			}
			continue
		}
		fetched[current] = struct{}{}
		_, nested, err := r.load(ctx, current)
		if err != nil {
			r.logger.Debug("nested sitemap skipped", zap.String("location", current), zap.Error(err))
			continue
		}
		work = append(work, nested...)
	}
	return out
}

func (r *Resolver) load(ctx context.Context, location string) (string, []string, error) {
	if r.fetcher == nil {
		return "", nil, errNotFound
	}
	resp, err := r.fetcher.Fetch(ctx, location)
	if err != nil {
		return "", nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: status %d", errNotFound, resp.StatusCode)
	}
	locs, err := ExtractLocs(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return string(resp.Body), locs, nil
}

// ExtractLocs returns the text of every <loc> element, namespace-agnostic.
func ExtractLocs(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	var locs []string
	for _, n := range xmlquery.Find(doc, "//*[local-name()='loc']") {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			locs = append(locs, text)
		}
	}
	return locs, nil
}

// LeadsToSitemap reports whether a URL path looks like a nested sitemap.
func LeadsToSitemap(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, ".xml") && strings.Contains(u.Path, "sitemap")
}
