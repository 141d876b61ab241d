package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/gov-crawler/internal/dedup"
	"github.com/JakeFAU/gov-crawler/internal/metrics"
	"github.com/JakeFAU/gov-crawler/internal/model"
	"github.com/JakeFAU/gov-crawler/internal/politeness"
	"github.com/JakeFAU/gov-crawler/internal/sitemap"
)

// PageEvent is published for every recorded HTML, BINARY or DUPLICATE page.
type PageEvent struct {
	RunID       string         `json:"run_id"`
	URL         string         `json:"url"`
	PageType    model.PageType `json:"page_type"`
	DataType    model.DataType `json:"data_type,omitempty"`
	Status      int            `json:"status"`
	DuplicateOf string         `json:"duplicate_of,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// PipelineDeps are the collaborators of the per-page pipeline. Renderer, Headless,
// Blobs, Publisher, Hasher and Clock are optional.
type PipelineDeps struct {
	Fetcher   Fetcher
	Renderer  Renderer
	Headless  HeadlessDetector
	Parser    Parser
	Policies  *politeness.Loader
	Sitemaps  *sitemap.Resolver
	Cooldown  *politeness.Cooldown
	Detector  *dedup.Detector
	Blobs     BlobStore
	Publisher Publisher
	Hasher    Hasher
	Clock     Clock
}

// siteState is what the pipeline remembers about an origin after its first visit.
type siteState struct {
	id          int64
	rules       *politeness.Rules
	sitemapURLs []string
	claimed     atomic.Bool
}

// Pipeline fetches, classifies and records a single page.
type Pipeline struct {
	cfg    PipelineConfig
	deps   PipelineDeps
	scope  *domainScope
	logger *zap.Logger

	sites sync.Map // origin -> *siteState
	group singleflight.Group
}

// NewPipeline validates deps and builds a Pipeline.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline requires a fetcher")
	case deps.Parser == nil:
		return nil, errors.New("pipeline requires a parser")
	case deps.Policies == nil:
		return nil, errors.New("pipeline requires a robots loader")
	case deps.Sitemaps == nil:
		return nil, errors.New("pipeline requires a sitemap resolver")
	case deps.Detector == nil:
		return nil, errors.New("pipeline requires a duplicate detector")
	}
	if deps.Cooldown == nil {
		deps.Cooldown = politeness.NewCooldown()
	}
	if cfg.MaxPathDepth <= 0 {
		cfg.MaxPathDepth = MaxPathDepth
	}
	if cfg.RenderMode == "" {
		cfg.RenderMode = RenderNever
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		scope:  newDomainScope(cfg.AllowedDomains),
		logger: logger.Named("pipeline"),
	}, nil
}

// Process runs one URL through politeness, fetch, dedup and link extraction.
// Sitemap URLs of a newly seen origin are returned even when the page itself fails.
func (p *Pipeline) Process(ctx context.Context, sess Session, rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfScope, err)
	}
	origin, err := Origin(rawURL)
	if err != nil {
		return nil, err
	}
	site := metrics.SanitizeSite(rawURL)

	st, err := p.bootstrap(ctx, sess, origin, u.Host)
	if err != nil {
		metrics.ObservePage(site, "store_error", 0)
		return nil, err
	}
	links := p.claimSitemap(st)

	if !st.rules.CanFetch(requestPath(u)) {
		metrics.ObservePage(site, "disallowed", 0)
		return links, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}
	if err := p.deps.Cooldown.Wait(ctx, origin, st.rules.EffectiveDelay()); err != nil {
		return links, fmt.Errorf("cooldown %s: %w", origin, err)
	}

	resp, err := p.deps.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		metrics.ObservePage(site, "fetch_error", 0)
		return links, fmt.Errorf("fetch: %w", err)
	}
	metrics.ObserveFetch(site, resp.Duration)
	if !acceptedStatus(resp.StatusCode) {
		metrics.ObservePage(site, "status", len(resp.Body))
		return links, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if resp.IsHTML() {
		found, err := p.recordHTML(ctx, sess, st, origin, rawURL, resp)
		return append(links, found...), err
	}
	dt, ok := model.DataTypeForContentType(resp.ContentType())
	if !ok || !p.cfg.DownloadFiles {
		metrics.ObservePage(site, "unsupported", len(resp.Body))
		return links, fmt.Errorf("%w: %s", ErrUnsupportedContent, resp.ContentType())
	}
	return links, p.recordBinary(ctx, sess, st, rawURL, dt, resp)
}

// acceptedStatus reports whether a fetch counts as a success.
func acceptedStatus(code int) bool {
	switch code {
	case 200, 203, 302:
		return true
	default:
		return false
	}
}

// bootstrap loads robots and sitemap and registers the site once per origin.
func (p *Pipeline) bootstrap(ctx context.Context, sess Session, origin, host string) (*siteState, error) {
	if v, ok := p.sites.Load(origin); ok {
		return v.(*siteState), nil
	}
	v, err, _ := p.group.Do(origin, func() (any, error) {
		if v, ok := p.sites.Load(origin); ok {
			return v, nil
		}
		policy := p.deps.Policies.Load(ctx, origin)
		resolved := p.deps.Sitemaps.Resolve(ctx, origin, policy.Rules.SitemapLocation())

		domain := host
		id, found, err := sess.SiteIDByDomain(ctx, domain)
		if err != nil {
			metrics.ObserveStoreError("site_lookup")
			return nil, fmt.Errorf("lookup site %s: %w", domain, err)
		}
		if !found {
			id, err = sess.InsertSite(ctx, model.Site{
				Domain:         domain,
				RobotsContent:  policy.Raw,
				SitemapContent: resolved.Raw,
			})
			if err != nil {
				metrics.ObserveStoreError("insert_site")
				return nil, fmt.Errorf("insert site %s: %w", domain, err)
			}
		}

		st := &siteState{id: id, rules: policy.Rules}
		for _, raw := range resolved.URLs {
			if link, ok := p.admitLink(raw); ok {
				st.sitemapURLs = append(st.sitemapURLs, link)
			}
		}
		p.sites.Store(origin, st)
		p.logger.Info("new site",
			zap.String("origin", origin),
			zap.Bool("robots", policy.Rules.Present()),
			zap.Duration("crawl_delay", policy.Rules.EffectiveDelay()),
			zap.Int("sitemap_urls", len(st.sitemapURLs)),
		)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*siteState), nil
}

// claimSitemap hands the sitemap URLs of an origin to exactly one caller.
func (p *Pipeline) claimSitemap(st *siteState) []string {
	if len(st.sitemapURLs) == 0 || !st.claimed.CompareAndSwap(false, true) {
		return nil
	}
	out := make([]string, len(st.sitemapURLs))
	copy(out, st.sitemapURLs)
	return out
}

func (p *Pipeline) recordHTML(
	ctx context.Context,
	sess Session,
	st *siteState,
	origin, pageURL string,
	resp model.FetchResponse,
) ([]string, error) {
	site := metrics.SanitizeSite(pageURL)
	content := p.render(ctx, pageURL, resp)
	page := model.Page{
		SiteID:     st.id,
		URL:        pageURL,
		Content:    content,
		StatusCode: resp.StatusCode,
		FetchedAt:  p.now(),
	}
	res, err := p.deps.Detector.CheckAndRecord(ctx, sess, page)
	if err != nil {
		metrics.ObserveStoreError("insert_page")
		metrics.ObservePage(site, "store_error", len(content))
		return nil, fmt.Errorf("record page: %w", err)
	}

	if res.IsDuplicate {
		metrics.ObservePage(site, "duplicate", len(content))
		p.publish(ctx, PageEvent{
			URL:         pageURL,
			PageType:    model.PageTypeDuplicate,
			Status:      resp.StatusCode,
			DuplicateOf: res.OriginalURL,
			FetchedAt:   page.FetchedAt,
		})
		return nil, nil
	}

	metrics.ObservePage(site, "stored", len(content))
	p.publish(ctx, PageEvent{
		URL:       pageURL,
		PageType:  model.PageTypeHTML,
		Status:    resp.StatusCode,
		FetchedAt: page.FetchedAt,
	})
	if p.cfg.DownloadFiles {
		p.recordImages(ctx, sess, st, origin, pageURL, content)
	}
	return p.recordLinks(ctx, sess, res.PageID, pageURL, content), nil
}

// render swaps the fetched HTML for the browser DOM when the render mode asks for it.
func (p *Pipeline) render(ctx context.Context, pageURL string, resp model.FetchResponse) string {
	content := string(resp.Body)
	if p.deps.Renderer == nil {
		return content
	}
	switch p.cfg.RenderMode {
	case RenderAlways:
	case RenderAuto:
		if p.deps.Headless == nil || !p.deps.Headless.ShouldPromote(resp) {
			return content
		}
	default:
		return content
	}
	rendered, err := p.deps.Renderer.Render(ctx, pageURL)
	if err != nil || len(rendered.Body) == 0 {
		p.logger.Warn("render failed, keeping fetched html", zap.String("url", pageURL), zap.Error(err))
		return content
	}
	return string(rendered.Body)
}

// recordLinks stores a FRONTIER placeholder and an edge for every in-scope link.
func (p *Pipeline) recordLinks(ctx context.Context, sess Session, fromID int64, pageURL, content string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range p.deps.Parser.ExtractLinks(pageURL, content) {
		link, ok := p.admitLink(raw)
		if !ok {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)

		toID, err := sess.EnsureFrontierPage(ctx, link)
		if err != nil {
			metrics.ObserveStoreError("insert_frontier")
			p.logger.Error("frontier insert failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if err := sess.InsertLink(ctx, fromID, toID); err != nil {
			metrics.ObserveStoreError("insert_link")
			p.logger.Error("link insert failed",
				zap.String("from", pageURL),
				zap.String("to", link),
				zap.Error(err),
			)
		}
	}
	return out
}

// admitLink prunes, normalizes and scope-checks a discovered URL.
func (p *Pipeline) admitLink(raw string) (string, bool) {
	link, err := NormalizeURL(PruneToDepth(raw, p.cfg.MaxPathDepth))
	if err != nil {
		return "", false
	}
	u, err := url.Parse(link)
	if err != nil || !p.scope.Allows(u.Host) {
		return "", false
	}
	return link, true
}

func (p *Pipeline) recordImages(ctx context.Context, sess Session, st *siteState, origin, pageURL, content string) {
	for _, src := range p.deps.Parser.ExtractImages(pageURL, content) {
		if imgOrigin, err := Origin(src); err == nil && imgOrigin == origin {
			if err := p.deps.Cooldown.Wait(ctx, origin, st.rules.EffectiveDelay()); err != nil {
				return
			}
		}
		resp, err := p.deps.Fetcher.Fetch(ctx, src)
		if err != nil || resp.StatusCode != 200 {
			p.logger.Debug("image skipped", zap.String("src", src), zap.Int("status", resp.StatusCode), zap.Error(err))
			continue
		}
		filename := imageFilename(src)
		contentType := resp.Headers.Get("Content-Type")
		if contentType == "" {
			contentType = imageContentType(filename)
		}
		err = sess.InsertImage(ctx, model.Image{
			PageURL:     pageURL,
			Filename:    filename,
			ContentType: contentType,
			Data:        resp.Body,
			FetchedAt:   p.now(),
		})
		if err != nil {
			metrics.ObserveStoreError("insert_image")
			p.logger.Error("image insert failed", zap.String("src", src), zap.Error(err))
		}
	}
}

func (p *Pipeline) recordBinary(
	ctx context.Context,
	sess Session,
	st *siteState,
	pageURL string,
	dt model.DataType,
	resp model.FetchResponse,
) error {
	site := metrics.SanitizeSite(pageURL)
	var uri string
	if p.deps.Blobs != nil {
		digest := ""
		if p.deps.Hasher != nil {
			sum, err := p.deps.Hasher.Hash(resp.Body)
			if err != nil {
				return fmt.Errorf("hash %s: %w", pageURL, err)
			}
			digest = sum
		}
		stored, err := p.deps.Blobs.PutObject(ctx, blobKey(dt, pageURL, digest), resp.ContentType(), bytes.NewReader(resp.Body))
		if err != nil {
			metrics.ObservePage(site, "blob_error", len(resp.Body))
			return fmt.Errorf("store %s blob: %w", dt, err)
		}
		uri = stored
	}

	page := model.Page{
		SiteID:     st.id,
		Type:       model.PageTypeBinary,
		DataType:   dt,
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		FetchedAt:  p.now(),
		BlobURI:    uri,
	}
	if _, err := sess.InsertBinaryPage(ctx, page); err != nil {
		metrics.ObserveStoreError("insert_binary")
		metrics.ObservePage(site, "store_error", len(resp.Body))
		return fmt.Errorf("record binary page: %w", err)
	}
	metrics.ObservePage(site, "binary", len(resp.Body))
	p.publish(ctx, PageEvent{
		URL:       pageURL,
		PageType:  model.PageTypeBinary,
		DataType:  dt,
		Status:    resp.StatusCode,
		FetchedAt: page.FetchedAt,
	})
	return nil
}

func (p *Pipeline) publish(ctx context.Context, event PageEvent) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	event.RunID = p.cfg.RunID
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		p.logger.Warn("publish failed", zap.String("url", event.URL), zap.Error(err))
	}
}

func (p *Pipeline) now() time.Time {
	if p.deps.Clock != nil {
		return p.deps.Clock.Now()
	}
	return time.Now().UTC()
}
