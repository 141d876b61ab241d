package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/metrics"
	"github.com/JakeFAU/gov-crawler/internal/model"
)

// DefaultThreshold is the minimum similarity for a candidate to count as the original.
const DefaultThreshold = 0.9

// Store is the persistence the detector needs.
type Store interface {
	PagesBySignature(ctx context.Context, sig model.Signature) ([]int64, error)
	PageContentAndURL(ctx context.Context, pageID int64) (string, string, error)
	InsertPage(ctx context.Context, page model.Page) (int64, error)
	InsertLink(ctx context.Context, fromPageID, toPageID int64) error
}

// DuplicateRecorder is implemented by stores that can write a duplicate page and
// its link to the original atomically.
type DuplicateRecorder interface {
	InsertDuplicate(ctx context.Context, page model.Page, originalID int64) (int64, error)
}

// Result describes how a page was recorded.
type Result struct {
	PageID      int64
	IsDuplicate bool
	OriginalID  int64
	OriginalURL string
}

// Detector turns page content into signatures and confirms candidates by similarity.
type Detector struct {
	lsh       *LSH
	threshold float64
	text      func(string) string
	logger    *zap.Logger
}

// Option customizes a Detector.
type Option func(*Detector)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 {
			d.threshold = t
		}
	}
}

// WithTextExtractor sets how raw page content becomes comparable text.
func WithTextExtractor(fn func(string) string) Option {
	return func(d *Detector) {
		if fn != nil {
			d.text = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDetector builds a Detector around a validated LSH.
func NewDetector(lsh *LSH, opts ...Option) *Detector {
	d := &Detector{
		lsh:       lsh,
		threshold: DefaultThreshold,
		text:      func(s string) string { return s },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Signature computes the LSH signature of raw page content.
func (d *Detector) Signature(content string) model.Signature {
	return d.lsh.Signature(d.text(content))
}

// CheckAndRecord stores page as HTML, or as a DUPLICATE linked from the first
// same-signature page whose content is similar enough.
func (d *Detector) CheckAndRecord(ctx context.Context, store Store, page model.Page) (Result, error) {
	sig := page.Signature
	if len(sig) == 0 {
		sig = d.Signature(page.Content)
	}

	candidates, err := store.PagesBySignature(ctx, sig)
	if err != nil {
		return Result{}, fmt.Errorf("lookup signature: %w", err)
	}

	text := d.text(page.Content)
	for _, id := range candidates {
		content, url, err := store.PageContentAndURL(ctx, id)
		if err != nil {
			d.logger.Warn("candidate lookup failed", zap.Int64("page_id", id), zap.Error(err))
			continue
		}
		if url == page.URL {
			continue
		}
		ratio := Similarity(text, d.text(content))
		if ratio < d.threshold {
			continue
		}
		return d.recordDuplicate(ctx, store, page, id, url, ratio)
	}

	metrics.ObserveDedup(resultLabel(len(candidates)))
	page.Type = model.PageTypeHTML
	page.Signature = sig
	pageID, err := store.InsertPage(ctx, page)
	if err != nil {
		return Result{}, fmt.Errorf("insert page: %w", err)
	}
	return Result{PageID: pageID}, nil
}

func (d *Detector) recordDuplicate(
	ctx context.Context,
	store Store,
	page model.Page,
	originalID int64,
	originalURL string,
	ratio float64,
) (Result, error) {
	metrics.ObserveDedup("duplicate")
	dup := page
	dup.Type = model.PageTypeDuplicate
	dup.Content = ""
	dup.Signature = nil
	var (
		pageID int64
		err    error
	)
	if recorder, ok := store.(DuplicateRecorder); ok {
		pageID, err = recorder.InsertDuplicate(ctx, dup, originalID)
		if err != nil {
			return Result{}, fmt.Errorf("insert duplicate page: %w", err)
		}
	} else {
		pageID, err = store.InsertPage(ctx, dup)
		if err != nil {
			return Result{}, fmt.Errorf("insert duplicate page: %w", err)
		}
		if err := store.InsertLink(ctx, originalID, pageID); err != nil {
			return Result{}, fmt.Errorf("link duplicate to original: %w", err)
		}
	}
	d.logger.Debug("near-duplicate recorded",
		zap.String("url", page.URL),
		zap.String("original", originalURL),
		zap.Float64("ratio", ratio),
	)
	return Result{PageID: pageID, IsDuplicate: true, OriginalID: originalID, OriginalURL: originalURL}, nil
}

func resultLabel(candidates int) string {
	if candidates == 0 {
		return "no_candidates"
	}
	return "unique"
}
