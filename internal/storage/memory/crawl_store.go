package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/gov-crawler/internal/crawler"
	"github.com/JakeFAU/gov-crawler/internal/model"
)

// ErrPageNotFound is returned when a lookup references an unknown page.
var ErrPageNotFound = errors.New("page not found")

// Link is an edge between two stored pages.
type Link struct {
	From int64
	To   int64
}

// CrawlStore keeps the crawl database in process memory. It is used for dry
// runs and tests; every session shares the same tables.
type CrawlStore struct {
	mu       sync.RWMutex
	sites    map[string]model.Site
	pages    map[int64]model.Page
	urls     map[string]int64
	links    map[Link]struct{}
	images   []model.Image
	nextSite int64
	nextPage int64
}

// NewCrawlStore constructs an empty CrawlStore.
func NewCrawlStore() *CrawlStore {
	s := &CrawlStore{}
	s.reset()
	return s
}

func (s *CrawlStore) reset() {
	s.sites = make(map[string]model.Site)
	s.pages = make(map[int64]model.Page)
	s.urls = make(map[string]int64)
	s.links = make(map[Link]struct{})
	s.images = nil
	s.nextSite = 0
	s.nextPage = 0
}

// Acquire returns a session over the shared tables.
func (s *CrawlStore) Acquire(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Session{store: s}, nil
}

// TruncateAll empties every table and restarts the id sequences.
func (s *CrawlStore) TruncateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Close is a no-op.
func (s *CrawlStore) Close() {}

// Pages returns a copy of every stored page ordered by id.
func (s *CrawlStore) Pages() []model.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PageByURL looks up a stored page.
func (s *CrawlStore) PageByURL(url string) (model.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.urls[url]
	if !ok {
		return model.Page{}, false
	}
	return s.pages[id], true
}

// Links returns every stored link ordered by (from, to).
func (s *CrawlStore) Links() []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Link, 0, len(s.links))
	for l := range s.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Images returns a copy of the stored images.
func (s *CrawlStore) Images() []model.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Image(nil), s.images...)
}

// Session implements crawler.Session over a CrawlStore.
type Session struct {
	store *CrawlStore
}

// Release is a no-op; sessions hold no resources.
func (s *Session) Release() {}

// SiteIDByDomain returns the id of the site row for domain.
func (s *Session) SiteIDByDomain(_ context.Context, domain string) (int64, bool, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	site, ok := s.store.sites[domain]
	return site.ID, ok, nil
}

// InsertSite stores a site row, returning the existing id when the domain is known.
func (s *Session) InsertSite(_ context.Context, site model.Site) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if existing, ok := s.store.sites[site.Domain]; ok {
		return existing.ID, nil
	}
	s.store.nextSite++
	site.ID = s.store.nextSite
	s.store.sites[site.Domain] = site
	return site.ID, nil
}

// InsertPage stores a page. A FRONTIER row with the same URL is promoted in
// place; any other existing row is left untouched and its id returned.
func (s *Session) InsertPage(_ context.Context, page model.Page) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.store.upsertPage(page), nil
}

// InsertDuplicate stores a DUPLICATE page and its link to the original under one lock.
func (s *Session) InsertDuplicate(_ context.Context, page model.Page, originalID int64) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.pages[originalID]; !ok {
		return 0, fmt.Errorf("original %d: %w", originalID, ErrPageNotFound)
	}
	id := s.store.upsertPage(page)
	s.store.links[Link{From: originalID, To: id}] = struct{}{}
	return id, nil
}

// InsertBinaryPage stores a BINARY page together with its blob reference.
func (s *Session) InsertBinaryPage(_ context.Context, page model.Page) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	page.Content = ""
	return s.store.upsertPage(page), nil
}

// EnsureFrontierPage returns the id of url, inserting a FRONTIER placeholder when absent.
func (s *Session) EnsureFrontierPage(_ context.Context, url string) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if id, ok := s.store.urls[url]; ok {
		return id, nil
	}
	return s.store.upsertPage(model.Page{Type: model.PageTypeFrontier, URL: url}), nil
}

// InsertLink records an edge; repeated edges are ignored.
func (s *Session) InsertLink(_ context.Context, fromPageID, toPageID int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.pages[fromPageID]; !ok {
		return fmt.Errorf("link from %d: %w", fromPageID, ErrPageNotFound)
	}
	if _, ok := s.store.pages[toPageID]; !ok {
		return fmt.Errorf("link to %d: %w", toPageID, ErrPageNotFound)
	}
	s.store.links[Link{From: fromPageID, To: toPageID}] = struct{}{}
	return nil
}

// PagesBySignature returns the ids of HTML pages carrying sig, ordered by id.
func (s *Session) PagesBySignature(_ context.Context, sig model.Signature) ([]int64, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	var ids []int64
	for id, p := range s.store.pages {
		if p.Type == model.PageTypeHTML && p.Signature.Equal(sig) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// PageContentAndURL returns the stored HTML and URL of a page.
func (s *Session) PageContentAndURL(_ context.Context, pageID int64) (string, string, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	p, ok := s.store.pages[pageID]
	if !ok {
		return "", "", fmt.Errorf("page %d: %w", pageID, ErrPageNotFound)
	}
	return p.Content, p.URL, nil
}

// InsertImage attaches an image to the page stored under image.PageURL.
func (s *Session) InsertImage(_ context.Context, image model.Image) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, ok := s.store.urls[image.PageURL]; !ok {
		return fmt.Errorf("image page %s: %w", image.PageURL, ErrPageNotFound)
	}
	image.Data = append([]byte(nil), image.Data...)
	s.store.images = append(s.store.images, image)
	return nil
}

// upsertPage must be called with mu held.
func (s *CrawlStore) upsertPage(page model.Page) int64 {
	if id, ok := s.urls[page.URL]; ok {
		existing := s.pages[id]
		if existing.Type != model.PageTypeFrontier {
			return id
		}
		page.ID = id
		s.pages[id] = page
		return id
	}
	s.nextPage++
	page.ID = s.nextPage
	s.pages[page.ID] = page
	s.urls[page.URL] = page.ID
	return page.ID
}
