package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

// fakeDB is an in-process Store whose sessions share one mutex-guarded state.
type fakeDB struct {
	mu       sync.Mutex
	sites    map[string]int64
	pages    []model.Page
	byURL    map[string]int64
	links    map[[2]int64]struct{}
	images   []model.Image
	acquired int
	released int
	failSite bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		sites: make(map[string]int64),
		byURL: make(map[string]int64),
		links: make(map[[2]int64]struct{}),
	}
}

func (db *fakeDB) Acquire(context.Context) (Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.acquired++
	return &fakeSession{db: db}, nil
}

func (db *fakeDB) TruncateAll(context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sites = make(map[string]int64)
	db.pages = nil
	db.byURL = make(map[string]int64)
	db.links = make(map[[2]int64]struct{})
	db.images = nil
	return nil
}

func (db *fakeDB) Close() {}

func (db *fakeDB) page(url string) (model.Page, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.byURL[url]
	if !ok {
		return model.Page{}, false
	}
	return db.pages[id-1], true
}

func (db *fakeDB) hasLink(from, to string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.links[[2]int64{db.byURL[from], db.byURL[to]}]
	return ok
}

func (db *fakeDB) countType(pt model.PageType) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, p := range db.pages {
		if p.Type == pt {
			n++
		}
	}
	return n
}

type fakeSession struct {
	db *fakeDB
}

func (s *fakeSession) upsert(page model.Page) int64 {
	if id, ok := s.db.byURL[page.URL]; ok {
		if s.db.pages[id-1].Type == model.PageTypeFrontier {
			page.ID = id
			s.db.pages[id-1] = page
		}
		return id
	}
	s.db.pages = append(s.db.pages, page)
	id := int64(len(s.db.pages))
	s.db.pages[id-1].ID = id
	s.db.byURL[page.URL] = id
	return id
}

func (s *fakeSession) PagesBySignature(_ context.Context, sig model.Signature) ([]int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var ids []int64
	for _, p := range s.db.pages {
		if p.Type == model.PageTypeHTML && p.Signature.Equal(sig) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (s *fakeSession) PageContentAndURL(_ context.Context, id int64) (string, string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p := s.db.pages[id-1]
	return p.Content, p.URL, nil
}

func (s *fakeSession) InsertPage(_ context.Context, page model.Page) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.upsert(page), nil
}

func (s *fakeSession) InsertLink(_ context.Context, from, to int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.links[[2]int64{from, to}] = struct{}{}
	return nil
}

func (s *fakeSession) SiteIDByDomain(_ context.Context, domain string) (int64, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.sites[domain]
	return id, ok, nil
}

func (s *fakeSession) InsertSite(_ context.Context, site model.Site) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failSite {
		return 0, errors.New("site table unavailable")
	}
	if id, ok := s.db.sites[site.Domain]; ok {
		return id, nil
	}
	id := int64(len(s.db.sites) + 1)
	s.db.sites[site.Domain] = id
	return id, nil
}

func (s *fakeSession) EnsureFrontierPage(_ context.Context, url string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.upsert(model.Page{URL: url, Type: model.PageTypeFrontier}), nil
}

func (s *fakeSession) InsertBinaryPage(_ context.Context, page model.Page) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.upsert(page), nil
}

func (s *fakeSession) InsertImage(_ context.Context, image model.Image) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.images = append(s.db.images, image)
	return nil
}

func (s *fakeSession) Release() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.released++
}

// mapFetcher serves canned responses; unknown URLs get a 404.
type mapFetcher struct {
	mu    sync.Mutex
	data  map[string]model.FetchResponse
	calls map[string]int
}

func newMapFetcher() *mapFetcher {
	return &mapFetcher{data: make(map[string]model.FetchResponse), calls: make(map[string]int)}
}

func (f *mapFetcher) html(url, body string) {
	f.data[url] = model.FetchResponse{
		URL:        url,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func (f *mapFetcher) Fetch(_ context.Context, url string) (model.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if resp, ok := f.data[url]; ok {
		resp.Duration = time.Millisecond
		return resp, nil
	}
	return model.FetchResponse{URL: url, StatusCode: http.StatusNotFound}, nil
}

func (f *mapFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// stubParser returns preset links and images per page and uses content as text.
type stubParser struct {
	links  map[string][]string
	images map[string][]string
}

func (p *stubParser) ExtractLinks(pageURL, _ string) []string { return p.links[pageURL] }
func (p *stubParser) ExtractImages(pageURL, _ string) []string { return p.images[pageURL] }
func (p *stubParser) Text(content string) string { return content }

type stubRenderer struct {
	body  string
	err   error
	calls int
}

func (r *stubRenderer) Render(_ context.Context, url string) (model.FetchResponse, error) {
	r.calls++
	if r.err != nil {
		return model.FetchResponse{}, r.err
	}
	return model.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(r.body), Rendered: true}, nil
}

type stubHeadless struct{ promote bool }

func (d stubHeadless) ShouldPromote(model.FetchResponse) bool { return d.promote }

type recordingPublisher struct {
	mu     sync.Mutex
	events []PageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload.(PageEvent))
	return "id", nil
}

type memoryBlobs struct {
	keys []string
}

func (b *memoryBlobs) PutObject(_ context.Context, path, _ string, _ io.Reader) (string, error) {
	b.keys = append(b.keys, path)
	return "memory://" + path, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
