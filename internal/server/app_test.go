package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/config"
	"github.com/JakeFAU/gov-crawler/internal/model"
	memorystorage "github.com/JakeFAU/gov-crawler/internal/storage/memory"
)

const notice = "Ministrstvo za javno upravo objavlja javni razpis za sofinanciranje projektov " +
	"lokalnih skupnosti. Prijave se oddajo do konca meseca na naslov ministrstva."

func newGovSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private\nCrawl-delay: 0\n")
	})
	mux.HandleFunc("/sitemap.xml", http.NotFound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<html><body><h1>Vlada</h1>
<a href="/a">A</a><a href="/b">B</a><a href="/private">P</a>
<a href="/doc.pdf">Razpis</a><a href="https://www.example.com/">Out</a></body></html>`)
	})
	for _, p := range []string{"/a", "/b"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", notice)
		})
	}
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("disallowed path fetched")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 razpis"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dryRunConfig(seed string) config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			Seeds:          []string{seed},
			Workers:        2,
			MaxPages:       100,
			AllowedDomains: []string{"127.0.0.1"},
			UserAgent:      "gov-crawler-test",
			DownloadFiles:  true,
			RenderMode:     "never",
		},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5},
		Sitemap: config.SitemapConfig{Nested: true, MaxDocuments: 5},
		Dedup:   config.DedupConfig{ShingleLength: 3, HashFunctions: 20, Bands: 5, Seed: 42, Threshold: 0.9},
		DB:      config.DBConfig{Driver: config.DriverMemory},
		Blob:    config.BlobConfig{Driver: config.DriverMemory},
		PubSub:  config.PubSubConfig{Topic: "pages"},
	}
}

func TestAppDryRunCrawlsSite(t *testing.T) {
	t.Parallel()

	site := newGovSite(t)
	ctx := context.Background()
	app, err := Build(ctx, dryRunConfig(site.URL+"/"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })
	require.NotEmpty(t, app.RunID())

	require.NoError(t, app.Run(ctx, RunOptions{}))

	store, ok := app.Store().(*memorystorage.CrawlStore)
	require.True(t, ok)

	root, ok := store.PageByURL(site.URL)
	require.True(t, ok)
	require.Equal(t, model.PageTypeHTML, root.Type)
	require.Equal(t, 200, root.StatusCode)

	a, ok := store.PageByURL(site.URL + "/a")
	require.True(t, ok)
	require.Equal(t, model.PageTypeHTML, a.Type)
	b, ok := store.PageByURL(site.URL + "/b")
	require.True(t, ok)
	require.Equal(t, model.PageTypeDuplicate, b.Type)

	doc, ok := store.PageByURL(site.URL + "/doc.pdf")
	require.True(t, ok)
	require.Equal(t, model.PageTypeBinary, doc.Type)
	require.True(t, strings.HasPrefix(doc.BlobURI, "memory://files/pdf/"))

	private, ok := store.PageByURL(site.URL + "/private")
	require.True(t, ok)
	require.Equal(t, model.PageTypeFrontier, private.Type)

	_, ok = store.PageByURL("https://www.example.com/")
	require.False(t, ok, "out-of-scope links are not recorded")

	snap := app.Snapshot()
	require.False(t, snap.Running)
	require.Zero(t, snap.Pending)
	require.Equal(t, 5, snap.Visited)
	require.NotNil(t, app.events)
	require.NotEmpty(t, app.events.ByTopic("pages"))
}

func TestAppRunHonoursMaxLevelAndReset(t *testing.T) {
	t.Parallel()

	site := newGovSite(t)
	ctx := context.Background()
	app, err := Build(ctx, dryRunConfig(site.URL+"/"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	require.NoError(t, app.Run(ctx, RunOptions{MaxLevel: 1}))
	snap := app.Snapshot()
	require.Equal(t, 1, snap.Visited)
	require.Equal(t, 4, snap.Pending)

	store := app.Store().(*memorystorage.CrawlStore)
	require.NotEmpty(t, store.Pages())
	require.NoError(t, app.Reset(ctx))
	require.Empty(t, store.Pages())
}

func TestAppReadiness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := Build(ctx, dryRunConfig("https://www.gov.si/"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, app.ready(cancelled))
}

func TestBuildFailsOnMissingVocabulary(t *testing.T) {
	t.Parallel()

	cfg := dryRunConfig("https://www.gov.si/")
	cfg.Dedup.VocabularyPath = t.TempDir() + "/missing.txt"
	_, err := Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "open vocabulary")
}
