// Package server wires the crawler from configuration and runs it next to the
// ops HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/clock/system"
	"github.com/JakeFAU/gov-crawler/internal/config"
	"github.com/JakeFAU/gov-crawler/internal/crawler"
	"github.com/JakeFAU/gov-crawler/internal/dedup"
	collyfetcher "github.com/JakeFAU/gov-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/gov-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/gov-crawler/internal/hash/sha256"
	"github.com/JakeFAU/gov-crawler/internal/headless/detector"
	"github.com/JakeFAU/gov-crawler/internal/id/uuid"
	"github.com/JakeFAU/gov-crawler/internal/metrics"
	"github.com/JakeFAU/gov-crawler/internal/parser"
	"github.com/JakeFAU/gov-crawler/internal/politeness"
	memorypublisher "github.com/JakeFAU/gov-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/gov-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/gov-crawler/internal/sitemap"
	gcsstorage "github.com/JakeFAU/gov-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gov-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/gov-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/gov-crawler/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired crawl components for one run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	store     crawler.Store
	scheduler *crawler.Scheduler
	handler   http.Handler

	events   *memorypublisher.Publisher
	pubsub   *gcppublisher.Publisher
	gcsBlobs *gcsstorage.BlobStore
	renderer *headless.Renderer
}

// RunOptions tune a single Run.
type RunOptions struct {
	// MaxLevel overrides crawler.max_level when positive.
	MaxLevel int
	// Reset truncates the crawl database before seeding.
	Reset bool
}

// Build creates every dependency named by cfg. On failure, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	var ids crawler.IDGenerator = uuid.New()
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	app = &App{cfg: cfg, logger: logger.With(zap.String("run_id", runID)), runID: runID}
	defer func() {
		if err != nil {
			if closeErr := app.Close(ctx); closeErr != nil {
				app.logger.Warn("cleanup after failed build", zap.Error(closeErr))
			}
			app = nil
		}
	}()

	app.logger.Info("building crawler",
		zap.Int("seeds", len(cfg.Crawler.Seeds)),
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Int("max_pages", cfg.Crawler.MaxPages),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("blob_driver", cfg.Blob.Driver),
	)

	if err = app.setupStore(ctx); err != nil {
		return app, err
	}
	blobs, err := app.setupBlobs(ctx)
	if err != nil {
		return app, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}
	renderer, err := app.setupRenderer()
	if err != nil {
		return app, err
	}
	docParser := parser.New(parser.WithJSRedirects(cfg.Crawler.ParseJSRedirects))
	dupDetector, err := app.setupDetector(docParser)
	if err != nil {
		return app, err
	}
	renderMode, err := crawler.ParseRenderMode(cfg.Crawler.RenderMode)
	if err != nil {
		return app, fmt.Errorf("render mode: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	clock := system.New()
	pipeline, err := crawler.NewPipeline(crawler.PipelineConfig{
		RunID:          runID,
		AllowedDomains: cfg.Crawler.AllowedDomains,
		DownloadFiles:  cfg.Crawler.DownloadFiles,
		RenderMode:     renderMode,
		Topic:          cfg.PubSub.Topic,
		MaxPathDepth:   cfg.Crawler.MaxPathDepth,
	}, crawler.PipelineDeps{
		Fetcher:   fetcher,
		Renderer:  renderer,
		Headless:  detector.NewHeuristic(cfg.Headless.PromotionThreshold),
		Parser:    docParser,
		Policies:  politeness.NewLoader(fetcher, cfg.DefaultCrawlDelay(), app.logger.Named("robots")),
		Sitemaps:  sitemap.NewResolver(fetcher, sitemap.Config{Nested: cfg.Sitemap.Nested, MaxDocuments: cfg.Sitemap.MaxDocuments}, app.logger.Named("sitemap")),
		Cooldown:  politeness.NewCooldown(),
		Detector:  dupDetector,
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
	}, app.logger)
	if err != nil {
		return app, fmt.Errorf("pipeline: %w", err)
	}

	app.scheduler = crawler.NewScheduler(crawler.SchedulerConfig{
		RunID:    runID,
		Workers:  cfg.Crawler.Workers,
		Delay:    cfg.Delay(),
		MaxPages: cfg.Crawler.MaxPages,
	}, app.store, pipeline, clock, app.logger)
	app.handler = NewRouter(app.scheduler, app.ready, app.logger.Named("ops"))
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		store, err := pgstore.NewCrawlStore(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.ConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		a.store = store
		if a.cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate crawldb: %w", err)
			}
			a.logger.Info("crawldb schema applied")
		}
	default:
		a.logger.Warn("using in-memory crawl database; nothing will be persisted")
		a.store = memorystorage.NewCrawlStore()
	}
	return nil
}

func (a *App) setupBlobs(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Blob.Driver {
	case config.DriverGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Blob.GCSBucket, Prefix: a.cfg.Blob.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		a.gcsBlobs = store
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Blob.GCSBucket))
		return store, nil
	case config.DriverLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Blob.BaseDir))
		return store, nil
	default:
		a.logger.Debug("using in-memory blob store")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, keeping page events in memory")
		a.events = memorypublisher.New()
		return a.events, nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

func (a *App) setupRenderer() (crawler.Renderer, error) {
	if !a.cfg.Headless.Enabled {
		return headless.NewNoop(), nil
	}
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: a.cfg.NavTimeout(),
		ExecPath:          a.cfg.Headless.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("headless renderer: %w", err)
	}
	a.renderer = renderer
	a.logger.Info("using headless renderer",
		zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
		zap.String("render_mode", a.cfg.Crawler.RenderMode),
	)
	return renderer, nil
}

func (a *App) setupDetector(docParser *parser.Parser) (*dedup.Detector, error) {
	d := a.cfg.Dedup
	vocab := dedup.DefaultVocabulary(d.ShingleLength)
	if d.VocabularyPath != "" {
		f, err := os.Open(d.VocabularyPath)
		if err != nil {
			return nil, fmt.Errorf("open vocabulary: %w", err)
		}
		defer func() { _ = f.Close() }()
		if vocab, err = dedup.LoadVocabulary(f); err != nil {
			return nil, err
		}
	}
	lsh, err := dedup.NewLSH(vocab, d.Bands, dedup.NewUniversalFamily(d.HashFunctions, d.Seed), dedup.CharShingler(d.ShingleLength))
	if err != nil {
		return nil, fmt.Errorf("lsh: %w", err)
	}
	a.logger.Info("duplicate detector ready",
		zap.Int("vocabulary", vocab.Len()),
		zap.Int("hash_functions", d.HashFunctions),
		zap.Int("bands", lsh.Bands()),
		zap.Uint64("seed", d.Seed),
	)
	return dedup.NewDetector(lsh,
		dedup.WithThreshold(d.Threshold),
		dedup.WithTextExtractor(docParser.Text),
		dedup.WithLogger(a.logger.Named("dedup")),
	), nil
}

// Run seeds the frontier and crawls until it is exhausted, the level limit is
// reached or ctx is cancelled. The ops server, when enabled, runs for the
// duration of the crawl.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	if opts.Reset {
		if err := a.Reset(ctx); err != nil {
			return err
		}
	}
	if err := a.scheduler.Seed(a.cfg.Crawler.Seeds...); err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}
	maxLevel := a.cfg.Crawler.MaxLevel
	if opts.MaxLevel > 0 {
		maxLevel = opts.MaxLevel
	}

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = a.startOpsServer()
	}

	a.logger.Info("crawl started", zap.Int("max_level", maxLevel))
	crawlErr := a.scheduler.Crawl(ctx, maxLevel)
	snap := a.scheduler.Snapshot()
	a.logger.Info("crawl finished",
		zap.Int("levels", snap.Level),
		zap.Int("visited", snap.Visited),
		zap.Int("pending", snap.Pending),
		zap.Error(crawlErr),
	)
	if a.events != nil {
		a.logger.Info("page events kept in memory", zap.Int("events", len(a.events.Messages())))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	return crawlErr
}

func (a *App) startOpsServer() *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server error", zap.Error(err))
		}
	}()
	return srv
}

// Reset truncates every mutable crawl table.
func (a *App) Reset(ctx context.Context) error {
	if err := a.store.TruncateAll(ctx); err != nil {
		return fmt.Errorf("truncate crawl database: %w", err)
	}
	a.logger.Info("crawl database truncated")
	return nil
}

func (a *App) ready(ctx context.Context) error {
	sess, err := a.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire store session: %w", err)
	}
	sess.Release()
	return nil
}

// Handler returns the ops router.
func (a *App) Handler() http.Handler {
	return a.handler
}

// RunID identifies this run in logs and page events.
func (a *App) RunID() string {
	return a.runID
}

// Store returns the crawl database.
func (a *App) Store() crawler.Store {
	return a.store
}

// Snapshot reports crawl progress.
func (a *App) Snapshot() crawler.Progress {
	return a.scheduler.Snapshot()
}

// Close releases every resource Build opened.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
