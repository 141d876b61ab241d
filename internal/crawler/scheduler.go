package crawler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/gov-crawler/internal/metrics"
)

// Progress is a point-in-time view of the frontier.
type Progress struct {
	RunID     string    `json:"run_id"`
	Level     int       `json:"level"`
	Pending   int       `json:"pending"`
	Visited   int       `json:"visited"`
	MaxPages  int       `json:"max_pages"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Scheduler owns the BFS frontier. Only the goroutine running Crawl mutates
// pending and visited, and only between levels.
type Scheduler struct {
	cfg       SchedulerConfig
	store     Store
	processor PageProcessor
	pauser    pauseController
	clock     Clock
	logger    *zap.Logger

	mu        sync.RWMutex
	pending   map[string]struct{}
	visited   map[string]struct{}
	level     int
	running   bool
	startedAt time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(cfg SchedulerConfig, store Store, processor PageProcessor, clock Clock, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		processor: processor,
		pauser:    &timerPauseController{},
		clock:     clock,
		logger:    logger.Named("scheduler"),
		pending:   make(map[string]struct{}),
		visited:   make(map[string]struct{}),
	}
}

// Seed normalizes urls into the pending set. Seeds bypass the domain scope.
func (s *Scheduler) Seed(urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range urls {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			return fmt.Errorf("seed %q: %w", raw, err)
		}
		if _, seen := s.visited[normalized]; seen {
			continue
		}
		s.pending[normalized] = struct{}{}
	}
	return nil
}

// Crawl runs BFS levels until the frontier is empty or maxLevel levels have been
// processed. maxLevel <= 0 means unbounded. Cancelling ctx stops dispatch of new
// levels and pages; pages already in flight complete.
func (s *Scheduler) Crawl(ctx context.Context, maxLevel int) error {
	s.mu.Lock()
	s.running = true
	if s.clock != nil {
		s.startedAt = s.clock.Now()
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for processed := 0; maxLevel <= 0 || processed < maxLevel; processed++ {
		if err := ctx.Err(); err != nil {
			s.logger.Info("crawl interrupted", zap.Int("level", s.currentLevel()))
			return err
		}
		if s.pendingCount() == 0 {
			s.logger.Info("frontier exhausted", zap.Int("visited", s.visitedCount()))
			return nil
		}
		s.crawlLevel(ctx)
	}
	s.logger.Info("reached maximum level", zap.Int("max_level", maxLevel))
	return nil
}

// crawlLevel processes one BFS layer and installs the next one.
func (s *Scheduler) crawlLevel(ctx context.Context) {
	relevant, level := s.admit()
	logger := s.logger.With(zap.Int("level", level))
	logger.Info("level started", zap.Int("links", len(relevant)))

	slices := partition(relevant, s.cfg.Workers)
	found := make([]map[string]struct{}, len(slices))

	var g errgroup.Group
	for i, slice := range slices {
		g.Go(func() error {
			links, err := s.runWorker(ctx, i, slice)
			found[i] = links
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("worker failed", zap.Error(err))
	}

	s.mu.Lock()
	for _, u := range relevant {
		s.visited[u] = struct{}{}
	}
	next := make(map[string]struct{})
	for _, links := range found {
		for u := range links {
			if _, seen := s.visited[u]; !seen {
				next[u] = struct{}{}
			}
		}
	}
	s.pending = next
	s.level++
	pending, visited := len(s.pending), len(s.visited)
	s.mu.Unlock()

	metrics.ObserveLevel(pending, visited)
	logger.Info("level finished", zap.Int("new_links", pending), zap.Int("visited", visited))
}

// admit computes pending minus visited, sorted and truncated to the page budget.
func (s *Scheduler) admit() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	relevant := make([]string, 0, len(s.pending))
	for u := range s.pending {
		if _, seen := s.visited[u]; !seen {
			relevant = append(relevant, u)
		}
	}
	sort.Strings(relevant)
	if s.cfg.MaxPages > 0 {
		budget := s.cfg.MaxPages - len(s.visited)
		if budget < 0 {
			budget = 0
		}
		if len(relevant) > budget {
			s.logger.Info("page budget reached, dropping links",
				zap.Int("dropped", len(relevant)-budget),
				zap.Int("max_pages", s.cfg.MaxPages),
			)
			relevant = relevant[:budget]
		}
	}
	return relevant, s.level
}

// runWorker processes one slice sequentially on its own store session.
func (s *Scheduler) runWorker(ctx context.Context, id int, urls []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	sess, err := s.store.Acquire(ctx)
	if err != nil {
		return found, fmt.Errorf("worker %d acquire session: %w", id, err)
	}
	defer sess.Release()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := s.logger.With(zap.Int("worker", id))
	for i, u := range urls {
		if ctx.Err() != nil {
			logger.Info("worker stopping", zap.Int("skipped", len(urls)-i))
			break
		}
		for _, link := range s.processPage(ctx, sess, logger, u) {
			found[link] = struct{}{}
		}
		if i < len(urls)-1 {
			s.pauser.Pause(ctx, s.cfg.Delay)
		}
	}
	return found, nil
}

// processPage isolates a single page: errors and panics never leave it.
func (s *Scheduler) processPage(ctx context.Context, sess Session, logger *zap.Logger, url string) (links []string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("page pipeline panicked", zap.String("url", url), zap.Any("panic", r))
			metrics.ObservePage(metrics.SanitizeSite(url), "panic", 0)
			links = nil
		}
	}()
	links, err := s.processor.Process(context.WithoutCancel(ctx), sess, url)
	if err != nil {
		logger.Warn("page skipped", zap.String("url", url), zap.Error(err))
	}
	return links
}

// Snapshot reports current progress. Safe for concurrent use.
func (s *Scheduler) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Progress{
		RunID:     s.cfg.RunID,
		Level:     s.level,
		Pending:   len(s.pending),
		Visited:   len(s.visited),
		MaxPages:  s.cfg.MaxPages,
		Running:   s.running,
		StartedAt: s.startedAt,
	}
}

// Pending returns a sorted copy of the pending set.
func (s *Scheduler) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.pending)
}

// Visited returns a sorted copy of the visited set.
func (s *Scheduler) Visited() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.visited)
}

func (s *Scheduler) currentLevel() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

func (s *Scheduler) pendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

func (s *Scheduler) visitedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visited)
}

// partition splits urls into min(workers, len(urls)) contiguous slices whose
// bounds are floor(i*n/w) and floor((i+1)*n/w).
func partition(urls []string, workers int) [][]string {
	n := len(urls)
	if n == 0 {
		return nil
	}
	w := workers
	if w <= 0 {
		w = 1
	}
	if w > n {
		w = n
	}
	out := make([][]string, w)
	for i := 0; i < w; i++ {
		out[i] = urls[i*n/w : (i+1)*n/w]
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
