package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// graphProcessor serves a static link graph and records every dispatch.
type graphProcessor struct {
	mu      sync.Mutex
	graph   map[string][]string
	calls   map[string]int
	fail    map[string]bool
	panics  map[string]bool
	onVisit func(url string)
}

func newGraphProcessor(graph map[string][]string) *graphProcessor {
	return &graphProcessor{
		graph:  graph,
		calls:  make(map[string]int),
		fail:   make(map[string]bool),
		panics: make(map[string]bool),
	}
}

func (g *graphProcessor) Process(_ context.Context, _ Session, url string) ([]string, error) {
	g.mu.Lock()
	g.calls[url]++
	fail, panics, hook := g.fail[url], g.panics[url], g.onVisit
	links := g.graph[url]
	g.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	if panics {
		panic("boom on " + url)
	}
	if fail {
		return nil, errors.New("fetch failed")
	}
	return links, nil
}

func (g *graphProcessor) processed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for u := range g.calls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (g *graphProcessor) maxCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := 0
	for _, c := range g.calls {
		if c > m {
			m = c
		}
	}
	return m
}

func newTestScheduler(t *testing.T, cfg SchedulerConfig, db *fakeDB, proc PageProcessor) *Scheduler {
	t.Helper()
	return NewScheduler(cfg, db, proc, fixedClock{t: time.Unix(1700000000, 0)}, zap.NewNop())
}

func TestPartitionCoversEveryURLOnce(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 12; n++ {
		for w := 1; w <= 6; w++ {
			urls := make([]string, n)
			for i := range urls {
				urls[i] = fmt.Sprintf("https://a.gov.si/%d", i)
			}
			slices := partition(urls, w)
			if n == 0 {
				require.Empty(t, slices)
				continue
			}
			require.Len(t, slices, min(w, n), "n=%d w=%d", n, w)

			var joined []string
			for _, s := range slices {
				require.NotEmpty(t, s, "n=%d w=%d produced an empty slice", n, w)
				joined = append(joined, s...)
			}
			require.Equal(t, urls, joined, "n=%d w=%d", n, w)
		}
	}
}

func TestPartitionBounds(t *testing.T) {
	t.Parallel()

	urls := []string{"a", "b", "c", "d", "e", "f", "g"}
	slices := partition(urls, 3)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e", "f", "g"}}, slices)
	require.Equal(t, [][]string{{"a", "b", "c", "d", "e", "f", "g"}}, partition(urls, 0))
}

func TestSchedulerBFSInvariants(t *testing.T) {
	t.Parallel()

	graph := map[string][]string{
		"https://a.gov.si":   {"https://a.gov.si/1", "https://a.gov.si/2"},
		"https://a.gov.si/1": {"https://a.gov.si", "https://a.gov.si/3"},
		"https://a.gov.si/2": {"https://a.gov.si/3", "https://a.gov.si/4"},
		"https://a.gov.si/3": {"https://a.gov.si/1"},
		"https://a.gov.si/4": {},
	}
	proc := newGraphProcessor(graph)
	db := newFakeDB()
	s := newTestScheduler(t, SchedulerConfig{Workers: 3}, db, proc)
	require.NoError(t, s.Seed("https://A.gov.si/"))

	var previous []string
	for level := 0; level < 5; level++ {
		pending := s.Pending()
		visited := s.Visited()
		for _, u := range pending {
			require.NotContains(t, visited, u, "pending and visited overlap at level %d", level)
		}
		require.Subset(t, visited, previous, "visited shrank at level %d", level)
		previous = visited
		require.NoError(t, s.Crawl(context.Background(), 1))
	}

	require.Equal(t, []string{
		"https://a.gov.si", "https://a.gov.si/1", "https://a.gov.si/2", "https://a.gov.si/3", "https://a.gov.si/4",
	}, proc.processed())
	require.Equal(t, 1, proc.maxCalls(), "no URL may be dispatched twice")
	require.Empty(t, s.Pending())
	require.Equal(t, db.acquired, db.released)
}

func TestSchedulerLevelMembershipIsIndependentOfWorkers(t *testing.T) {
	t.Parallel()

	graph := map[string][]string{"https://a.gov.si": {}}
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("https://a.gov.si/p%02d", i)
		graph["https://a.gov.si"] = append(graph["https://a.gov.si"], u)
		graph[u] = []string{fmt.Sprintf("https://a.gov.si/q%02d", i%7)}
	}

	var levels [][]string
	for _, workers := range []int{1, 4, 50} {
		s := newTestScheduler(t, SchedulerConfig{Workers: workers}, newFakeDB(), newGraphProcessor(graph))
		require.NoError(t, s.Seed("https://a.gov.si"))
		require.NoError(t, s.Crawl(context.Background(), 2))
		levels = append(levels, s.Pending())
	}
	require.Len(t, levels[0], 7)
	require.Equal(t, levels[0], levels[1])
	require.Equal(t, levels[0], levels[2])
}

func TestSchedulerEnforcesGlobalCap(t *testing.T) {
	t.Parallel()

	graph := map[string][]string{}
	var seeds []string
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("https://a.gov.si/%d", i)
		seeds = append(seeds, u)
		graph[u] = []string{fmt.Sprintf("https://b.gov.si/%d", i)}
	}
	proc := newGraphProcessor(graph)
	s := newTestScheduler(t, SchedulerConfig{Workers: 2, MaxPages: 3}, newFakeDB(), proc)
	require.NoError(t, s.Seed(seeds...))

	require.NoError(t, s.Crawl(context.Background(), 0))
	require.Len(t, proc.processed(), 3)
	require.Len(t, s.Visited(), 3)
	require.Equal(t, []string{"https://a.gov.si/0", "https://a.gov.si/1", "https://a.gov.si/2"}, proc.processed())
	require.Empty(t, s.Pending(), "links beyond the budget are dropped, not deferred")
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	t.Parallel()

	proc := newGraphProcessor(map[string][]string{
		"https://a.gov.si/ok": {"https://a.gov.si/next"},
	})
	proc.fail["https://a.gov.si/bad"] = true
	proc.panics["https://a.gov.si/crash"] = true

	db := newFakeDB()
	s := newTestScheduler(t, SchedulerConfig{Workers: 1}, db, proc)
	require.NoError(t, s.Seed("https://a.gov.si/bad", "https://a.gov.si/crash", "https://a.gov.si/ok"))
	require.NoError(t, s.Crawl(context.Background(), 1))

	require.Equal(t, []string{"https://a.gov.si/bad", "https://a.gov.si/crash", "https://a.gov.si/ok"}, proc.processed())
	require.Equal(t, []string{"https://a.gov.si/next"}, s.Pending())
	require.Equal(t, 1, db.acquired)
	require.Equal(t, 1, db.released)
}

func TestSchedulerStopsAtMaxLevel(t *testing.T) {
	t.Parallel()

	proc := newGraphProcessor(map[string][]string{
		"https://a.gov.si":   {"https://a.gov.si/b"},
		"https://a.gov.si/b": {"https://a.gov.si/c"},
	})
	s := newTestScheduler(t, SchedulerConfig{Workers: 2}, newFakeDB(), proc)
	require.NoError(t, s.Seed("https://a.gov.si"))
	require.NoError(t, s.Crawl(context.Background(), 2))

	require.Equal(t, []string{"https://a.gov.si", "https://a.gov.si/b"}, proc.processed())
	require.Equal(t, []string{"https://a.gov.si/c"}, s.Pending())
	require.Equal(t, 2, s.Snapshot().Level)
}

func TestSchedulerCancellationFinishesCurrentPage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := newGraphProcessor(map[string][]string{})
	proc.onVisit = func(string) { cancel() }
	s := newTestScheduler(t, SchedulerConfig{Workers: 1, Delay: time.Hour}, newFakeDB(), proc)
	require.NoError(t, s.Seed("https://a.gov.si/1", "https://a.gov.si/2", "https://a.gov.si/3"))

	done := make(chan error, 1)
	go func() { done <- s.Crawl(ctx, 0) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not stop after cancellation")
	}
	assert.Equal(t, []string{"https://a.gov.si/1"}, proc.processed())
	assert.False(t, s.Snapshot().Running)
}

func TestSchedulerDoesNotStartWhenCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := newGraphProcessor(nil)
	s := newTestScheduler(t, SchedulerConfig{Workers: 1}, newFakeDB(), proc)
	require.NoError(t, s.Seed("https://a.gov.si"))
	require.ErrorIs(t, s.Crawl(ctx, 0), context.Canceled)
	require.Empty(t, proc.processed())
}

func TestSchedulerSeedRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, SchedulerConfig{}, newFakeDB(), newGraphProcessor(nil))
	require.ErrorIs(t, s.Seed("ftp://a.gov.si"), ErrOutOfScope)
}

func TestSchedulerSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, SchedulerConfig{RunID: "run-1", Workers: 2, MaxPages: 10}, newFakeDB(), newGraphProcessor(map[string][]string{
		"https://a.gov.si": {"https://a.gov.si/x", "https://a.gov.si/y"},
	}))
	require.NoError(t, s.Seed("https://a.gov.si"))
	snap := s.Snapshot()
	require.Equal(t, Progress{RunID: "run-1", Pending: 1, MaxPages: 10}, snap)

	require.NoError(t, s.Crawl(context.Background(), 1))
	snap = s.Snapshot()
	require.Equal(t, 1, snap.Level)
	require.Equal(t, 2, snap.Pending)
	require.Equal(t, 1, snap.Visited)
	require.Equal(t, time.Unix(1700000000, 0), snap.StartedAt)
}
