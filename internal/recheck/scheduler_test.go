package recheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/newsapi"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string][]domain.SourceArticle
	errs    map[string]error
	queries []newsapi.Query
}

func (f *fakeFetcher) Fetch(_ context.Context, q newsapi.Query) ([]domain.SourceArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.errs[q.Q]; err != nil {
		return nil, err
	}
	return f.results[q.Q], nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeIngester struct {
	mu       sync.Mutex
	stories  []domain.Story
	ingested []domain.SourceArticle
}

func (i *fakeIngester) IngestBatch(_ context.Context, articles []domain.SourceArticle) pipeline.BatchResult {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ingested = append(i.ingested, articles...)
	return pipeline.BatchResult{Processed: len(articles), Linked: len(articles)}
}

func (i *fakeIngester) ActiveStories(_ context.Context, _ time.Duration, _ int) ([]domain.Story, error) {
	return i.stories, nil
}

func activeStory(id, title string) domain.Story {
	return domain.Story{
		ID:       id,
		Title:    title,
		Metadata: domain.StoryMetadata{FirstPublished: time.Now().UTC().Add(-2 * time.Hour)},
	}
}

func newTestScheduler(t *testing.T, fetcher Fetcher, ingester Ingester, opts Options) *Scheduler {
	t.Helper()
	scheduler, err := New(fetcher, ingester, nil, zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("unexpected error creating scheduler: %v", err)
	}
	return scheduler
}

func TestRunOnceIngestsFetchedArticles(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{results: map[string][]domain.SourceArticle{
		"council approves budget": {{Title: "Council approves budget", URL: "https://a.example.com/1"}},
		"storm closes highway":    {{Title: "Storm closes highway", URL: "https://b.example.com/1"}, {Title: "Highway reopens", URL: "https://b.example.com/2"}},
	}}
	ingester := &fakeIngester{stories: []domain.Story{
		activeStory("s1", "Council approves budget"),
		activeStory("s2", "Storm closes highway"),
	}}
	scheduler := newTestScheduler(t, fetcher, ingester, Options{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stories != 2 || report.Fetched != 3 || report.Linked != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(ingester.ingested) != 3 {
		t.Fatalf("unexpected ingested count: got %d want 3", len(ingester.ingested))
	}
}

func TestRunOnceIsolatesStoryFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		results: map[string][]domain.SourceArticle{
			"storm closes highway": {{Title: "Storm closes highway", URL: "https://b.example.com/1"}},
		},
		errs: map[string]error{"council approves budget": errors.New("connection reset")},
	}
	ingester := &fakeIngester{stories: []domain.Story{
		activeStory("s1", "Council approves budget"),
		activeStory("s2", "Storm closes highway"),
	}}
	scheduler := newTestScheduler(t, fetcher, ingester, Options{})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Failed != 1 || report.Linked != 1 || report.RateLimited {
		t.Fatalf("unexpected report: %+v", report)
	}
	if scheduler.Status().ConsecutiveErrors != 0 {
		t.Fatalf("generic failures must not count toward backoff")
	}
}

func TestRunOnceEntersBackoffOnRateLimit(t *testing.T) {
	t.Parallel()

	stories := make([]domain.Story, 0, 7)
	for _, title := range []string{"Alpha council vote", "Bravo storm warning", "Charlie market rally", "Delta transit strike", "Echo school closure", "Foxtrot harbor fire", "Golf stadium deal"} {
		stories = append(stories, activeStory(title, title))
	}
	fetcher := &fakeFetcher{errs: map[string]error{
		"bravo storm warning": newsapi.ErrRateLimited,
	}}
	ingester := &fakeIngester{stories: stories}
	scheduler := newTestScheduler(t, fetcher, ingester, Options{BatchSize: 5, BackoffBase: 5 * time.Minute, BackoffMax: time.Hour})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.RateLimited || report.BackoffFor != 5*time.Minute {
		t.Fatalf("unexpected report: %+v", report)
	}
	if calls := fetcher.calls(); calls != 5 {
		t.Fatalf("expected the run to stop after the first batch, got %d fetches", calls)
	}

	status := scheduler.Status()
	if status.State != StateBackoff || status.ConsecutiveErrors != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	skipped, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped.SkippedReason != "backoff" {
		t.Fatalf("expected run to be skipped during backoff, got %+v", skipped)
	}
	if calls := fetcher.calls(); calls != 5 {
		t.Fatalf("expected no fetches while backing off, got %d", calls)
	}
}

type slowFetcher struct {
	delay    time.Duration
	started  chan struct{}
	once     sync.Once
	finished atomic.Int32
}

func (f *slowFetcher) Fetch(ctx context.Context, q newsapi.Query) ([]domain.SourceArticle, error) {
	f.once.Do(func() { close(f.started) })
	defer f.finished.Add(1)

	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return []domain.SourceArticle{{Title: q.Q, URL: "https://slow.example.com/1"}}, nil
}

func TestStopWaitsForFirstRun(t *testing.T) {
	t.Parallel()

	fetcher := &slowFetcher{delay: 300 * time.Millisecond, started: make(chan struct{})}
	ingester := &fakeIngester{stories: []domain.Story{activeStory("s1", "Harbor fire spreads")}}
	scheduler := newTestScheduler(t, fetcher, ingester, Options{Interval: time.Hour})

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run never fetched")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	scheduler.Stop(stopCtx)

	if got := fetcher.finished.Load(); got != 1 {
		t.Fatalf("unexpected finished fetches after Stop: got %d want 1", got)
	}
	if scheduler.Status().Running {
		t.Fatalf("scheduler still running after Stop")
	}

	ingester.mu.Lock()
	before := len(ingester.ingested)
	ingester.mu.Unlock()
	time.Sleep(400 * time.Millisecond)
	ingester.mu.Lock()
	after := len(ingester.ingested)
	ingester.mu.Unlock()
	if after != before {
		t.Fatalf("work continued after Stop: ingested %d then %d", before, after)
	}
}

func TestStopBeforeInitialDelaySkipsFirstRun(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	ingester := &fakeIngester{stories: []domain.Story{activeStory("s1", "Harbor fire spreads")}}
	scheduler := newTestScheduler(t, fetcher, ingester, Options{Interval: time.Hour, InitialDelay: time.Hour})

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	scheduler.Stop(stopCtx)

	if calls := fetcher.calls(); calls != 0 {
		t.Fatalf("unexpected fetches: got %d want 0", calls)
	}
	if err := stopCtx.Err(); err != nil {
		t.Fatalf("Stop waited for the full timeout: %v", err)
	}
}

func TestRunOnceDatabaseOnlySkipsFetches(t *testing.T) {
	t.Parallel()

	ingester := &fakeIngester{stories: []domain.Story{activeStory("s1", "Council approves budget")}}
	scheduler := newTestScheduler(t, nil, ingester, Options{DatabaseOnly: true})

	report, err := scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SkippedReason != "database_only" || len(ingester.ingested) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestNewRequiresFetcherOutsideDatabaseOnly(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeIngester{}, nil, zerolog.Nop(), Options{}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	story := domain.Story{
		Title:    "City council approves budget",
		Language: "en",
		Metadata: domain.StoryMetadata{FirstPublished: now.Add(-30 * 24 * time.Hour)},
		Analysis: domain.StoryAnalysis{KeyPoints: []domain.KeyPoint{
			{Point: "Council vote splits along party lines"},
			{Point: "Transit funding doubles"},
		}},
	}

	query := BuildQuery(story, now, 7*24*time.Hour, 6)
	if query.Q != "city council approves budget vote splits" {
		t.Fatalf("unexpected query: %q", query.Q)
	}
	if want := now.Add(-7 * 24 * time.Hour); !query.From.Equal(want) {
		t.Fatalf("unexpected from: got %s want %s", query.From, want)
	}
	if query.Language != "en" {
		t.Fatalf("unexpected language: %q", query.Language)
	}

	recent := story
	recent.Metadata.FirstPublished = now.Add(-3 * time.Hour)
	if got := BuildQuery(recent, now, 7*24*time.Hour, 6).From; !got.Equal(recent.Metadata.FirstPublished) {
		t.Fatalf("expected first-published lower bound, got %s", got)
	}
}

type fakeRetention struct {
	stories []domain.Story
	cutoff  time.Time
}

func (f *fakeRetention) ListStoriesOlderThan(_ context.Context, cutoff time.Time, _ int) ([]domain.Story, error) {
	f.cutoff = cutoff
	return f.stories, nil
}

func TestSweepRetentionUsesRetentionWindow(t *testing.T) {
	t.Parallel()

	retention := &fakeRetention{stories: []domain.Story{{ID: "old"}}}
	scheduler, err := New(nil, &fakeIngester{}, retention, zerolog.Nop(), Options{DatabaseOnly: true, Retention: 48 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := time.Now().UTC().Add(-48 * time.Hour)
	if err := scheduler.SweepRetention(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retention.cutoff.Before(before.Add(-time.Minute)) || retention.cutoff.After(before.Add(time.Minute)) {
		t.Fatalf("unexpected cutoff: %s", retention.cutoff)
	}
}
