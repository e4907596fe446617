package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

func budgetArticleA(published time.Time) domain.SourceArticle {
	return domain.SourceArticle{
		Title:       "City council approves budget",
		Description: "The city council approved the annual municipal budget on Tuesday evening.",
		URL:         "https://gazette.example.com/council-budget",
		PublishedAt: published,
		SourceName:  "City Gazette",
	}
}

func budgetArticleB(published time.Time) domain.SourceArticle {
	return domain.SourceArticle{
		Title:       "Council approves city budget",
		Description: "Council members voted to approve the city's annual budget.",
		URL:         "https://herald.example.com/city-budget-vote",
		PublishedAt: published,
		SourceName:  "Daily Herald",
	}
}

func TestIngestClustersEndToEnd(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, nil, nil, zerolog.Nop(), Options{})
	ctx := context.Background()
	published := time.Now().UTC().Add(-2 * time.Hour)

	first, err := manager.Ingest(ctx, budgetArticleA(published))
	if err != nil {
		t.Fatalf("unexpected error ingesting A: %v", err)
	}
	if first.Outcome != OutcomeCreated {
		t.Fatalf("unexpected outcome for A: got %s want %s", first.Outcome, OutcomeCreated)
	}

	second, err := manager.Ingest(ctx, budgetArticleB(published.Add(30*time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error ingesting B: %v", err)
	}
	if second.Outcome != OutcomeLinked || second.StoryID != first.StoryID {
		t.Fatalf("expected B to join A's story, got %+v", second)
	}
	if second.Impact != domain.ImpactMinor {
		t.Fatalf("unexpected impact for B: got %s want %s", second.Impact, domain.ImpactMinor)
	}

	story, links, err := manager.StoryDetail(ctx, first.StoryID)
	if err != nil {
		t.Fatalf("unexpected error loading story: %v", err)
	}
	if len(story.Sources) != 2 || story.Metadata.TotalSources != 2 {
		t.Fatalf("unexpected sources: %d (total %d)", len(story.Sources), story.Metadata.TotalSources)
	}
	if len(links) != 2 {
		t.Fatalf("unexpected link count: got %d want 2", len(links))
	}
	if links[0].ContributionType != domain.ContributionOriginal || links[1].ContributionType != domain.ContributionUpdate {
		t.Fatalf("unexpected contribution types: %s, %s", links[0].ContributionType, links[1].ContributionType)
	}
	if links[1].Impact != domain.ImpactMinor {
		t.Fatalf("unexpected link impact: got %s want %s", links[1].Impact, domain.ImpactMinor)
	}

	third, err := manager.Ingest(ctx, domain.SourceArticle{
		Title:       "Storm closes highway",
		Description: "Heavy snow shut the interstate overnight.",
		URL:         "https://weather.example.com/storm",
		PublishedAt: published,
		SourceName:  "Weather Desk",
	})
	if err != nil {
		t.Fatalf("unexpected error ingesting C: %v", err)
	}
	if third.Outcome != OutcomeCreated || third.StoryID == first.StoryID {
		t.Fatalf("expected C to create its own story, got %+v", third)
	}
	if store.storyCount() != 2 {
		t.Fatalf("unexpected story count: got %d want 2", store.storyCount())
	}

	raw, err := store.GetRawArticleByURL(ctx, budgetArticleB(published).URL)
	if err != nil {
		t.Fatalf("unexpected error loading raw article: %v", err)
	}
	if !raw.Processed || raw.StoryID != first.StoryID {
		t.Fatalf("expected raw article to be processed into story, got %+v", raw)
	}
}

func TestIngestIsIdempotentPerURL(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, nil, nil, zerolog.Nop(), Options{})
	ctx := context.Background()
	article := budgetArticleA(time.Now().UTC())

	first, err := manager.Ingest(ctx, article)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	variant := article
	variant.URL = article.URL + "?utm_source=newsletter#comments"
	second, err := manager.Ingest(ctx, variant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.Outcome != OutcomeAlreadyProcessed || second.StoryID != first.StoryID {
		t.Fatalf("unexpected second result: %+v", second)
	}
	if store.rawCount() != 1 || store.linkCount() != 1 || store.storyCount() != 1 {
		t.Fatalf("unexpected counts: raws=%d links=%d stories=%d", store.rawCount(), store.linkCount(), store.storyCount())
	}
}

func TestConcurrentNearDuplicatesShareOneStory(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, nil, nil, zerolog.Nop(), Options{})
	published := time.Now().UTC().Add(-time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			article := budgetArticleA(published)
			article.URL = fmt.Sprintf("https://outlet%d.example.com/budget", i)
			if _, err := manager.Ingest(context.Background(), article); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.storyCount() != 1 {
		t.Fatalf("expected one story for concurrent duplicates, got %d", store.storyCount())
	}
	if store.linkCount() != 8 {
		t.Fatalf("unexpected link count: got %d want 8", store.linkCount())
	}
}

func TestIngestCapsSourcesPerStory(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	cache := newMapCache()
	manager := NewManager(store, nil, cache, zerolog.Nop(), Options{MaxSourcesPerStory: 5})
	ctx := context.Background()
	published := time.Now().UTC().Add(-time.Hour)

	var storyID string
	for i := 0; i < 6; i++ {
		article := budgetArticleA(published)
		article.URL = fmt.Sprintf("https://outlet%d.example.com/budget", i)
		result, err := manager.Ingest(ctx, article)
		if err != nil {
			t.Fatalf("unexpected error on article %d: %v", i, err)
		}
		storyID = result.StoryID
	}

	story, err := store.GetStory(ctx, storyID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(story.Sources) != 5 || story.Metadata.TotalSources != 5 {
		t.Fatalf("unexpected sources: len=%d total=%d", len(story.Sources), story.Metadata.TotalSources)
	}
	if story.Sources[4].URL != "https://outlet4.example.com/budget" {
		t.Fatalf("expected earlier sources to be kept, got %+v", story.Sources)
	}
	// Four links added a source; the sixth was trimmed.
	if len(cache.invalidated) != 4 {
		t.Fatalf("unexpected invalidations: got %d want 4", len(cache.invalidated))
	}
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	manager := NewManager(store, nil, nil, zerolog.Nop(), Options{})
	published := time.Now().UTC()

	result := manager.IngestBatch(context.Background(), []domain.SourceArticle{
		budgetArticleA(published),
		{Title: "No url here"},
		{URL: "https://example.com/untitled"},
		budgetArticleB(published),
		budgetArticleA(published),
	})

	want := BatchResult{Processed: 5, Created: 1, Linked: 1, Skipped: 1, Failed: 2}
	if result != want {
		t.Fatalf("unexpected batch result: got %+v want %+v", result, want)
	}
}

func TestIngestBatchStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	manager := NewManager(newMemStore(), nil, nil, zerolog.Nop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := manager.IngestBatch(ctx, []domain.SourceArticle{budgetArticleA(time.Now()), budgetArticleB(time.Now())})
	if result.Processed != 0 || result.Skipped != 2 {
		t.Fatalf("unexpected batch result: %+v", result)
	}
}

func TestIngestKeepsDefaultAnalysisWhenOracleFails(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	oracle := &fakeOracle{analyzeErr: errors.New("oracle unavailable")}
	manager := NewManager(store, oracle, newMapCache(), zerolog.Nop(), Options{})
	ctx := context.Background()

	result, err := manager.Ingest(ctx, budgetArticleA(time.Now().UTC()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCreated || result.AnalysisRefreshed {
		t.Fatalf("unexpected result: %+v", result)
	}

	story, err := store.GetStory(ctx, result.StoryID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if story.Analysis.Summary != budgetArticleA(time.Now()).Description {
		t.Fatalf("expected default analysis summary, got %q", story.Analysis.Summary)
	}
	if len(story.Analysis.KeyPoints) != 1 {
		t.Fatalf("unexpected default key points: %+v", story.Analysis.KeyPoints)
	}
}

func TestIngestAppliesOracleAnalysis(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	cache := newMapCache()
	oracle := &fakeOracle{
		analysis: domain.AnalysisUpdate{
			Summary:   strPtr("Council passes the annual budget"),
			KeyPoints: []domain.KeyPoint{{Point: "Vote was 7-2", Importance: domain.ImportanceHigh}},
		},
		update: domain.AnalysisUpdate{
			KeyPoints: []domain.KeyPoint{{Point: "Members cite transit funding", Importance: domain.ImportanceMedium}},
		},
	}
	manager := NewManager(store, oracle, cache, zerolog.Nop(), Options{})
	ctx := context.Background()
	published := time.Now().UTC().Add(-time.Hour)

	created, err := manager.Ingest(ctx, budgetArticleA(published))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created.AnalysisRefreshed {
		t.Fatalf("expected initial analysis to be refreshed")
	}

	linked, err := manager.Ingest(ctx, budgetArticleB(published))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !linked.AnalysisRefreshed {
		t.Fatalf("expected update analysis for thinly sourced story")
	}

	story, err := store.GetStory(ctx, created.StoryID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if story.Analysis.Summary != "Council passes the annual budget" {
		t.Fatalf("unexpected summary: %q", story.Analysis.Summary)
	}
	if len(story.Analysis.KeyPoints) != 2 || story.Analysis.KeyPoints[0].Point != "Members cite transit funding" {
		t.Fatalf("unexpected key points: %+v", story.Analysis.KeyPoints)
	}
	if oracle.analyzeCall != 1 || oracle.updateCall != 1 {
		t.Fatalf("unexpected oracle calls: analyze=%d update=%d", oracle.analyzeCall, oracle.updateCall)
	}
	if cached, ok := cache.Get([]string{created.StoryID}); !ok || len(cached.KeyPoints) != 2 {
		t.Fatalf("expected merged analysis to be cached, got %+v (ok=%v)", cached, ok)
	}
}

func TestAnalyzeStoriesServesFromCache(t *testing.T) {
	t.Parallel()

	cache := newMapCache()
	cache.Put([]string{"s2", "s1"}, domain.StoryAnalysis{Summary: "cached"})
	oracle := &fakeOracle{}
	manager := NewManager(newMemStore(), oracle, cache, zerolog.Nop(), Options{})

	analysis, err := manager.AnalyzeStories(context.Background(), []domain.Story{{ID: "s1"}, {ID: "s2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Summary != "cached" || oracle.analyzeCall != 0 {
		t.Fatalf("expected cached analysis without oracle call, got %q (calls=%d)", analysis.Summary, oracle.analyzeCall)
	}
}

func TestIngestRequiresStore(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, nil, nil, zerolog.Nop(), Options{})
	if _, err := manager.Ingest(context.Background(), budgetArticleA(time.Now())); !errors.Is(err, ErrStoreNotInitialized) {
		t.Fatalf("unexpected error: got %v want %v", err, ErrStoreNotInitialized)
	}
}
