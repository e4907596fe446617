package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/analysiscache"
	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
	"github.com/kamaleldincom/Briefs-sub000/internal/recheck"
)

const testStoryID = "11111111-1111-1111-1111-111111111111"

type fakeStories struct {
	mu          sync.Mutex
	stories     map[string]domain.Story
	ingested    []domain.SourceArticle
	batches     int
	ingestErr   error
	lastWindow  time.Duration
	analyzed    []domain.Story
	analysisErr error
}

func newFakeStories() *fakeStories {
	return &fakeStories{stories: map[string]domain.Story{
		testStoryID: {ID: testStoryID, Title: "City council approves budget"},
	}}
}

func (f *fakeStories) Ingest(_ context.Context, article domain.SourceArticle) (pipeline.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return pipeline.IngestResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, article)
	return pipeline.IngestResult{ArticleID: "a1", StoryID: testStoryID, Outcome: pipeline.OutcomeCreated}, nil
}

func (f *fakeStories) IngestBatch(_ context.Context, articles []domain.SourceArticle) pipeline.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	f.ingested = append(f.ingested, articles...)
	return pipeline.BatchResult{Processed: len(articles), Created: 1, Linked: len(articles) - 1}
}

func (f *fakeStories) AnalyzeStories(_ context.Context, stories []domain.Story) (domain.StoryAnalysis, error) {
	f.analyzed = stories
	if f.analysisErr != nil {
		return domain.StoryAnalysis{}, f.analysisErr
	}
	return domain.StoryAnalysis{Summary: "combined"}, nil
}

func (f *fakeStories) StoryDetail(_ context.Context, id string) (domain.Story, []domain.StoryArticleLink, error) {
	story, ok := f.stories[id]
	if !ok {
		return domain.Story{}, nil, pipeline.ErrStoryNotFound
	}
	return story, []domain.StoryArticleLink{{StoryID: id, ArticleID: "a1", ContributionType: domain.ContributionOriginal, Impact: domain.ImpactMajor}}, nil
}

func (f *fakeStories) ActiveStories(_ context.Context, window time.Duration, limit int) ([]domain.Story, error) {
	f.lastWindow = window
	out := make([]domain.Story, 0, len(f.stories))
	for _, story := range f.stories {
		out = append(out, story)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeRechecker struct {
	runs int
}

func (f *fakeRechecker) RunOnce(context.Context) (recheck.Report, error) {
	f.runs++
	return recheck.Report{Stories: 3, Linked: 2}, nil
}

func (f *fakeRechecker) Status() recheck.Status {
	return recheck.Status{State: recheck.StateIdle}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(deps Deps) *Server {
	return NewServer(deps, zerolog.Nop(), Options{})
}

func newJSONContext(
	method string,
	path string,
	body string,
) (*echo.Echo, echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e, e.NewContext(req, rec), rec
}

func serve(t *testing.T, server *Server, method, path, body string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealthReportsDatabaseState(t *testing.T) {
	t.Parallel()

	rec, resp := serve(t, newTestServer(Deps{Stories: newFakeStories(), DB: fakePinger{}}), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, resp)
	}

	rec, resp = serve(t, newTestServer(Deps{Stories: newFakeStories(), DB: fakePinger{err: errors.New("down")}}), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "error" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, resp)
	}
}

func TestIngestSingleArticle(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	rec, resp := serve(t, newTestServer(Deps{Stories: stories}), http.MethodPost, "/api/v1/articles",
		`{"title":"City council approves budget","url":"https://gazette.example.com/budget","sourceName":"City Gazette","publishedAt":"2026-03-01T10:00:00Z"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	data, _ := resp.Data.(map[string]any)
	if data["story_id"] != testStoryID || data["outcome"] != "created" {
		t.Fatalf("unexpected data: %+v", resp.Data)
	}
	if len(stories.ingested) != 1 || stories.batches != 0 {
		t.Fatalf("expected single ingest, got %d articles in %d batches", len(stories.ingested), stories.batches)
	}
}

func TestIngestArrayUsesBatch(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	rec, resp := serve(t, newTestServer(Deps{Stories: stories}), http.MethodPost, "/api/v1/articles", `[
		{"title":"A","url":"https://a.example.com/1","sourceName":"A"},
		{"title":"B","url":"https://b.example.com/1","sourceName":"B"}
	]`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	data, _ := resp.Data.(map[string]any)
	if data["processed"] != float64(2) || stories.batches != 1 {
		t.Fatalf("unexpected batch response: %+v (batches=%d)", resp.Data, stories.batches)
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	rec, resp := serve(t, newTestServer(Deps{Stories: stories}), http.MethodPost, "/api/v1/articles", `{"title":"No url","sourceName":"A"}`)
	if rec.Code != http.StatusBadRequest || resp.Status != "fail" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, resp)
	}
	if len(stories.ingested) != 0 {
		t.Fatalf("invalid payload must not be ingested")
	}
}

func TestIngestStoreUnavailable(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	stories.ingestErr = pipeline.ErrStoreNotInitialized
	rec, _ := serve(t, newTestServer(Deps{Stories: stories}), http.MethodPost, "/api/v1/articles",
		`{"title":"A","url":"https://a.example.com/1","sourceName":"A"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStoryDetail(t *testing.T) {
	t.Parallel()

	server := newTestServer(Deps{Stories: newFakeStories()})

	rec, resp := serve(t, server, http.MethodGet, "/api/v1/stories/"+testStoryID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	data, _ := resp.Data.(map[string]any)
	if links, _ := data["links"].([]any); len(links) != 1 {
		t.Fatalf("unexpected links: %+v", data["links"])
	}

	rec, _ = serve(t, server, http.MethodGet, "/api/v1/stories/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for bad id: got %d want %d", rec.Code, http.StatusBadRequest)
	}

	rec, _ = serve(t, server, http.MethodGet, "/api/v1/stories/22222222-2222-2222-2222-222222222222", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for missing story: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStoriesListValidatesParams(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	server := newTestServer(Deps{Stories: stories})

	rec, _ := serve(t, server, http.MethodGet, "/api/v1/stories?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}

	rec, resp := serve(t, server, http.MethodGet, "/api/v1/stories?limit=5&window_hours=6", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if stories.lastWindow != 6*time.Hour {
		t.Fatalf("unexpected window: got %s want %s", stories.lastWindow, 6*time.Hour)
	}
	data, _ := resp.Data.(map[string]any)
	if items, _ := data["items"].([]any); len(items) != 1 {
		t.Fatalf("unexpected items: %+v", data["items"])
	}
}

func TestHandleAnalyze(t *testing.T) {
	t.Parallel()

	stories := newFakeStories()
	server := newTestServer(Deps{Stories: stories})

	_, c, rec := newJSONContext(http.MethodPost, "/api/v1/analysis", `{"story_ids":["`+testStoryID+`","`+testStoryID+`"]}`)
	if err := server.handleAnalyze(c); err != nil {
		t.Fatalf("handleAnalyze returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(stories.analyzed) != 1 {
		t.Fatalf("expected duplicate ids collapsed, got %d stories", len(stories.analyzed))
	}

	_, c, rec = newJSONContext(http.MethodPost, "/api/v1/analysis", `{"story_ids":[]}`)
	if err := server.handleAnalyze(c); err != nil {
		t.Fatalf("handleAnalyze returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for empty ids: got %d want %d", rec.Code, http.StatusBadRequest)
	}

	_, c, rec = newJSONContext(http.MethodPost, "/api/v1/analysis", `{"story_ids":["22222222-2222-2222-2222-222222222222"]}`)
	if err := server.handleAnalyze(c); err != nil {
		t.Fatalf("handleAnalyze returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for missing story: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCacheAndRecheckEndpoints(t *testing.T) {
	t.Parallel()

	disabled := newTestServer(Deps{Stories: newFakeStories()})
	for _, path := range []string{"/api/v1/analysis-cache", "/api/v1/recheck", "/api/v1/stats"} {
		rec, _ := serve(t, disabled, http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status for %s: got %d want %d", path, rec.Code, http.StatusServiceUnavailable)
		}
	}

	rechecker := &fakeRechecker{}
	cache := analysiscache.New(analysiscache.Options{})
	cache.Put([]string{testStoryID}, domain.StoryAnalysis{Summary: "cached"})
	server := newTestServer(Deps{Stories: newFakeStories(), Cache: cache, Recheck: rechecker})

	rec, resp := serve(t, server, http.MethodGet, "/api/v1/analysis-cache", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if data, _ := resp.Data.(map[string]any); data["entries"] != float64(1) {
		t.Fatalf("unexpected cache stats: %+v", resp.Data)
	}

	rec, resp = serve(t, server, http.MethodPost, "/api/v1/recheck", "")
	if rec.Code != http.StatusOK || rechecker.runs != 1 {
		t.Fatalf("unexpected recheck response: %d runs=%d", rec.Code, rechecker.runs)
	}
	if data, _ := resp.Data.(map[string]any); data["stories"] != float64(3) {
		t.Fatalf("unexpected report: %+v", resp.Data)
	}
}

func TestUnknownRouteUsesJSendFailure(t *testing.T) {
	t.Parallel()

	rec, resp := serve(t, newTestServer(Deps{Stories: newFakeStories()}), http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound || resp.Status != "fail" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, resp)
	}
}
