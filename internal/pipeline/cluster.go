package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
)

const DefaultMaxSourcesPerStory = 10

type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeLinked           Outcome = "linked"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

type IngestResult struct {
	ArticleID         string
	StoryID           string
	Outcome           Outcome
	MatchKind         MatchKind
	Score             float64
	Impact            domain.Impact
	AnalysisRefreshed bool
}

type BatchResult struct {
	Processed int
	Created   int
	Linked    int
	Skipped   int
	Failed    int
}

// Options configures a Manager. Enrich and DetectLanguage are optional hooks
// applied to each article before it is stored.
type Options struct {
	MaxSourcesPerStory int
	Matcher            MatcherOptions
	Enrich             func(ctx context.Context, article domain.SourceArticle) (string, error)
	DetectLanguage     func(text string) string
}

// Manager clusters incoming articles into stories and keeps their analyses
// current.
//
// The match-then-create/link step runs under clusterMu so that two
// near-duplicate articles ingested concurrently cannot both create a story.
// Oracle analysis happens after the lock is released.
type Manager struct {
	store   Store
	oracle  Oracle
	cache   AnalysisCache
	matcher *Matcher
	logger  zerolog.Logger
	opts    Options

	clusterMu sync.Mutex
}

type analysisKind int

const (
	analysisNone analysisKind = iota
	analysisCreate
	analysisUpdate
)

type analysisTask struct {
	kind    analysisKind
	story   domain.Story
	article domain.SourceArticle
}

// NewManager wires the clustering engine. oracle and cache may be nil, in
// which case stories keep their default analysis.
func NewManager(store Store, oracle Oracle, cache AnalysisCache, logger zerolog.Logger, opts Options) *Manager {
	if opts.MaxSourcesPerStory <= 0 {
		opts.MaxSourcesPerStory = DefaultMaxSourcesPerStory
	}
	opts.Matcher = normalizeMatcherOptions(opts.Matcher)

	return &Manager{
		store:   store,
		oracle:  oracle,
		cache:   cache,
		matcher: NewMatcher(store, oracle, logger, opts.Matcher),
		logger:  logger,
		opts:    opts,
	}
}

func (m *Manager) Matcher() *Matcher {
	if m == nil {
		return nil
	}
	return m.matcher
}

// Ingest stores article and assigns it to a story. Ingesting a URL that was
// already processed is a no-op returning the existing assignment.
func (m *Manager) Ingest(ctx context.Context, article domain.SourceArticle) (IngestResult, error) {
	if m == nil || m.store == nil {
		return IngestResult{}, ErrStoreNotInitialized
	}

	article = sanitizeArticle(article)
	if article.URL == "" {
		return IngestResult{}, fmt.Errorf("article url is required")
	}
	if article.Title == "" {
		return IngestResult{}, fmt.Errorf("article title is required for %s", article.URL)
	}

	raw, err := m.storeRawArticle(ctx, article)
	if err != nil {
		return IngestResult{}, err
	}
	if raw.Processed {
		return IngestResult{ArticleID: raw.ID, StoryID: raw.StoryID, Outcome: OutcomeAlreadyProcessed}, nil
	}

	m.clusterMu.Lock()
	result, task, err := m.clusterLocked(ctx, raw)
	m.clusterMu.Unlock()
	if err != nil {
		return IngestResult{}, err
	}

	result.AnalysisRefreshed = m.refreshAnalysis(ctx, task)
	return result, nil
}

// IngestBatch ingests each article independently. Failures are logged and
// counted; they never stop the rest of the batch.
func (m *Manager) IngestBatch(ctx context.Context, articles []domain.SourceArticle) BatchResult {
	var result BatchResult
	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			m.logger.Warn().Err(err).Int("remaining", len(articles)-i).Msg("ingest batch interrupted")
			result.Skipped += len(articles) - i
			break
		}

		result.Processed++
		res, err := m.Ingest(ctx, article)
		if err != nil {
			result.Failed++
			m.logger.Error().Err(err).Str("url", article.URL).Msg("ingest article failed")
			continue
		}

		switch res.Outcome {
		case OutcomeCreated:
			result.Created++
		case OutcomeLinked:
			result.Linked++
		default:
			result.Skipped++
		}
	}
	return result
}

func (m *Manager) storeRawArticle(ctx context.Context, article domain.SourceArticle) (domain.RawArticle, error) {
	existing, err := m.store.GetRawArticleByURL(ctx, article.URL)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrArticleNotFound) {
		return domain.RawArticle{}, fmt.Errorf("lookup raw article %s: %w", article.URL, err)
	}

	if m.opts.Enrich != nil {
		if text, enrichErr := m.opts.Enrich(ctx, article); enrichErr != nil {
			m.logger.Debug().Err(enrichErr).Str("url", article.URL).Msg("content enrichment failed")
		} else if len(text) > len(article.Content) {
			article.Content = text
		}
	}

	now := globaltime.UTC()
	raw := domain.RawArticle{
		ID:            uuid.NewString(),
		SourceArticle: article,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if m.opts.DetectLanguage != nil {
		raw.Language = m.opts.DetectLanguage(article.Title + ". " + article.Description)
	}

	stored, created, err := m.store.StoreRawArticle(ctx, raw)
	if err != nil {
		return domain.RawArticle{}, fmt.Errorf("store raw article %s: %w", article.URL, err)
	}
	if !created {
		m.logger.Debug().Str("url", article.URL).Str("article_id", stored.ID).Msg("raw article already stored")
	}
	return stored, nil
}

func (m *Manager) clusterLocked(ctx context.Context, raw domain.RawArticle) (IngestResult, analysisTask, error) {
	current, err := m.store.GetRawArticleByURL(ctx, raw.SourceArticle.URL)
	if err == nil {
		raw = current
	}
	if raw.Processed {
		return IngestResult{ArticleID: raw.ID, StoryID: raw.StoryID, Outcome: OutcomeAlreadyProcessed}, analysisTask{}, nil
	}

	projection := ProjectArticle(raw)
	match := m.matcher.FindStoryFor(ctx, projection)

	var (
		result IngestResult
		task   analysisTask
	)
	if target, ok := m.chooseTarget(ctx, projection, match); ok {
		result, task, err = m.linkLocked(ctx, target, raw)
	} else {
		result, task, err = m.createLocked(ctx, projection, raw)
	}
	if err != nil {
		return IngestResult{}, analysisTask{}, err
	}
	result.MatchKind = match.Kind
	result.Score = match.Score

	raw.Processed = true
	raw.StoryID = result.StoryID
	raw.UpdatedAt = globaltime.UTC()
	if err := m.store.UpdateRawArticle(ctx, raw); err != nil {
		return IngestResult{}, analysisTask{}, fmt.Errorf("mark raw article %s processed: %w", raw.ID, err)
	}

	m.logger.Info().
		Str("article_id", raw.ID).
		Str("story_id", result.StoryID).
		Str("outcome", string(result.Outcome)).
		Str("match", string(match.Kind)).
		Float64("score", match.Score).
		Msg("article clustered")
	return result, task, nil
}

// chooseTarget resolves a match result into the story the article joins.
// Text matches attach to the main story among the candidates; borderline
// scores are confirmed pairwise first.
func (m *Manager) chooseTarget(ctx context.Context, projection domain.Story, match MatchResult) (domain.Story, bool) {
	switch match.Kind {
	case MatchExactLink:
		return match.Story, true
	case MatchText:
		main, ok := SelectMainStory(match.Candidates)
		if !ok {
			return domain.Story{}, false
		}
		if match.Score >= m.opts.Matcher.OracleBandHigh {
			return main, true
		}

		comparison := m.matcher.CompareStories(ctx, projection, main)
		if !comparison.Similar {
			m.logger.Debug().
				Str("story_id", main.ID).
				Float64("score", match.Score).
				Bool("used_oracle", comparison.UsedOracle).
				Msg("borderline match rejected")
			return domain.Story{}, false
		}
		return main, true
	default:
		return domain.Story{}, false
	}
}

func (m *Manager) linkLocked(ctx context.Context, story domain.Story, raw domain.RawArticle) (IngestResult, analysisTask, error) {
	now := globaltime.UTC()
	article := raw.SourceArticle

	impact := ClassifyImpact(story, article, now)
	significant := IsSignificantUpdate(story, article, now)

	sources, added := MergeSource(story.Sources, SourceFromArticle(article), m.opts.MaxSourcesPerStory)
	story.Sources = sources
	story.Metadata.TotalSources = len(sources)
	if now.After(story.Metadata.LastUpdated) {
		story.Metadata.LastUpdated = now
	}
	if published := article.PublishedAt.UTC(); !published.IsZero() && published.Before(story.Metadata.FirstPublished) {
		story.Metadata.FirstPublished = published
	}
	story.Metadata.LatestDevelopment = article.Title
	if story.Metadata.ImageURL == "" {
		story.Metadata.ImageURL = article.ImageURL
	}
	story.UpdatedAt = now

	if err := m.store.UpdateStory(ctx, story); err != nil {
		return IngestResult{}, analysisTask{}, fmt.Errorf("update story %s: %w", story.ID, err)
	}

	link, err := m.store.CreateStoryLink(ctx, domain.StoryArticleLink{
		StoryID:          story.ID,
		ArticleID:        raw.ID,
		AddedAt:          now,
		ContributionType: domain.ContributionUpdate,
		Impact:           impact,
	})
	if err != nil {
		return IngestResult{}, analysisTask{}, fmt.Errorf("link article %s to story %s: %w", raw.ID, story.ID, err)
	}

	if added && m.cache != nil {
		m.cache.Invalidate(story.ID)
	}

	task := analysisTask{}
	if significant {
		task = analysisTask{kind: analysisUpdate, story: story, article: article}
	}
	return IngestResult{
		ArticleID: raw.ID,
		StoryID:   story.ID,
		Outcome:   OutcomeLinked,
		Impact:    link.Impact,
	}, task, nil
}

func (m *Manager) createLocked(ctx context.Context, projection domain.Story, raw domain.RawArticle) (IngestResult, analysisTask, error) {
	now := globaltime.UTC()

	story := projection
	story.ID = uuid.NewString()
	story.CreatedAt = now
	story.UpdatedAt = now
	if story.Metadata.LastUpdated.Before(now) {
		story.Metadata.LastUpdated = now
	}
	story.Metadata.TotalSources = len(story.Sources)
	story.Metadata.LatestDevelopment = story.Title
	story.Analysis = DefaultAnalysis(story)

	stored, err := m.store.AddStory(ctx, story)
	if err != nil {
		return IngestResult{}, analysisTask{}, fmt.Errorf("add story for article %s: %w", raw.ID, err)
	}

	if _, err := m.store.CreateStoryLink(ctx, domain.StoryArticleLink{
		StoryID:          stored.ID,
		ArticleID:        raw.ID,
		AddedAt:          now,
		ContributionType: domain.ContributionOriginal,
		Impact:           domain.ImpactMajor,
	}); err != nil {
		return IngestResult{}, analysisTask{}, fmt.Errorf("link article %s to new story %s: %w", raw.ID, stored.ID, err)
	}

	return IngestResult{
		ArticleID: raw.ID,
		StoryID:   stored.ID,
		Outcome:   OutcomeCreated,
		Impact:    domain.ImpactMajor,
	}, analysisTask{kind: analysisCreate, story: stored}, nil
}

// refreshAnalysis runs the oracle for a clustered article. Failures keep the
// story's current analysis and are only logged.
func (m *Manager) refreshAnalysis(ctx context.Context, task analysisTask) bool {
	if task.kind == analysisNone || m.oracle == nil {
		return false
	}

	var (
		analysis domain.StoryAnalysis
		err      error
	)
	switch task.kind {
	case analysisCreate:
		analysis, err = m.AnalyzeStories(ctx, []domain.Story{task.story})
		if err != nil {
			m.logger.Warn().Err(err).Str("story_id", task.story.ID).Msg("initial story analysis failed, keeping default")
			return false
		}
	case analysisUpdate:
		update, updateErr := m.oracle.UpdateAnalysis(ctx, task.story.Analysis, task.article)
		if updateErr != nil {
			m.logger.Warn().Err(updateErr).Str("story_id", task.story.ID).Msg("analysis update failed, keeping existing")
			return false
		}
		if update.IsEmpty() {
			return false
		}
		analysis = MergeAnalysis(task.story.Analysis, update, globaltime.UTC())
		if m.cache != nil {
			m.cache.Put([]string{task.story.ID}, analysis)
		}
	}

	if err := m.store.UpdateStoryAnalysis(ctx, task.story.ID, analysis); err != nil {
		m.logger.Error().Err(err).Str("story_id", task.story.ID).Msg("persist story analysis failed")
		return false
	}
	return true
}

// AnalyzeStories returns one analysis covering stories, served from the cache
// when a fresh entry exists. The result is always usable: when the oracle
// fails the error is returned alongside the default analysis.
func (m *Manager) AnalyzeStories(ctx context.Context, stories []domain.Story) (domain.StoryAnalysis, error) {
	if len(stories) == 0 {
		return domain.StoryAnalysis{}, fmt.Errorf("no stories to analyze")
	}

	ids := make([]string, 0, len(stories))
	for _, story := range stories {
		ids = append(ids, story.ID)
	}
	if m.cache != nil {
		if cached, ok := m.cache.Get(ids); ok {
			return cached, nil
		}
	}

	base := combinedDefaultAnalysis(stories)
	if m.oracle == nil {
		return base, nil
	}

	update, err := m.oracle.Analyze(ctx, stories)
	if err != nil {
		return base, fmt.Errorf("oracle analyze %s: %w", strings.Join(ids, ","), err)
	}
	if update.IsEmpty() {
		return base, nil
	}

	analysis := MergeAnalysis(domain.StoryAnalysis{}, update, globaltime.UTC())
	if analysis.Summary == "" {
		analysis.Summary = base.Summary
	}
	if len(analysis.Timeline) == 0 {
		analysis.Timeline = base.Timeline
	}
	if m.cache != nil {
		m.cache.Put(ids, analysis)
	}
	return analysis, nil
}

func combinedDefaultAnalysis(stories []domain.Story) domain.StoryAnalysis {
	base := DefaultAnalysis(stories[0])
	for _, story := range stories[1:] {
		extra := DefaultAnalysis(story)
		base.KeyPoints = mergeKeyPoints(base.KeyPoints, extra.KeyPoints)
		base.MainPerspectives = unionStrings(base.MainPerspectives, extra.MainPerspectives)
		base.Perspectives = mergePerspectives(base.Perspectives, extra.Perspectives)
		base.Timeline = append(base.Timeline, extra.Timeline...)
	}
	sort.SliceStable(base.Timeline, func(i, j int) bool {
		return base.Timeline[i].Timestamp.After(base.Timeline[j].Timestamp)
	})
	return base
}

// StoryDetail loads a story with its article links.
func (m *Manager) StoryDetail(ctx context.Context, id string) (domain.Story, []domain.StoryArticleLink, error) {
	if m == nil || m.store == nil {
		return domain.Story{}, nil, ErrStoreNotInitialized
	}
	story, err := m.store.GetStory(ctx, id)
	if err != nil {
		return domain.Story{}, nil, err
	}
	links, err := m.store.GetStoryLinks(ctx, id)
	if err != nil {
		return domain.Story{}, nil, fmt.Errorf("load links for story %s: %w", id, err)
	}
	return story, links, nil
}

// ActiveStories lists stories updated within window, most recent first.
func (m *Manager) ActiveStories(ctx context.Context, window time.Duration, limit int) ([]domain.Story, error) {
	if m == nil || m.store == nil {
		return nil, ErrStoreNotInitialized
	}
	return m.store.ListActiveStories(ctx, globaltime.UTC().Add(-window), limit)
}

func sanitizeArticle(article domain.SourceArticle) domain.SourceArticle {
	article.Title = stripMarkup(article.Title)
	article.Description = stripMarkup(article.Description)
	article.Content = stripMarkup(article.Content)
	article.URL = NormalizeURL(article.URL)
	article.ImageURL = strings.TrimSpace(article.ImageURL)
	article.SourceID = strings.TrimSpace(article.SourceID)
	article.SourceName = strings.TrimSpace(article.SourceName)
	if !article.PublishedAt.IsZero() {
		article.PublishedAt = article.PublishedAt.UTC()
	}
	return article
}
