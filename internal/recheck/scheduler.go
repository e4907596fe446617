package recheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
	"github.com/kamaleldincom/Briefs-sub000/internal/newsapi"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
)

const (
	DefaultInterval     = 15 * time.Minute
	DefaultActiveWindow = 24 * time.Hour
	DefaultBatchSize    = 5
	DefaultMaxLookback  = 7 * 24 * time.Hour
	DefaultMaxTerms     = 6
	defaultActiveLimit  = 200
	retentionSchedule   = "@daily"
	retentionSweepLimit = 500
	jobTimeout          = 30 * time.Minute
)

// Fetcher queries the article source. Rate limiting is signalled with
// newsapi.ErrRateLimited.
type Fetcher interface {
	Fetch(ctx context.Context, q newsapi.Query) ([]domain.SourceArticle, error)
}

type Ingester interface {
	IngestBatch(ctx context.Context, articles []domain.SourceArticle) pipeline.BatchResult
	ActiveStories(ctx context.Context, window time.Duration, limit int) ([]domain.Story, error)
}

type RetentionStore interface {
	ListStoriesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Story, error)
}

type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration
	ActiveWindow time.Duration
	ActiveLimit  int
	BatchSize    int
	BatchPause   time.Duration
	MaxLookback  time.Duration
	MaxTerms     int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// DatabaseOnly disables every outbound fetch; runs become no-ops.
	DatabaseOnly bool
	Retention    time.Duration
}

// Report summarizes one recheck run.
type Report struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Stories       int           `json:"stories"`
	Fetched       int           `json:"fetched"`
	Created       int           `json:"created"`
	Linked        int           `json:"linked"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	RateLimited   bool          `json:"rate_limited"`
	BackoffFor    time.Duration `json:"backoff_for,omitempty"`
	SkippedReason string        `json:"skipped_reason,omitempty"`
}

// Status is the scheduler's externally visible state.
type Status struct {
	State             State     `json:"state"`
	Running           bool      `json:"running"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	BackoffUntil      time.Time `json:"backoff_until,omitempty"`
	LastRun           *Report   `json:"last_run,omitempty"`
}

// Scheduler periodically re-queries the article source for active stories
// and feeds the results back into ingestion.
type Scheduler struct {
	fetcher   Fetcher
	ingester  Ingester
	retention RetentionStore
	backoff   *Backoff
	logger    zerolog.Logger
	opts      Options

	running atomic.Bool

	mu       sync.Mutex
	cron     *cron.Cron
	lastRun  *Report
	cancel   context.CancelFunc
	firstRun chan struct{}
}

// New builds a scheduler. fetcher may be nil only when DatabaseOnly is set;
// retention may be nil to disable the retention sweep.
func New(fetcher Fetcher, ingester Ingester, retention RetentionStore, logger zerolog.Logger, opts Options) (*Scheduler, error) {
	if ingester == nil {
		return nil, fmt.Errorf("recheck ingester is required")
	}
	if fetcher == nil && !opts.DatabaseOnly {
		return nil, fmt.Errorf("recheck fetcher is required unless database-only mode is enabled")
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = DefaultActiveWindow
	}
	if opts.ActiveLimit <= 0 {
		opts.ActiveLimit = defaultActiveLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxLookback <= 0 {
		opts.MaxLookback = DefaultMaxLookback
	}
	if opts.MaxTerms <= 0 {
		opts.MaxTerms = DefaultMaxTerms
	}

	return &Scheduler{
		fetcher:   fetcher,
		ingester:  ingester,
		retention: retention,
		backoff:   NewBackoff(opts.BackoffBase, opts.BackoffMax),
		logger:    logger,
		opts:      opts,
	}, nil
}

// Start runs the first recheck after the initial delay and then every
// interval until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("recheck scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})),
	)

	schedule := "@every " + s.opts.Interval.String()
	if _, err := c.AddFunc(schedule, func() { s.runJob(runCtx, "recheck", s.runRecheck) }); err != nil {
		cancel()
		return fmt.Errorf("schedule recheck job: %w", err)
	}
	if s.retention != nil && s.opts.Retention > 0 {
		if _, err := c.AddFunc(retentionSchedule, func() { s.runJob(runCtx, "retention", s.SweepRetention) }); err != nil {
			cancel()
			return fmt.Errorf("schedule retention job: %w", err)
		}
	}

	done := make(chan struct{})
	s.cron = c
	s.cancel = cancel
	s.firstRun = done

	go func() {
		defer close(done)
		if s.opts.InitialDelay > 0 {
			timer := time.NewTimer(s.opts.InitialDelay)
			defer timer.Stop()
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
			}
		}
		s.runJob(runCtx, "recheck", s.runRecheck)

		// Stop cancels runCtx under s.mu, so cron is never started after it.
		s.mu.Lock()
		defer s.mu.Unlock()
		if runCtx.Err() == nil {
			c.Start()
		}
	}()

	s.logger.Info().
		Dur("initial_delay", s.opts.InitialDelay).
		Dur("interval", s.opts.Interval).
		Bool("database_only", s.opts.DatabaseOnly).
		Msg("recheck scheduler started")
	return nil
}

// Stop halts scheduling and waits for the first run and any running cron job
// to finish, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel, firstRun := s.cron, s.cancel, s.firstRun
	s.cron, s.cancel, s.firstRun = nil, nil, nil
	if cancel != nil {
		cancel()
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-firstRun:
	case <-ctx.Done():
		s.logger.Warn().Msg("recheck scheduler stop timed out waiting for first run")
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("recheck scheduler stop timed out waiting for running job")
		return
	}
	s.logger.Info().Msg("recheck scheduler stopped")
}

func (s *Scheduler) runRecheck(ctx context.Context) error {
	_, err := s.RunOnce(ctx)
	return err
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	started := time.Now()
	if err := job(jobCtx); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		return
	}
	s.logger.Debug().Str("job", name).Dur("elapsed", time.Since(started)).Msg("scheduled job completed")
}

// RunOnce performs a single recheck pass. It never returns an error for
// article-source or oracle failures; those are logged and counted.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	now := globaltime.UTC()
	report := Report{StartedAt: now}

	if s.opts.DatabaseOnly {
		report.SkippedReason = "database_only"
		s.logger.Debug().Msg("recheck skipped: database-only mode")
		return s.finish(report, now), nil
	}
	if !s.backoff.Allow(now) {
		report.SkippedReason = "backoff"
		s.logger.Info().Time("backoff_until", s.backoff.Until()).Msg("recheck skipped: rate-limit backoff active")
		return s.finish(report, now), nil
	}
	if !s.running.CompareAndSwap(false, true) {
		report.SkippedReason = "already_running"
		return report, nil
	}
	defer s.running.Store(false)

	stories, err := s.ingester.ActiveStories(ctx, s.opts.ActiveWindow, s.opts.ActiveLimit)
	if err != nil {
		return report, fmt.Errorf("list active stories: %w", err)
	}
	report.Stories = len(stories)

	var (
		mu          sync.Mutex
		rateLimited atomic.Bool
	)
	for start := 0; start < len(stories); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(stories))

		var g errgroup.Group
		for _, story := range stories[start:end] {
			g.Go(func() error {
				outcome := s.recheckStory(ctx, story, now)
				if outcome.rateLimited {
					rateLimited.Store(true)
				}
				mu.Lock()
				report.Fetched += outcome.fetched
				report.Created += outcome.batch.Created
				report.Linked += outcome.batch.Linked
				report.Skipped += outcome.batch.Skipped
				report.Failed += outcome.batch.Failed
				if outcome.failed {
					report.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if rateLimited.Load() {
			report.RateLimited = true
			report.BackoffFor = s.backoff.RecordRateLimit(globaltime.UTC())
			s.logger.Warn().
				Dur("backoff", report.BackoffFor).
				Int("consecutive", s.backoff.ConsecutiveErrors()).
				Msg("article source rate limited, entering backoff")
			return s.finish(report, now), nil
		}

		if end < len(stories) && s.opts.BatchPause > 0 {
			timer := time.NewTimer(s.opts.BatchPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return s.finish(report, now), ctx.Err()
			case <-timer.C:
			}
		}
	}

	s.backoff.RecordSuccess()
	report = s.finish(report, now)
	s.logger.Info().
		Int("stories", report.Stories).
		Int("fetched", report.Fetched).
		Int("created", report.Created).
		Int("linked", report.Linked).
		Int("failed", report.Failed).
		Dur("elapsed", report.Duration).
		Msg("recheck completed")
	return report, nil
}

type storyOutcome struct {
	fetched     int
	batch       pipeline.BatchResult
	rateLimited bool
	failed      bool
}

func (s *Scheduler) recheckStory(ctx context.Context, story domain.Story, now time.Time) storyOutcome {
	query := BuildQuery(story, now, s.opts.MaxLookback, s.opts.MaxTerms)
	if query.Q == "" {
		s.logger.Debug().Str("story_id", story.ID).Msg("recheck skipped story without keywords")
		return storyOutcome{}
	}

	articles, err := s.fetcher.Fetch(ctx, query)
	if err != nil {
		if errors.Is(err, newsapi.ErrRateLimited) {
			return storyOutcome{rateLimited: true}
		}
		s.logger.Warn().Err(err).Str("story_id", story.ID).Str("query", query.Q).Msg("recheck fetch failed")
		return storyOutcome{failed: true}
	}
	if len(articles) == 0 {
		return storyOutcome{}
	}

	return storyOutcome{
		fetched: len(articles),
		batch:   s.ingester.IngestBatch(ctx, articles),
	}
}

func (s *Scheduler) finish(report Report, started time.Time) Report {
	report.Duration = globaltime.UTC().Sub(started)
	s.mu.Lock()
	stored := report
	s.lastRun = &stored
	s.mu.Unlock()
	return report
}

// SweepRetention logs stories that fell out of the retention window. Stories
// are never deleted here.
func (s *Scheduler) SweepRetention(ctx context.Context) error {
	if s.retention == nil || s.opts.Retention <= 0 {
		return nil
	}
	cutoff := globaltime.UTC().Add(-s.opts.Retention)
	stories, err := s.retention.ListStoriesOlderThan(ctx, cutoff, retentionSweepLimit)
	if err != nil {
		return fmt.Errorf("list stories older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	for _, story := range stories {
		s.logger.Info().
			Str("story_id", story.ID).
			Time("last_updated", story.Metadata.LastUpdated).
			Msg("story past retention window")
	}
	if len(stories) > 0 {
		s.logger.Info().Int("count", len(stories)).Time("cutoff", cutoff).Msg("retention sweep found stale stories")
	}
	return nil
}

func (s *Scheduler) Status() Status {
	now := globaltime.UTC()
	status := Status{
		State:             s.backoff.State(now),
		Running:           s.running.Load(),
		ConsecutiveErrors: s.backoff.ConsecutiveErrors(),
	}
	if status.State == StateBackoff {
		status.BackoffUntil = s.backoff.Until()
	}
	s.mu.Lock()
	if s.lastRun != nil {
		last := *s.lastRun
		status.LastRun = &last
	}
	s.mu.Unlock()
	return status
}

// BuildQuery derives an article-source search for story: significant title
// words, then key-point keywords, deduplicated and capped at maxTerms. The
// lower date bound is the story's first publication, clamped to maxLookback.
func BuildQuery(story domain.Story, now time.Time, maxLookback time.Duration, maxTerms int) newsapi.Query {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	terms := make([]string, 0, maxTerms)
	seen := make(map[string]struct{}, maxTerms)
	add := func(words []string) {
		for _, word := range words {
			if len(terms) == maxTerms {
				return
			}
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			terms = append(terms, word)
		}
	}
	add(pipeline.Keywords(story.Title))
	for _, point := range story.Analysis.KeyPoints {
		add(pipeline.Keywords(point.Point))
	}

	from := story.Metadata.FirstPublished.UTC()
	if floor := now.Add(-maxLookback); maxLookback > 0 && from.Before(floor) {
		from = floor
	}

	query := newsapi.Query{
		Q:    strings.Join(terms, " "),
		From: from,
	}
	if lang := strings.TrimSpace(story.Language); len(lang) == 2 {
		query.Language = lang
	}
	return query
}

// cronLogger routes robfig/cron's internal logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
