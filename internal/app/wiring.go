package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/analysiscache"
	"github.com/kamaleldincom/Briefs-sub000/internal/config"
	"github.com/kamaleldincom/Briefs-sub000/internal/db"
	"github.com/kamaleldincom/Briefs-sub000/internal/langdetect"
	"github.com/kamaleldincom/Briefs-sub000/internal/newsapi"
	"github.com/kamaleldincom/Briefs-sub000/internal/oracle"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
	"github.com/kamaleldincom/Briefs-sub000/internal/reader"
	"github.com/kamaleldincom/Briefs-sub000/internal/recheck"
)

// engine bundles the long-lived collaborators every command shares.
type engine struct {
	pool    *db.Pool
	store   *db.Store
	cache   *analysiscache.Cache
	news    *newsapi.Client
	manager *pipeline.Manager
}

func openEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	eng, err := buildEngine(pool, cfg, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return eng, nil
}

// buildEngine wires the pipeline around pool. The oracle and article source
// are optional; missing API keys leave them nil and the engine degrades to
// heuristics and database-only operation.
func buildEngine(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	eng := &engine{
		pool:  pool,
		store: db.NewStore(pool),
		cache: analysiscache.New(analysiscache.Options{
			TTL:        cfg.AnalysisCacheTTL,
			MaxEntries: cfg.AnalysisCacheSize,
		}),
	}

	var analysisOracle pipeline.Oracle
	if cfg.OracleEnabled() {
		client, err := oracle.New(oracle.Options{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.OracleTimeout,
		}, logger.With().Str("component", "oracle").Logger())
		if err != nil {
			return nil, fmt.Errorf("init oracle: %w", err)
		}
		analysisOracle = client
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set; stories keep heuristic analysis")
	}

	if !cfg.DatabaseOnly {
		client, err := newsapi.New(newsapi.Options{
			BaseURL:  cfg.NewsAPIBaseURL,
			APIKey:   cfg.NewsAPIKey,
			PageSize: cfg.NewsAPIPageSize,
		})
		switch {
		case err == nil:
			eng.news = client
		case errors.Is(err, newsapi.ErrNotConfigured):
			logger.Warn().Msg("NEWSAPI_KEY not set; article fetches are disabled")
		default:
			return nil, fmt.Errorf("init article source: %w", err)
		}
	}

	eng.manager = pipeline.NewManager(eng.store, analysisOracle, eng.cache, logger.With().Str("component", "cluster").Logger(), managerOptions(cfg))
	return eng, nil
}

func managerOptions(cfg *config.Config) pipeline.Options {
	opts := pipeline.Options{
		MaxSourcesPerStory: cfg.MaxSourcesPerStory,
		Matcher: pipeline.MatcherOptions{
			Threshold:      cfg.MatchThreshold,
			Window:         cfg.MatchWindow,
			OracleBandLow:  cfg.OracleBandLow,
			OracleBandHigh: cfg.OracleBandHigh,
		},
		DetectLanguage: langdetect.DetectISO6391,
	}
	if cfg.EnrichContent && !cfg.DatabaseOnly {
		opts.Enrich = reader.NewEnricher(reader.FetchOptions{}).Enrich
	}
	return opts
}

func recheckOptions(cfg *config.Config) recheck.Options {
	return recheck.Options{
		Interval:     cfg.RecheckInterval,
		InitialDelay: cfg.RecheckInitialDelay,
		ActiveWindow: cfg.ActiveStoryWindow,
		BatchSize:    cfg.RecheckBatchSize,
		BatchPause:   cfg.RecheckBatchPause,
		MaxLookback:  cfg.RecheckMaxLookback,
		BackoffBase:  cfg.BackoffBase,
		BackoffMax:   cfg.BackoffMax,
		DatabaseOnly: cfg.DatabaseOnly,
		Retention:    cfg.StoryRetention,
	}
}

// scheduler builds the recheck scheduler. Without an article source it runs
// database-only.
func (e *engine) scheduler(cfg *config.Config, logger zerolog.Logger) (*recheck.Scheduler, error) {
	opts := recheckOptions(cfg)
	var fetcher recheck.Fetcher
	if e.news != nil {
		fetcher = e.news
	} else {
		opts.DatabaseOnly = true
	}
	return recheck.New(fetcher, e.manager, e.store, logger.With().Str("component", "recheck").Logger(), opts)
}

func (e *engine) Close() {
	if e == nil {
		return
	}
	_ = e.pool.Close()
}

func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
