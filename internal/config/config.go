package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kamaleldincom/Briefs-sub000/internal/auth"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	NewsAPIKey      string `envconfig:"NEWSAPI_KEY" default:""`
	NewsAPIBaseURL  string `envconfig:"NEWSAPI_BASE_URL" default:"https://newsapi.org/v2"`
	NewsAPIPageSize int    `envconfig:"NEWSAPI_PAGE_SIZE" default:"20"`

	OpenAIAPIKey  string        `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OracleTimeout time.Duration `envconfig:"ORACLE_TIMEOUT" default:"45s"`

	MaxSourcesPerStory int           `envconfig:"MAX_SOURCES_PER_STORY" default:"10"`
	MatchThreshold     float64       `envconfig:"MATCH_THRESHOLD" default:"0.2"`
	MatchWindow        time.Duration `envconfig:"MATCH_WINDOW" default:"72h"`
	OracleBandLow      float64       `envconfig:"ORACLE_BAND_LOW" default:"0.25"`
	OracleBandHigh     float64       `envconfig:"ORACLE_BAND_HIGH" default:"0.4"`

	AnalysisCacheTTL  time.Duration `envconfig:"ANALYSIS_CACHE_TTL" default:"12h"`
	AnalysisCacheSize int           `envconfig:"ANALYSIS_CACHE_SIZE" default:"100"`

	RecheckInitialDelay time.Duration `envconfig:"RECHECK_INITIAL_DELAY" default:"1m"`
	RecheckInterval     time.Duration `envconfig:"RECHECK_INTERVAL" default:"15m"`
	ActiveStoryWindow   time.Duration `envconfig:"ACTIVE_STORY_WINDOW" default:"24h"`
	RecheckBatchSize    int           `envconfig:"RECHECK_BATCH_SIZE" default:"5"`
	RecheckBatchPause   time.Duration `envconfig:"RECHECK_BATCH_PAUSE" default:"2s"`
	RecheckMaxLookback  time.Duration `envconfig:"RECHECK_MAX_LOOKBACK" default:"168h"`
	BackoffBase         time.Duration `envconfig:"BACKOFF_BASE" default:"5m"`
	BackoffMax          time.Duration `envconfig:"BACKOFF_MAX" default:"1h"`
	DatabaseOnly        bool          `envconfig:"DATABASE_ONLY" default:"false"`
	StoryRetention      time.Duration `envconfig:"STORY_RETENTION" default:"720h"`

	EnrichContent bool `envconfig:"ENRICH_CONTENT" default:"false"`

	HTTPHost       string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort       int    `envconfig:"HTTP_PORT" default:"8090"`
	AdminTokenHash string `envconfig:"ADMIN_TOKEN_HASH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.NewsAPIPageSize < 1 || c.NewsAPIPageSize > 100 {
		return fmt.Errorf("NEWSAPI_PAGE_SIZE must be between 1 and 100")
	}
	if c.MaxSourcesPerStory < 1 {
		return fmt.Errorf("MAX_SOURCES_PER_STORY must be >= 1")
	}
	for name, value := range map[string]float64{
		"MATCH_THRESHOLD":  c.MatchThreshold,
		"ORACLE_BAND_LOW":  c.OracleBandLow,
		"ORACLE_BAND_HIGH": c.OracleBandHigh,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.OracleBandLow > c.OracleBandHigh {
		return fmt.Errorf("ORACLE_BAND_LOW (%.2f) cannot exceed ORACLE_BAND_HIGH (%.2f)", c.OracleBandLow, c.OracleBandHigh)
	}
	if c.AnalysisCacheSize < 1 {
		return fmt.Errorf("ANALYSIS_CACHE_SIZE must be >= 1")
	}
	if c.RecheckBatchSize < 1 {
		return fmt.Errorf("RECHECK_BATCH_SIZE must be >= 1")
	}
	for name, value := range map[string]time.Duration{
		"ORACLE_TIMEOUT":       c.OracleTimeout,
		"MATCH_WINDOW":         c.MatchWindow,
		"ANALYSIS_CACHE_TTL":   c.AnalysisCacheTTL,
		"RECHECK_INTERVAL":     c.RecheckInterval,
		"ACTIVE_STORY_WINDOW":  c.ActiveStoryWindow,
		"RECHECK_MAX_LOOKBACK": c.RecheckMaxLookback,
		"BACKOFF_BASE":         c.BackoffBase,
		"BACKOFF_MAX":          c.BackoffMax,
		"STORY_RETENTION":      c.StoryRetention,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.RecheckInitialDelay < 0 || c.RecheckBatchPause < 0 {
		return fmt.Errorf("RECHECK_INITIAL_DELAY and RECHECK_BATCH_PAUSE must be >= 0")
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("BACKOFF_MAX (%s) cannot be lower than BACKOFF_BASE (%s)", c.BackoffMax, c.BackoffBase)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(c.AdminTokenHash) != "" {
		if err := auth.ValidateHash(c.AdminTokenHash); err != nil {
			return fmt.Errorf("ADMIN_TOKEN_HASH: %w", err)
		}
	}
	return nil
}

// OracleEnabled reports whether an API key is configured for the analysis oracle.
func (c *Config) OracleEnabled() bool {
	return c != nil && strings.TrimSpace(c.OpenAIAPIKey) != ""
}
