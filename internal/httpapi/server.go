package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/analysiscache"
	"github.com/kamaleldincom/Briefs-sub000/internal/db"
	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
	"github.com/kamaleldincom/Briefs-sub000/internal/recheck"
)

// StoryService is the clustering engine as seen by the API.
type StoryService interface {
	Ingest(ctx context.Context, article domain.SourceArticle) (pipeline.IngestResult, error)
	IngestBatch(ctx context.Context, articles []domain.SourceArticle) pipeline.BatchResult
	AnalyzeStories(ctx context.Context, stories []domain.Story) (domain.StoryAnalysis, error)
	StoryDetail(ctx context.Context, id string) (domain.Story, []domain.StoryArticleLink, error)
	ActiveStories(ctx context.Context, window time.Duration, limit int) ([]domain.Story, error)
}

type StatsSource interface {
	CountStats(ctx context.Context, now time.Time) (*db.Stats, error)
}

type CacheStats interface {
	Stats() analysiscache.Stats
}

type Rechecker interface {
	RunOnce(ctx context.Context) (recheck.Report, error)
	Status() recheck.Status
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the API. Only Stories is required.
type Deps struct {
	Stories StoryService
	Stats   StatsSource
	Cache   CacheStats
	Recheck Rechecker
	DB      Pinger
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       string
	ActiveWindow    time.Duration
	// AdminTokenHash is a bcrypt hash. When set, POST routes require the
	// matching bearer token.
	AdminTokenHash string
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	bodyLimit := strings.TrimSpace(opts.BodyLimit)
	if bodyLimit == "" {
		bodyLimit = "4M"
	}
	activeWindow := opts.ActiveWindow
	if activeWindow <= 0 {
		activeWindow = 24 * time.Hour
	}

	return &Server{
		deps:   deps,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			BodyLimit:       bodyLimit,
			ActiveWindow:    activeWindow,
			AdminTokenHash:  strings.TrimSpace(opts.AdminTokenHash),
		},
	}
}

// Handler builds the echo router. Start serves it; tests drive it directly.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(s.opts.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/stories", s.handleStories)
	api.GET("/stories/:story_id", s.handleStoryDetail)
	api.GET("/analysis-cache", s.handleCacheStats)
	api.GET("/recheck", s.handleRecheckStatus)

	operator := s.requireOperator()
	api.POST("/articles", s.handleIngest, operator)
	api.POST("/analysis", s.handleAnalyze, operator)
	api.POST("/recheck", s.handleRecheckRun, operator)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Stories == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("briefs api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("briefs api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
