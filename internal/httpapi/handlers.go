package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
	payloadschema "github.com/kamaleldincom/Briefs-sub000/schema"
)

const (
	defaultStoryLimit  = 25
	maxStoryLimit      = 200
	maxAnalysisStories = 10
)

type ingestResponse struct {
	ArticleID         string  `json:"article_id"`
	StoryID           string  `json:"story_id"`
	Outcome           string  `json:"outcome"`
	MatchKind         string  `json:"match_kind,omitempty"`
	Score             float64 `json:"score,omitempty"`
	Impact            string  `json:"impact,omitempty"`
	AnalysisRefreshed bool    `json:"analysis_refreshed"`
}

type batchResponse struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Linked    int `json:"linked"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type analysisRequest struct {
	StoryIDs []string `json:"story_ids"`
}

func newIngestResponse(result pipeline.IngestResult) ingestResponse {
	return ingestResponse{
		ArticleID:         result.ArticleID,
		StoryID:           result.StoryID,
		Outcome:           string(result.Outcome),
		MatchKind:         string(result.MatchKind),
		Score:             result.Score,
		Impact:            string(result.Impact),
		AnalysisRefreshed: result.AnalysisRefreshed,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service": "briefs",
		"time":    globaltime.UTC(),
	}
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("database ping failed")
			return unavailable(c, "Database unavailable")
		}
		data["database"] = "ok"
	}
	return success(c, data)
}

func (s *Server) handleStats(c echo.Context) error {
	if s.deps.Stats == nil {
		return unavailable(c, "Stats are not available")
	}
	stats, err := s.deps.Stats.CountStats(c.Request().Context(), globaltime.UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleStories(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultStoryLimit, 1, maxStoryLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	window := s.opts.ActiveWindow
	if raw := strings.TrimSpace(c.QueryParam("window_hours")); raw != "" {
		hours, err := parsePositiveInt(raw, 24, 1, 24*90)
		if err != nil {
			return failValidation(c, map[string]string{"window_hours": err.Error()})
		}
		window = time.Duration(hours) * time.Hour
	}

	stories, err := s.deps.Stories.ActiveStories(c.Request().Context(), window, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query active stories failed")
		return internalError(c, "Failed to load stories")
	}

	return success(c, map[string]any{
		"items":        stories,
		"limit":        limit,
		"window_hours": window.Hours(),
	})
}

func (s *Server) handleStoryDetail(c echo.Context) error {
	storyID := strings.TrimSpace(c.Param("story_id"))
	if storyID == "" {
		return failValidation(c, map[string]string{"story_id": "is required"})
	}
	if _, err := uuid.Parse(storyID); err != nil {
		return failValidation(c, map[string]string{"story_id": "must be a UUID"})
	}

	story, links, err := s.deps.Stories.StoryDetail(c.Request().Context(), storyID)
	if err != nil {
		if errors.Is(err, pipeline.ErrStoryNotFound) {
			return failNotFound(c, "Story not found")
		}
		s.logger.Error().Err(err).Str("story_id", storyID).Msg("query story detail failed")
		return internalError(c, "Failed to load story detail")
	}

	return success(c, map[string]any{
		"story": story,
		"links": links,
	})
}

// handleIngest accepts one article object or an array of them.
func (s *Server) handleIngest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}

	articles, err := payloadschema.ValidateArticleBatch(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	ctx := c.Request().Context()
	if len(articles) == 1 && !strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		result, err := s.deps.Stories.Ingest(ctx, articles[0])
		if err != nil {
			if errors.Is(err, pipeline.ErrStoreNotInitialized) {
				return unavailable(c, "Story store unavailable")
			}
			s.logger.Error().Err(err).Str("url", articles[0].URL).Msg("ingest article failed")
			return internalError(c, "Failed to ingest article")
		}
		code := http.StatusOK
		if result.Outcome == pipeline.OutcomeCreated {
			code = http.StatusCreated
		}
		return successWithStatus(c, code, newIngestResponse(result))
	}

	result := s.deps.Stories.IngestBatch(ctx, articles)
	return success(c, batchResponse{
		Processed: result.Processed,
		Created:   result.Created,
		Linked:    result.Linked,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
	})
}

func (s *Server) handleAnalyze(c echo.Context) error {
	var req analysisRequest
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object with story_ids"})
	}

	ids := make([]string, 0, len(req.StoryIDs))
	seen := make(map[string]struct{}, len(req.StoryIDs))
	for _, raw := range req.StoryIDs {
		id := strings.TrimSpace(raw)
		if _, err := uuid.Parse(id); err != nil {
			return failValidation(c, map[string]string{"story_ids": fmt.Sprintf("%q is not a UUID", raw)})
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 || len(ids) > maxAnalysisStories {
		return failValidation(c, map[string]string{"story_ids": fmt.Sprintf("must contain 1 to %d ids", maxAnalysisStories)})
	}

	ctx := c.Request().Context()
	stories := make([]domain.Story, 0, len(ids))
	for _, id := range ids {
		story, _, err := s.deps.Stories.StoryDetail(ctx, id)
		if err != nil {
			if errors.Is(err, pipeline.ErrStoryNotFound) {
				return failNotFound(c, fmt.Sprintf("Story %s not found", id))
			}
			s.logger.Error().Err(err).Str("story_id", id).Msg("load story for analysis failed")
			return internalError(c, "Failed to load stories")
		}
		stories = append(stories, story)
	}

	analysis, err := s.deps.Stories.AnalyzeStories(ctx, stories)
	if err != nil {
		s.logger.Error().Err(err).Strs("story_ids", ids).Msg("analyze stories failed")
		return internalError(c, "Failed to analyze stories")
	}

	return success(c, map[string]any{
		"story_ids": ids,
		"analysis":  analysis,
	})
}

func (s *Server) handleCacheStats(c echo.Context) error {
	if s.deps.Cache == nil {
		return unavailable(c, "Analysis cache is disabled")
	}
	return success(c, s.deps.Cache.Stats())
}

func (s *Server) handleRecheckStatus(c echo.Context) error {
	if s.deps.Recheck == nil {
		return unavailable(c, "Recheck scheduler is disabled")
	}
	return success(c, s.deps.Recheck.Status())
}

func (s *Server) handleRecheckRun(c echo.Context) error {
	if s.deps.Recheck == nil {
		return unavailable(c, "Recheck scheduler is disabled")
	}
	report, err := s.deps.Recheck.RunOnce(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("manual recheck failed")
		return internalError(c, "Recheck failed")
	}
	return success(c, report)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
