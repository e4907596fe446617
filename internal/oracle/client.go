package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTimeout     = 45 * time.Second
	defaultTemperature = 0.2
	defaultMaxTokens   = 1600
	similarityTokens   = 300
)

var (
	ErrNotConfigured = errors.New("oracle api key is not configured")
	ErrRateLimited   = errors.New("oracle rate limited")
	ErrEmptyResponse = errors.New("oracle returned no choices")
)

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	HTTPClient  *http.Client
}

// Client is the chat-completions backed analysis oracle.
type Client struct {
	api         openai.Client
	model       string
	timeout     time.Duration
	maxTokens   int
	temperature float64
	logger      zerolog.Logger
}

var _ pipeline.Oracle = (*Client)(nil)

func New(opts Options, logger zerolog.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(opts.MaxRetries, 0)),
	}
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Client{
		api:         openai.NewClient(requestOpts...),
		model:       model,
		timeout:     timeout,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}, nil
}

func (c *Client) Similarity(ctx context.Context, req pipeline.SimilarityRequest) (domain.SimilarityVerdict, error) {
	text, err := c.complete(ctx, similarityPrompt(req), similarityTokens)
	if err != nil {
		return domain.SimilarityVerdict{}, fmt.Errorf("similarity: %w", err)
	}
	return ParseSimilarity(text), nil
}

func (c *Client) Analyze(ctx context.Context, stories []domain.Story) (domain.AnalysisUpdate, error) {
	if len(stories) == 0 {
		return domain.AnalysisUpdate{}, nil
	}
	text, err := c.complete(ctx, analyzePrompt(stories), c.maxTokens)
	if err != nil {
		return domain.AnalysisUpdate{}, fmt.Errorf("analyze: %w", err)
	}
	update := ParseAnalysis(text)
	if update.IsEmpty() {
		c.logger.Warn().Int("response_chars", len(text)).Msg("oracle analysis response had no usable fields")
	}
	return update, nil
}

func (c *Client) UpdateAnalysis(ctx context.Context, existing domain.StoryAnalysis, article domain.SourceArticle) (domain.AnalysisUpdate, error) {
	text, err := c.complete(ctx, updatePrompt(existing, article), c.maxTokens)
	if err != nil {
		return domain.AnalysisUpdate{}, fmt.Errorf("update analysis: %w", err)
	}
	return ParseAnalysis(text), nil
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c == nil {
		return "", fmt.Errorf("oracle client is not initialized")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug().
		Str("model", c.model).
		Dur("latency", time.Since(started)).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Msg("oracle completion")
	return resp.Choices[0].Message.Content, nil
}
