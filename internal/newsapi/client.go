package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

const (
	DefaultBaseURL   = "https://newsapi.org/v2"
	DefaultPageSize  = 20
	maxPageSize      = 100
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 8 << 20
	dateLayout       = "2006-01-02T15:04:05"
)

var (
	ErrNotConfigured = errors.New("newsapi key is not configured")
	// ErrRateLimited is returned for HTTP 429 and for the rateLimited error
	// code. Callers back off instead of treating it as a failure.
	ErrRateLimited = errors.New("newsapi rate limited")
)

// Query is an /everything search.
type Query struct {
	Q        string
	From     time.Time
	To       time.Time
	Language string
	SortBy   string
	PageSize int
	Page     int
}

// Client talks to the NewsAPI /everything endpoint.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
}

type Options struct {
	BaseURL    string
	APIKey     string
	PageSize   int
	HTTPClient *http.Client
}

func New(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: pageSize,
		client:   client,
	}, nil
}

type apiResponse struct {
	Status       string       `json:"status"`
	Code         string       `json:"code"`
	Message      string       `json:"message"`
	TotalResults int          `json:"totalResults"`
	Articles     []apiArticle `json:"articles"`
}

type apiArticle struct {
	Source struct {
		ID   *string `json:"id"`
		Name string  `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

// Fetch runs q and returns the articles that carry a URL and title.
func (c *Client) Fetch(ctx context.Context, q Query) ([]domain.SourceArticle, error) {
	if c == nil {
		return nil, fmt.Errorf("newsapi client is nil")
	}
	if strings.TrimSpace(q.Q) == "" {
		return nil, fmt.Errorf("query text is required")
	}

	endpoint := c.baseURL + "/everything?" + c.encodeQuery(q).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build newsapi request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send newsapi request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read newsapi response: %w", err)
	}

	var parsed apiResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode == http.StatusTooManyRequests || parsed.Code == "rateLimited" {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(parsed.Message))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := strings.TrimSpace(parsed.Message); msg != "" {
			return nil, fmt.Errorf("newsapi status %d (%s): %s", resp.StatusCode, parsed.Code, msg)
		}
		return nil, fmt.Errorf("newsapi status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode newsapi response: %w", decodeErr)
	}
	if parsed.Status != "" && parsed.Status != "ok" {
		return nil, fmt.Errorf("newsapi error %s: %s", parsed.Code, parsed.Message)
	}

	articles := make([]domain.SourceArticle, 0, len(parsed.Articles))
	for _, item := range parsed.Articles {
		if article, ok := item.toDomain(); ok {
			articles = append(articles, article)
		}
	}
	return articles, nil
}

func (c *Client) encodeQuery(q Query) url.Values {
	values := url.Values{}
	values.Set("q", strings.TrimSpace(q.Q))

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	values.Set("pageSize", strconv.Itoa(min(pageSize, maxPageSize)))
	if q.Page > 1 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if !q.From.IsZero() {
		values.Set("from", q.From.UTC().Format(dateLayout))
	}
	if !q.To.IsZero() {
		values.Set("to", q.To.UTC().Format(dateLayout))
	}
	if lang := strings.TrimSpace(q.Language); lang != "" {
		values.Set("language", lang)
	}
	sortBy := strings.TrimSpace(q.SortBy)
	if sortBy == "" {
		sortBy = "publishedAt"
	}
	values.Set("sortBy", sortBy)
	return values
}

// NewsAPI marks deleted articles with this placeholder instead of omitting them.
const removedMarker = "[Removed]"

func (a apiArticle) toDomain() (domain.SourceArticle, bool) {
	title := strings.TrimSpace(a.Title)
	articleURL := strings.TrimSpace(a.URL)
	if title == "" || articleURL == "" || title == removedMarker {
		return domain.SourceArticle{}, false
	}

	article := domain.SourceArticle{
		Title:       title,
		Description: strings.TrimSpace(a.Description),
		Content:     strings.TrimSpace(a.Content),
		URL:         articleURL,
		ImageURL:    strings.TrimSpace(a.URLToImage),
		SourceName:  strings.TrimSpace(a.Source.Name),
	}
	if a.Source.ID != nil {
		article.SourceID = strings.TrimSpace(*a.Source.ID)
	}
	if published, err := time.Parse(time.RFC3339, strings.TrimSpace(a.PublishedAt)); err == nil {
		article.PublishedAt = published.UTC()
	}
	return article, true
}
