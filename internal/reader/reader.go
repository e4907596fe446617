package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 2 * 1024 * 1024

	defaultUserAgent = "Briefs-Reader/1.0 (+https://github.com/kamaleldincom/Briefs)"
)

// FetchOptions controls HTTP behavior for article text extraction.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Enricher fills in article bodies that the article source truncates.
type Enricher struct {
	opts FetchOptions
}

func NewEnricher(opts FetchOptions) *Enricher {
	return &Enricher{opts: opts}
}

// Enrich fetches the article page and returns its readable text.
func (e *Enricher) Enrich(ctx context.Context, article domain.SourceArticle) (string, error) {
	var opts FetchOptions
	if e != nil {
		opts = e.opts
	}
	return FetchTextWithOptions(ctx, article.URL, article.Title, opts)
}

// FetchText retrieves and extracts readable text content for a page URL.
func FetchText(ctx context.Context, pageURL string, title string) (string, error) {
	return FetchTextWithOptions(ctx, pageURL, title, FetchOptions{})
}

// FetchTextWithOptions retrieves and extracts readable text content for a page URL.
func FetchTextWithOptions(ctx context.Context, pageURL string, title string, opts FetchOptions) (string, error) {
	page := strings.TrimSpace(pageURL)
	if page == "" {
		return "", fmt.Errorf("page URL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "text/plain") {
		return CleanText(string(body)), nil
	}

	parsedURL, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	text := ""
	if article, err := readability.FromReader(bytes.NewReader(body), parsedURL); err == nil {
		var rendered bytes.Buffer
		if err := article.RenderText(&rendered); err == nil {
			text = CleanText(rendered.String())
		}
		if text == "" {
			text = CleanText(article.Excerpt())
		}
	}
	if text == "" {
		text = paragraphText(body)
	}
	if text == "" {
		text = strings.TrimSpace(title)
	}
	if text == "" {
		return "", fmt.Errorf("reader extracted empty content")
	}

	return text, nil
}

// paragraphText joins the page's <p> elements, falling back to the meta
// description when the page has none.
func paragraphText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	paragraphs := make([]string, 0, 16)
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if clean := CleanText(sel.Text()); clean != "" {
			paragraphs = append(paragraphs, clean)
		}
	})
	if len(paragraphs) > 0 {
		return strings.Join(dedupeParagraphs(paragraphs), "\n\n")
	}

	for _, selector := range []string{`meta[property="og:description"]`, `meta[name="description"]`} {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if clean := CleanText(content); clean != "" {
				return clean
			}
		}
	}
	return ""
}

func dedupeParagraphs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}
