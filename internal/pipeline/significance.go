package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

const (
	significantSourceFloor = 3
	staleAnalysisAfter     = 8 * time.Hour
	noveltyThreshold       = 0.3
	thinCoverageSources    = 2
	majorImpactGap         = 12 * time.Hour
)

var breakingTerms = []string{"breaking", "urgent", "just in", "update", "developing"}

// IsSignificantUpdate reports whether article warrants regenerating the
// story's analysis instead of reusing it.
func IsSignificantUpdate(story domain.Story, article domain.SourceArticle, now time.Time) bool {
	if len(story.Sources) < significantSourceFloor {
		return true
	}
	if hasBreakingTerms(article) {
		return true
	}
	if now.Sub(story.Metadata.LastUpdated) > staleAnalysisAfter {
		return true
	}
	return isNovel(story, article)
}

// ClassifyImpact grades how much article changes story. Breaking wording or a
// long quiet period is always major; a thinly sourced story is major only when
// the article adds information its perspectives do not already carry.
func ClassifyImpact(story domain.Story, article domain.SourceArticle, now time.Time) domain.Impact {
	if hasBreakingTerms(article) {
		return domain.ImpactMajor
	}
	if now.Sub(story.Metadata.LastUpdated) > majorImpactGap {
		return domain.ImpactMajor
	}
	if len(story.Sources) <= thinCoverageSources && isNovel(story, article) {
		return domain.ImpactMajor
	}
	return domain.ImpactMinor
}

func hasBreakingTerms(article domain.SourceArticle) bool {
	return containsAnyPhrase(article.Title+" "+article.Description+" "+article.Content, breakingTerms)
}

// isNovel is true when the article's description overlaps every existing
// source perspective by less than the novelty threshold.
func isNovel(story domain.Story, article domain.SourceArticle) bool {
	text := strings.TrimSpace(article.Description)
	if text == "" {
		text = article.Title
	}
	for _, src := range story.Sources {
		if strings.TrimSpace(src.Perspective) == "" {
			continue
		}
		if TextSimilarity(text, src.Perspective) >= noveltyThreshold {
			return false
		}
	}
	return true
}

// MergeSource appends incoming to sources unless its URL is already present,
// then trims to limit keeping earlier sources. It reports whether incoming
// ended up in the result.
func MergeSource(sources []domain.Source, incoming domain.Source, limit int) ([]domain.Source, bool) {
	out := make([]domain.Source, 0, len(sources)+1)
	seen := make(map[string]struct{}, len(sources)+1)
	for _, src := range sources {
		key := NormalizeURL(src.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, src)
	}

	added := false
	if _, dup := seen[NormalizeURL(incoming.URL)]; !dup {
		out = append(out, incoming)
		added = true
	}

	if limit > 0 && len(out) > limit {
		// incoming is last, so any trim drops it first.
		added = false
		out = out[:limit]
	}
	return out, added
}

// ProjectArticle shapes a raw article as a one-source story so it can be
// matched against the corpus.
func ProjectArticle(raw domain.RawArticle) domain.Story {
	article := raw.SourceArticle
	published := article.PublishedAt.UTC()
	if published.IsZero() {
		published = raw.CreatedAt.UTC()
	}

	return domain.Story{
		Title:    strings.TrimSpace(article.Title),
		Summary:  strings.TrimSpace(article.Description),
		Content:  strings.TrimSpace(article.Content),
		Sources:  []domain.Source{SourceFromArticle(article)},
		Language: raw.Language,
		Metadata: domain.StoryMetadata{
			FirstPublished: published,
			LastUpdated:    published,
			TotalSources:   1,
			ImageURL:       article.ImageURL,
		},
	}
}

// SourceFromArticle builds the outlet entry an article contributes to a story.
func SourceFromArticle(article domain.SourceArticle) domain.Source {
	id := strings.TrimSpace(article.SourceID)
	if id == "" {
		id = slugify(article.SourceName)
	}
	return domain.Source{
		ID:          id,
		Name:        strings.TrimSpace(article.SourceName),
		URL:         NormalizeURL(article.URL),
		Bias:        "unknown",
		Sentiment:   "neutral",
		Quote:       firstQuote(article.Content),
		Perspective: strings.TrimSpace(article.Description),
	}
}

var quotePattern = regexp.MustCompile(`["“]([^"“”]{20,280})["”]`)

func firstQuote(content string) string {
	match := quotePattern.FindStringSubmatch(content)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func slugify(value string) string {
	return strings.Join(splitWords(value), "-")
}
