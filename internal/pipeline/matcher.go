package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
)

const (
	DefaultMatchThreshold    = 0.2
	DefaultMatchWindow       = 72 * time.Hour
	DefaultOracleBandLow     = 0.25
	DefaultOracleBandHigh    = 0.4
	defaultCandidateLimit    = 50
	defaultTitlePrefixLength = 30
	titleScoreWeight         = 0.7
	summaryScoreWeight       = 0.3
)

type MatchKind string

const (
	MatchNone      MatchKind = "none"
	MatchExactLink MatchKind = "exact_link"
	MatchText      MatchKind = "text"
)

// ScoredStory is a text-search candidate with its keyword-overlap scores.
type ScoredStory struct {
	Story        domain.Story
	Score        float64
	TitleScore   float64
	SummaryScore float64
}

// MatchResult is the matcher's decision for one candidate. Candidates holds
// the full ranked list for text matches.
type MatchResult struct {
	Kind       MatchKind
	Story      domain.Story
	Score      float64
	Candidates []ScoredStory
}

// Comparison is the outcome of a pairwise story comparison.
type Comparison struct {
	Similar      bool
	TitleScore   float64
	SummaryScore float64
	Confidence   float64
	UsedOracle   bool
	Reasonings   []string
}

type MatcherOptions struct {
	Threshold         float64
	Window            time.Duration
	OracleBandLow     float64
	OracleBandHigh    float64
	CandidateLimit    int
	TitlePrefixLength int
}

// Matcher decides which existing story, if any, a candidate belongs to.
// Tiers run cheapest first: exact URL link, text search with keyword scoring,
// and the oracle for borderline pairwise comparisons.
type Matcher struct {
	store  Store
	oracle Oracle
	logger zerolog.Logger
	opts   MatcherOptions
}

func NewMatcher(store Store, oracle Oracle, logger zerolog.Logger, opts MatcherOptions) *Matcher {
	return &Matcher{
		store:  store,
		oracle: oracle,
		logger: logger,
		opts:   normalizeMatcherOptions(opts),
	}
}

func normalizeMatcherOptions(opts MatcherOptions) MatcherOptions {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultMatchThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultMatchWindow
	}
	if opts.OracleBandLow <= 0 {
		opts.OracleBandLow = DefaultOracleBandLow
	}
	if opts.OracleBandHigh <= 0 {
		opts.OracleBandHigh = DefaultOracleBandHigh
	}
	if opts.OracleBandLow > opts.OracleBandHigh {
		opts.OracleBandLow, opts.OracleBandHigh = opts.OracleBandHigh, opts.OracleBandLow
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = defaultCandidateLimit
	}
	if opts.TitlePrefixLength <= 0 {
		opts.TitlePrefixLength = defaultTitlePrefixLength
	}
	return opts
}

// FindStoryFor runs the matching tiers for candidate. Store failures are logged
// and degrade to the next tier; the worst outcome is MatchNone.
func (m *Matcher) FindStoryFor(ctx context.Context, candidate domain.Story) MatchResult {
	if m == nil || m.store == nil {
		return MatchResult{Kind: MatchNone}
	}

	if story, ok := m.findExactLink(ctx, candidate); ok {
		return MatchResult{Kind: MatchExactLink, Story: story, Score: 1}
	}

	ranked := m.RankCandidates(ctx, candidate)
	if len(ranked) == 0 {
		return MatchResult{Kind: MatchNone}
	}
	return MatchResult{
		Kind:       MatchText,
		Story:      ranked[0].Story,
		Score:      ranked[0].Score,
		Candidates: ranked,
	}
}

func (m *Matcher) findExactLink(ctx context.Context, candidate domain.Story) (domain.Story, bool) {
	for _, src := range candidate.Sources {
		sourceURL := NormalizeURL(src.URL)
		if sourceURL == "" {
			continue
		}

		raw, err := m.store.GetRawArticleByURL(ctx, sourceURL)
		if err != nil {
			if !errors.Is(err, ErrArticleNotFound) {
				m.logger.Warn().Err(err).Str("url", sourceURL).Msg("exact link lookup failed")
			}
			continue
		}
		if raw.StoryID == "" || raw.StoryID == candidate.ID {
			continue
		}

		story, err := m.store.GetStory(ctx, raw.StoryID)
		if err != nil {
			m.logger.Warn().Err(err).Str("story_id", raw.StoryID).Msg("linked story lookup failed")
			continue
		}
		return story, true
	}
	return domain.Story{}, false
}

// RankCandidates returns recent stories scoring at or above the threshold,
// best first. A failing text search falls back to a title-prefix lookup.
func (m *Matcher) RankCandidates(ctx context.Context, candidate domain.Story) []ScoredStory {
	if m == nil || m.store == nil {
		return nil
	}

	since := globaltime.UTC().Add(-m.opts.Window)
	stories, err := m.store.FindRelatedStories(ctx, RelatedStoryQuery{
		Text:         strings.TrimSpace(candidate.Title + " " + candidate.Summary),
		Language:     candidate.Language,
		UpdatedSince: since,
		Limit:        m.opts.CandidateLimit,
	})
	if err != nil {
		prefix := truncateRunes(strings.TrimSpace(candidate.Title), m.opts.TitlePrefixLength)
		m.logger.Warn().Err(err).Str("title_prefix", prefix).Msg("text search failed, falling back to title prefix")

		stories, err = m.store.FindStoriesByTitlePrefix(ctx, prefix, since, m.opts.CandidateLimit)
		if err != nil {
			m.logger.Warn().Err(err).Msg("title prefix search failed")
			return nil
		}
	}

	ranked := make([]ScoredStory, 0, len(stories))
	for _, story := range stories {
		if candidate.ID != "" && story.ID == candidate.ID {
			continue
		}
		if story.Metadata.LastUpdated.Before(since) {
			continue
		}

		scored := ScoreStory(candidate, story)
		if scored.Score < m.opts.Threshold {
			continue
		}
		ranked = append(ranked, scored)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// ScoreStory weights title overlap 0.7 and summary overlap 0.3.
func ScoreStory(candidate, story domain.Story) ScoredStory {
	title := TextSimilarity(candidate.Title, story.Title)
	summary := TextSimilarity(candidate.Summary, story.Summary)
	return ScoredStory{
		Story:        story,
		Score:        titleScoreWeight*title + summaryScoreWeight*summary,
		TitleScore:   title,
		SummaryScore: summary,
	}
}

// SelectMainStory picks the candidate with the most sources, breaking ties by
// the earliest first-published time.
func SelectMainStory(candidates []ScoredStory) (domain.Story, bool) {
	if len(candidates) == 0 {
		return domain.Story{}, false
	}

	best := candidates[0].Story
	for _, candidate := range candidates[1:] {
		story := candidate.Story
		switch {
		case len(story.Sources) > len(best.Sources):
			best = story
		case len(story.Sources) == len(best.Sources) &&
			story.Metadata.FirstPublished.Before(best.Metadata.FirstPublished):
			best = story
		}
	}
	return best, true
}

// CompareStories judges whether two already-loaded stories describe the same
// event. Clear overlaps skip the oracle; only the borderline band is sent to
// it, and oracle failures fall back to the score threshold.
func (m *Matcher) CompareStories(ctx context.Context, left, right domain.Story) Comparison {
	scored := ScoreStory(left, right)
	result := Comparison{
		TitleScore:   scored.TitleScore,
		SummaryScore: scored.SummaryScore,
		Confidence:   scored.Score,
	}

	if scored.TitleScore >= m.opts.OracleBandHigh || scored.SummaryScore >= m.opts.OracleBandHigh {
		result.Similar = true
		result.Confidence = max(scored.TitleScore, scored.SummaryScore)
		return result
	}

	heuristic := scored.Score >= m.opts.Threshold
	if !m.inOracleBand(scored.TitleScore) && !m.inOracleBand(scored.SummaryScore) {
		result.Similar = heuristic
		return result
	}
	if m.oracle == nil {
		result.Similar = heuristic
		return result
	}

	verdict, err := m.oracle.Similarity(ctx, SimilarityRequest{
		Left:          left,
		Right:         right,
		LeftEntities:  ExtractEntities(left.Title + ". " + left.Summary),
		RightEntities: ExtractEntities(right.Title + ". " + right.Summary),
	})
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("left_story_id", left.ID).
			Str("right_story_id", right.ID).
			Msg("oracle similarity failed, using keyword heuristic")
		result.Similar = heuristic
		return result
	}

	result.UsedOracle = true
	result.Similar = verdict.IsSimilar
	result.Confidence = verdict.ConfidenceScore
	result.Reasonings = verdict.Reasonings
	return result
}

func (m *Matcher) inOracleBand(score float64) bool {
	return score >= m.opts.OracleBandLow && score < m.opts.OracleBandHigh
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
