package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

// MergeAnalysis folds an oracle update into an existing analysis. Scalars are
// replaced when the update carries them, lists are unioned with new entries
// first, quotes are prepended without dedup, and the timeline is re-sorted
// newest first. An empty update returns existing unchanged.
func MergeAnalysis(existing domain.StoryAnalysis, update domain.AnalysisUpdate, now time.Time) domain.StoryAnalysis {
	if update.IsEmpty() {
		return existing
	}

	merged := existing
	if value := trimmedPtr(update.Summary); value != "" {
		merged.Summary = value
	}
	if value := trimmedPtr(update.BackgroundContext); value != "" {
		merged.BackgroundContext = value
	}

	merged.KeyPoints = mergeKeyPoints(update.KeyPoints, existing.KeyPoints)
	merged.MainPerspectives = unionStrings(update.MainPerspectives, existing.MainPerspectives)
	merged.ControversialPoints = unionStrings(update.ControversialPoints, existing.ControversialPoints)
	merged.Perspectives = mergePerspectives(update.Perspectives, existing.Perspectives)
	merged.Implications = domain.Implications{
		ShortTerm: unionStrings(update.Implications.ShortTerm, existing.Implications.ShortTerm),
		LongTerm:  unionStrings(update.Implications.LongTerm, existing.Implications.LongTerm),
	}
	merged.RelatedTopics = unionStrings(update.RelatedTopics, existing.RelatedTopics)

	quotes := make([]domain.NotableQuote, 0, len(update.NotableQuotes)+len(existing.NotableQuotes))
	for _, quote := range update.NotableQuotes {
		if strings.TrimSpace(quote.Text) == "" {
			continue
		}
		quotes = append(quotes, quote)
	}
	merged.NotableQuotes = append(quotes, existing.NotableQuotes...)

	timeline := make([]domain.TimelineEvent, 0, len(update.Timeline)+len(existing.Timeline))
	timeline = append(timeline, update.Timeline...)
	timeline = append(timeline, existing.Timeline...)
	merged.Timeline = normalizeTimeline(timeline, now)

	return merged
}

// NormalizeKeyPoint trims a key point and defaults its importance to medium.
func NormalizeKeyPoint(point domain.KeyPoint) domain.KeyPoint {
	point.Point = strings.TrimSpace(point.Point)
	point.Context = strings.TrimSpace(point.Context)
	switch importance := strings.ToLower(strings.TrimSpace(point.Importance)); importance {
	case domain.ImportanceHigh, domain.ImportanceMedium, domain.ImportanceLow:
		point.Importance = importance
	default:
		point.Importance = domain.ImportanceMedium
	}
	return point
}

func mergeKeyPoints(incoming, existing []domain.KeyPoint) []domain.KeyPoint {
	out := make([]domain.KeyPoint, 0, len(incoming)+len(existing))
	seen := make(map[string]struct{}, len(incoming)+len(existing))
	for _, group := range [][]domain.KeyPoint{incoming, existing} {
		for _, raw := range group {
			point := NormalizeKeyPoint(raw)
			if point.Point == "" {
				continue
			}
			key := strings.ToLower(point.Point)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, point)
		}
	}
	return out
}

func mergePerspectives(incoming, existing []domain.Perspective) []domain.Perspective {
	out := make([]domain.Perspective, 0, len(incoming)+len(existing))
	seen := make(map[string]struct{}, len(incoming)+len(existing))
	for _, group := range [][]domain.Perspective{incoming, existing} {
		for _, perspective := range group {
			if strings.TrimSpace(perspective.Viewpoint) == "" {
				continue
			}
			key := strings.ToLower(strings.TrimSpace(perspective.Source)) + "|" + strings.ToLower(strings.TrimSpace(perspective.Viewpoint))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, perspective)
		}
	}
	return out
}

// normalizeTimeline stamps undated events with now and sorts newest first.
// Events with equal timestamps keep their relative order.
func normalizeTimeline(events []domain.TimelineEvent, now time.Time) []domain.TimelineEvent {
	out := make([]domain.TimelineEvent, 0, len(events))
	for _, event := range events {
		event.Event = strings.TrimSpace(event.Event)
		if event.Event == "" {
			continue
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		event.Timestamp = event.Timestamp.UTC()
		event.Significance = strings.TrimSpace(event.Significance)
		out = append(out, event)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// unionStrings returns incoming followed by existing with case-insensitive
// duplicates and blanks removed.
func unionStrings(incoming, existing []string) []string {
	if len(incoming) == 0 && len(existing) == 0 {
		return nil
	}

	out := make([]string, 0, len(incoming)+len(existing))
	seen := make(map[string]struct{}, len(incoming)+len(existing))
	for _, group := range [][]string{incoming, existing} {
		for _, value := range group {
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			key := strings.ToLower(trimmed)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, trimmed)
		}
	}
	return out
}

func trimmedPtr(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

// DefaultAnalysis is the minimal analysis a story carries until the oracle
// produces a richer one.
func DefaultAnalysis(story domain.Story) domain.StoryAnalysis {
	summary := strings.TrimSpace(story.Summary)
	if summary == "" {
		summary = strings.TrimSpace(story.Title)
	}

	analysis := domain.StoryAnalysis{
		Summary: summary,
		KeyPoints: []domain.KeyPoint{{
			Point:      strings.TrimSpace(story.Title),
			Importance: domain.ImportanceHigh,
		}},
	}

	sourceNames := make([]string, 0, len(story.Sources))
	for _, src := range story.Sources {
		sourceNames = append(sourceNames, src.Name)
		if strings.TrimSpace(src.Perspective) == "" {
			continue
		}
		analysis.MainPerspectives = append(analysis.MainPerspectives, src.Perspective)
		analysis.Perspectives = append(analysis.Perspectives, domain.Perspective{
			Source:    src.Name,
			Viewpoint: src.Perspective,
		})
	}

	if !story.Metadata.FirstPublished.IsZero() && strings.TrimSpace(story.Title) != "" {
		analysis.Timeline = []domain.TimelineEvent{{
			Timestamp:    story.Metadata.FirstPublished.UTC(),
			Event:        strings.TrimSpace(story.Title),
			Significance: domain.ImportanceHigh,
			Sources:      sourceNames,
		}}
	}
	return analysis
}
