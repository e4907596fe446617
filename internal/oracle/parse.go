package oracle

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

const defaultConfidence = 0.5

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// extractJSONObject pulls the outermost JSON object out of a completion that
// may wrap it in prose or markdown fences.
func extractJSONObject(text string) (map[string]json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

var (
	confidencePattern = regexp.MustCompile(`confidence[^0-9]{0,24}(\d+(?:\.\d+)?)\s*(%?)`)
	negativePhrases   = []string{"not similar", "dissimilar", "different event", "different story", "unrelated", "not the same"}
	positivePhrases   = []string{"similar", "same event", "same story", "yes"}
)

// ParseSimilarity converts a completion into a verdict. Malformed JSON falls
// back to keyword cues in the text; it never fails.
func ParseSimilarity(text string) domain.SimilarityVerdict {
	if fields, ok := extractJSONObject(text); ok {
		verdict := domain.SimilarityVerdict{
			IsSimilar:       coerceBool(fields["isSimilar"]),
			ConfidenceScore: defaultConfidence,
			Reasonings:      coerceStringList(fields["reasonings"]),
		}
		if raw, exists := fields["confidenceScore"]; exists {
			if value, ok := coerceFloat(raw); ok {
				verdict.ConfidenceScore = clampConfidence(value)
			}
		}
		if len(verdict.Reasonings) == 0 {
			verdict.Reasonings = coerceStringList(fields["reasoning"])
		}
		return verdict
	}

	lower := strings.ToLower(text)
	verdict := domain.SimilarityVerdict{ConfidenceScore: defaultConfidence}
	switch {
	case containsAny(lower, negativePhrases):
		verdict.IsSimilar = false
	case containsAny(lower, positivePhrases):
		verdict.IsSimilar = true
	}

	if match := confidencePattern.FindStringSubmatch(lower); len(match) == 3 {
		if value, err := strconv.ParseFloat(match[1], 64); err == nil {
			if match[2] == "%" {
				value /= 100
			}
			verdict.ConfidenceScore = clampConfidence(value)
		}
	} else if strings.Contains(lower, "high confidence") {
		verdict.ConfidenceScore = 0.8
	} else if strings.Contains(lower, "low confidence") {
		verdict.ConfidenceScore = 0.3
	}

	if summary := strings.TrimSpace(text); summary != "" {
		verdict.Reasonings = []string{summary}
	}
	return verdict
}

// ParseAnalysis is the single place oracle analysis output is normalized.
// Each field is decoded independently so one malformed field does not discard
// the rest. Text without a JSON object yields an empty update.
func ParseAnalysis(text string) domain.AnalysisUpdate {
	fields, ok := extractJSONObject(text)
	if !ok {
		return domain.AnalysisUpdate{}
	}
	if nested, exists := fields["analysis"]; exists {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			fields = inner
		}
	}

	update := domain.AnalysisUpdate{
		Summary:             coerceStringPtr(fields["summary"]),
		BackgroundContext:   coerceStringPtr(fields["backgroundContext"]),
		MainPerspectives:    coerceStringList(fields["mainPerspectives"]),
		ControversialPoints: coerceStringList(fields["controversialPoints"]),
		RelatedTopics:       coerceStringList(fields["relatedTopics"]),
		Implications:        parseImplications(fields["implications"]),
	}

	for _, raw := range coerceArray(fields["keyPoints"]) {
		if point, ok := parseKeyPoint(raw); ok {
			update.KeyPoints = append(update.KeyPoints, point)
		}
	}
	for _, raw := range coerceArray(fields["perspectives"]) {
		if perspective, ok := parsePerspective(raw); ok {
			update.Perspectives = append(update.Perspectives, perspective)
		}
	}
	for _, raw := range coerceArray(fields["notableQuotes"]) {
		if quote, ok := parseQuote(raw); ok {
			update.NotableQuotes = append(update.NotableQuotes, quote)
		}
	}
	for _, raw := range coerceArray(fields["timeline"]) {
		if event, ok := parseTimelineEvent(raw); ok {
			update.Timeline = append(update.Timeline, event)
		}
	}
	return update
}

func parseKeyPoint(raw json.RawMessage) (domain.KeyPoint, bool) {
	if text := coerceString(raw); text != "" {
		return domain.KeyPoint{Point: text, Importance: domain.ImportanceMedium}, true
	}

	fields := coerceObject(raw)
	point := firstString(fields, "point", "text", "keyPoint")
	if point == "" {
		return domain.KeyPoint{}, false
	}
	importance := strings.ToLower(coerceScalarString(fields["importance"]))
	switch importance {
	case domain.ImportanceHigh, domain.ImportanceMedium, domain.ImportanceLow:
	default:
		importance = domain.ImportanceMedium
	}
	return domain.KeyPoint{
		Point:      point,
		Importance: importance,
		Context:    coerceString(fields["context"]),
	}, true
}

func parsePerspective(raw json.RawMessage) (domain.Perspective, bool) {
	fields := coerceObject(raw)
	viewpoint := firstString(fields, "viewpoint", "perspective", "view")
	if viewpoint == "" {
		return domain.Perspective{}, false
	}
	return domain.Perspective{
		Source:    firstString(fields, "source", "outlet"),
		Viewpoint: viewpoint,
		Evidence:  coerceStringList(fields["evidence"]),
	}, true
}

func parseQuote(raw json.RawMessage) (domain.NotableQuote, bool) {
	if text := coerceString(raw); text != "" {
		return domain.NotableQuote{Text: text}, true
	}
	fields := coerceObject(raw)
	text := firstString(fields, "text", "quote")
	if text == "" {
		return domain.NotableQuote{}, false
	}
	return domain.NotableQuote{
		Text:    text,
		Source:  firstString(fields, "source", "speaker"),
		Context: coerceString(fields["context"]),
	}, true
}

func parseTimelineEvent(raw json.RawMessage) (domain.TimelineEvent, bool) {
	fields := coerceObject(raw)
	event := firstString(fields, "event", "description", "title")
	if event == "" {
		return domain.TimelineEvent{}, false
	}

	var timestamp string
	for _, key := range []string{"timestamp", "date", "time"} {
		if timestamp = coerceScalarString(fields[key]); timestamp != "" {
			break
		}
	}
	return domain.TimelineEvent{
		Timestamp:    parseTimestamp(timestamp),
		Event:        event,
		Significance: coerceScalarString(fields["significance"]),
		Sources:      coerceStringList(fields["sources"]),
	}, true
}

func parseImplications(raw json.RawMessage) domain.Implications {
	if list := coerceArray(raw); list != nil {
		return domain.Implications{ShortTerm: coerceStringList(raw)}
	}
	fields := coerceObject(raw)
	return domain.Implications{
		ShortTerm: coerceStringList(fields["shortTerm"]),
		LongTerm:  coerceStringList(fields["longTerm"]),
	}
}

// parseTimestamp returns the zero time for unrecognized input; the merger
// stamps such events with the merge time.
func parseTimestamp(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	if seconds, err := strconv.ParseInt(trimmed, 10, 64); err == nil && seconds > 0 {
		if seconds > 1e12 {
			return time.UnixMilli(seconds).UTC()
		}
		return time.Unix(seconds, 0).UTC()
	}
	return time.Time{}
}

func coerceObject(raw json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return nil
	}
	return fields
}

func coerceArray(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil
	}
	return items
}

func coerceString(raw json.RawMessage) string {
	var value string
	if len(raw) == 0 || json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func coerceStringPtr(raw json.RawMessage) *string {
	value := coerceString(raw)
	if value == "" {
		return nil
	}
	return &value
}

// coerceScalarString renders strings, numbers and booleans as text.
func coerceScalarString(raw json.RawMessage) string {
	if value := coerceString(raw); value != "" {
		return value
	}
	if number, ok := coerceFloat(raw); ok {
		return strconv.FormatFloat(number, 'f', -1, 64)
	}
	var flag bool
	if len(raw) > 0 && json.Unmarshal(raw, &flag) == nil {
		return strconv.FormatBool(flag)
	}
	return ""
}

func coerceStringList(raw json.RawMessage) []string {
	if single := coerceString(raw); single != "" {
		return []string{single}
	}

	var out []string
	for _, item := range coerceArray(raw) {
		value := coerceString(item)
		if value == "" {
			value = firstString(coerceObject(item), "text", "point", "topic", "name")
		}
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

func coerceFloat(raw json.RawMessage) (float64, bool) {
	var number float64
	if len(raw) > 0 && json.Unmarshal(raw, &number) == nil {
		return number, true
	}
	if text := strings.TrimSuffix(coerceString(raw), "%"); text != "" {
		if parsed, err := strconv.ParseFloat(text, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func coerceBool(raw json.RawMessage) bool {
	var flag bool
	if len(raw) > 0 && json.Unmarshal(raw, &flag) == nil {
		return flag
	}
	switch strings.ToLower(coerceString(raw)) {
	case "true", "yes", "similar":
		return true
	}
	return false
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		if value := coerceString(fields[key]); value != "" {
			return value
		}
	}
	return ""
}

func clampConfidence(value float64) float64 {
	if value > 1 && value <= 100 {
		value /= 100
	}
	switch {
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
