package pipeline

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const minKeywordLength = 4

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "amid": {}, "been": {}, "before": {},
	"being": {}, "could": {}, "does": {}, "during": {}, "from": {}, "have": {}, "here": {},
	"into": {}, "just": {}, "more": {}, "most": {}, "news": {}, "over": {}, "said": {},
	"says": {}, "should": {}, "some": {}, "than": {}, "that": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"under": {}, "very": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"while": {}, "will": {}, "with": {}, "would": {}, "your": {},
}

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

// TextSimilarity is the Jaccard index of the two texts' keyword sets.
// It is symmetric and returns 0 when either side has no keywords.
func TextSimilarity(left, right string) float64 {
	leftSet := keywordSet(left)
	rightSet := keywordSet(right)
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Keywords returns the significant tokens of text in first-seen order without
// duplicates: lower-cased alphanumeric runs longer than three characters that
// are not stop-words.
func Keywords(text string) []string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len([]rune(token)) < minKeywordLength {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func keywordSet(text string) map[string]struct{} {
	keywords := Keywords(text)
	if len(keywords) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		set[keyword] = struct{}{}
	}
	return set
}

// tokenize splits lower-cased text on whitespace and strips every
// non-alphanumeric rune inside each field, so "long-term" stays one token.
func tokenize(text string) []string {
	fields := strings.Fields(normalizeText(text))
	if len(fields) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				return r
			}
			return -1
		}, field)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func splitWords(text string) []string {
	return strings.FieldsFunc(normalizeText(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// containsAnyPhrase reports whether any phrase occurs in text as a whole-word
// sequence, case-insensitively.
func containsAnyPhrase(text string, phrases []string) bool {
	padded := " " + strings.Join(tokenize(text), " ") + " "
	for _, phrase := range phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

// stripMarkup turns an HTML fragment into plain text. Inputs without markup are
// returned with whitespace collapsed.
func stripMarkup(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.ContainsAny(trimmed, "<&") {
		return strings.Join(strings.Fields(trimmed), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return strings.Join(strings.Fields(trimmed), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// NormalizeURL canonicalizes an article URL so that tracking variants of the
// same page share one raw-article record. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return trimmed
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}
	parsed.Host = host
	parsed.Fragment = ""

	path := parsed.EscapedPath()
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	parsed.RawQuery = ""
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		reordered := url.Values{}
		for _, key := range keys {
			for _, value := range q[key] {
				reordered.Add(key, value)
			}
		}
		parsed.RawQuery = reordered.Encode()
	}

	return parsed.String()
}

var entityPattern = regexp.MustCompile(`\b[A-Z][\p{L}\d'-]+(?:\s+[A-Z][\p{L}\d'-]+)*`)

var entityNoise = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "in": {}, "on": {}, "at": {}, "as": {}, "after": {},
	"breaking": {}, "update": {}, "this": {}, "it": {}, "he": {}, "she": {}, "they": {},
	"we": {}, "but": {}, "and": {}, "for": {}, "why": {}, "how": {}, "what": {}, "when": {},
}

const maxEntities = 10

// ExtractEntities returns runs of capitalized words from text. This is a cheap
// heuristic for prompt context, not named-entity recognition: sentence-initial
// words and title-cased headlines produce false positives.
func ExtractEntities(text string) []string {
	matches := entityPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, min(len(matches), maxEntities))
	for _, match := range matches {
		entity := strings.Join(strings.Fields(match), " ")
		if _, noise := entityNoise[strings.ToLower(entity)]; noise {
			continue
		}
		key := strings.ToLower(entity)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entity)
		if len(out) == maxEntities {
			break
		}
	}
	return out
}
