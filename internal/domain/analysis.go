package domain

import "time"

const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

type KeyPoint struct {
	Point      string `json:"point"`
	Importance string `json:"importance"`
	Context    string `json:"context,omitempty"`
}

type Perspective struct {
	Source    string   `json:"source"`
	Viewpoint string   `json:"viewpoint"`
	Evidence  []string `json:"evidence,omitempty"`
}

type Implications struct {
	ShortTerm []string `json:"shortTerm,omitempty"`
	LongTerm  []string `json:"longTerm,omitempty"`
}

type NotableQuote struct {
	Text    string `json:"text"`
	Source  string `json:"source,omitempty"`
	Context string `json:"context,omitempty"`
}

type TimelineEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Event        string    `json:"event"`
	Significance string    `json:"significance,omitempty"`
	Sources      []string  `json:"sources,omitempty"`
}

// StoryAnalysis is the structured narrative attached to a story.
// Timeline is kept sorted newest first.
type StoryAnalysis struct {
	Summary             string          `json:"summary"`
	BackgroundContext   string          `json:"backgroundContext,omitempty"`
	KeyPoints           []KeyPoint      `json:"keyPoints,omitempty"`
	MainPerspectives    []string        `json:"mainPerspectives,omitempty"`
	ControversialPoints []string        `json:"controversialPoints,omitempty"`
	Perspectives        []Perspective   `json:"perspectives,omitempty"`
	Implications        Implications    `json:"implications"`
	NotableQuotes       []NotableQuote  `json:"notableQuotes,omitempty"`
	Timeline            []TimelineEvent `json:"timeline,omitempty"`
	RelatedTopics       []string        `json:"relatedTopics,omitempty"`
}

// AnalysisUpdate is a partial analysis produced by the oracle. Nil scalars and
// empty lists mean "no change".
type AnalysisUpdate struct {
	Summary             *string
	BackgroundContext   *string
	KeyPoints           []KeyPoint
	MainPerspectives    []string
	ControversialPoints []string
	Perspectives        []Perspective
	Implications        Implications
	NotableQuotes       []NotableQuote
	Timeline            []TimelineEvent
	RelatedTopics       []string
}

func (u AnalysisUpdate) IsEmpty() bool {
	return u.Summary == nil &&
		u.BackgroundContext == nil &&
		len(u.KeyPoints) == 0 &&
		len(u.MainPerspectives) == 0 &&
		len(u.ControversialPoints) == 0 &&
		len(u.Perspectives) == 0 &&
		len(u.Implications.ShortTerm) == 0 &&
		len(u.Implications.LongTerm) == 0 &&
		len(u.NotableQuotes) == 0 &&
		len(u.Timeline) == 0 &&
		len(u.RelatedTopics) == 0
}
