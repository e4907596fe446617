package domain

import "time"

// Source is one outlet's contribution to a story. URL is unique within a story.
type Source struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Bias        string `json:"bias,omitempty"`
	Sentiment   string `json:"sentiment,omitempty"`
	Quote       string `json:"quote,omitempty"`
	Perspective string `json:"perspective,omitempty"`
}

type StoryMetadata struct {
	FirstPublished    time.Time `json:"firstPublished"`
	LastUpdated       time.Time `json:"lastUpdated"`
	TotalSources      int       `json:"totalSources"`
	Categories        []string  `json:"categories,omitempty"`
	LatestDevelopment string    `json:"latestDevelopment,omitempty"`
	ImageURL          string    `json:"imageUrl,omitempty"`
}

// Story is a cluster of articles reporting the same event.
type Story struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Summary   string        `json:"summary"`
	Content   string        `json:"content,omitempty"`
	Sources   []Source      `json:"sources"`
	Metadata  StoryMetadata `json:"metadata"`
	Analysis  StoryAnalysis `json:"analysis"`
	Language  string        `json:"language,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// HasSourceURL reports whether url is already one of the story's sources.
func (s Story) HasSourceURL(url string) bool {
	for _, src := range s.Sources {
		if src.URL == url {
			return true
		}
	}
	return false
}

// SimilarityVerdict is the oracle's judgment on whether two stories cover one event.
type SimilarityVerdict struct {
	IsSimilar       bool     `json:"isSimilar"`
	ConfidenceScore float64  `json:"confidenceScore"`
	Reasonings      []string `json:"reasonings,omitempty"`
}
