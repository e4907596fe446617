package domain

import (
	"strings"
	"time"
)

// SourceArticle is one article record as delivered by the article source.
type SourceArticle struct {
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Content     string    `json:"content,omitempty" yaml:"content"`
	URL         string    `json:"url" yaml:"url"`
	ImageURL    string    `json:"urlToImage,omitempty" yaml:"urlToImage"`
	PublishedAt time.Time `json:"publishedAt" yaml:"publishedAt"`
	SourceID    string    `json:"sourceId,omitempty" yaml:"sourceId"`
	SourceName  string    `json:"sourceName" yaml:"sourceName"`
}

// Text returns the title and description joined for keyword scoring.
func (a SourceArticle) Text() string {
	return strings.TrimSpace(a.Title + " " + a.Description)
}

// RawArticle is an unprocessed article keyed by its globally unique URL.
type RawArticle struct {
	ID            string        `json:"id"`
	SourceArticle SourceArticle `json:"sourceArticle"`
	Language      string        `json:"language,omitempty"`
	Processed     bool          `json:"processed"`
	StoryID       string        `json:"storyId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type ContributionType string

const (
	ContributionOriginal ContributionType = "original"
	ContributionUpdate   ContributionType = "update"
	ContributionRelated  ContributionType = "related"
)

type Impact string

const (
	ImpactMajor   Impact = "major"
	ImpactMinor   Impact = "minor"
	ImpactContext Impact = "context"
)

// StoryArticleLink joins a raw article to the story it was clustered into.
// The (StoryID, ArticleID) pair is unique.
type StoryArticleLink struct {
	StoryID          string           `json:"storyId"`
	ArticleID        string           `json:"articleId"`
	AddedAt          time.Time        `json:"addedAt"`
	ContributionType ContributionType `json:"contributionType"`
	Impact           Impact           `json:"impact"`
}
