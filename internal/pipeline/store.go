package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

var (
	ErrStoreNotInitialized = errors.New("story store is not initialized")
	ErrStoryNotFound       = errors.New("story not found")
	ErrArticleNotFound     = errors.New("raw article not found")
)

// RelatedStoryQuery asks the store for stories sharing text with a candidate.
type RelatedStoryQuery struct {
	Text         string
	Language     string
	UpdatedSince time.Time
	Limit        int
}

// Store is the persistence contract the clustering engine depends on.
// Lookups that find nothing return ErrArticleNotFound or ErrStoryNotFound.
type Store interface {
	// StoreRawArticle inserts article unless its URL already exists, in which
	// case the existing record is returned with created=false.
	StoreRawArticle(ctx context.Context, article domain.RawArticle) (stored domain.RawArticle, created bool, err error)
	GetRawArticleByURL(ctx context.Context, url string) (domain.RawArticle, error)
	UpdateRawArticle(ctx context.Context, article domain.RawArticle) error
	GetRawArticlesByStoryID(ctx context.Context, storyID string) ([]domain.RawArticle, error)

	AddStory(ctx context.Context, story domain.Story) (domain.Story, error)
	GetStory(ctx context.Context, id string) (domain.Story, error)
	UpdateStory(ctx context.Context, story domain.Story) error
	UpdateStoryAnalysis(ctx context.Context, id string, analysis domain.StoryAnalysis) error
	FindRelatedStories(ctx context.Context, query RelatedStoryQuery) ([]domain.Story, error)
	FindStoriesByTitlePrefix(ctx context.Context, prefix string, since time.Time, limit int) ([]domain.Story, error)
	ListActiveStories(ctx context.Context, since time.Time, limit int) ([]domain.Story, error)

	// CreateStoryLink is idempotent per (story, article) pair; a duplicate
	// returns the existing link.
	CreateStoryLink(ctx context.Context, link domain.StoryArticleLink) (domain.StoryArticleLink, error)
	GetStoryLinks(ctx context.Context, storyID string) ([]domain.StoryArticleLink, error)
}

// Oracle is the external analysis service. Malformed responses come back as
// empty or heuristic values; an error means the call itself failed.
type Oracle interface {
	Similarity(ctx context.Context, req SimilarityRequest) (domain.SimilarityVerdict, error)
	Analyze(ctx context.Context, stories []domain.Story) (domain.AnalysisUpdate, error)
	UpdateAnalysis(ctx context.Context, existing domain.StoryAnalysis, article domain.SourceArticle) (domain.AnalysisUpdate, error)
}

// SimilarityRequest carries two stories plus heuristic entities for the prompt.
type SimilarityRequest struct {
	Left          domain.Story
	Right         domain.Story
	LeftEntities  []string
	RightEntities []string
}

// AnalysisCache stores oracle analyses keyed by story-ID sets.
type AnalysisCache interface {
	Get(storyIDs []string) (domain.StoryAnalysis, bool)
	Put(storyIDs []string, analysis domain.StoryAnalysis)
	Invalidate(storyID string) int
}
