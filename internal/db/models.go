package db

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

// RawArticleRecord maps briefs.raw_articles.
type RawArticleRecord struct {
	ID          string     `gorm:"column:id;type:uuid;primaryKey"`
	URL         string     `gorm:"column:url;type:text;not null;uniqueIndex:raw_articles_url_key"`
	Title       string     `gorm:"column:title;type:text;not null"`
	Description string     `gorm:"column:description;type:text;not null;default:''"`
	Content     string     `gorm:"column:content;type:text;not null;default:''"`
	ImageURL    string     `gorm:"column:image_url;type:text;not null;default:''"`
	SourceID    string     `gorm:"column:source_id;type:text;not null;default:''"`
	SourceName  string     `gorm:"column:source_name;type:text;not null;default:''"`
	PublishedAt *time.Time `gorm:"column:published_at;type:timestamptz"`
	Language    string     `gorm:"column:language;type:text;not null;default:''"`
	Processed   bool       `gorm:"column:processed;type:boolean;not null;default:false"`
	StoryID     *string    `gorm:"column:story_id;type:uuid;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RawArticleRecord) TableName() string { return "briefs.raw_articles" }

// StoryRecord maps briefs.stories. Sources, categories and analysis are
// stored as jsonb documents.
type StoryRecord struct {
	ID                string         `gorm:"column:id;type:uuid;primaryKey"`
	Title             string         `gorm:"column:title;type:text;not null"`
	Summary           string         `gorm:"column:summary;type:text;not null;default:''"`
	Content           string         `gorm:"column:content;type:text;not null;default:''"`
	Language          string         `gorm:"column:language;type:text;not null;default:''"`
	Sources           datatypes.JSON `gorm:"column:sources;type:jsonb;not null;default:'[]'"`
	FirstPublished    time.Time      `gorm:"column:first_published;type:timestamptz;not null"`
	LastUpdated       time.Time      `gorm:"column:last_updated;type:timestamptz;not null;index"`
	TotalSources      int            `gorm:"column:total_sources;type:integer;not null;default:0"`
	Categories        datatypes.JSON `gorm:"column:categories;type:jsonb;not null;default:'[]'"`
	LatestDevelopment string         `gorm:"column:latest_development;type:text;not null;default:''"`
	ImageURL          string         `gorm:"column:image_url;type:text;not null;default:''"`
	Analysis          datatypes.JSON `gorm:"column:analysis;type:jsonb;not null;default:'{}'"`
	CreatedAt         time.Time      `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (StoryRecord) TableName() string { return "briefs.stories" }

// StoryArticleLinkRecord maps briefs.story_article_links. The composite
// primary key makes a (story, article) pair unique.
type StoryArticleLinkRecord struct {
	StoryID          string    `gorm:"column:story_id;type:uuid;primaryKey"`
	ArticleID        string    `gorm:"column:article_id;type:uuid;primaryKey;index"`
	AddedAt          time.Time `gorm:"column:added_at;type:timestamptz;not null"`
	ContributionType string    `gorm:"column:contribution_type;type:text;not null"`
	Impact           string    `gorm:"column:impact;type:text;not null"`
}

func (StoryArticleLinkRecord) TableName() string { return "briefs.story_article_links" }

func autoMigrateModels() []any {
	return []any{
		&RawArticleRecord{},
		&StoryRecord{},
		&StoryArticleLinkRecord{},
	}
}

func rawArticleToRecord(article domain.RawArticle) RawArticleRecord {
	src := article.SourceArticle
	record := RawArticleRecord{
		ID:          article.ID,
		URL:         src.URL,
		Title:       src.Title,
		Description: src.Description,
		Content:     src.Content,
		ImageURL:    src.ImageURL,
		SourceID:    src.SourceID,
		SourceName:  src.SourceName,
		Language:    article.Language,
		Processed:   article.Processed,
		CreatedAt:   article.CreatedAt.UTC(),
		UpdatedAt:   article.UpdatedAt.UTC(),
	}
	if !src.PublishedAt.IsZero() {
		published := src.PublishedAt.UTC()
		record.PublishedAt = &published
	}
	if article.StoryID != "" {
		storyID := article.StoryID
		record.StoryID = &storyID
	}
	return record
}

func (r RawArticleRecord) toDomain() domain.RawArticle {
	article := domain.RawArticle{
		ID: r.ID,
		SourceArticle: domain.SourceArticle{
			Title:       r.Title,
			Description: r.Description,
			Content:     r.Content,
			URL:         r.URL,
			ImageURL:    r.ImageURL,
			SourceID:    r.SourceID,
			SourceName:  r.SourceName,
		},
		Language:  r.Language,
		Processed: r.Processed,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.PublishedAt != nil {
		article.SourceArticle.PublishedAt = r.PublishedAt.UTC()
	}
	if r.StoryID != nil {
		article.StoryID = *r.StoryID
	}
	return article
}

func storyToRecord(story domain.Story) (StoryRecord, error) {
	sources := story.Sources
	if sources == nil {
		sources = []domain.Source{}
	}
	categories := story.Metadata.Categories
	if categories == nil {
		categories = []string{}
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return StoryRecord{}, fmt.Errorf("marshal sources: %w", err)
	}
	categoriesJSON, err := json.Marshal(categories)
	if err != nil {
		return StoryRecord{}, fmt.Errorf("marshal categories: %w", err)
	}
	analysisJSON, err := json.Marshal(story.Analysis)
	if err != nil {
		return StoryRecord{}, fmt.Errorf("marshal analysis: %w", err)
	}

	return StoryRecord{
		ID:                story.ID,
		Title:             story.Title,
		Summary:           story.Summary,
		Content:           story.Content,
		Language:          story.Language,
		Sources:           datatypes.JSON(sourcesJSON),
		FirstPublished:    story.Metadata.FirstPublished.UTC(),
		LastUpdated:       story.Metadata.LastUpdated.UTC(),
		TotalSources:      len(sources),
		Categories:        datatypes.JSON(categoriesJSON),
		LatestDevelopment: story.Metadata.LatestDevelopment,
		ImageURL:          story.Metadata.ImageURL,
		Analysis:          datatypes.JSON(analysisJSON),
		CreatedAt:         story.CreatedAt.UTC(),
		UpdatedAt:         story.UpdatedAt.UTC(),
	}, nil
}

func (r StoryRecord) toDomain() (domain.Story, error) {
	story := domain.Story{
		ID:       r.ID,
		Title:    r.Title,
		Summary:  r.Summary,
		Content:  r.Content,
		Language: r.Language,
		Metadata: domain.StoryMetadata{
			FirstPublished:    r.FirstPublished.UTC(),
			LastUpdated:       r.LastUpdated.UTC(),
			TotalSources:      r.TotalSources,
			LatestDevelopment: r.LatestDevelopment,
			ImageURL:          r.ImageURL,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}

	if len(r.Sources) > 0 {
		if err := json.Unmarshal(r.Sources, &story.Sources); err != nil {
			return domain.Story{}, fmt.Errorf("decode sources for story %s: %w", r.ID, err)
		}
	}
	if len(r.Categories) > 0 {
		if err := json.Unmarshal(r.Categories, &story.Metadata.Categories); err != nil {
			return domain.Story{}, fmt.Errorf("decode categories for story %s: %w", r.ID, err)
		}
	}
	if len(r.Analysis) > 0 {
		if err := json.Unmarshal(r.Analysis, &story.Analysis); err != nil {
			return domain.Story{}, fmt.Errorf("decode analysis for story %s: %w", r.ID, err)
		}
	}
	return story, nil
}

func linkToRecord(link domain.StoryArticleLink) StoryArticleLinkRecord {
	return StoryArticleLinkRecord{
		StoryID:          link.StoryID,
		ArticleID:        link.ArticleID,
		AddedAt:          link.AddedAt.UTC(),
		ContributionType: string(link.ContributionType),
		Impact:           string(link.Impact),
	}
}

func (r StoryArticleLinkRecord) toDomain() domain.StoryArticleLink {
	return domain.StoryArticleLink{
		StoryID:          r.StoryID,
		ArticleID:        r.ArticleID,
		AddedAt:          r.AddedAt.UTC(),
		ContributionType: domain.ContributionType(r.ContributionType),
		Impact:           domain.Impact(r.Impact),
	}
}

func storiesFromRecords(records []StoryRecord) ([]domain.Story, error) {
	stories := make([]domain.Story, 0, len(records))
	for _, record := range records {
		story, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, nil
}
