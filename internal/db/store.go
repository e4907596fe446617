package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/pipeline"
)

const (
	defaultListLimit  = 100
	maxTSQueryTerms   = 16
	storyColumnsQuery = `
	s.id::text AS id,
	s.title,
	s.summary,
	s.content,
	s.language,
	s.sources,
	s.first_published,
	s.last_updated,
	s.total_sources,
	s.categories,
	s.latest_development,
	s.image_url,
	s.analysis,
	s.created_at,
	s.updated_at`
)

// Store persists raw articles, stories and their links in postgres.
type Store struct {
	pool *Pool
}

var _ pipeline.Store = (*Store)(nil)

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) db(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.pool == nil || s.pool.gdb == nil {
		return nil, pipeline.ErrStoreNotInitialized
	}
	return s.pool.gdb.WithContext(ctx), nil
}

// StoreRawArticle inserts the article unless its URL already exists and then
// reads the row back, so concurrent writers observe one record per URL.
func (s *Store) StoreRawArticle(ctx context.Context, article domain.RawArticle) (domain.RawArticle, bool, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return domain.RawArticle{}, false, err
	}
	if strings.TrimSpace(article.SourceArticle.URL) == "" {
		return domain.RawArticle{}, false, fmt.Errorf("raw article url is required")
	}

	record := rawArticleToRecord(article)
	result := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return domain.RawArticle{}, false, fmt.Errorf("insert raw article: %w", result.Error)
	}

	stored, err := s.GetRawArticleByURL(ctx, article.SourceArticle.URL)
	if err != nil {
		return domain.RawArticle{}, false, err
	}
	return stored, result.RowsAffected > 0, nil
}

func (s *Store) GetRawArticleByURL(ctx context.Context, url string) (domain.RawArticle, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return domain.RawArticle{}, err
	}

	var record RawArticleRecord
	if err := gdb.Where("url = ?", url).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RawArticle{}, pipeline.ErrArticleNotFound
		}
		return domain.RawArticle{}, fmt.Errorf("query raw article by url: %w", err)
	}
	return record.toDomain(), nil
}

func (s *Store) UpdateRawArticle(ctx context.Context, article domain.RawArticle) error {
	gdb, err := s.db(ctx)
	if err != nil {
		return err
	}

	record := rawArticleToRecord(article)
	result := gdb.Model(&RawArticleRecord{}).
		Where("id = ?", article.ID).
		Updates(map[string]any{
			"content":    record.Content,
			"language":   record.Language,
			"processed":  record.Processed,
			"story_id":   record.StoryID,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update raw article %s: %w", article.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return pipeline.ErrArticleNotFound
	}
	return nil
}

func (s *Store) GetRawArticlesByStoryID(ctx context.Context, storyID string) ([]domain.RawArticle, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var records []RawArticleRecord
	if err := gdb.Where("story_id = ?", storyID).
		Order("published_at ASC NULLS LAST").
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query raw articles for story %s: %w", storyID, err)
	}

	articles := make([]domain.RawArticle, 0, len(records))
	for _, record := range records {
		articles = append(articles, record.toDomain())
	}
	return articles, nil
}

func (s *Store) AddStory(ctx context.Context, story domain.Story) (domain.Story, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return domain.Story{}, err
	}

	record, err := storyToRecord(story)
	if err != nil {
		return domain.Story{}, err
	}
	if err := gdb.Create(&record).Error; err != nil {
		return domain.Story{}, fmt.Errorf("insert story: %w", err)
	}
	return record.toDomain()
}

func (s *Store) GetStory(ctx context.Context, id string) (domain.Story, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return domain.Story{}, err
	}

	var record StoryRecord
	if err := gdb.Where("id = ?", id).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Story{}, pipeline.ErrStoryNotFound
		}
		return domain.Story{}, fmt.Errorf("query story %s: %w", id, err)
	}
	return record.toDomain()
}

func (s *Store) UpdateStory(ctx context.Context, story domain.Story) error {
	gdb, err := s.db(ctx)
	if err != nil {
		return err
	}

	record, err := storyToRecord(story)
	if err != nil {
		return err
	}
	result := gdb.Model(&StoryRecord{}).
		Where("id = ?", story.ID).
		Updates(storyUpdateColumns(record))
	if result.Error != nil {
		return fmt.Errorf("update story %s: %w", story.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return pipeline.ErrStoryNotFound
	}
	return nil
}

// storyUpdateColumns lists the columns UpdateStory rewrites. Analysis is
// written only through UpdateStoryAnalysis.
func storyUpdateColumns(record StoryRecord) map[string]any {
	return map[string]any{
		"title":              record.Title,
		"summary":            record.Summary,
		"content":            record.Content,
		"language":           record.Language,
		"sources":            record.Sources,
		"first_published":    record.FirstPublished,
		"last_updated":       record.LastUpdated,
		"total_sources":      record.TotalSources,
		"categories":         record.Categories,
		"latest_development": record.LatestDevelopment,
		"image_url":          record.ImageURL,
		"updated_at":         time.Now().UTC(),
	}
}

func (s *Store) UpdateStoryAnalysis(ctx context.Context, id string, analysis domain.StoryAnalysis) error {
	gdb, err := s.db(ctx)
	if err != nil {
		return err
	}

	record, err := storyToRecord(domain.Story{ID: id, Analysis: analysis})
	if err != nil {
		return err
	}
	result := gdb.Model(&StoryRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"analysis":   record.Analysis,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update analysis for story %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return pipeline.ErrStoryNotFound
	}
	return nil
}

// FindRelatedStories runs a full-text OR search over story titles and
// summaries updated since query.UpdatedSince, best rank first.
func (s *Store) FindRelatedStories(ctx context.Context, query pipeline.RelatedStoryQuery) ([]domain.Story, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	tsQuery := buildTSQuery(query.Text)
	if tsQuery == "" {
		return []domain.Story{}, nil
	}

	q := `
SELECT` + storyColumnsQuery + `
FROM briefs.stories s
WHERE s.last_updated >= $1
  AND to_tsvector($2::regconfig, coalesce(s.title, '') || ' ' || coalesce(s.summary, '')) @@ to_tsquery($2::regconfig, $3)
ORDER BY ts_rank(to_tsvector($2::regconfig, coalesce(s.title, '') || ' ' || coalesce(s.summary, '')), to_tsquery($2::regconfig, $3)) DESC,
	s.last_updated DESC
LIMIT $4
`

	var records []StoryRecord
	if err := gdb.Raw(q, query.UpdatedSince.UTC(), searchConfig(query.Language), tsQuery, normalizeLimit(query.Limit)).Scan(&records).Error; err != nil {
		return nil, fmt.Errorf("query related stories: %w", err)
	}
	return storiesFromRecords(records)
}

func (s *Store) FindStoriesByTitlePrefix(ctx context.Context, prefix string, since time.Time, limit int) ([]domain.Story, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []domain.Story{}, nil
	}

	q := `
SELECT` + storyColumnsQuery + `
FROM briefs.stories s
WHERE s.last_updated >= $1
  AND lower(s.title) LIKE $2
ORDER BY s.last_updated DESC
LIMIT $3
`

	var records []StoryRecord
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	if err := gdb.Raw(q, since.UTC(), pattern, normalizeLimit(limit)).Scan(&records).Error; err != nil {
		return nil, fmt.Errorf("query stories by title prefix: %w", err)
	}
	return storiesFromRecords(records)
}

func (s *Store) ListActiveStories(ctx context.Context, since time.Time, limit int) ([]domain.Story, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var records []StoryRecord
	if err := gdb.Where("last_updated >= ?", since.UTC()).
		Order("last_updated DESC").
		Limit(normalizeLimit(limit)).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query active stories: %w", err)
	}
	return storiesFromRecords(records)
}

// ListStoriesOlderThan returns stories not updated since cutoff, oldest first.
func (s *Store) ListStoriesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Story, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var records []StoryRecord
	if err := gdb.Where("last_updated < ?", cutoff.UTC()).
		Order("last_updated ASC").
		Limit(normalizeLimit(limit)).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query stale stories: %w", err)
	}
	return storiesFromRecords(records)
}

func (s *Store) CreateStoryLink(ctx context.Context, link domain.StoryArticleLink) (domain.StoryArticleLink, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return domain.StoryArticleLink{}, err
	}

	record := linkToRecord(link)
	if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return domain.StoryArticleLink{}, fmt.Errorf("insert story link: %w", err)
	}

	var stored StoryArticleLinkRecord
	if err := gdb.Where("story_id = ? AND article_id = ?", link.StoryID, link.ArticleID).Take(&stored).Error; err != nil {
		return domain.StoryArticleLink{}, fmt.Errorf("read back story link: %w", err)
	}
	return stored.toDomain(), nil
}

func (s *Store) GetStoryLinks(ctx context.Context, storyID string) ([]domain.StoryArticleLink, error) {
	gdb, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var records []StoryArticleLinkRecord
	if err := gdb.Where("story_id = ?", storyID).
		Order("added_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query story links for %s: %w", storyID, err)
	}

	links := make([]domain.StoryArticleLink, 0, len(records))
	for _, record := range records {
		links = append(links, record.toDomain())
	}
	return links, nil
}

// Stats is the read model returned by the stats endpoint and command.
type Stats struct {
	Stories        int64 `json:"stories"`
	RawArticles    int64 `json:"raw_articles"`
	Unprocessed    int64 `json:"unprocessed_articles"`
	Links          int64 `json:"links"`
	UpdatedLastDay int64 `json:"stories_updated_last_24h"`
}

func (s *Store) CountStats(ctx context.Context, now time.Time) (*Stats, error) {
	if s == nil || s.pool == nil {
		return nil, pipeline.ErrStoreNotInitialized
	}

	const q = `
SELECT
	(SELECT COUNT(*) FROM briefs.stories) AS stories,
	(SELECT COUNT(*) FROM briefs.raw_articles) AS raw_articles,
	(SELECT COUNT(*) FROM briefs.raw_articles r WHERE NOT r.processed) AS unprocessed_articles,
	(SELECT COUNT(*) FROM briefs.story_article_links) AS links,
	(SELECT COUNT(*) FROM briefs.stories s WHERE s.last_updated >= $1) AS stories_updated_last_24h
`

	stats := &Stats{}
	if err := s.pool.QueryRow(ctx, q, now.UTC().Add(-24*time.Hour)).Scan(
		&stats.Stories,
		&stats.RawArticles,
		&stats.Unprocessed,
		&stats.Links,
		&stats.UpdatedLastDay,
	); err != nil {
		return nil, fmt.Errorf("query store stats: %w", err)
	}
	return stats, nil
}

// buildTSQuery turns free text into an OR query over its keywords.
func buildTSQuery(text string) string {
	keywords := pipeline.Keywords(text)
	if len(keywords) > maxTSQueryTerms {
		keywords = keywords[:maxTSQueryTerms]
	}
	return strings.Join(keywords, " | ")
}

func searchConfig(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "en":
		return "english"
	case "fr":
		return "french"
	case "de":
		return "german"
	case "es":
		return "spanish"
	case "it":
		return "italian"
	case "pt":
		return "portuguese"
	case "nl":
		return "dutch"
	case "ru":
		return "russian"
	default:
		return "simple"
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
