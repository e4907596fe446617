package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
)

type memStore struct {
	mu sync.Mutex

	raws    map[string]domain.RawArticle
	stories map[string]domain.Story
	links   []domain.StoryArticleLink

	relatedErr   error
	prefixErr    error
	updateErr    error
	relatedCalls int
	prefixCalls  int
	lastPrefix   string
}

func newMemStore() *memStore {
	return &memStore{
		raws:    make(map[string]domain.RawArticle),
		stories: make(map[string]domain.Story),
	}
}

func (s *memStore) StoreRawArticle(_ context.Context, article domain.RawArticle) (domain.RawArticle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.raws[article.SourceArticle.URL]; ok {
		return existing, false, nil
	}
	s.raws[article.SourceArticle.URL] = article
	return article, true, nil
}

func (s *memStore) GetRawArticleByURL(_ context.Context, url string) (domain.RawArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.raws[url]
	if !ok {
		return domain.RawArticle{}, ErrArticleNotFound
	}
	return raw, nil
}

func (s *memStore) UpdateRawArticle(_ context.Context, article domain.RawArticle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.raws[article.SourceArticle.URL]; !ok {
		return ErrArticleNotFound
	}
	s.raws[article.SourceArticle.URL] = article
	return nil
}

func (s *memStore) GetRawArticlesByStoryID(_ context.Context, storyID string) ([]domain.RawArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.RawArticle
	for _, raw := range s.raws {
		if raw.StoryID == storyID {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (s *memStore) AddStory(_ context.Context, story domain.Story) (domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stories[story.ID] = story
	return story, nil
}

func (s *memStore) GetStory(_ context.Context, id string) (domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	story, ok := s.stories[id]
	if !ok {
		return domain.Story{}, ErrStoryNotFound
	}
	return story, nil
}

func (s *memStore) UpdateStory(_ context.Context, story domain.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	existing, ok := s.stories[story.ID]
	if !ok {
		return ErrStoryNotFound
	}
	story.Analysis = existing.Analysis
	s.stories[story.ID] = story
	return nil
}

func (s *memStore) UpdateStoryAnalysis(_ context.Context, id string, analysis domain.StoryAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	story, ok := s.stories[id]
	if !ok {
		return ErrStoryNotFound
	}
	story.Analysis = analysis
	s.stories[id] = story
	return nil
}

// FindRelatedStories returns every story sharing at least one keyword with
// the query text, mimicking an OR-ed full-text search.
func (s *memStore) FindRelatedStories(_ context.Context, query RelatedStoryQuery) ([]domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relatedCalls++
	if s.relatedErr != nil {
		return nil, s.relatedErr
	}

	wanted := keywordSet(query.Text)
	var out []domain.Story
	for _, story := range s.sortedStoriesLocked() {
		for _, keyword := range Keywords(story.Title + " " + story.Summary) {
			if _, ok := wanted[keyword]; ok {
				out = append(out, story)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) FindStoriesByTitlePrefix(_ context.Context, prefix string, _ time.Time, _ int) ([]domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefixCalls++
	s.lastPrefix = prefix
	if s.prefixErr != nil {
		return nil, s.prefixErr
	}

	var out []domain.Story
	for _, story := range s.sortedStoriesLocked() {
		if strings.HasPrefix(strings.ToLower(story.Title), strings.ToLower(prefix)) {
			out = append(out, story)
		}
	}
	return out, nil
}

func (s *memStore) ListActiveStories(_ context.Context, since time.Time, limit int) ([]domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Story
	for _, story := range s.sortedStoriesLocked() {
		if !story.Metadata.LastUpdated.Before(since) {
			out = append(out, story)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CreateStoryLink(_ context.Context, link domain.StoryArticleLink) (domain.StoryArticleLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.links {
		if existing.StoryID == link.StoryID && existing.ArticleID == link.ArticleID {
			return existing, nil
		}
	}
	s.links = append(s.links, link)
	return link, nil
}

func (s *memStore) GetStoryLinks(_ context.Context, storyID string) ([]domain.StoryArticleLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StoryArticleLink
	for _, link := range s.links {
		if link.StoryID == storyID {
			out = append(out, link)
		}
	}
	return out, nil
}

func (s *memStore) sortedStoriesLocked() []domain.Story {
	out := make([]domain.Story, 0, len(s.stories))
	for _, story := range s.stories {
		out = append(out, story)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out
}

func (s *memStore) storyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stories)
}

func (s *memStore) rawCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.raws)
}

func (s *memStore) linkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

type fakeOracle struct {
	mu sync.Mutex

	verdict     domain.SimilarityVerdict
	similarErr  error
	analysis    domain.AnalysisUpdate
	analyzeErr  error
	update      domain.AnalysisUpdate
	updateErr   error
	similarCall int
	analyzeCall int
	updateCall  int
}

func (o *fakeOracle) Similarity(_ context.Context, _ SimilarityRequest) (domain.SimilarityVerdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.similarCall++
	return o.verdict, o.similarErr
}

func (o *fakeOracle) Analyze(_ context.Context, _ []domain.Story) (domain.AnalysisUpdate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyzeCall++
	return o.analysis, o.analyzeErr
}

func (o *fakeOracle) UpdateAnalysis(_ context.Context, _ domain.StoryAnalysis, _ domain.SourceArticle) (domain.AnalysisUpdate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updateCall++
	return o.update, o.updateErr
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[string]domain.StoryAnalysis
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]domain.StoryAnalysis)}
}

func (c *mapCache) key(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (c *mapCache) Get(ids []string) (domain.StoryAnalysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	analysis, ok := c.entries[c.key(ids)]
	return analysis, ok
}

func (c *mapCache) Put(ids []string, analysis domain.StoryAnalysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(ids)] = analysis
}

func (c *mapCache) Invalidate(storyID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, storyID)
	removed := 0
	for key := range c.entries {
		for _, id := range strings.Split(key, ",") {
			if id == storyID {
				delete(c.entries, key)
				removed++
				break
			}
		}
	}
	return removed
}

func strPtr(value string) *string {
	return &value
}
