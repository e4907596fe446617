package analysiscache

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kamaleldincom/Briefs-sub000/internal/domain"
	"github.com/kamaleldincom/Briefs-sub000/internal/globaltime"
)

const (
	DefaultTTL        = 12 * time.Hour
	DefaultMaxEntries = 100
	// SchemaVersion is bumped whenever the cached analysis shape changes.
	SchemaVersion = 2

	pruneFraction = 0.2
)

type entry struct {
	result    domain.StoryAnalysis
	timestamp time.Time
	version   int
	storyIDs  []string
	seq       uint64
}

type Options struct {
	TTL        time.Duration
	MaxEntries int
	Version    int
	Now        func() time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries     int        `json:"entries"`
	MaxEntries  int        `json:"max_entries"`
	TTLSeconds  float64    `json:"ttl_seconds"`
	Hits        uint64     `json:"hits"`
	Misses      uint64     `json:"misses"`
	Expired     uint64     `json:"expired"`
	Pruned      uint64     `json:"pruned"`
	Invalidated uint64     `json:"invalidated"`
	OldestEntry *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry *time.Time `json:"newest_entry,omitempty"`
}

// Cache holds oracle analyses keyed by the sorted set of story IDs they cover.
// Entries expire after the TTL or when written under another schema version.
// When full, the oldest fifth by insertion time is pruned.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	max     int
	version int
	now     func() time.Time
	seq     uint64

	hits        uint64
	misses      uint64
	expired     uint64
	pruned      uint64
	invalidated uint64
}

func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Version == 0 {
		opts.Version = SchemaVersion
	}
	if opts.Now == nil {
		opts.Now = globaltime.UTC
	}
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     opts.TTL,
		max:     opts.MaxEntries,
		version: opts.Version,
		now:     opts.Now,
	}
}

// Key returns the order-independent cache key for storyIDs.
func Key(storyIDs []string) string {
	ids := normalizeIDs(storyIDs)
	return strings.Join(ids, ",")
}

func normalizeIDs(storyIDs []string) []string {
	ids := make([]string, 0, len(storyIDs))
	seen := make(map[string]struct{}, len(storyIDs))
	for _, id := range storyIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		ids = append(ids, trimmed)
	}
	sort.Strings(ids)
	return ids
}

func (c *Cache) Get(storyIDs []string) (domain.StoryAnalysis, bool) {
	key := Key(storyIDs)
	if key == "" {
		return domain.StoryAnalysis{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return domain.StoryAnalysis{}, false
	}
	if !c.valid(e) {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return domain.StoryAnalysis{}, false
	}
	c.hits++
	return e.result, true
}

func (c *Cache) Put(storyIDs []string, analysis domain.StoryAnalysis) {
	ids := normalizeIDs(storyIDs)
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[strings.Join(ids, ",")] = &entry{
		result:    analysis,
		timestamp: c.now(),
		version:   c.version,
		storyIDs:  ids,
		seq:       c.seq,
	}
	if len(c.entries) > c.max {
		c.pruneLocked()
	}
}

// Invalidate drops every entry whose story set contains storyID and returns
// how many were removed.
func (c *Cache) Invalidate(storyID string) int {
	target := strings.TrimSpace(storyID)
	if target == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		idx := sort.SearchStrings(e.storyIDs, target)
		if idx < len(e.storyIDs) && e.storyIDs[idx] == target {
			delete(c.entries, key)
			removed++
		}
	}
	c.invalidated += uint64(removed)
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries:     len(c.entries),
		MaxEntries:  c.max,
		TTLSeconds:  c.ttl.Seconds(),
		Hits:        c.hits,
		Misses:      c.misses,
		Expired:     c.expired,
		Pruned:      c.pruned,
		Invalidated: c.invalidated,
	}
	for _, e := range c.entries {
		ts := e.timestamp
		if stats.OldestEntry == nil || ts.Before(*stats.OldestEntry) {
			stats.OldestEntry = &ts
		}
		if stats.NewestEntry == nil || ts.After(*stats.NewestEntry) {
			stats.NewestEntry = &ts
		}
	}
	return stats
}

func (c *Cache) valid(e *entry) bool {
	if e.version != c.version {
		return false
	}
	return c.now().Sub(e.timestamp) < c.ttl
}

// pruneLocked removes expired entries, then the oldest fifth of what remains
// if the cache is still over capacity. Insertion sequence breaks timestamp
// ties so pruning is deterministic.
func (c *Cache) pruneLocked() {
	for key, e := range c.entries {
		if !c.valid(e) {
			delete(c.entries, key)
			c.expired++
		}
	}
	if len(c.entries) <= c.max {
		return
	}

	ordered := make([]string, 0, len(c.entries))
	for key := range c.entries {
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		left, right := c.entries[ordered[i]], c.entries[ordered[j]]
		if !left.timestamp.Equal(right.timestamp) {
			return left.timestamp.Before(right.timestamp)
		}
		return left.seq < right.seq
	})

	drop := int(math.Ceil(float64(len(ordered)) * pruneFraction))
	if overflow := len(ordered) - c.max; drop < overflow {
		drop = overflow
	}
	for _, key := range ordered[:drop] {
		delete(c.entries, key)
	}
	c.pruned += uint64(drop)
}
