package recheck

import (
	"sync"
	"time"
)

const (
	DefaultBackoffBase = 5 * time.Minute
	DefaultBackoffMax  = time.Hour
)

type State string

const (
	StateIdle    State = "idle"
	StateBackoff State = "backoff"
)

// Backoff tracks consecutive rate-limit responses from the article source.
//
// Idle -> Backoff on RecordRateLimit; the window lasts base*2^(n-1), capped at
// max, where n counts consecutive rate limits. Backoff -> Idle when the window
// elapses or on RecordSuccess, which also resets n.
type Backoff struct {
	mu          sync.Mutex
	base        time.Duration
	max         time.Duration
	consecutive int
	until       time.Time
}

func NewBackoff(base, ceiling time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{base: base, max: ceiling}
}

// RecordRateLimit enters (or extends) the backoff window starting at now and
// returns its length.
func (b *Backoff) RecordRateLimit(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	delay := b.base
	for i := 1; i < b.consecutive && delay < b.max; i++ {
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}
	b.until = now.Add(delay)
	return delay
}

func (b *Backoff) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.until = time.Time{}
}

func (b *Backoff) State(now time.Time) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.until) {
		return StateBackoff
	}
	return StateIdle
}

// Allow reports whether a run may start at now.
func (b *Backoff) Allow(now time.Time) bool {
	return b.State(now) == StateIdle
}

func (b *Backoff) ConsecutiveErrors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Until returns the end of the current backoff window, or the zero time.
func (b *Backoff) Until() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.until
}
