package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the process clock, or the mocked instant when one is set.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime pins the clock to t until ResetTime is called.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

// Advance moves a mocked clock forward by d. It pins the real clock first when
// no mock is active.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	current := nowFunc()
	nowFunc = func() time.Time { return current.Add(d) }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
