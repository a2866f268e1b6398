package router

import (
	"sync"
	"time"

	"roomrelay/pkg/types"
)

// Limits configures a RateLimiter.
type Limits struct {
	Window time.Duration
	Text   int
	Media  int
}

// DefaultLimits allows 20 text and 4 media sends per minute.
var DefaultLimits = Limits{Window: time.Minute, Text: 20, Media: 4}

// RateWindow holds one participant's counters for the current window.
type RateWindow struct {
	TextCount   int
	MediaCount  int
	WindowStart time.Time
}

// RateLimiter enforces per-participant send quotas over a fixed window.
// Text and media are counted independently. Windows roll over lazily in Admit.
type RateLimiter struct {
	mu      sync.Mutex
	limits  Limits
	windows map[string]*RateWindow
	now     func() time.Time
}

// NewRateLimiter creates a limiter using the wall clock.
func NewRateLimiter(limits Limits) *RateLimiter {
	return NewRateLimiterWithClock(limits, time.Now)
}

// NewRateLimiterWithClock creates a limiter reading time from now.
func NewRateLimiterWithClock(limits Limits, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		windows: make(map[string]*RateWindow),
		now:     now,
	}
}

// Admit reports whether participant may send one more message of kind.
// It never counts the send; call Record once the send is accepted.
func (rl *RateLimiter) Admit(participant string, kind types.Kind) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	w, exists := rl.windows[participant]
	if !exists {
		rl.windows[participant] = &RateWindow{WindowStart: now}
		return true
	}

	if now.Sub(w.WindowStart) > rl.limits.Window {
		w.TextCount = 0
		w.MediaCount = 0
		w.WindowStart = now
		return true
	}

	if kind == types.KindMedia {
		return w.MediaCount < rl.limits.Media
	}
	return w.TextCount < rl.limits.Text
}

// Record counts one accepted send of kind against participant's window.
func (rl *RateLimiter) Record(participant string, kind types.Kind) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[participant]
	if !exists {
		w = &RateWindow{WindowStart: rl.now()}
		rl.windows[participant] = w
	}

	if kind == types.KindMedia {
		w.MediaCount++
	} else {
		w.TextCount++
	}
}

// Window returns a copy of participant's current counters.
func (rl *RateLimiter) Window(participant string) (RateWindow, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[participant]
	if !exists {
		return RateWindow{}, false
	}
	return *w, true
}

// Tracked returns how many participants currently hold a window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
