// internal/player/strategy.go
package player

import (
	"sync"
	"time"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// Tracker holds the adaptive strategy state of one run. Once the mode flips
// to element-first it never flips back.
type Tracker struct {
	mu        sync.Mutex
	mode      schemas.StrategyMode
	failures  []time.Time
	threshold int
	window    int
	now       func() time.Time
	flippedAt time.Time
}

// NewTracker creates a blind-first tracker that flips after threshold
// consecutive failures, remembering at most window of them.
func NewTracker(threshold, window int) *Tracker {
	if threshold <= 0 {
		threshold = 10
	}
	if window < threshold {
		window = threshold
	}
	return &Tracker{
		mode:      schemas.ModeBlindFirst,
		failures:  make([]time.Time, 0, window),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// RecordFailure notes an unresolved action. It reports whether this call
// flipped the mode.
func (t *Tracker) RecordFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.failures) == t.window {
		copy(t.failures, t.failures[1:])
		t.failures = t.failures[:t.window-1]
	}
	t.failures = append(t.failures, t.now())

	if t.mode == schemas.ModeBlindFirst && len(t.failures) >= t.threshold {
		t.mode = schemas.ModeElementFirst
		t.flippedAt = t.now()
		return true
	}
	return false
}

// RecordSuccess resets the failure window. The mode is left as is.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = t.failures[:0]
}

// Mode returns the current strategy mode.
func (t *Tracker) Mode() schemas.StrategyMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Failures returns the number of consecutive failures in the window.
func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures)
}

// FlippedAt returns when the mode switched, or the zero time.
func (t *Tracker) FlippedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flippedAt
}
