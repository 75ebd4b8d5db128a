// internal/player/errors.go
package player

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// ReasonClickExhausted is reported when no click tactic produced an effect.
const ReasonClickExhausted = "all click strategies exhausted"

// ActionExecutionError is a handler failure after its retries were exhausted.
type ActionExecutionError struct {
	Index  int
	Type   schemas.ActionType
	Reason string
	Err    error
}

func (e *ActionExecutionError) Error() string {
	msg := fmt.Sprintf("action %d (%s) failed: %s", e.Index, e.Type, e.Reason)
	if e.Err != nil && e.Err.Error() != e.Reason {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// PlaybackError aborts a run. It carries enough progress information for a
// caller to retry at a higher level.
type PlaybackError struct {
	Index         int
	ExecutedCount int
	LastURL       string
	Err           error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback aborted at action %d after %d executed (last url %q): %v", e.Index, e.ExecutedCount, e.LastURL, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// NavigationTimeoutError is soft: the run continues without confirmation.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %q not confirmed within %s", e.URL, e.Timeout)
}
