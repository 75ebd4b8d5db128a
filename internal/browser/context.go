// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from primary (inheriting its values, such
// as the chromedp target) that is also cancelled when secondary is done.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext keeps the parent's values but drops its deadline and
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                       { return nil }
func (valueOnlyContext) Err() error                                  { return nil }

// Detach returns a context that carries ctx's values but is never cancelled
// by it. Used for the attempt in flight when a run is asked to stop, and for
// cleanup that must outlive the caller.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
