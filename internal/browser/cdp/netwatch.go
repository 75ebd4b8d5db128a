// internal/browser/cdp/netwatch.go
package cdp

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

const idleCheckFrequency = 50 * time.Millisecond

// netWatch counts requests in flight for one tab.
type netWatch struct {
	mu       sync.RWMutex
	inflight map[network.RequestID]struct{}
	logger   *zap.Logger
}

func newNetWatch(logger *zap.Logger) *netWatch {
	return &netWatch{inflight: make(map[network.RequestID]struct{}), logger: logger}
}

// handle is registered with chromedp.ListenTarget.
func (w *netWatch) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Redirects reuse the request id; the map keeps it counted once.
		w.mu.Lock()
		w.inflight[e.RequestID] = struct{}{}
		w.mu.Unlock()
	case *network.EventLoadingFinished:
		w.done(e.RequestID)
	case *network.EventLoadingFailed:
		w.done(e.RequestID)
	}
}

func (w *netWatch) done(id network.RequestID) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

// active returns the number of requests in flight.
func (w *netWatch) active() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.inflight)
}

// reset forgets requests of a document that has been replaced.
func (w *netWatch) reset() {
	w.mu.Lock()
	w.inflight = make(map[network.RequestID]struct{})
	w.mu.Unlock()
}

// waitIdle blocks until nothing has been in flight for quiet. It returns
// browser.ErrIdleTimeout once max has elapsed.
func (w *netWatch) waitIdle(ctx context.Context, quiet, max time.Duration) error {
	// The quiet timer only runs while the network is idle.
	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()
	deadline := time.NewTimer(max)
	defer deadline.Stop()
	ticker := time.NewTicker(idleCheckFrequency)
	defer ticker.Stop()

	idle := false
	check := func() {
		if w.active() > 0 {
			if idle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				idle = false
			}
			return
		}
		if !idle {
			timer.Reset(quiet)
			idle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			w.logger.Debug("Network did not settle.", zap.Int("in_flight", w.active()), zap.Duration("max", max))
			return browser.ErrIdleTimeout
		case <-ticker.C:
			check()
		case <-timer.C:
			return nil
		}
	}
}
