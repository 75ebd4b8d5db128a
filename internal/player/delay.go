// internal/player/delay.go
package player

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// DelayController applies the per-action-type wait policy after each action.
type DelayController struct {
	policies map[schemas.ActionType]schemas.DelayPolicy
	logger   *zap.Logger
}

// NewDelayController creates a controller. Types without a policy do not wait.
func NewDelayController(policies map[schemas.ActionType]schemas.DelayPolicy, logger *zap.Logger) *DelayController {
	return &DelayController{policies: policies, logger: logger}
}

// Policy returns the policy for t.
func (d *DelayController) Policy(t schemas.ActionType) schemas.DelayPolicy {
	p, ok := d.policies[t]
	if !ok || p.Mode == "" {
		return schemas.DelayPolicy{Mode: schemas.DelayNone}
	}
	return p
}

// After waits according to the policy of t. An idle wait that runs out
// returns a *NavigationTimeoutError for navigations and nil otherwise; both
// are soft. Only context cancellation is a hard error.
func (d *DelayController) After(ctx context.Context, page browser.Page, t schemas.ActionType, url string) error {
	p := d.Policy(t)
	switch p.Mode {
	case schemas.DelayFixed:
		return sleep(ctx, p.Duration)

	case schemas.DelayIdle:
		max := p.Max
		if max <= 0 {
			max = 10 * time.Second
		}
		err := page.WaitIdle(ctx, p.Quiet, max)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, browser.ErrIdleTimeout):
			if t == schemas.ActionNavigation {
				return &NavigationTimeoutError{URL: url, Timeout: max}
			}
			d.logger.Debug("Network not idle before timeout; continuing.", zap.String("type", string(t)), zap.Duration("max", max))
			return nil
		default:
			d.logger.Debug("Idle wait failed; continuing.", zap.String("type", string(t)), zap.Error(err))
			return nil
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
