// internal/player/click.go
package player

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/selector"
)

var errClickExhausted = errors.New(ReasonClickExhausted)

// clickOffsets are tried in order around the recorded point.
var clickOffsets = [][2]float64{
	{5, 0}, {-5, 0}, {0, 5}, {0, -5},
	{10, 0}, {-10, 0}, {0, 10}, {0, -10},
	{5, 5}, {-5, -5}, {5, -5}, {-5, 5},
	{10, 10}, {-10, -10}, {10, -10}, {-10, 10},
}

// clickRequest is the state shared by the tactics of one click attempt.
type clickRequest struct {
	step *Step
	next *Step
	// meaningful requires a price/shipping/URL change instead of any mutation.
	meaningful    bool
	selectorTried bool
}

func (r *clickRequest) action() schemas.Action { return r.step.Action }

// clickTactic is one way of making a recorded click take effect. attempt
// reports whether an effect was observed; errors are reserved for
// cancellation.
type clickTactic interface {
	name() string
	attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error)
}

// clickResolver runs its tactics in order until one produces an effect.
type clickResolver struct {
	page            browser.Page
	detector        *ChangeDetector
	tracker         *Tracker
	cache           *ElementCache
	timeouts        schemas.ChangeTimeouts
	selectorTimeout time.Duration
	meaningfulText  *regexp.Regexp
	logger          *zap.Logger
	tactics         []clickTactic
}

func newClickResolver(page browser.Page, detector *ChangeDetector, tracker *Tracker, cache *ElementCache, opts schemas.PlaybackOptions, meaningful *regexp.Regexp, logger *zap.Logger) *clickResolver {
	return &clickResolver{
		page:            page,
		detector:        detector,
		tracker:         tracker,
		cache:           cache,
		timeouts:        opts.ChangeTimeouts,
		selectorTimeout: opts.SelectorTimeout,
		meaningfulText:  meaningful,
		logger:          logger,
		tactics: []clickTactic{
			strategyGate{},
			blindClick{},
			selectorClick{},
			frameClick{},
			offsetClick{},
			navigationFallback{},
		},
	}
}

// resolve returns the name of the tactic that succeeded, or
// errClickExhausted. Failures are tallied by the caller once retries run out.
func (r *clickResolver) resolve(ctx context.Context, step, next *Step) (string, error) {
	req := &clickRequest{step: step, next: next}
	if r.meaningfulText != nil && step.Action.Text != "" {
		req.meaningful = r.meaningfulText.MatchString(step.Action.Text)
	}

	for _, t := range r.tactics {
		ok, err := t.attempt(ctx, r, req)
		if err != nil {
			return "", err
		}
		if ok {
			r.tracker.RecordSuccess()
			r.logger.Debug("Click resolved.", zap.Int("index", step.Index), zap.String("tactic", t.name()), zap.Bool("meaningful", req.meaningful))
			return t.name(), nil
		}
	}
	return "", errClickExhausted
}

// settle waits for the effect expected of req, bounded by timeout for plain
// changes or by the meaningful-change timeout when that filter applies.
func (r *clickResolver) settle(ctx context.Context, req *clickRequest, before Baseline, timeout time.Duration) (bool, error) {
	if req.meaningful {
		if r.timeouts.Meaningful > 0 {
			timeout = r.timeouts.Meaningful
		}
		return r.detector.WaitForMeaningfulChange(ctx, r.page, before, timeout)
	}
	return r.detector.WaitForChange(ctx, r.page, before, timeout)
}

// clickSelector clicks sel in the main document, consulting and updating
// the run cache.
func (r *clickResolver) clickSelector(ctx context.Context, req *clickRequest, timeout time.Duration) (bool, error) {
	sel := req.action().Selector
	if r.cache.Get(sel) == LocFrame {
		return false, nil
	}
	req.selectorTried = true

	before, err := r.detector.Capture(ctx, r.page)
	if err != nil {
		return false, ctxErr(ctx)
	}
	if err := r.page.ClickSelector(ctx, sel, r.selectorTimeout); err != nil {
		r.cache.Forget(sel)
		if !errors.Is(err, browser.ErrElementNotFound) && !errors.Is(err, browser.ErrElementHidden) {
			r.logger.Debug("Selector click failed.", zap.String("selector", sel), zap.Error(err))
		}
		return false, ctxErr(ctx)
	}
	r.cache.Set(sel, LocMain)
	return r.settle(ctx, req, before, timeout)
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("click attempt interrupted: %w", err)
	}
	return nil
}

// strategyGate tries the selector first once the run has gone element-first.
type strategyGate struct{}

func (strategyGate) name() string { return "strategy-gate" }

func (strategyGate) attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error) {
	if r.tracker.Mode() != schemas.ModeElementFirst || req.action().Selector == "" {
		return false, nil
	}
	return r.clickSelector(ctx, req, r.timeouts.Selector)
}

// blindClick clicks the recorded coordinates.
type blindClick struct{}

func (blindClick) name() string { return "blind" }

func (blindClick) attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error) {
	a := req.action()
	x, y, ok := a.Point()
	if !ok {
		return false, nil
	}
	before, err := r.detector.Capture(ctx, r.page)
	if err != nil {
		return false, ctxErr(ctx)
	}
	if err := r.page.ClickAt(ctx, x, y); err != nil {
		r.logger.Debug("Blind click failed.", zap.Float64("x", x), zap.Float64("y", y), zap.Error(err))
		return false, ctxErr(ctx)
	}

	// Focusing a text field rarely mutates the DOM; the next input proves it.
	if req.next != nil && req.next.Action.Type == schemas.ActionInput &&
		a.Selector != "" && req.next.Action.Selector == a.Selector &&
		selector.LooksLikeTextInput(a.Selector, a.TagName, a.InputType) {
		if focused, err := r.page.Focused(ctx, a.Selector); err == nil && focused {
			return true, nil
		}
	}
	return r.settle(ctx, req, before, r.timeouts.Blind)
}

// selectorClick locates the captured selector, provided it was visible then.
type selectorClick struct{}

func (selectorClick) name() string { return "selector" }

func (selectorClick) attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error) {
	a := req.action()
	if a.Selector == "" || !a.Visible() || req.selectorTried {
		return false, nil
	}
	return r.clickSelector(ctx, req, r.timeouts.Selector)
}

// frameClick searches embedded frames only.
type frameClick struct{}

func (frameClick) name() string { return "frame" }

func (frameClick) attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error) {
	sel := req.action().Selector
	if sel == "" {
		return false, nil
	}
	if r.cache.Get(sel) == LocMain {
		return false, nil
	}

	before, err := r.detector.Capture(ctx, r.page)
	if err != nil {
		return false, ctxErr(ctx)
	}
	found, err := r.page.ClickInFrames(ctx, sel)
	if err != nil || !found {
		r.cache.Forget(sel)
		return false, ctxErr(ctx)
	}
	r.cache.Set(sel, LocFrame)
	return r.settle(ctx, req, before, r.timeouts.Frame)
}

// offsetClick nudges the point to absorb small layout drift.
type offsetClick struct{}

func (offsetClick) name() string { return "offset" }

func (offsetClick) attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error) {
	x, y, ok := req.action().Point()
	if !ok {
		return false, nil
	}
	for _, off := range clickOffsets {
		before, err := r.detector.Capture(ctx, r.page)
		if err != nil {
			return false, ctxErr(ctx)
		}
		if err := r.page.ClickAt(ctx, x+off[0], y+off[1]); err != nil {
			if cerr := ctxErr(ctx); cerr != nil {
				return false, cerr
			}
			continue
		}
		var changed bool
		if req.meaningful {
			changed, err = r.detector.WaitForMeaningfulChange(ctx, r.page, before, r.timeouts.Offset)
		} else {
			changed, err = r.detector.WaitForChange(ctx, r.page, before, r.timeouts.Offset)
		}
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
	}
	return false, nil
}

// navigationFallback drives the browser to the URL the click should have
// reached.
type navigationFallback struct{}

func (navigationFallback) name() string { return "navigation-fallback" }

func (navigationFallback) attempt(ctx context.Context, r *clickResolver, req *clickRequest) (bool, error) {
	expect := req.step.ExpectURL
	if expect == "" {
		return false, nil
	}
	if cur, err := r.page.CurrentURL(ctx); err == nil && sameURL(cur, expect) {
		return true, nil
	}
	if err := r.page.Navigate(ctx, expect); err != nil {
		r.logger.Debug("Navigation fallback failed.", zap.String("url", expect), zap.Error(err))
		return false, ctxErr(ctx)
	}
	r.logger.Info("Reached expected page by direct navigation.", zap.Int("index", req.step.Index), zap.String("url", expect))
	return true, nil
}
