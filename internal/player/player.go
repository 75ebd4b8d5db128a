// internal/player/player.go
package player

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/variables"
)

// Viewport actions below these dimensions are devtools-panel artifacts.
const (
	minViewportWidth  = 400
	minViewportHeight = 300
)

type state int

const (
	stateIdle state = iota
	stateNavigate
	stateExecute
	stateCompleted
	stateAborted
)

func (s state) String() string {
	return [...]string{"idle", "navigate", "execute", "completed", "aborted"}[s]
}

// Player replays one recording against one page. A Player is single use:
// it owns the run's strategy state and element cache.
type Player struct {
	page     browser.Page
	opts     schemas.PlaybackOptions
	resolver *variables.Resolver
	tracker  *Tracker
	delays   *DelayController
	detector *ChangeDetector
	cache    *ElementCache
	clicks   *clickResolver
	logger   *zap.Logger
	runID    string
	now      func() time.Time

	state       state
	viewportSet bool
	lastURL     string
	warnings    []string
}

// New creates a player for one run. resolver may be nil when the run has no
// variables.
func New(page browser.Page, opts schemas.PlaybackOptions, resolver *variables.Resolver, runID string, logger *zap.Logger) (*Player, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("player").With(zap.String("run_id", runID))

	var meaningful *regexp.Regexp
	if opts.MeaningfulTextPattern != "" {
		re, err := regexp.Compile(opts.MeaningfulTextPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid meaningful text pattern: %w", err)
		}
		meaningful = re
	}
	if resolver == nil {
		resolver = variables.NewResolver(nil, nil, logger)
	}

	p := &Player{
		page:     page,
		opts:     opts,
		resolver: resolver,
		tracker:  NewTracker(opts.StrategyThreshold, opts.StrategyWindow),
		delays:   NewDelayController(opts.Delays, logger),
		detector: NewChangeDetector(opts.ChangeTimeouts.Poll),
		cache:    NewElementCache(),
		logger:   logger,
		runID:    runID,
		now:      time.Now,
	}
	p.clicks = newClickResolver(page, p.detector, p.tracker, p.cache, opts, meaningful, logger)
	return p, nil
}

// Tracker exposes the run's strategy state.
func (p *Player) Tracker() *Tracker { return p.tracker }

func (p *Player) transition(to state) {
	p.logger.Debug("Player state change.", zap.Stringer("from", p.state), zap.Stringer("to", to))
	p.state = to
}

// Run replays rec. The result is always returned; err is a *PlaybackError
// when the run aborted. Cancelling ctx lets the attempt in flight finish,
// then aborts before the next action.
func (p *Player) Run(ctx context.Context, rec *schemas.Recording) (*schemas.PlaybackResult, error) {
	if p.state != stateIdle {
		return nil, errors.New("player has already run")
	}
	started := p.now()

	startURL := rec.StartURL
	skipNav := ""
	if p.opts.StartURLOverride != "" {
		startURL = p.opts.StartURLOverride
		skipNav = rec.StartURL
	}

	plan, err := BuildPlan(rec.Actions, PlanOptions{
		DuplicateClick:        p.opts.DuplicateClick,
		NavigationCorrelation: p.opts.NavigationCorrelation,
		SkipStartNavigation:   skipNav,
	})
	if err != nil {
		return nil, err
	}

	result := &schemas.PlaybackResult{
		RunID:           p.runID,
		TotalActions:    len(rec.Actions),
		ExecutedIndices: make([]int, 0, len(plan.Steps)),
		FilteredIndices: plan.DroppedIndices(),
		FailedIndex:     -1,
		StartURL:        startURL,
	}
	p.logger.Info("Starting playback.",
		zap.String("start_url", startURL),
		zap.Int("actions", len(rec.Actions)),
		zap.Int("steps", len(plan.Steps)),
		zap.Int("filtered", len(plan.Dropped)))

	runErr := p.navigateInitial(ctx, startURL)
	if runErr == nil {
		runErr = p.execute(ctx, plan, result)
	} else {
		result.Reason = "initial navigation failed"
	}

	if runErr != nil {
		p.transition(stateAborted)
		result.Aborted = true
		if result.Reason == "" {
			result.Reason = runErr.Error()
		}
		var pbErr *PlaybackError
		if !errors.As(runErr, &pbErr) {
			runErr = &PlaybackError{Index: result.FailedIndex, ExecutedCount: len(result.ExecutedIndices), LastURL: p.lastURL, Err: runErr}
		}
		p.logger.Error("Playback aborted.", zap.Int("index", result.FailedIndex), zap.String("reason", result.Reason))
	} else {
		p.transition(stateCompleted)
		result.Success = true
		p.logger.Info("Playback completed.", zap.Int("executed", len(result.ExecutedIndices)), zap.Int("skipped", len(result.SkippedIndices)))
	}

	shots, shotWarnings := captureAudit(ctx, p.page, p.opts.ScreenshotDir, p.lastURL, p.runID, p.now(), p.logger)
	result.Screenshots = shots
	p.warnings = append(p.warnings, shotWarnings...)

	result.LastURL = p.lastURL
	result.Mode = p.tracker.Mode()
	result.Warnings = p.warnings
	result.Duration = p.now().Sub(started)
	return result, runErr
}

func (p *Player) navigateInitial(ctx context.Context, startURL string) error {
	p.transition(stateNavigate)
	p.lastURL = startURL
	if err := p.page.Navigate(ctx, startURL); err != nil {
		return fmt.Errorf("failed to open start url %s: %w", startURL, err)
	}
	p.softWait(ctx, schemas.ActionNavigation, startURL)
	p.refreshURL(ctx)
	return nil
}

func (p *Player) execute(ctx context.Context, plan *Plan, result *schemas.PlaybackResult) error {
	p.transition(stateExecute)

	for i := range plan.Steps {
		step := &plan.Steps[i]
		var next *Step
		if i+1 < len(plan.Steps) {
			next = &plan.Steps[i+1]
		}

		if err := ctx.Err(); err != nil {
			result.FailedIndex = step.Index
			result.Reason = "cancelled"
			return &PlaybackError{Index: step.Index, ExecutedCount: len(result.ExecutedIndices), LastURL: p.lastURL, Err: err}
		}

		if err := p.executeWithRetry(ctx, step, next); err != nil {
			execErr := &ActionExecutionError{Index: step.Index, Type: step.Action.Type, Reason: reasonFor(err), Err: err}
			if p.opts.IgnoreErrors {
				p.logger.Warn("Skipping failed action.", zap.Int("index", step.Index), zap.String("type", string(step.Action.Type)), zap.Error(execErr))
				result.SkippedIndices = append(result.SkippedIndices, step.Index)
				p.warnings = append(p.warnings, execErr.Error())
				continue
			}
			result.FailedIndex = step.Index
			result.Reason = execErr.Reason
			return &PlaybackError{Index: step.Index, ExecutedCount: len(result.ExecutedIndices), LastURL: p.lastURL, Err: execErr}
		}

		result.ExecutedIndices = append(result.ExecutedIndices, step.Index)
		if step.Action.Type != schemas.ActionNavigation {
			p.softWait(ctx, step.Action.Type, "")
		}
		p.refreshURL(ctx)
	}
	return nil
}

// executeWithRetry runs up to RetryCount+1 attempts. Each attempt is
// detached from ctx so a stop request never interrupts it halfway.
func (p *Player) executeWithRetry(ctx context.Context, step *Step, next *Step) error {
	attempts := p.opts.RetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && ctx.Err() != nil {
			break
		}
		lastErr = p.executeStep(browser.Detach(ctx), step, next)
		if lastErr == nil {
			return nil
		}
		p.logger.Debug("Action attempt failed.",
			zap.Int("index", step.Index),
			zap.Int("attempt", attempt),
			zap.Int("of", attempts),
			zap.Error(lastErr))
	}
	// One unresolved action is one failure, however many attempts it took.
	if ctx.Err() == nil && locatesTarget(step.Action.Type) {
		p.recordFailure(step.Index)
	}
	return lastErr
}

func locatesTarget(t schemas.ActionType) bool {
	return t == schemas.ActionClick || t == schemas.ActionInput
}

func (p *Player) executeStep(ctx context.Context, step *Step, next *Step) error {
	a := step.Action
	switch a.Type {
	case schemas.ActionClick:
		_, err := p.clicks.resolve(ctx, step, next)
		return err
	case schemas.ActionInput:
		return p.input(ctx, step)
	case schemas.ActionKeypress:
		return p.keypress(ctx, a)
	case schemas.ActionScroll:
		return p.page.ScrollTo(ctx, a.ScrollX, a.ScrollY)
	case schemas.ActionNavigation:
		p.cache.Reset()
		p.softWait(ctx, schemas.ActionNavigation, a.URL)
		return nil
	case schemas.ActionWindowSize, schemas.ActionWindowResize:
		return p.viewport(ctx, a)
	}
	p.logger.Warn("Ignoring action of unknown type.", zap.Int("index", step.Index), zap.String("type", string(a.Type)))
	return nil
}

func (p *Player) input(ctx context.Context, step *Step) error {
	a := step.Action
	res := p.resolver.Resolve(a.Value, step.Later)
	p.addWarnings(res.Warnings)

	if x, y, ok := a.Point(); ok && p.tracker.Mode() == schemas.ModeBlindFirst {
		if err := p.page.ClickAt(ctx, x, y); err == nil {
			focused := a.Selector == ""
			if !focused {
				focused, _ = p.page.Focused(ctx, a.Selector)
			}
			if focused {
				if err := p.page.FillFocused(ctx, res.Value); err == nil {
					p.tracker.RecordSuccess()
					return nil
				}
			}
		}
	}

	if a.Selector == "" {
		return errors.New("input target did not take focus and no selector was recorded")
	}
	if err := p.page.Fill(ctx, a.Selector, res.Value, p.opts.SelectorTimeout); err != nil {
		return fmt.Errorf("failed to fill %s: %w", a.Selector, err)
	}
	p.tracker.RecordSuccess()
	return nil
}

func (p *Player) keypress(ctx context.Context, a schemas.Action) error {
	if utf8.RuneCountInString(a.Key) == 1 {
		res := p.resolver.Resolve(a.Key, nil)
		p.addWarnings(res.Warnings)
		if res.Value != a.Key {
			for _, r := range res.Value {
				if err := p.page.PressKey(ctx, string(r)); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return p.page.PressKey(ctx, a.Key)
}

// viewport sets the window size once; later resizes and undersized
// resizes are ignored.
func (p *Player) viewport(ctx context.Context, a schemas.Action) error {
	if a.Width < minViewportWidth || a.Height < minViewportHeight {
		p.logger.Debug("Ignoring undersized viewport action.", zap.Int("width", a.Width), zap.Int("height", a.Height))
		return nil
	}
	if p.viewportSet {
		return nil
	}
	if err := p.page.SetViewport(ctx, a.Width, a.Height); err != nil {
		return err
	}
	p.viewportSet = true
	return nil
}

// softWait applies the delay policy, logging timeouts instead of failing.
func (p *Player) softWait(ctx context.Context, t schemas.ActionType, url string) {
	err := p.delays.After(ctx, p.page, t, url)
	var navErr *NavigationTimeoutError
	if errors.As(err, &navErr) {
		p.logger.Warn("Continuing without navigation confirmation.", zap.String("url", navErr.URL), zap.Duration("timeout", navErr.Timeout))
		p.warnings = append(p.warnings, navErr.Error())
	}
}

func (p *Player) refreshURL(ctx context.Context) {
	cur, err := p.page.CurrentURL(browser.Detach(ctx))
	if err != nil || cur == "" {
		return
	}
	if cur != p.lastURL {
		p.cache.Reset()
	}
	p.lastURL = cur
}

func (p *Player) recordFailure(index int) {
	if p.tracker.RecordFailure() {
		p.logger.Info("Switching to element-first strategy.", zap.Int("index", index), zap.Int("failures", p.tracker.Failures()))
	}
}

func (p *Player) addWarnings(errs []error) {
	for _, e := range errs {
		p.warnings = append(p.warnings, e.Error())
	}
}

func reasonFor(err error) string {
	if errors.Is(err, errClickExhausted) {
		return ReasonClickExhausted
	}
	return err.Error()
}
