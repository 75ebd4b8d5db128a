// internal/recorder/recorder.go
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/selector"
)

// Options tunes event normalization.
type Options struct {
	// ClickSuppressWindow drops synthetic clicks this close after Enter/Tab;
	// those are the browser's clicks for the same keystroke.
	ClickSuppressWindow   time.Duration
	ScrollDebounce        time.Duration
	ResizeDebounce        time.Duration
	NavigationCorrelation time.Duration
}

// OptionsFromConfig maps the recorder configuration section.
func OptionsFromConfig(cfg config.RecorderConfig) Options {
	return Options{
		ClickSuppressWindow:   cfg.ClickSuppressWindow,
		ScrollDebounce:        cfg.ScrollDebounce,
		ResizeDebounce:        cfg.ResizeDebounce,
		NavigationCorrelation: cfg.NavigationCorrelation,
	}
}

// DefaultOptions are the values used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ClickSuppressWindow:   50 * time.Millisecond,
		ScrollDebounce:        250 * time.Millisecond,
		ResizeDebounce:        500 * time.Millisecond,
		NavigationCorrelation: 2 * time.Second,
	}
}

var recordedKeys = map[string]bool{"Enter": true, "Tab": true, "Escape": true}

// debounced is a scroll or resize waiting for its burst to end.
type debounced struct {
	action schemas.Action
	timer  *time.Timer
}

// Recorder turns page events into a Recording. One Recorder captures one
// session.
type Recorder struct {
	src    browser.EventSource
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	rec       schemas.Recording
	started   bool
	stopped   bool
	lastTS    int64
	lastKeyTS int64
	// lastCause is the index of the last action a navigation may follow.
	lastCause   int
	lastCauseTS int64
	lastClick   *schemas.Action
	scroll      *debounced
	resize      *debounced

	cancel context.CancelFunc
	done   <-chan struct{}
}

// New creates a recorder reading from src.
func New(src browser.EventSource, opts Options, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		src:       src,
		opts:      opts,
		logger:    logger.Named("recorder"),
		now:       time.Now,
		lastCause: -1,
	}
}

// Start subscribes to the page, records the initial viewport and opens
// startURL. Events keep flowing until Stop, even if ctx ends first.
func (r *Recorder) Start(ctx context.Context, startURL string) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("recorder already started")
	}
	r.started = true
	r.rec = schemas.Recording{
		Version:   schemas.RecordingVersion,
		Timestamp: r.now().UnixMilli(),
		StartURL:  startURL,
		Actions:   make([]schemas.Action, 0, 64),
	}
	r.mu.Unlock()

	subCtx, cancel := context.WithCancel(browser.Detach(ctx))
	done, err := r.src.Subscribe(subCtx, r.handle)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to page events: %w", err)
	}
	r.cancel, r.done = cancel, done

	if w, h, err := r.src.Viewport(ctx); err != nil {
		r.logger.Warn("Could not read the initial viewport.", zap.Error(err))
	} else {
		r.mu.Lock()
		r.append(schemas.Action{Type: schemas.ActionWindowSize, Width: w, Height: h}, 0)
		r.mu.Unlock()
	}

	r.logger.Info("Recording started.", zap.String("url", startURL))
	if err := r.src.Navigate(ctx, startURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", startURL, err)
	}
	return nil
}

// Stop ends the subscription, flushes pending debounced events and
// persists the recording to path. A persistence failure is returned; the
// in-memory recording is returned either way.
func (r *Recorder) Stop(ctx context.Context, path string) (*schemas.Recording, error) {
	if r.cancel != nil {
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			r.logger.Warn("Event delivery did not finish before the deadline.", zap.Error(ctx.Err()))
		}
	}

	r.mu.Lock()
	r.flushPending()
	r.stopped = true
	rec := r.copyRecording()
	r.mu.Unlock()

	r.logger.Info("Recording stopped.", zap.Int("actions", len(rec.Actions)))
	if path == "" {
		return rec, nil
	}
	if err := actionlog.Save(path, rec); err != nil {
		return rec, fmt.Errorf("failed to persist recording: %w", err)
	}
	r.logger.Info("Recording saved.", zap.String("path", path))
	return rec, nil
}

// Recording returns a copy of what has been captured so far.
func (r *Recorder) Recording() *schemas.Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyRecording()
}

func (r *Recorder) copyRecording() *schemas.Recording {
	rec := r.rec
	rec.Actions = append([]schemas.Action(nil), r.rec.Actions...)
	return &rec
}

// handle is the subscription sink. A panic here is logged and swallowed so
// one bad event cannot end the capture.
func (r *Recorder) handle(ev browser.PageEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Recovered from panic in event listener.", zap.Any("panic", p), zap.String("kind", string(ev.Kind)))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	ts := ev.Timestamp
	if ts == 0 {
		ts = r.now().UnixMilli()
	}

	switch ev.Kind {
	case browser.EventClick:
		r.onClick(ev, ts)
	case browser.EventInput:
		r.onInput(ev, ts)
	case browser.EventKey:
		r.onKey(ev, ts)
	case browser.EventScroll:
		r.debounce(&r.scroll, schemas.Action{Type: schemas.ActionScroll, Timestamp: ts, ScrollX: ev.ScrollX, ScrollY: ev.ScrollY}, r.opts.ScrollDebounce)
	case browser.EventResize:
		r.debounce(&r.resize, schemas.Action{Type: schemas.ActionWindowResize, Timestamp: ts, Width: ev.Width, Height: ev.Height}, r.opts.ResizeDebounce)
	case browser.EventNavigate:
		r.onNavigate(ev, ts)
	default:
		r.logger.Debug("Ignoring unknown page event.", zap.String("kind", string(ev.Kind)))
	}
}

func (r *Recorder) onClick(ev browser.PageEvent, ts int64) {
	// Only clicks the keystroke itself produced are dropped; a pointer click
	// landing right after Tab is still the operator's.
	keyDriven := ev.Synthetic || (ev.X == 0 && ev.Y == 0)
	if keyDriven && r.lastKeyTS > 0 && ts-r.lastKeyTS <= r.opts.ClickSuppressWindow.Milliseconds() {
		r.logger.Debug("Suppressing keyboard-triggered click.", zap.Int64("after_ms", ts-r.lastKeyTS))
		return
	}
	a := schemas.Action{Type: schemas.ActionClick, X: schemas.Float(ev.X), Y: schemas.Float(ev.Y)}
	if el := ev.Element; el != nil {
		a.Selector = selector.Synthesize(*el)
		a.Text = truncate(el.Text, schemas.MaxActionTextLength)
		a.TagName = strings.ToLower(el.Tag)
		a.InputType = el.InputType
		a.IsVisible = schemas.Bool(el.Visible)
	}
	idx := r.append(a, ts)
	r.markCause(idx)
	click := r.rec.Actions[idx]
	r.lastClick = &click
}

func (r *Recorder) onInput(ev browser.PageEvent, ts int64) {
	if ev.Element == nil {
		r.logger.Debug("Ignoring input event without a target element.")
		return
	}
	a := schemas.Action{
		Type:      schemas.ActionInput,
		Selector:  selector.Synthesize(*ev.Element),
		Value:     ev.Value,
		TagName:   strings.ToLower(ev.Element.Tag),
		InputType: ev.Element.InputType,
		IsVisible: schemas.Bool(ev.Element.Visible),
	}
	// The click that focused the field gives the blind-first fill a target.
	if r.lastClick != nil && r.lastClick.Selector == a.Selector {
		a.X, a.Y = r.lastClick.X, r.lastClick.Y
	}
	r.markCause(r.append(a, ts))
}

func (r *Recorder) onKey(ev browser.PageEvent, ts int64) {
	if !recordedKeys[ev.Key] {
		return
	}
	idx := r.append(schemas.Action{Type: schemas.ActionKeypress, Key: ev.Key}, ts)
	if ev.Key == "Enter" || ev.Key == "Tab" {
		r.lastKeyTS = r.rec.Actions[idx].Timestamp
	}
	r.markCause(idx)
}

func (r *Recorder) onNavigate(ev browser.PageEvent, ts int64) {
	if !ev.TopFrame || ev.URL == "" || strings.HasPrefix(ev.URL, "about:") {
		return
	}
	a := schemas.Action{Type: schemas.ActionNavigation, URL: ev.URL}
	if r.lastCause >= 0 && ts-r.lastCauseTS <= r.opts.NavigationCorrelation.Milliseconds() {
		a.CausedBy = schemas.Int(r.lastCause)
	}
	r.append(a, ts)
	r.lastCause = -1
	r.lastClick = nil
}

func (r *Recorder) markCause(idx int) {
	r.lastCause = idx
	r.lastCauseTS = r.rec.Actions[idx].Timestamp
}

// debounce replaces the pending event of its kind and restarts the quiet
// timer. Must be called with mu held.
func (r *Recorder) debounce(slot **debounced, a schemas.Action, wait time.Duration) {
	if *slot != nil {
		(*slot).timer.Stop()
		// Keep the burst's first timestamp so ordering against other
		// actions reflects when the burst began.
		a.Timestamp = (*slot).action.Timestamp
	}
	d := &debounced{action: a}
	d.timer = time.AfterFunc(wait, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if *slot != d || r.stopped {
			return
		}
		*slot = nil
		r.append(d.action, d.action.Timestamp)
	})
	*slot = d
}

// flushPending appends pending debounced events, oldest first. Must be
// called with mu held.
func (r *Recorder) flushPending() {
	first, second := &r.scroll, &r.resize
	if *first != nil && *second != nil && (*second).action.Timestamp < (*first).action.Timestamp {
		first, second = second, first
	}
	for _, slot := range []**debounced{first, second} {
		if d := *slot; d != nil {
			d.timer.Stop()
			*slot = nil
			r.append(d.action, d.action.Timestamp)
		}
	}
}

// append stamps a with a non-decreasing timestamp and appends it, flushing
// pending debounced events first when a is not one of them. Must be called
// with mu held.
func (r *Recorder) append(a schemas.Action, ts int64) int {
	if a.Type != schemas.ActionScroll && a.Type != schemas.ActionWindowResize {
		r.flushPending()
	}
	if ts == 0 {
		ts = r.now().UnixMilli()
	}
	if ts < r.lastTS {
		ts = r.lastTS
	}
	a.Timestamp = ts
	r.lastTS = ts
	r.rec.Actions = append(r.rec.Actions, a)
	return len(r.rec.Actions) - 1
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
