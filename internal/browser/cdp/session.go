// internal/browser/cdp/session.go
package cdp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/selector"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed js/recorder.js
var recorderScript string

//go:embed js/page.js
var pageHelpers string

const (
	bindingName          = "__flowreplayEmit"
	isolatedWorldName    = "flowreplay"
	eventBuffer          = 1024
	locatePollInterval   = 100 * time.Millisecond
	defaultNavigationMax = 60 * time.Second
)

var _ browser.Session = (*Session)(nil)

// Session is one Chrome tab driven over CDP.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger
	net    *netWatch

	events    chan browser.PageEvent
	recording atomic.Bool
	dropped   atomic.Int64

	mu        sync.Mutex
	closed    bool
	onClose   func()
	subscribe sync.Once
}

func newSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	l := logger.Named("session").With(zap.String("session_id", id[:8]))
	return &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    cfg,
		logger: l,
		net:    newNetWatch(l.Named("netwatch")),
		events: make(chan browser.PageEvent, eventBuffer),
	}
}

// start creates the tab and enables the domains the session listens to. The
// first Run on a tab context must not carry a deadline, so the launch
// timeout cancels the tab instead.
func (s *Session) start(ctx context.Context, launchTimeout time.Duration) error {
	timer := time.AfterFunc(launchTimeout, s.cancel)
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	chromedp.ListenTarget(s.ctx, s.handleEvent)
	err := chromedp.Run(s.ctx, network.Enable())
	if !timer.Stop() {
		return fmt.Errorf("browser did not respond within %s", launchTimeout)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) handleEvent(ev interface{}) {
	s.net.handle(ev)

	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		s.net.reset()
		s.deliver(browser.PageEvent{
			Kind:      browser.EventNavigate,
			Timestamp: time.Now().UnixMilli(),
			URL:       e.Frame.URL,
			TopFrame:  true,
		})
	case *cdpruntime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		var pe browser.PageEvent
		if err := json.Unmarshal([]byte(e.Payload), &pe); err != nil {
			s.logger.Debug("Discarding malformed page event.", zap.Error(err))
			return
		}
		s.deliver(pe)
	}
}

// deliver must not block: it runs on the chromedp event loop.
func (s *Session) deliver(ev browser.PageEvent) {
	if !s.recording.Load() {
		return
	}
	select {
	case s.events <- ev:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("Page event buffer full; dropping events.", zap.String("kind", string(ev.Kind)))
		}
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done is closed when the tab context ends.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// run executes actions on the tab, bounded by ctx as well as the tab's life.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return browser.ErrSessionClosed
	}
	runCtx, cancel := browser.CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// -- Page --

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationMax
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the location of the main frame.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

// ClickAt dispatches a native left click at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.run(ctx, chromedp.MouseClickXY(x, y))
}

type location struct {
	Found   bool    `json:"found"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// locate polls the main document until sel has a visible match or timeout
// elapses.
func (s *Session) locate(ctx context.Context, sel string, timeout time.Duration) (location, error) {
	base, text, _ := selector.SplitTextSelector(sel)
	deadline := time.Now().Add(timeout)
	for {
		var loc location
		if err := s.helper(ctx, 0, &loc, "locate", base, text); err != nil {
			return location{}, err
		}
		if loc.Found && loc.Visible {
			return loc, nil
		}
		if time.Now().After(deadline) {
			if loc.Found {
				return loc, browser.ErrElementHidden
			}
			return loc, browser.ErrElementNotFound
		}
		select {
		case <-ctx.Done():
			return location{}, ctx.Err()
		case <-time.After(locatePollInterval):
		}
	}
}

// ClickSelector clicks the center of the first visible match of sel in the
// main document.
func (s *Session) ClickSelector(ctx context.Context, sel string, timeout time.Duration) error {
	loc, err := s.locate(ctx, sel, timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", sel, err)
	}
	return s.ClickAt(ctx, loc.X, loc.Y)
}

// ClickInFrames searches every child frame, in document order, through an
// isolated world so page scripts cannot interfere.
func (s *Session) ClickInFrames(ctx context.Context, sel string) (bool, error) {
	var tree *page.FrameTree
	if err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	})); err != nil {
		return false, err
	}

	base, text, _ := selector.SplitTextSelector(sel)
	for _, frame := range childFrames(tree) {
		var (
			loc   location
			owner *dom.BoxModel
		)
		err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			world, err := page.CreateIsolatedWorld(frame.ID).WithWorldName(isolatedWorldName).Do(ctx)
			if err != nil {
				return err
			}
			if err := evaluate(ctx, world, helperCall("locate", base, text), &loc); err != nil {
				return err
			}
			if !loc.Found || !loc.Visible {
				return nil
			}
			backendID, _, err := dom.GetFrameOwner(frame.ID).Do(ctx)
			if err != nil {
				return err
			}
			owner, err = dom.GetBoxModel().WithBackendNodeID(backendID).Do(ctx)
			return err
		}))
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Debug("Frame search failed.", zap.String("frame_url", frame.URL), zap.Error(err))
			continue
		}
		if owner == nil || len(owner.Content) < 2 {
			continue
		}
		x, y := owner.Content[0]+loc.X, owner.Content[1]+loc.Y
		s.logger.Debug("Selector found in frame.", zap.String("selector", sel), zap.String("frame_url", frame.URL))
		return true, s.ClickAt(ctx, x, y)
	}
	return false, nil
}

func childFrames(tree *page.FrameTree) []*cdp.Frame {
	if tree == nil {
		return nil
	}
	var out []*cdp.Frame
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		for _, c := range t.ChildFrames {
			out = append(out, c.Frame)
			walk(c)
		}
	}
	walk(tree)
	return out
}

// Focused reports whether the active element is, or is inside, sel's match.
func (s *Session) Focused(ctx context.Context, sel string) (bool, error) {
	base, text, _ := selector.SplitTextSelector(sel)
	var ok bool
	err := s.helper(ctx, 0, &ok, "focused", base, text)
	return ok, err
}

// Fill waits for sel, focuses it and replaces its value.
func (s *Session) Fill(ctx context.Context, sel, value string, timeout time.Duration) error {
	if _, err := s.locate(ctx, sel, timeout); err != nil {
		return fmt.Errorf("%s: %w", sel, err)
	}
	base, text, _ := selector.SplitTextSelector(sel)
	var ok bool
	if err := s.helper(ctx, 0, &ok, "fill", base, text, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s does not accept a value", sel)
	}
	return nil
}

// FillFocused replaces the value of the focused field.
func (s *Session) FillFocused(ctx context.Context, value string) error {
	var ok bool
	if err := s.helper(ctx, 0, &ok, "fillFocused", value); err != nil {
		return err
	}
	if !ok {
		return errors.New("no editable element has focus")
	}
	return nil
}

// PressKey sends a named key (Enter, Tab, Escape, Backspace) or a literal
// character.
func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.run(ctx, chromedp.KeyEvent(keyString(key)))
}

// ScrollTo scrolls the main document to absolute offsets.
func (s *Session) ScrollTo(ctx context.Context, x, y float64) error {
	var ok bool
	return s.helper(ctx, 0, &ok, "scrollTo", x, y)
}

// SetViewport emulates a window of the given size.
func (s *Session) SetViewport(ctx context.Context, width, height int) error {
	return s.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

// Snapshot returns the serialized main document.
func (s *Session) Snapshot(ctx context.Context) (string, error) {
	var markup string
	err := s.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &markup))
	return markup, err
}

// Probe samples price/shipping signals of the main document.
func (s *Session) Probe(ctx context.Context) (browser.PageProbe, error) {
	var p browser.PageProbe
	err := s.helper(ctx, 0, &p, "probe")
	return p, err
}

// WaitIdle waits for network quiet.
func (s *Session) WaitIdle(ctx context.Context, quiet, max time.Duration) error {
	waitCtx, cancel := browser.CombineContext(s.ctx, ctx)
	defer cancel()
	return s.net.waitIdle(waitCtx, quiet, max)
}

// Screenshot captures a PNG of the full page or the viewport.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// -- EventSource --

// Subscribe installs the recorder bridge on the current and every future
// document. A session supports one subscription.
func (s *Session) Subscribe(ctx context.Context, sink func(browser.PageEvent)) (<-chan struct{}, error) {
	var err error
	first := false
	s.subscribe.Do(func() {
		first = true
		err = s.run(ctx,
			cdpruntime.AddBinding(bindingName),
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(recorderScript).Do(ctx)
				return err
			}),
			chromedp.ActionFunc(func(ctx context.Context) error {
				return evaluate(ctx, 0, recorderScript, nil)
			}),
		)
	})
	if !first {
		return nil, errors.New("session already has a subscriber")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to install recorder bridge: %w", err)
	}
	s.recording.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.recording.Store(false)
		for {
			select {
			case <-ctx.Done():
				s.drain(sink)
				return
			case <-s.ctx.Done():
				return
			case ev := <-s.events:
				sink(ev)
			}
		}
	}()
	return done, nil
}

// drain hands over events that were already queued when ctx ended.
func (s *Session) drain(sink func(browser.PageEvent)) {
	for {
		select {
		case ev := <-s.events:
			sink(ev)
		default:
			return
		}
	}
}

// Viewport returns the inner window size of the main document.
func (s *Session) Viewport(ctx context.Context) (int, int, error) {
	var wh []int
	if err := s.helper(ctx, 0, &wh, "viewport"); err != nil {
		return 0, 0, err
	}
	if len(wh) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport result %v", wh)
	}
	return wh[0], wh[1], nil
}

// Close releases the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.logger.Info("Closing session.")
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("Tab close reported an error.", zap.Error(err))
	}
	s.cancel()

	waitCtx, cancelWait := context.WithTimeout(ctx, sessionCloseTimeout)
	defer cancelWait()
	select {
	case <-s.ctx.Done():
		s.logger.Debug("Browser session closed gracefully.")
	case <-waitCtx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser session to close.", zap.Error(waitCtx.Err()))
	}

	if onClose != nil {
		onClose()
	}
	return nil
}

// -- helpers --

// helper calls a method of the page helper object in the main world
// (contextID 0) or in the given execution context.
func (s *Session) helper(ctx context.Context, contextID cdpruntime.ExecutionContextID, out interface{}, method string, args ...interface{}) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return evaluate(ctx, contextID, helperCall(method, args...), out)
	}))
}

func helperCall(method string, args ...interface{}) string {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("null")
		}
		encoded[i] = string(b)
	}
	// The helper source starts with a line comment, hence the newlines.
	return fmt.Sprintf("(\n%s\n).%s(%s)", pageHelpers, method, strings.Join(encoded, ", "))
}

func evaluate(ctx context.Context, contextID cdpruntime.ExecutionContextID, expr string, out interface{}) error {
	params := cdpruntime.Evaluate(expr).WithReturnByValue(true)
	if contextID != 0 {
		params = params.WithContextID(contextID)
	}
	res, exc, err := params.Do(ctx)
	if err != nil {
		return err
	}
	if exc != nil {
		return fmt.Errorf("page script failed: %s", exc.Text)
	}
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(res.Value), out)
}

// keyString maps recorded key names to chromedp key strings.
func keyString(key string) string {
	if k, ok := namedKeys[key]; ok {
		return k
	}
	return key
}
