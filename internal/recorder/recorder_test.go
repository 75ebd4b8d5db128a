// internal/recorder/recorder_test.go
package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// fakeSource is a scripted browser.EventSource. Tests push events through
// emit, which calls the sink synchronously.
type fakeSource struct {
	mu           sync.Mutex
	sink         func(browser.PageEvent)
	navigated    []string
	width        int
	height       int
	viewportErr  error
	subscribeErr error
}

func (f *fakeSource) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeSource) Subscribe(ctx context.Context, sink func(browser.PageEvent)) (<-chan struct{}, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return done, nil
}

func (f *fakeSource) Viewport(context.Context) (int, int, error) {
	return f.width, f.height, f.viewportErr
}

func (f *fakeSource) emit(ev browser.PageEvent) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(ev)
}

func slowOptions() Options {
	opts := DefaultOptions()
	opts.ScrollDebounce = time.Hour
	opts.ResizeDebounce = time.Hour
	return opts
}

func startRecorder(t *testing.T, opts Options) (*Recorder, *fakeSource) {
	t.Helper()
	src := &fakeSource{width: 1280, height: 800}
	r := New(src, opts, zaptest.NewLogger(t))
	r.now = func() time.Time { return time.UnixMilli(50) }
	require.NoError(t, r.Start(context.Background(), "https://shop.example/p/1"))
	t.Cleanup(func() { _, _ = r.Stop(context.Background(), "") })
	return r, src
}

func button(id, text string) *browser.ElementInfo {
	return &browser.ElementInfo{Tag: "BUTTON", ID: id, Text: text, Visible: true}
}

func types(rec *schemas.Recording) []schemas.ActionType {
	out := make([]schemas.ActionType, len(rec.Actions))
	for i, a := range rec.Actions {
		out[i] = a.Type
	}
	return out
}

func TestRecorder_Session(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{width: 1280, height: 800}
	r := New(src, slowOptions(), zaptest.NewLogger(t))
	r.now = func() time.Time { return time.UnixMilli(500) }
	require.NoError(t, r.Start(context.Background(), "https://shop.example/p/1"))
	assert.Equal(t, []string{"https://shop.example/p/1"}, src.navigated)

	src.emit(browser.PageEvent{Kind: browser.EventNavigate, Timestamp: 1000, URL: "https://shop.example/p/1", TopFrame: true})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 2000, X: 40, Y: 60,
		Element: button("add-to-cart", "  Add   to cart, then keep shopping for more items please  ")})
	src.emit(browser.PageEvent{Kind: browser.EventNavigate, Timestamp: 3000, URL: "https://shop.example/cart", TopFrame: true})

	path := filepath.Join(t.TempDir(), "session.json")
	rec, err := r.Stop(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []schemas.ActionType{
		schemas.ActionWindowSize, schemas.ActionNavigation, schemas.ActionClick, schemas.ActionNavigation,
	}, types(rec))

	size := rec.Actions[0]
	assert.Equal(t, 1280, size.Width)
	assert.Equal(t, 800, size.Height)

	assert.Nil(t, rec.Actions[1].CausedBy, "window_size never causes a navigation")

	click := rec.Actions[2]
	assert.Equal(t, "#add-to-cart", click.Selector)
	assert.Equal(t, "button", click.TagName)
	assert.LessOrEqual(t, len([]rune(click.Text)), schemas.MaxActionTextLength)
	assert.Equal(t, "Add to cart, then keep shopping for more items ple", click.Text)
	assert.True(t, click.Visible())

	require.NotNil(t, rec.Actions[3].CausedBy)
	assert.Equal(t, 2, *rec.Actions[3].CausedBy)

	loaded, _, err := actionlog.Load(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, rec.Actions, loaded.Actions)
	assert.Equal(t, "https://shop.example/p/1", loaded.StartURL)
}

func TestRecorder_ClickSuppression(t *testing.T) {
	r, src := startRecorder(t, slowOptions())

	src.emit(browser.PageEvent{Kind: browser.EventKey, Timestamp: 1000, Key: "Enter"})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 1030, X: 1, Y: 1, Synthetic: true, Element: button("submit", "Go")})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 1100, X: 1, Y: 1, Element: button("submit", "Go")})
	src.emit(browser.PageEvent{Kind: browser.EventKey, Timestamp: 1200, Key: "Escape"})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 1210, X: 1, Y: 1, Element: button("close", "x")})
	src.emit(browser.PageEvent{Kind: browser.EventKey, Timestamp: 1300, Key: "a"})

	rec := r.Recording()
	assert.Equal(t, []schemas.ActionType{
		schemas.ActionWindowSize, schemas.ActionKeypress, schemas.ActionClick, schemas.ActionKeypress, schemas.ActionClick,
	}, types(rec))
	assert.Equal(t, int64(1100), rec.Actions[2].Timestamp)
	assert.Equal(t, "Escape", rec.Actions[3].Key)
}

func TestRecorder_PointerClickAfterTabIsKept(t *testing.T) {
	r, src := startRecorder(t, slowOptions())

	src.emit(browser.PageEvent{Kind: browser.EventKey, Timestamp: 1000, Key: "Tab"})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 1020, X: 40, Y: 60, Element: button("next", "Next")})
	src.emit(browser.PageEvent{Kind: browser.EventKey, Timestamp: 2000, Key: "Enter"})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 2010, Element: button("submit", "Go")})

	rec := r.Recording()
	assert.Equal(t, []schemas.ActionType{
		schemas.ActionWindowSize, schemas.ActionKeypress, schemas.ActionClick, schemas.ActionKeypress,
	}, types(rec), "a click at the origin right after Enter is keyboard-driven")
	assert.Equal(t, int64(1020), rec.Actions[2].Timestamp)
}

func TestRecorder_InputsCarryFullValues(t *testing.T) {
	r, src := startRecorder(t, slowOptions())
	field := &browser.ElementInfo{Tag: "input", Attrs: map[string]string{"name": "email"}, InputType: "email", Visible: true}

	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 10, X: 200, Y: 300, Element: field})
	src.emit(browser.PageEvent{Kind: browser.EventInput, Timestamp: 20, Element: field, Value: "a"})
	src.emit(browser.PageEvent{Kind: browser.EventInput, Timestamp: 30, Element: field, Value: "ab"})
	src.emit(browser.PageEvent{Kind: browser.EventInput, Timestamp: 40, Value: "orphan"})

	rec := r.Recording()
	require.Len(t, rec.Actions, 4)
	for i, want := range []string{"a", "ab"} {
		in := rec.Actions[2+i]
		assert.Equal(t, schemas.ActionInput, in.Type)
		assert.Equal(t, `input[name="email"]`, in.Selector)
		assert.Equal(t, want, in.Value)
		x, y, ok := in.Point()
		require.True(t, ok, "inputs inherit the focusing click's point")
		assert.Equal(t, [2]float64{200, 300}, [2]float64{x, y})
	}
}

func TestRecorder_DebounceKeepsOrder(t *testing.T) {
	r, src := startRecorder(t, slowOptions())

	src.emit(browser.PageEvent{Kind: browser.EventScroll, Timestamp: 100, ScrollY: 10})
	src.emit(browser.PageEvent{Kind: browser.EventScroll, Timestamp: 110, ScrollY: 250})
	src.emit(browser.PageEvent{Kind: browser.EventScroll, Timestamp: 120, ScrollY: 400})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 130, X: 5, Y: 5, Element: button("more", "More")})
	src.emit(browser.PageEvent{Kind: browser.EventResize, Timestamp: 140, Width: 1000, Height: 700})
	src.emit(browser.PageEvent{Kind: browser.EventResize, Timestamp: 150, Width: 1024, Height: 768})

	rec := r.Recording()
	assert.Equal(t, []schemas.ActionType{schemas.ActionWindowSize, schemas.ActionScroll, schemas.ActionClick}, types(rec))
	assert.Equal(t, 400.0, rec.Actions[1].ScrollY)
	assert.Equal(t, int64(100), rec.Actions[1].Timestamp)

	stopped, err := r.Stop(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, stopped.Actions, 4, "stop flushes the pending resize")
	last := stopped.Actions[3]
	assert.Equal(t, schemas.ActionWindowResize, last.Type)
	assert.Equal(t, 1024, last.Width)
	assert.Equal(t, 768, last.Height)
}

func TestRecorder_DebounceTimerFlushes(t *testing.T) {
	opts := DefaultOptions()
	opts.ScrollDebounce = 10 * time.Millisecond
	r, src := startRecorder(t, opts)

	src.emit(browser.PageEvent{Kind: browser.EventScroll, Timestamp: 100, ScrollY: 80})
	require.Eventually(t, func() bool {
		return len(r.Recording().Actions) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, schemas.ActionScroll, r.Recording().Actions[1].Type)
}

func TestRecorder_TimestampsNeverDecrease(t *testing.T) {
	r, src := startRecorder(t, slowOptions())
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 2000, X: 1, Y: 1})
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 1500, X: 2, Y: 2})

	rec := r.Recording()
	require.Len(t, rec.Actions, 3)
	assert.Equal(t, int64(2000), rec.Actions[2].Timestamp)
	require.NoError(t, actionlog.Validate(rec))
}

func TestRecorder_IgnoredNavigations(t *testing.T) {
	r, src := startRecorder(t, slowOptions())
	src.emit(browser.PageEvent{Kind: browser.EventNavigate, Timestamp: 1000, URL: "about:blank", TopFrame: true})
	src.emit(browser.PageEvent{Kind: browser.EventNavigate, Timestamp: 1000, URL: "https://ads.example/frame"})
	src.emit(browser.PageEvent{Kind: browser.EventNavigate, Timestamp: 9000, URL: "https://shop.example/", TopFrame: true})

	rec := r.Recording()
	require.Len(t, rec.Actions, 2)
	assert.Equal(t, "https://shop.example/", rec.Actions[1].URL)
}

func TestRecorder_ListenerPanicIsSwallowed(t *testing.T) {
	r, src := startRecorder(t, slowOptions())
	r.now = func() time.Time { panic("clock exploded") }

	assert.NotPanics(t, func() {
		src.emit(browser.PageEvent{Kind: browser.EventClick, X: 1, Y: 1})
	})

	r.now = func() time.Time { return time.UnixMilli(600) }
	src.emit(browser.PageEvent{Kind: browser.EventClick, X: 1, Y: 1})
	assert.Len(t, r.Recording().Actions, 2, "the recorder keeps working after a panic")
}

func TestRecorder_PersistFailureIsReturned(t *testing.T) {
	r, src := startRecorder(t, slowOptions())
	src.emit(browser.PageEvent{Kind: browser.EventClick, Timestamp: 1000, X: 1, Y: 1})

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	rec, err := r.Stop(context.Background(), filepath.Join(blocker, "out.json"))
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Actions, 2)
}

func TestRecorder_StartErrors(t *testing.T) {
	t.Run("subscribe failure", func(t *testing.T) {
		src := &fakeSource{subscribeErr: errors.New("no binding")}
		r := New(src, DefaultOptions(), zaptest.NewLogger(t))
		assert.Error(t, r.Start(context.Background(), "https://a.example"))
	})

	t.Run("viewport failure is not fatal", func(t *testing.T) {
		src := &fakeSource{viewportErr: errors.New("detached")}
		r := New(src, DefaultOptions(), zaptest.NewLogger(t))
		require.NoError(t, r.Start(context.Background(), "https://a.example"))
		assert.Empty(t, r.Recording().Actions)
		assert.Error(t, r.Start(context.Background(), "https://a.example"), "a recorder starts once")
		_, err := r.Stop(context.Background(), "")
		require.NoError(t, err)
	})
}
