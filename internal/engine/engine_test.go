// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/mocks"
)

const shopURL = "https://shop.example/"

// -- Test Helpers --

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StorageCfg.TempDir = t.TempDir()
	cfg.BatchCfg = config.BatchConfig{Concurrency: 2}
	return cfg
}

func playbackOptions(cfg *config.Config) schemas.PlaybackOptions {
	opts := cfg.PlaybackOptions()
	opts.Delays = nil
	opts.ScreenshotDir = ""
	opts.RetryCount = 0
	return opts
}

func newTestEngine(t *testing.T, cfg config.Interface, launcher browser.Launcher) *Engine {
	t.Helper()
	e, err := New(cfg, launcher, zaptest.NewLogger(t))
	require.NoError(t, err)
	var n atomic.Int64
	e.newRunID = func() string { return "run-" + string(rune('0'+n.Add(1))) }
	return e
}

// playableSession expects one run that opens navURL and presses the given keys.
func playableSession(navURL string, keys ...string) *mocks.MockSession {
	sess := new(mocks.MockSession)
	sess.On("ID").Return("s1").Maybe()
	sess.On("Navigate", mock.Anything, navURL).Return(nil).Once()
	sess.On("CurrentURL", mock.Anything).Return(navURL, nil)
	for _, k := range keys {
		sess.On("PressKey", mock.Anything, k).Return(nil).Once()
	}
	sess.On("Close", mock.Anything).Return(nil).Once()
	return sess
}

// sessionFactory hands out a fresh session per call.
type sessionFactory struct {
	mu       sync.Mutex
	make     func() browser.Session
	sessions []browser.Session
}

func (f *sessionFactory) NewSession(context.Context, browser.SessionOptions) (browser.Session, error) {
	s := f.make()
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *sessionFactory) Shutdown(context.Context) error { return nil }

func (f *sessionFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// -- Test Cases --

func TestNew_ValidatesDependencies(t *testing.T) {
	logger := zaptest.NewLogger(t)
	launcher := new(mocks.MockLauncher)
	cfg := new(mocks.MockConfig)

	_, err := New(nil, launcher, logger)
	assert.Error(t, err)
	_, err = New(cfg, nil, logger)
	assert.Error(t, err)
	_, err = New(cfg, launcher, nil)
	assert.Error(t, err)

	e, err := New(cfg, launcher, logger)
	require.NoError(t, err)
	assert.Len(t, e.newRunID(), 8)
}

func TestRecord(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := new(mocks.MockConfig)
	cfg.On("Recorder").Return(config.RecorderConfig{
		ClickSuppressWindow:   50 * time.Millisecond,
		ScrollDebounce:        time.Hour,
		ResizeDebounce:        time.Hour,
		NavigationCorrelation: 2 * time.Second,
	})

	setup := func(windowClosed chan struct{}) (*mocks.MockLauncher, *mocks.MockSession, chan struct{}) {
		navigated := make(chan struct{})
		sess := new(mocks.MockSession)
		sess.On("ID").Return("rec-1")
		sess.On("Subscribe", mock.Anything, mock.Anything).Return(nil, nil).Once()
		sess.On("Viewport", mock.Anything).Return(1280, 800, nil).Once()
		sess.On("Navigate", mock.Anything, shopURL).Run(func(mock.Arguments) { close(navigated) }).Return(nil).Once()
		sess.On("Done").Return(windowClosed)
		sess.On("Close", mock.Anything).Return(nil).Once()

		launcher := new(mocks.MockLauncher)
		launcher.On("NewSession", mock.Anything, browser.SessionOptions{Headless: false}).Return(sess, nil).Once()
		return launcher, sess, navigated
	}

	t.Run("interrupt saves the capture", func(t *testing.T) {
		launcher, sess, navigated := setup(make(chan struct{}))
		e := newTestEngine(t, cfg, launcher)
		out := filepath.Join(t.TempDir(), "flow.json")

		ctx, cancel := context.WithCancel(context.Background())
		type outcome struct {
			rec *schemas.Recording
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			rec, err := e.Record(ctx, shopURL, out)
			done <- outcome{rec, err}
		}()

		<-navigated
		sess.Emit(browser.PageEvent{Kind: browser.EventClick, X: 10, Y: 20, Element: &browser.ElementInfo{Tag: "BUTTON", ID: "buy", Text: "Buy now", Visible: true}})
		sess.Emit(browser.PageEvent{Kind: browser.EventNavigate, URL: "https://shop.example/cart", TopFrame: true})
		cancel()

		res := <-done
		require.NoError(t, res.err)
		require.Len(t, res.rec.Actions, 3)
		assert.Equal(t, schemas.ActionWindowSize, res.rec.Actions[0].Type)
		assert.Equal(t, "#buy", res.rec.Actions[1].Selector)
		require.NotNil(t, res.rec.Actions[2].CausedBy)
		assert.Equal(t, 1, *res.rec.Actions[2].CausedBy)

		loaded, _, err := actionlog.Load(out, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, res.rec.Actions, loaded.Actions)
		assert.Equal(t, shopURL, loaded.StartURL)

		sess.AssertExpectations(t)
		launcher.AssertExpectations(t)
	})

	t.Run("closing the window ends the capture", func(t *testing.T) {
		closed := make(chan struct{})
		launcher, sess, navigated := setup(closed)
		e := newTestEngine(t, cfg, launcher)
		out := filepath.Join(t.TempDir(), "flow.json")

		go func() {
			<-navigated
			close(closed)
		}()
		rec, err := e.Record(context.Background(), shopURL, out)
		require.NoError(t, err)
		assert.Len(t, rec.Actions, 1)
		assert.FileExists(t, out)
		sess.AssertExpectations(t)
	})
}

func TestRecord_Failures(t *testing.T) {
	cfg := new(mocks.MockConfig)
	cfg.On("Recorder").Return(config.RecorderConfig{})

	t.Run("invalid url never opens a browser", func(t *testing.T) {
		launcher := new(mocks.MockLauncher)
		e := newTestEngine(t, cfg, launcher)
		_, err := e.Record(context.Background(), "shop.example", "out.json")
		assert.Error(t, err)
		launcher.AssertNotCalled(t, "NewSession", mock.Anything, mock.Anything)
	})

	t.Run("launch failure", func(t *testing.T) {
		launcher := new(mocks.MockLauncher)
		launcher.On("NewSession", mock.Anything, mock.Anything).Return(nil, errors.New("no chrome"))
		e := newTestEngine(t, cfg, launcher)
		_, err := e.Record(context.Background(), shopURL, "out.json")
		assert.ErrorContains(t, err, "no chrome")
	})

	t.Run("start failure still releases the browser", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		sess := new(mocks.MockSession)
		sess.On("ID").Return("rec-2")
		sess.On("Subscribe", mock.Anything, mock.Anything).Return(nil, nil)
		sess.On("Viewport", mock.Anything).Return(0, 0, errors.New("no layout"))
		sess.On("Navigate", mock.Anything, shopURL).Return(errors.New("dns"))
		sess.On("Close", mock.Anything).Return(nil).Once()
		launcher := new(mocks.MockLauncher)
		launcher.On("NewSession", mock.Anything, mock.Anything).Return(sess, nil)

		e := newTestEngine(t, cfg, launcher)
		_, err := e.Record(context.Background(), shopURL, filepath.Join(t.TempDir(), "out.json"))
		assert.ErrorContains(t, err, "dns")
		sess.AssertExpectations(t)
	})
}

func TestPlay(t *testing.T) {
	cfg := testConfig(t)
	sess := playableSession(shopURL, "X", "L", "Enter")
	launcher := new(mocks.MockLauncher)
	launcher.On("NewSession", mock.Anything, browser.SessionOptions{Headless: true}).Return(sess, nil).Once()
	e := newTestEngine(t, cfg, launcher)

	rec := &schemas.Recording{Version: schemas.RecordingVersion, StartURL: shopURL, Actions: []schemas.Action{
		{Type: schemas.ActionKeypress, Timestamp: 1, Key: "M"},
		{Type: schemas.ActionKeypress, Timestamp: 2, Key: "Enter"},
	}}
	opts := playbackOptions(cfg)
	opts.Headless = true

	result, err := e.Play(context.Background(), rec, opts, Inputs{
		Vars:    schemas.VariableMap{"size": "XL"},
		Dummies: schemas.DummyValueMap{"size": "M"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, []int{0, 1}, result.ExecutedIndices)
	sess.AssertExpectations(t)

	entries, err := os.ReadDir(cfg.StorageCfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "run variable files are removed")
}

func TestPlay_Failures(t *testing.T) {
	cfg := testConfig(t)

	t.Run("nil recording", func(t *testing.T) {
		e := newTestEngine(t, cfg, new(mocks.MockLauncher))
		_, err := e.Play(context.Background(), nil, playbackOptions(cfg), Inputs{})
		assert.Error(t, err)
	})

	t.Run("launch failure", func(t *testing.T) {
		launcher := new(mocks.MockLauncher)
		launcher.On("NewSession", mock.Anything, mock.Anything).Return(nil, browser.ErrSessionClosed)
		e := newTestEngine(t, cfg, launcher)
		_, err := e.Play(context.Background(), &schemas.Recording{StartURL: shopURL}, playbackOptions(cfg), Inputs{})
		assert.ErrorIs(t, err, browser.ErrSessionClosed)
	})

	t.Run("aborted run returns result and playback error", func(t *testing.T) {
		sess := new(mocks.MockSession)
		sess.On("ID").Return("s1").Maybe()
		sess.On("Navigate", mock.Anything, shopURL).Return(nil)
		sess.On("CurrentURL", mock.Anything).Return(shopURL, nil)
		sess.On("PressKey", mock.Anything, "Enter").Return(errors.New("target closed"))
		sess.On("Close", mock.Anything).Return(nil).Once()
		launcher := new(mocks.MockLauncher)
		launcher.On("NewSession", mock.Anything, mock.Anything).Return(sess, nil)
		e := newTestEngine(t, cfg, launcher)

		rec := &schemas.Recording{StartURL: shopURL, Actions: []schemas.Action{{Type: schemas.ActionKeypress, Timestamp: 1, Key: "Enter"}}}
		result, err := e.Play(context.Background(), rec, playbackOptions(cfg), Inputs{})
		require.Error(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Aborted)
		assert.Equal(t, 0, result.FailedIndex)
		sess.AssertExpectations(t)
	})
}

func TestClone(t *testing.T) {
	cfg := testConfig(t)
	const target = "https://other.example/product/7"
	rec := &schemas.Recording{StartURL: shopURL, Actions: []schemas.Action{
		{Type: schemas.ActionNavigation, Timestamp: 1, URL: shopURL},
		{Type: schemas.ActionKeypress, Timestamp: 2, Key: "Enter"},
	}}

	t.Run("runs against the new url", func(t *testing.T) {
		sess := playableSession(target, "Enter")
		launcher := new(mocks.MockLauncher)
		launcher.On("NewSession", mock.Anything, mock.Anything).Return(sess, nil)
		e := newTestEngine(t, cfg, launcher)

		result, err := e.Clone(context.Background(), rec, target, playbackOptions(cfg), Inputs{})
		require.NoError(t, err)
		assert.Equal(t, target, result.StartURL)
		assert.Equal(t, []int{1}, result.ExecutedIndices)
		sess.AssertExpectations(t)
	})

	t.Run("invalid url", func(t *testing.T) {
		launcher := new(mocks.MockLauncher)
		e := newTestEngine(t, cfg, launcher)
		_, err := e.Clone(context.Background(), rec, "/relative", playbackOptions(cfg), Inputs{})
		assert.Error(t, err)
		launcher.AssertNotCalled(t, "NewSession", mock.Anything, mock.Anything)
	})
}

func TestCloneBatch(t *testing.T) {
	rec := &schemas.Recording{StartURL: shopURL, Actions: []schemas.Action{
		{Type: schemas.ActionKeypress, Timestamp: 1, Key: "Enter"},
	}}

	t.Run("bounded concurrency and ordered results", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		cfg := testConfig(t)
		cfg.BatchCfg = config.BatchConfig{Concurrency: 2}

		var active, peak atomic.Int64
		factory := &sessionFactory{make: func() browser.Session {
			sess := new(mocks.MockSession)
			sess.On("ID").Return("s").Maybe()
			sess.On("Navigate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
			}).Return(nil)
			sess.On("CurrentURL", mock.Anything).Return(shopURL, nil)
			sess.On("PressKey", mock.Anything, "Enter").Return(nil)
			sess.On("Close", mock.Anything).Return(nil)
			return sess
		}}
		e := newTestEngine(t, cfg, factory)

		urls := []string{"https://a.example/", "https://b.example/", "not a url", "https://c.example/", "https://d.example/"}
		results, err := e.CloneBatch(context.Background(), rec, urls, playbackOptions(cfg), Inputs{})
		require.NoError(t, err)
		require.Len(t, results, len(urls))
		for i, r := range results {
			assert.Equal(t, urls[i], r.URL)
			if r.URL == "not a url" {
				assert.Error(t, r.Err)
				continue
			}
			require.NoError(t, r.Err)
			assert.True(t, r.Result.Success)
			assert.Equal(t, r.URL, r.Result.StartURL)
		}
		assert.Equal(t, 4, factory.count())
		assert.LessOrEqual(t, peak.Load(), int64(2))
	})

	t.Run("launches are paced", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.BatchCfg = config.BatchConfig{Concurrency: 3, RatePerSecond: 20, Burst: 1}
		factory := &sessionFactory{make: func() browser.Session { return playableSession(shopURL, "Enter") }}
		e := newTestEngine(t, cfg, factory)

		start := time.Now()
		results, err := e.CloneBatch(context.Background(), rec, []string{shopURL, shopURL, shopURL}, playbackOptions(cfg), Inputs{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
		for _, r := range results {
			assert.NoError(t, r.Err)
		}
	})

	t.Run("cancelled batch launches nothing", func(t *testing.T) {
		cfg := testConfig(t)
		factory := &sessionFactory{make: func() browser.Session { return playableSession(shopURL, "Enter") }}
		e := newTestEngine(t, cfg, factory)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		results, err := e.CloneBatch(ctx, rec, []string{shopURL, shopURL}, playbackOptions(cfg), Inputs{})
		assert.ErrorIs(t, err, context.Canceled)
		for _, r := range results {
			assert.ErrorIs(t, r.Err, context.Canceled)
		}
		assert.Zero(t, factory.count())
	})
}
