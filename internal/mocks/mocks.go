// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Playback() config.PlaybackConfig {
	args := m.Called()
	return args.Get(0).(config.PlaybackConfig)
}

func (m *MockConfig) Delays() map[string]schemas.DelayPolicy {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]schemas.DelayPolicy)
}

func (m *MockConfig) Recorder() config.RecorderConfig {
	args := m.Called()
	return args.Get(0).(config.RecorderConfig)
}

func (m *MockConfig) Storage() config.StorageConfig {
	args := m.Called()
	return args.Get(0).(config.StorageConfig)
}

func (m *MockConfig) Batch() config.BatchConfig {
	args := m.Called()
	return args.Get(0).(config.BatchConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetPlaybackRetryCount(n int) {
	m.Called(n)
}

func (m *MockConfig) SetPlaybackIgnoreErrors(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBatchConcurrency(n int) {
	m.Called(n)
}

func (m *MockConfig) SetBatchRate(r float64) {
	m.Called(r)
}

// -- Launcher Mock --

// MockLauncher mocks the browser.Launcher interface.
type MockLauncher struct {
	mock.Mock
}

var _ browser.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Session), args.Error(1)
}

func (m *MockLauncher) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Session Mock --

// MockSession implements browser.Session for testing. Subscribe stores the
// sink so tests can drive events through Emit.
type MockSession struct {
	mock.Mock
	Sink func(browser.PageEvent)
}

var _ browser.Session = (*MockSession)(nil)

// Emit delivers ev to the subscribed sink, if any.
func (m *MockSession) Emit(ev browser.PageEvent) {
	if m.Sink != nil {
		m.Sink(ev)
	}
}

func (m *MockSession) ID() string { return m.Called().String(0) }
func (m *MockSession) Done() <-chan struct{} {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(chan struct{})
}
func (m *MockSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockSession) ClickAt(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *MockSession) ClickSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}
func (m *MockSession) ClickInFrames(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}
func (m *MockSession) Focused(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}
func (m *MockSession) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return m.Called(ctx, selector, value, timeout).Error(0)
}
func (m *MockSession) FillFocused(ctx context.Context, value string) error {
	return m.Called(ctx, value).Error(0)
}
func (m *MockSession) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockSession) ScrollTo(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}
func (m *MockSession) SetViewport(ctx context.Context, width, height int) error {
	return m.Called(ctx, width, height).Error(0)
}
func (m *MockSession) Snapshot(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockSession) Probe(ctx context.Context) (browser.PageProbe, error) {
	args := m.Called(ctx)
	return args.Get(0).(browser.PageProbe), args.Error(1)
}
func (m *MockSession) WaitIdle(ctx context.Context, quiet, max time.Duration) error {
	return m.Called(ctx, quiet, max).Error(0)
}
func (m *MockSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	args := m.Called(ctx, fullPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockSession) Subscribe(ctx context.Context, sink func(browser.PageEvent)) (<-chan struct{}, error) {
	args := m.Called(ctx, sink)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	m.Sink = sink
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return done, nil
}
func (m *MockSession) Viewport(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}
