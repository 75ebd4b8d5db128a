// internal/browser/cdp/manager.go
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

const (
	defaultLaunchTimeout = 30 * time.Second
	sessionCloseTimeout  = 10 * time.Second
)

var _ browser.Launcher = (*Manager)(nil)

// Manager owns the Chrome processes and hands out isolated tabs. A headed
// and a headless process are started lazily, one of each at most.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	base   context.Context

	mu         sync.Mutex
	allocators map[bool]*allocator
	closed     bool

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager. No browser is started until the first
// session is requested. ctx bounds the lifetime of every browser process.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     logger.Named("browser_manager"),
		base:       browser.Detach(ctx),
		allocators: make(map[bool]*allocator),
	}
}

// AllocatorOptions assembles the Chrome flags for a process.
func (m *Manager) AllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Later flags override the defaults, which force headless.
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("hide-scrollbars", headless),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", headless),
	)
	if !headless {
		opts = append(opts, chromedp.WindowSize(1366, 900))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

func (m *Manager) allocatorFor(headless bool) (*allocator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, browser.ErrSessionClosed
	}
	if a, ok := m.allocators[headless]; ok {
		return a, nil
	}
	ctx, cancel := chromedp.NewExecAllocator(m.base, m.AllocatorOptions(headless)...)
	a := &allocator{ctx: ctx, cancel: cancel}
	m.allocators[headless] = a
	m.logger.Info("Browser allocator created.", zap.Bool("headless", headless))
	return a, nil
}

// NewSession opens a fresh tab. The tab is released by Session.Close or by
// Shutdown, whichever comes first.
func (m *Manager) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	alloc, err := m.allocatorFor(opts.Headless)
	if err != nil {
		return nil, err
	}

	launchTimeout := m.cfg.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = defaultLaunchTimeout
	}

	chromedpOpts := []chromedp.ContextOption{chromedp.WithErrorf(m.logger.Sugar().Debugf)}
	if m.cfg.Debug {
		chromedpOpts = append(chromedpOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	tabCtx, cancel := chromedp.NewContext(alloc.ctx, chromedpOpts...)

	s := newSession(tabCtx, cancel, m.cfg, m.logger)
	if err := s.start(ctx, launchTimeout); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	m.wg.Add(1)
	s.onClose = m.wg.Done
	m.logger.Info("New session created.", zap.String("session_id", s.ID()), zap.Bool("headless", opts.Headless))
	return s, nil
}

// Shutdown waits for open sessions, bounded by ctx, then terminates every
// browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	allocators := m.allocators
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	for headless, a := range allocators {
		a.cancel()
		<-a.ctx.Done()
		m.logger.Debug("Browser process terminated.", zap.Bool("headless", headless))
	}
	return nil
}
