// File: internal/service/factory.go
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/browser/cdp"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/engine"
)

// ComponentFactory creates the set of components a command runs with.
// Commands depend on this interface so tests can substitute the browser.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// LauncherFunc builds the browser backend.
type LauncherFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher

type concreteFactory struct {
	newLauncher LauncherFunc
}

// NewComponentFactory creates the production factory, backed by Chrome.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{newLauncher: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
		return cdp.NewManager(ctx, cfg, logger)
	}}
}

// NewComponentFactoryWithLauncher creates a factory over a custom backend.
func NewComponentFactoryWithLauncher(fn LauncherFunc) ComponentFactory {
	return &concreteFactory{newLauncher: fn}
}

// Create wires the recording store, the browser launcher and the engine.
// The browser itself starts lazily with the first session.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := actionlog.NewStore(cfg.Storage().RecordingsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording store: %w", err)
	}

	launcher := f.newLauncher(ctx, cfg.Browser(), logger)
	components := &Components{Launcher: launcher, Store: store, logger: logger}

	eng, err := engine.New(cfg, launcher, logger)
	if err != nil {
		components.Shutdown()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	components.Engine = eng
	return components, nil
}
