// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/engine"
)

const shutdownTimeout = 30 * time.Second

// Components holds the services a command needs. It centralizes the
// lifecycle of the browser process.
type Components struct {
	Launcher browser.Launcher
	Engine   *engine.Engine
	Store    *actionlog.Store

	logger *zap.Logger
}

// Shutdown releases the browser. It uses its own deadline so it completes
// even when the command context was cancelled.
func (c *Components) Shutdown() {
	if c.Launcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.Launcher.Shutdown(ctx); err != nil {
		c.logger.Warn("Error during browser shutdown.", zap.Error(err))
		return
	}
	c.logger.Debug("Browser shut down.")
}
