// internal/player/audit.go
package player

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/browser"
)

const screenshotTimeout = 20 * time.Second

// ScreenshotName builds "<domain>_<timestamp>_<runid>_<kind>.png".
func ScreenshotName(pageURL string, at time.Time, runID, kind string) string {
	domain := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	return fmt.Sprintf("%s_%s_%s_%s.png", actionlog.SanitizeName(domain), at.UTC().Format("20060102T150405"), runID, kind)
}

// captureAudit writes full-page and viewport screenshots into dir. Failures
// are logged and returned as warnings; they never change the run outcome.
func captureAudit(ctx context.Context, page browser.Page, dir, pageURL, runID string, at time.Time, logger *zap.Logger) ([]string, []string) {
	if dir == "" {
		return nil, nil
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, []string{fmt.Sprintf("screenshot dir: %v", err)}
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, []string{fmt.Sprintf("screenshot dir: %v", err)}
	}

	ctx, cancel := context.WithTimeout(browser.Detach(ctx), screenshotTimeout)
	defer cancel()

	var paths, warnings []string
	for _, shot := range []struct {
		kind string
		full bool
	}{{"full", true}, {"viewport", false}} {
		data, err := page.Screenshot(ctx, shot.full)
		if err != nil {
			logger.Warn("Failed to capture audit screenshot.", zap.String("kind", shot.kind), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("%s screenshot: %v", shot.kind, err))
			continue
		}
		path := filepath.Join(expanded, ScreenshotName(pageURL, at, runID, shot.kind))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			logger.Warn("Failed to write audit screenshot.", zap.String("path", path), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("%s screenshot: %v", shot.kind, err))
			continue
		}
		paths = append(paths, path)
	}
	return paths, warnings
}
