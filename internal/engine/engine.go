// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/player"
	"github.com/xkilldash9x/flowreplay/internal/recorder"
	"github.com/xkilldash9x/flowreplay/internal/variables"
)

const (
	// persistTimeout bounds saving a recording after the capture context is gone.
	persistTimeout = 30 * time.Second
	// closeTimeout bounds releasing a browser tab.
	closeTimeout = 10 * time.Second
)

// Inputs is the substitution data of a run.
type Inputs struct {
	Vars    schemas.VariableMap
	Dummies schemas.DummyValueMap
}

// BatchResult is the outcome of one clone in a batch.
type BatchResult struct {
	URL    string
	Result *schemas.PlaybackResult
	Err    error
}

// Engine is the invocation surface: it owns session lifecycles and wires the
// recorder and player to a browser backend.
type Engine struct {
	cfg      config.Interface
	launcher browser.Launcher
	logger   *zap.Logger
	newRunID func() string
}

// New creates an engine over launcher.
func New(cfg config.Interface, launcher browser.Launcher, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if launcher == nil {
		return nil, errors.New("launcher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Engine{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.With(zap.String("component", "engine")),
		newRunID: newRunID,
	}, nil
}

func newRunID() string {
	return uuid.NewString()[:8]
}

// Record opens startURL in a visible browser and captures the operator's
// actions until ctx is cancelled or the window is closed. The recording is
// saved to outPath even when ctx is already done; a save failure is returned
// together with the in-memory recording.
func (e *Engine) Record(ctx context.Context, startURL, outPath string) (*schemas.Recording, error) {
	if err := validateTarget(startURL); err != nil {
		return nil, err
	}
	sess, err := e.launcher.NewSession(ctx, browser.SessionOptions{Headless: false})
	if err != nil {
		return nil, fmt.Errorf("failed to open browser for recording: %w", err)
	}
	defer e.closeSession(sess)

	logger := e.logger.With(zap.String("session_id", sess.ID()))
	rec := recorder.New(sess, recorder.OptionsFromConfig(e.cfg.Recorder()), logger)

	if err := rec.Start(ctx, startURL); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		_, _ = rec.Stop(stopCtx, "")
		return nil, err
	}

	select {
	case <-ctx.Done():
		logger.Info("Recording interrupted; finishing capture.", zap.Error(ctx.Err()))
	case <-sess.Done():
		logger.Info("Browser window closed; finishing capture.")
	}

	// The capture context is gone; saving must still happen.
	stopCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return rec.Stop(stopCtx, outPath)
}

// Play replays rec in a fresh session. The result is returned whenever the
// run started; err is a *player.PlaybackError when it aborted.
func (e *Engine) Play(ctx context.Context, rec *schemas.Recording, opts schemas.PlaybackOptions, in Inputs) (*schemas.PlaybackResult, error) {
	if rec == nil {
		return nil, errors.New("recording cannot be nil")
	}
	runID := e.newRunID()
	logger := e.logger.With(zap.String("run_id", runID))

	// Each run reads its variables back from its own file so concurrent runs
	// work from isolated snapshots.
	path, cleanup, err := variables.WriteRunFile(e.cfg.Storage().TempDir, runID, in.Vars)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	vars, err := variables.LoadMap(path)
	if err != nil {
		return nil, err
	}
	resolver := variables.NewResolver(vars, in.Dummies, logger)

	sess, err := e.launcher.NewSession(ctx, browser.SessionOptions{Headless: opts.Headless})
	if err != nil {
		return nil, fmt.Errorf("failed to open browser for playback: %w", err)
	}
	defer e.closeSession(sess)

	p, err := player.New(sess, opts, resolver, runID, e.logger)
	if err != nil {
		return nil, err
	}
	result, err := p.Run(ctx, rec)
	if result != nil {
		logger.Info("Run finished.",
			zap.Bool("success", result.Success),
			zap.Int("executed", len(result.ExecutedIndices)),
			zap.Int("skipped", len(result.SkippedIndices)),
			zap.String("mode", string(result.Mode)),
			zap.Duration("duration", result.Duration))
	}
	return result, err
}

// Clone replays rec against newURL instead of its recorded start URL.
func (e *Engine) Clone(ctx context.Context, rec *schemas.Recording, newURL string, opts schemas.PlaybackOptions, in Inputs) (*schemas.PlaybackResult, error) {
	if err := validateTarget(newURL); err != nil {
		return nil, err
	}
	opts.StartURLOverride = newURL
	return e.Play(ctx, rec, opts, in)
}

// CloneBatch clones rec onto every url. At most batch.concurrency runs are
// live at once and launches are paced by batch.rate_per_second. Each run
// gets its own copy of the recording. Per-target failures are reported in
// the results; the returned error is only set when ctx ended.
func (e *Engine) CloneBatch(ctx context.Context, rec *schemas.Recording, urls []string, opts schemas.PlaybackOptions, in Inputs) ([]BatchResult, error) {
	if rec == nil {
		return nil, errors.New("recording cannot be nil")
	}
	batch := e.cfg.Batch()
	limit := batch.Concurrency
	if limit <= 0 {
		limit = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if batch.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(batch.RatePerSecond), max(batch.Burst, 1))
	}

	e.logger.Info("Starting clone batch.",
		zap.Int("targets", len(urls)),
		zap.Int("concurrency", limit),
		zap.Float64("rate_per_second", batch.RatePerSecond))

	results := make([]BatchResult, len(urls))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, target := range urls {
		results[i].URL = target
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result, results[i].Err = e.Clone(ctx, rec.Clone(), target, opts, in)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	e.logger.Info("Clone batch finished.", zap.Int("targets", len(urls)), zap.Int("failed", failed))
	return results, ctx.Err()
}

func (e *Engine) closeSession(sess browser.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		e.logger.Warn("Failed to close browser session.", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") || (u.Scheme != "file" && u.Host == "") {
		return fmt.Errorf("invalid url %q: expected an absolute http(s) url", raw)
	}
	return nil
}
