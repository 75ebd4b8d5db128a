// File: cmd/play.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/engine"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errRunFailed = errors.New("run did not complete")

// runFlags are shared by play and clone.
type runFlags struct {
	vars         string
	dummies      string
	assignments  []string
	ignoreErrors bool
	retries      int
	headless     bool
	jsonOut      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.vars, "vars", "", "JSON file of variable values (field name to real value)")
	fs.StringVar(&f.dummies, "dummies", "", "JSON file of the dummy values typed during recording")
	fs.StringArrayVar(&f.assignments, "var", nil, "variable override as key=value (repeatable)")
	fs.BoolVar(&f.ignoreErrors, "ignore-errors", false, "skip actions that fail instead of aborting (overrides config)")
	fs.IntVar(&f.retries, "retries", 1, "extra attempts per action (overrides config)")
	fs.BoolVar(&f.headless, "headless", true, "run the browser without a window (overrides config)")
	fs.BoolVar(&f.jsonOut, "json", false, "print the run result as JSON")
}

// apply layers explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, cfg config.Interface) {
	fs := cmd.Flags()
	if fs.Changed("ignore-errors") {
		cfg.SetPlaybackIgnoreErrors(f.ignoreErrors)
	}
	if fs.Changed("retries") {
		cfg.SetPlaybackRetryCount(f.retries)
	}
	if fs.Changed("headless") {
		cfg.SetBrowserHeadless(f.headless)
	}
}

// prepare resolves everything a run needs before a browser is opened.
func (f *runFlags) prepare(cmd *cobra.Command, cfg *config.Config, c *service.Components, ref string) (*schemas.Recording, schemas.PlaybackOptions, engine.Inputs, error) {
	f.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, schemas.PlaybackOptions{}, engine.Inputs{}, err
	}

	rec, report, err := c.Store.Get(ref)
	if err != nil {
		return nil, schemas.PlaybackOptions{}, engine.Inputs{}, err
	}
	logger := observability.GetLogger()
	for _, w := range report.Warnings {
		logger.Warn("Recording loaded with warnings.", zap.String("warning", w))
	}
	logger.Info("Recording loaded.", zap.String("ref", ref), zap.Int("actions", report.Total), zap.Int("dropped", report.Dropped))

	in, err := service.LoadInputs(cfg.Storage(), service.InputSources{
		VarsFile:    f.vars,
		DummiesFile: f.dummies,
		Assignments: f.assignments,
	})
	if err != nil {
		return nil, schemas.PlaybackOptions{}, engine.Inputs{}, err
	}
	return rec, cfg.PlaybackOptions(), in, nil
}

func newPlayCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "play <recording>",
		Short: "Replay a recording against its original start URL",
		Long: `Replay a recording by name (from the recordings directory) or by path.
Values typed during recording that appear in the dummy file are replaced with
the matching entries of the variable file and --var overrides.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(cfg *config.Config, c *service.Components) error {
				rec, opts, in, err := flags.prepare(cmd, cfg, c, args[0])
				if err != nil {
					return err
				}
				result, runErr := c.Engine.Play(cmd.Context(), rec, opts, in)
				if result != nil {
					if err := printResult(cmd.OutOrStdout(), result, flags.jsonOut); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCloneCmd() *cobra.Command {
	var (
		flags       runFlags
		concurrency int
		rate        float64
	)

	cmd := &cobra.Command{
		Use:   "clone <recording> <url>...",
		Short: "Replay a recording against one or more structurally similar pages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(cfg *config.Config, c *service.Components) error {
				if cmd.Flags().Changed("concurrency") {
					cfg.SetBatchConcurrency(concurrency)
				}
				if cmd.Flags().Changed("rate") {
					cfg.SetBatchRate(rate)
				}
				rec, opts, in, err := flags.prepare(cmd, cfg, c, args[0])
				if err != nil {
					return err
				}
				targets := args[1:]

				if len(targets) == 1 {
					result, runErr := c.Engine.Clone(cmd.Context(), rec, targets[0], opts, in)
					if result != nil {
						if err := printResult(cmd.OutOrStdout(), result, flags.jsonOut); err != nil {
							return err
						}
					}
					return runErr
				}

				results, batchErr := c.Engine.CloneBatch(cmd.Context(), rec, targets, opts, in)
				if err := printBatch(cmd.OutOrStdout(), results, flags.jsonOut); err != nil {
					return err
				}
				if batchErr != nil {
					return batchErr
				}
				failed := 0
				for _, r := range results {
					if r.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d clones failed: %w", failed, len(results), errRunFailed)
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum clones running at once (overrides config)")
	cmd.Flags().Float64Var(&rate, "rate", 0, "clone launches per second, 0 for unpaced (overrides config)")
	return cmd
}

func printResult(w io.Writer, r *schemas.PlaybackResult, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	status := "completed"
	if r.Aborted {
		status = fmt.Sprintf("aborted at action %d (%s)", r.FailedIndex, r.Reason)
	}
	fmt.Fprintf(w, "Run %s %s\n", r.RunID, status)
	fmt.Fprintf(w, "  start:    %s\n", r.StartURL)
	fmt.Fprintf(w, "  last url: %s\n", r.LastURL)
	fmt.Fprintf(w, "  actions:  %d executed, %d skipped, %d filtered of %d\n",
		len(r.ExecutedIndices), len(r.SkippedIndices), len(r.FilteredIndices), r.TotalActions)
	fmt.Fprintf(w, "  mode:     %s\n", r.Mode)
	fmt.Fprintf(w, "  duration: %s\n", r.Duration.Round(time.Millisecond))
	for _, s := range r.Screenshots {
		fmt.Fprintf(w, "  screenshot: %s\n", s)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	return nil
}

type batchLine struct {
	URL    string                  `json:"url"`
	Result *schemas.PlaybackResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func printBatch(w io.Writer, results []engine.BatchResult, asJSON bool) error {
	if asJSON {
		lines := make([]batchLine, len(results))
		for i, r := range results {
			lines[i] = batchLine{URL: r.URL, Result: r.Result}
			if r.Err != nil {
				lines[i].Error = r.Err.Error()
			}
		}
		data, err := json.MarshalIndent(lines, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	for _, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "%s: ", r.URL)
		switch {
		case r.Err != nil:
			fmt.Fprintf(&b, "failed: %v", r.Err)
		case r.Result != nil:
			fmt.Fprintf(&b, "run %s completed, %d executed, %d skipped", r.Result.RunID, len(r.Result.ExecutedIndices), len(r.Result.SkippedIndices))
		}
		fmt.Fprintln(w, b.String())
	}
	return nil
}
