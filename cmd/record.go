// File: cmd/record.go
package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flowreplay/internal/actionlog"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/service"
)

func newRecordCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "record <url>",
		Short: "Open a browser and record a flow until Ctrl+C or the window closes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(_ *config.Config, c *service.Components) error {
				target := args[0]
				ref := output
				if ref == "" {
					u, err := url.Parse(target)
					if err != nil {
						return fmt.Errorf("invalid url %q: %w", target, err)
					}
					ref = actionlog.DefaultName(u.Hostname(), time.Now())
				}
				path := c.Store.Path(ref)

				fmt.Fprintf(cmd.OutOrStdout(), "Recording %s. Press Ctrl+C or close the window to finish.\n", target)
				rec, err := c.Engine.Record(cmd.Context(), target, path)
				if err != nil {
					if rec != nil {
						return fmt.Errorf("captured %d actions but could not save them: %w", len(rec.Actions), err)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d actions to %s\n", len(rec.Actions), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "recording name or file path (default <host>_<time> in the recordings dir)")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store, err := actionlog.NewStore(cfg.Storage().RecordingsDir, nil)
			if err != nil {
				return err
			}
			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No recordings in %s\n", store.Dir())
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s %8d bytes\n", e.Name, e.Modified.Format(time.RFC3339), e.Size)
			}
			return nil
		},
	}
}
