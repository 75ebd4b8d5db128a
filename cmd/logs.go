// File: cmd/logs.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flowreplay/internal/observability"
)

func newLogsCmd() *cobra.Command {
	var opts observability.FollowOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the run log, optionally following new entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := observability.LogFilePath(cfg.Logger())
			if path == "" {
				return errors.New("no log file is configured (logger.log_file)")
			}
			err = observability.FollowLog(cmd.Context(), path, cmd.OutOrStdout(), opts)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep streaming new log lines until interrupted")
	cmd.Flags().BoolVar(&opts.FromEnd, "tail", false, "skip existing lines and only show new ones")
	return cmd
}
