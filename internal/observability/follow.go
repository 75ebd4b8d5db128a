// File: internal/observability/follow.go
package observability

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
)

// FollowOptions controls how the run log is streamed.
type FollowOptions struct {
	// Follow keeps the file open and streams lines as they are appended.
	Follow bool
	// FromEnd starts at the end of the file instead of replaying it.
	FromEnd bool
}

// FollowLog copies lines of the log file at path to w until the file is
// exhausted (Follow=false) or ctx is cancelled.
func FollowLog(ctx context.Context, path string, w io.Writer, opts FollowOptions) error {
	cfg := tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	}
	if opts.FromEnd {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("error reading log file: %w", line.Err)
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
