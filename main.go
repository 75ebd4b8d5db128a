// ./main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/flowreplay/cmd"
	"github.com/xkilldash9x/flowreplay/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables for tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

// main is the entry point for the flowreplay CLI.
func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the command context: a recording stops and is
	// saved, a playback finishes its current action and unwinds.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(130)
			return
		}
		osExit(1)
	}
}

// handlePanic writes the panic and its stack to panicLogFile before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "flowreplay crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
