// cmd/arlo-client/main.go
//
// This is the entry point for the audit client.
// When you run `arlo-client` from a workspace directory, this is what executes.
//
// Flow:
// 1. Load .env and bind flags and ARLO_* environment variables
// 2. Create .arlo/ if needed and load its config.yaml
// 3. Open the log, the progress logbook and the submission journal
// 4. Launch the TUI against the server, or against the snapshot when offline

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
