// Command tmreplay replays a scripted editing session against a
// threat-model backend and reports the saved result.
//
//	tmreplay --config threatmodel.yaml --scenario edit.yaml
//	tmreplay --config threatmodel.yaml --check
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
