// Command hive is the CLI entry point for the cell tracker and
// reservation/messaging coordination service (spec §4.7, §9). Grounded on
// the donor's cmd/bd/main.go signal-aware root context and Execute()
// shape, scaled down from bd's daemon/auto-flush/auto-import machinery to
// hive's simpler one-process-per-invocation model: every invocation opens
// its project's Facade, does one thing, flushes dirty cells, and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hiveswarm/hive/internal/telemetry"
)

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	shutdownTelemetry, err := telemetry.Setup(rootCtx)
	if err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: telemetry setup: "+err.Error()))
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
