package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/stream"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Stream Server: one-shot and live SSE event/cell reads over HTTP (spec §6)",
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		srv := stream.NewServer(serveAddr, f.Store(), registry.Streams(), f.Cells, f.ProjectKey)
		fmt.Printf("hive: streaming %s on %s\n", f.ProjectKey, serveAddr)
		return srv.Start(ctx)
	}),
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8787", "listen address for the Stream Server")
}
