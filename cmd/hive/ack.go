package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
)

var ackCmd = &cobra.Command{
	Use:   "ack <message-id> <agent>",
	Short: "Acknowledge an ack-required message",
	Args:  cobra.ExactArgs(2),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		err = f.Acknowledge(ctx, id, args[1])
		return outputResult(nil, err)
	}),
}
