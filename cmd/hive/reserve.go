package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/types"
)

var (
	reserveAgent   string
	reserveReason  string
	reserveTTL     int64
	reserveShared  bool
	reserveForce   bool
)

var reserveCmd = &cobra.Command{
	Use:   "reserve <path>...",
	Short: "Reserve one or more paths for exclusive editing (spec §4.4)",
	Args:  cobra.MinimumNArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		result, err := f.Reservations.Reserve(ctx, types.ReserveArgs{
			ProjectKey: f.ProjectKey,
			Agent:      reserveAgent,
			Paths:      args,
			Reason:     reserveReason,
			Exclusive:  !reserveShared,
			TTLSeconds: reserveTTL,
			Force:      reserveForce,
		})
		return outputResult(result, err)
	}),
}

func init() {
	reserveCmd.Flags().StringVar(&reserveAgent, "agent", "", "requesting agent name")
	reserveCmd.Flags().StringVar(&reserveReason, "reason", "", "human-readable reason for the reservation")
	reserveCmd.Flags().Int64Var(&reserveTTL, "ttl", 0, "reservation TTL in seconds (default: 3600)")
	reserveCmd.Flags().BoolVar(&reserveShared, "shared", false, "take a shared (non-exclusive) reservation")
	reserveCmd.Flags().BoolVar(&reserveForce, "force", false, "override an existing conflicting reservation")
	_ = reserveCmd.MarkFlagRequired("agent")
}
