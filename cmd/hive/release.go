package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/types"
)

var (
	releaseAgent string
	releaseIDs   []int64
)

var releaseCmd = &cobra.Command{
	Use:   "release [path]...",
	Short: "Release reservations held by an agent (all, by path, or by ID)",
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		result, err := f.Reservations.Release(ctx, types.ReleaseArgs{
			ProjectKey:     f.ProjectKey,
			Agent:          releaseAgent,
			ReservationIDs: releaseIDs,
			Paths:          args,
		})
		return outputResult(result, err)
	}),
}

func init() {
	releaseCmd.Flags().StringVar(&releaseAgent, "agent", "", "agent releasing its reservations")
	releaseCmd.Flags().Int64SliceVar(&releaseIDs, "id", nil, "specific reservation ID(s) to release")
	_ = releaseCmd.MarkFlagRequired("agent")
}
