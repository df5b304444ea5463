package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/types"
)

var (
	inboxLimit      int
	inboxUrgentOnly bool
	inboxUnreadOnly bool
	inboxBodies     bool
)

var inboxCmd = &cobra.Command{
	Use:   "inbox <agent>",
	Short: "List the most recent messages addressed to an agent (hard-capped at 5)",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		rows, err := f.Inbox(ctx, types.InboxArgs{
			Agent:         args[0],
			Limit:         inboxLimit,
			UrgentOnly:    inboxUrgentOnly,
			UnreadOnly:    inboxUnreadOnly,
			IncludeBodies: inboxBodies,
		})
		return outputResult(rows, err)
	}),
}

func init() {
	inboxCmd.Flags().IntVar(&inboxLimit, "limit", types.InboxHardCap, "max rows to return (clamped to the hard cap)")
	inboxCmd.Flags().BoolVar(&inboxUrgentOnly, "urgent-only", false, "only show urgent-importance messages")
	inboxCmd.Flags().BoolVar(&inboxUnreadOnly, "unread-only", false, "only show unread messages")
	inboxCmd.Flags().BoolVar(&inboxBodies, "bodies", false, "include full message bodies")
}
