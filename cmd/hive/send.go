package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/types"
)

var (
	sendTo          []string
	sendThread      string
	sendImportance  string
	sendAckRequired bool
)

var sendCmd = &cobra.Command{
	Use:   "send <from> <subject> <body>",
	Short: "Send a message to one or more agents",
	Args:  cobra.ExactArgs(3),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		importance := types.Importance(strings.ToLower(sendImportance))
		if importance == "" {
			importance = types.ImportanceNormal
		}
		result, err := f.SendMessage(ctx, types.SendMessageArgs{
			From:        args[0],
			To:          sendTo,
			Subject:     args[1],
			Body:        args[2],
			ThreadID:    sendThread,
			Importance:  importance,
			AckRequired: sendAckRequired,
		})
		return outputResult(result, err)
	}),
}

func init() {
	sendCmd.Flags().StringSliceVar(&sendTo, "to", nil, "recipient agent name(s), comma-separated")
	sendCmd.Flags().StringVar(&sendThread, "thread", "", "thread ID to group related messages")
	sendCmd.Flags().StringVar(&sendImportance, "importance", "normal", "low|normal|high|urgent")
	sendCmd.Flags().BoolVar(&sendAckRequired, "ack-required", false, "require recipients to acknowledge")
	_ = sendCmd.MarkFlagRequired("to")
}
