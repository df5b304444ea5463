package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
)

var (
	readAgent     string
	readMarkAsRead bool
)

var readCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Read one message in full, optionally marking it read",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		row, err := f.ReadMessage(ctx, id, readAgent, readMarkAsRead)
		if err != nil || jsonOutput {
			return outputResult(row, err)
		}
		fmt.Printf("%s\nfrom %s · %s · %s\n\n%s\n", passStyle.Render("✓ "+row.Subject), row.FromAgent, row.Importance, row.ThreadID, renderMarkdown(row.Body))
		return nil
	}),
}

func init() {
	readCmd.Flags().StringVar(&readAgent, "agent", "", "agent reading the message (required to mark as read)")
	readCmd.Flags().BoolVar(&readMarkAsRead, "mark-read", true, "append message_read for --agent")
}
