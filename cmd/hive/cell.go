package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/types"
)

var cellCmd = &cobra.Command{
	Use:   "cell",
	Short: "Create, query, and transition work-item cells (spec §4.5)",
}

var (
	cellType        string
	cellDescription string
	cellPriority    int
	cellParent      string
	cellAssignee    string
)

var cellCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a single cell",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		c, err := f.Cells.CreateCell(ctx, types.CreateCellArgs{
			ProjectKey:  f.ProjectKey,
			Type:        types.IssueType(cellType),
			Title:       args[0],
			Description: cellDescription,
			Priority:    cellPriority,
			ParentID:    cellParent,
			Assignee:    cellAssignee,
		})
		return outputResult(c, err)
	}),
}

var epicSubtaskTitles []string

var cellEpicCmd = &cobra.Command{
	Use:   "epic <title>",
	Short: "Create an epic and its subtasks atomically",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		subtasks := make([]types.CreateCellArgs, 0, len(epicSubtaskTitles))
		for _, title := range epicSubtaskTitles {
			subtasks = append(subtasks, types.CreateCellArgs{
				ProjectKey: f.ProjectKey,
				Type:       types.TypeTask,
				Title:      title,
			})
		}
		epic, children, err := f.Cells.CreateEpic(ctx, types.CreateEpicArgs{
			ProjectKey:      f.ProjectKey,
			EpicTitle:       args[0],
			EpicDescription: cellDescription,
			Priority:        cellPriority,
			Subtasks:        subtasks,
		})
		if err != nil {
			return outputResult(nil, err)
		}
		return outputResult(struct {
			Epic     *types.Cell   `json:"epic"`
			Subtasks []*types.Cell `json:"subtasks"`
		}{epic, children}, nil)
	}),
}

var cellCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a cell (accepts a unique ID prefix)",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := f.Cells.ResolveID(ctx, args[0])
		if err != nil {
			return outputResult(nil, err)
		}
		c, err := f.Cells.CloseCell(ctx, id)
		return outputResult(c, err)
	}),
}

var cellStatusCmd = &cobra.Command{
	Use:   "status <id> <open|in_progress|blocked|closed>",
	Short: "Transition a cell's status",
	Args:  cobra.ExactArgs(2),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := f.Cells.ResolveID(ctx, args[0])
		if err != nil {
			return outputResult(nil, err)
		}
		c, err := f.Cells.ChangeStatus(ctx, id, types.Status(args[1]))
		return outputResult(c, err)
	}),
}

var (
	updateTitle    string
	updateDesc     string
	updatePriority int
	updateAssignee string
	hasPriority    bool
)

var cellUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Patch a cell's title/description/priority/assignee",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := f.Cells.ResolveID(ctx, args[0])
		if err != nil {
			return outputResult(nil, err)
		}
		patch := types.UpdateCellPatch{}
		if updateTitle != "" {
			patch.Title = &updateTitle
		}
		if updateDesc != "" {
			patch.Description = &updateDesc
		}
		if hasPriority {
			patch.Priority = &updatePriority
		}
		if updateAssignee != "" {
			patch.Assignee = &updateAssignee
		}
		c, err := f.Cells.UpdateCell(ctx, id, patch)
		return outputResult(c, err)
	}),
}

var (
	listStatus string
	listType   string
	listParent string
	listReady  bool
	listLimit  int
)

var cellListCmd = &cobra.Command{
	Use:   "list",
	Short: "Query cells by status/type/parent, or only ready-to-work cells",
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		q := types.QueryCellsArgs{ProjectKey: f.ProjectKey, Ready: listReady, Limit: listLimit}
		if listStatus != "" {
			s := types.Status(listStatus)
			q.Status = &s
		}
		if listType != "" {
			ty := types.IssueType(listType)
			q.Type = &ty
		}
		if listParent != "" {
			q.ParentID = &listParent
		}
		cells, err := f.Cells.QueryCells(ctx, q)
		return outputResult(cells, err)
	}),
}

var cellReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Fetch the next ready-to-work cell (no open dependencies)",
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		c, err := f.Cells.GetNextReadyCell(ctx)
		return outputResult(c, err)
	}),
}

var cellEpicStatusCmd = &cobra.Command{
	Use:   "epic-status <epic-id>",
	Short: "Show subtask completion progress for an epic",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := f.Cells.ResolveID(ctx, args[0])
		if err != nil {
			return outputResult(nil, err)
		}
		progress, err := f.Cells.GetEpicProgress(ctx, id)
		return outputResult(progress, err)
	}),
}

var cellShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one cell, resolved from a unique ID prefix",
	Args:  cobra.ExactArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		id, err := f.Cells.ResolveID(ctx, args[0])
		if err != nil {
			return outputResult(nil, err)
		}
		c, err := f.Cells.GetCell(ctx, id)
		if err != nil || jsonOutput || c.Description == "" {
			return outputResult(c, err)
		}
		fmt.Printf("%s\n%s · priority %d · %s\n\n%s\n", passStyle.Render("✓ "+c.Title), c.Status, c.Priority, c.ID, renderMarkdown(c.Description))
		return nil
	}),
}

func init() {
	cellCreateCmd.Flags().StringVar(&cellType, "type", string(types.TypeTask), "bug|feature|task|epic|chore")
	cellCreateCmd.Flags().StringVar(&cellDescription, "description", "", "cell description")
	cellCreateCmd.Flags().IntVar(&cellPriority, "priority", 2, "priority 0 (most urgent) .. 3")
	cellCreateCmd.Flags().StringVar(&cellParent, "parent", "", "parent cell ID")
	cellCreateCmd.Flags().StringVar(&cellAssignee, "assignee", "", "assignee agent name")

	cellEpicCmd.Flags().StringVar(&cellDescription, "description", "", "epic description")
	cellEpicCmd.Flags().IntVar(&cellPriority, "priority", 2, "priority 0 (most urgent) .. 3")
	cellEpicCmd.Flags().StringSliceVar(&epicSubtaskTitles, "subtask", nil, "subtask title (repeatable)")

	cellUpdateCmd.Flags().StringVar(&updateTitle, "title", "", "new title")
	cellUpdateCmd.Flags().StringVar(&updateDesc, "description", "", "new description")
	cellUpdateCmd.Flags().IntVar(&updatePriority, "priority", 0, "new priority")
	cellUpdateCmd.Flags().StringVar(&updateAssignee, "assignee", "", "new assignee")
	cellUpdateCmd.PreRun = func(cmd *cobra.Command, args []string) {
		hasPriority = cmd.Flags().Changed("priority")
	}

	cellListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	cellListCmd.Flags().StringVar(&listType, "type", "", "filter by type")
	cellListCmd.Flags().StringVar(&listParent, "parent", "", "filter by parent cell ID")
	cellListCmd.Flags().BoolVar(&listReady, "ready", false, "only cells with no open dependencies")
	cellListCmd.Flags().IntVar(&listLimit, "limit", 0, "max rows (0 = unbounded)")

	cellCmd.AddCommand(cellCreateCmd, cellEpicCmd, cellCloseCmd, cellStatusCmd, cellUpdateCmd, cellListCmd, cellReadyCmd, cellEpicStatusCmd, cellShowCmd)
}
