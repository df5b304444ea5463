package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/migrate"
)

// migrateCmd deliberately does NOT go through withFacadeShutdown/openFacade:
// opening a Facade creates ".hive/db" on first use, which would make
// migrate.NeedsMigration see ".hive" as already present and skip the
// ".beads" -> ".hive" rename before it ever runs. The rename has to happen
// first, on a project that may not have a ".hive" directory at all yet.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rename a legacy .beads directory to .hive and import its JSONL snapshot(s)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		root, err := projectKey()
		if err != nil {
			return err
		}

		if migrate.NeedsMigration(root) {
			if _, err := migrate.RenameLegacyDir(root); err != nil {
				return outputResult(nil, err)
			}
		}

		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		defer registry.Shutdown(ctx)

		hiveDir := filepath.Join(root, ".hive")
		result, err := migrate.MergeAndImport(ctx, f.Store(), f.ProjectKey, hiveDir)
		return outputResult(result, err)
	},
}
