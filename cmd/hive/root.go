package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"charm.land/glamour/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/herr"
)

// Styles mirror the donor's sibling cmd/bd-examples binary
// (lipgloss.AdaptiveColor pass/warn/fail/muted/accent palette) — the only
// place in the pack that reaches for lipgloss directly in a CLI, rather
// than the fatih/color the main bd binary uses.
var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
	muteStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"})
)

var (
	jsonOutput  bool
	projectFlag string

	registry = facade.NewRegistry(nil)
)

var rootCmd = &cobra.Command{
	Use:           "hive",
	Short:         "Coordinate many cooperating agent processes on a shared codebase",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output structured JSON instead of plain text")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "project directory (default: current directory)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(reserveCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(cellCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(migrateCmd)
}

// projectKey resolves the project directory a command operates against:
// --project if given, otherwise the current working directory, made
// absolute so it's stable regardless of where hive was invoked from
// (spec §4.7's Facade Registry keys on this path).
func projectKey() (string, error) {
	if projectFlag != "" {
		return filepath.Abs(projectFlag)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return cwd, nil
}

// openFacade resolves the project key and returns its Facade, opening the
// Storage Adapter on first use via the process-wide Registry. Every command
// that touches storage calls this once; the withFacadeShutdown wrapper
// below flushes dirty cells and closes the handle once the command's fn
// returns.
func openFacade(ctx context.Context) (*facade.Facade, error) {
	key, err := projectKey()
	if err != nil {
		return nil, err
	}
	return registry.GetOrCreate(ctx, key)
}

// withFacadeShutdown wraps a RunE that needs a Facade: it resolves the
// Facade, runs fn, then flushes and closes every cached project via the
// Registry's shutdown path regardless of fn's outcome — mirroring the
// donor's PersistentPostRun auto-flush, generalized to hive's
// one-shot-per-invocation CLI model instead of a long-lived daemon.
func withFacadeShutdown(fn func(ctx context.Context, f *facade.Facade, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		runErr := fn(ctx, f, args)
		if failures := registry.Shutdown(ctx); len(failures) > 0 && runErr == nil {
			for key, ferr := range failures {
				return fmt.Errorf("shutdown %s: %w", key, ferr)
			}
		}
		return runErr
	}
}

// outputResult prints either the JSON result shape (spec §7) or a plain
// success/failure line, matching the donor's --json/plain dual-mode
// command output.
func outputResult(v any, err error) error {
	if jsonOutput {
		return outputJSON(resultEnvelope(v, err))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("✗ "+err.Error()))
		return err
	}
	if v != nil {
		if s, ok := v.(fmt.Stringer); ok {
			fmt.Println(passStyle.Render("✓") + " " + s.String())
			return nil
		}
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(passStyle.Render("✓"))
		fmt.Println(string(b))
	} else {
		fmt.Println(passStyle.Render("✓ ok"))
	}
	return nil
}

// renderMarkdown styles freeform text (a cell description, a message body)
// for a plain-text terminal, the same Glamour-for-display split the donor's
// cmd/bd/comments.go makes between its rendered human view and its raw
// --json output. JSON mode never calls this — it always ships the field
// untouched.
func renderMarkdown(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out, err := glamour.Render(text, "dark")
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func resultEnvelope(v any, err error) any {
	if err != nil {
		return herr.AsResult(err)
	}
	return struct {
		Success bool `json:"success"`
		Data    any  `json:"data,omitempty"`
	}{Success: true, Data: v}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
