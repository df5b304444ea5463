package main

import (
	"context"
	"database/sql"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/eventstore"
	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/storage"
	"github.com/hiveswarm/hive/internal/types"
)

// storeQueryable adapts storage.Store's ctx-first Query/QueryRow methods to
// eventstore.Queryable's database/sql-shaped QueryContext/QueryRowContext,
// the same adapter shape internal/stream/http.go uses for the same
// interface mismatch.
type storeQueryable struct{ storage.Store }

func (s storeQueryable) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.Query(ctx, query, args...)
}

func (s storeQueryable) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.QueryRow(ctx, query, args...)
}

var (
	logTypes  []string
	logSince  int64
	logUntil  int64
	logAfter  int64
	logLimit  int
	logOffset int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Query the project's event log (spec §6's one-shot JSON stream protocol)",
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		filter := types.ReadFilter{
			ProjectKey:    f.ProjectKey,
			Since:         logSince,
			Until:         logUntil,
			AfterSequence: logAfter,
			Limit:         logLimit,
			Offset:        logOffset,
		}
		for _, t := range logTypes {
			t = strings.TrimSpace(t)
			if t != "" {
				filter.Types = append(filter.Types, types.EventType(t))
			}
		}
		events, err := eventstore.Read(ctx, storeQueryable{f.Store()}, filter)
		return outputResult(events, err)
	}),
}

func init() {
	logCmd.Flags().StringSliceVar(&logTypes, "type", nil, "filter to these event types, comma-separated")
	logCmd.Flags().Int64Var(&logSince, "since", 0, "only events at/after this ms-since-epoch timestamp")
	logCmd.Flags().Int64Var(&logUntil, "until", 0, "only events at/before this ms-since-epoch timestamp")
	logCmd.Flags().Int64Var(&logAfter, "after-sequence", 0, "only events with sequence strictly greater than this")
	logCmd.Flags().IntVar(&logLimit, "limit", 100, "max events to return")
	logCmd.Flags().IntVar(&logOffset, "offset", 0, "rows to skip before returning results")
}
