// Package eventstore implements hive's append-only event log (spec §4.2):
// one monotonically increasing sequence per project, same-transaction
// append, and a filterable, resumable Read. Grounded on the donor's
// dirty-tracking/config idiom of small, focused SQL helper functions against
// a *sql.Tx (internal/storage/sqlite/dirty.go, config.go), generalized from
// per-issue rows to the event table's per-project sequence counter.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hiveswarm/hive/internal/debug"
	"github.com/hiveswarm/hive/internal/herr"
	"github.com/hiveswarm/hive/internal/types"
)

// Append inserts one event for projectKey inside tx, assigning the next
// sequence number for that project. The caller is expected to be inside a
// storage.Store.WithTx call so that projection updates for the same event
// commit atomically with the append (spec §4.2 "synchronous projections").
func Append(ctx context.Context, tx *sql.Tx, projectKey string, eventType types.EventType, data any, timestampMs int64) (types.Event, error) {
	if !eventType.Valid() {
		return types.Event{}, herr.New(herr.CodeValidation, "eventstore.Append", fmt.Sprintf("unknown event type %q", eventType), nil)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return types.Event{}, herr.Wrap("eventstore.Append", err)
	}

	seq, err := nextSequence(ctx, tx, projectKey)
	if err != nil {
		return types.Event{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (project_key, sequence, type, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
		projectKey, seq, string(eventType), timestampMs, raw)
	if err != nil {
		return types.Event{}, herr.Wrap("eventstore.Append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Event{}, herr.Wrap("eventstore.Append", err)
	}

	debug.Logf(debug.TagEvents, "append project=%s type=%s sequence=%d id=%d", projectKey, eventType, seq, id)

	return types.Event{
		ID:         id,
		Type:       eventType,
		ProjectKey: projectKey,
		Timestamp:  timestampMs,
		Sequence:   seq,
		Data:       raw,
	}, nil
}

// nextSequence atomically increments and returns project_sequences.last_sequence
// for projectKey within tx, creating the counter row on first use.
func nextSequence(ctx context.Context, tx *sql.Tx, projectKey string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_sequences (project_key, last_sequence) VALUES (?, 0)
		 ON DUPLICATE KEY UPDATE project_key = project_key`,
		projectKey); err != nil {
		return 0, herr.Wrap("eventstore.nextSequence", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE project_sequences SET last_sequence = last_sequence + 1 WHERE project_key = ?`,
		projectKey); err != nil {
		return 0, herr.Wrap("eventstore.nextSequence", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_sequence FROM project_sequences WHERE project_key = ?`, projectKey).Scan(&seq); err != nil {
		return 0, herr.Wrap("eventstore.nextSequence", err)
	}
	return seq, nil
}

// LatestSequence returns the highest sequence assigned to projectKey, or 0
// if no event has ever been appended.
func LatestSequence(ctx context.Context, q Queryable, projectKey string) (int64, error) {
	var seq sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT last_sequence FROM project_sequences WHERE project_key = ?`, projectKey).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, herr.Wrap("eventstore.LatestSequence", err)
	}
	return seq.Int64, nil
}

// Queryable is satisfied by both *sql.DB and *sql.Tx, letting Read run
// either standalone or inside a caller's transaction.
type Queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Read returns events matching filter, ordered by sequence ascending. An
// AfterSequence filter makes Read resumable for a cursor-based consumer
// (spec §6 streaming "after_sequence").
func Read(ctx context.Context, q Queryable, filter types.ReadFilter) ([]types.Event, error) {
	var b strings.Builder
	b.WriteString("SELECT id, project_key, sequence, type, timestamp, data FROM events WHERE project_key = ?")
	args := []any{filter.ProjectKey}

	if filter.AfterSequence > 0 {
		b.WriteString(" AND sequence > ?")
		args = append(args, filter.AfterSequence)
	}
	if filter.Since > 0 {
		b.WriteString(" AND timestamp >= ?")
		args = append(args, filter.Since)
	}
	if filter.Until > 0 {
		b.WriteString(" AND timestamp <= ?")
		args = append(args, filter.Until)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		fmt.Fprintf(&b, " AND type IN (%s)", strings.Join(placeholders, ","))
	}

	b.WriteString(" ORDER BY sequence ASC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, filter.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, herr.Wrap("eventstore.Read", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var e types.Event
		var typ string
		var data []byte
		if err := rows.Scan(&e.ID, &e.ProjectKey, &e.Sequence, &typ, &e.Timestamp, &data); err != nil {
			return nil, herr.Wrap("eventstore.Read", err)
		}
		e.Type = types.EventType(typ)
		e.Data = data
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, herr.Wrap("eventstore.Read", err)
	}
	return events, nil
}
