// Package facade implements hive's Session/Facade API (spec §4.7): the
// single entry point agents call, which owns one project's Storage Adapter,
// Event Store, Reservation Manager, and Cell Tracker handles for the life
// of the process. Grounded on the donor's internal/coop "backend" session
// shape and cmd/bd/mail.go's messaging commands, generalized from a
// single-recipient issue-comment mailbox into spec §3's multi-recipient
// Message/MessageRecipient model.
package facade

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hiveswarm/hive/internal/eventstore"
	"github.com/hiveswarm/hive/internal/herr"
	"github.com/hiveswarm/hive/internal/projections"
	"github.com/hiveswarm/hive/internal/reservation"
	"github.com/hiveswarm/hive/internal/storage"
	"github.com/hiveswarm/hive/internal/stream"
	"github.com/hiveswarm/hive/internal/tracker"
	"github.com/hiveswarm/hive/internal/types"
)

// Facade is the per-project API surface: spec §4.4 (reservations) and §4.5
// (cells) are reached through its embedded Reservations/Cells handles;
// agent registration and messaging (spec §4.7) are implemented directly
// here since they don't warrant their own package.
type Facade struct {
	ProjectKey   string
	Reservations *reservation.Manager
	Cells        *tracker.Tracker

	store  storage.Store
	broker *stream.Broker
	now    func() time.Time
}

// New wires a Facade for one already-opened Storage Adapter handle.
// broker may be nil if this process isn't running a Stream Server — events
// are always appended to the durable log regardless; the broker only fans
// out the live SSE tail.
func New(store storage.Store, projectKey string, broker *stream.Broker, now func() time.Time) *Facade {
	if now == nil {
		now = time.Now
	}
	return &Facade{
		ProjectKey:   projectKey,
		Reservations: reservation.New(store, projectKey, func() int64 { return now().UnixMilli() }),
		Cells:        tracker.New(store, projectKey, now),
		store:        store,
		broker:       broker,
		now:          now,
	}
}

func (f *Facade) nowMs() int64 { return f.now().UnixMilli() }

// Store exposes the Facade's Storage Adapter handle for callers that need
// to wire it into another component scoped to the same project (the
// Stream Server's one-shot event reads, in particular).
func (f *Facade) Store() storage.Store { return f.store }

// Broker exposes the Facade's SSE fan-out broker, nil if this process
// isn't running a Stream Server.
func (f *Facade) Broker() *stream.Broker { return f.broker }

func (f *Facade) publish(ev types.Event) {
	if f.broker != nil {
		f.broker.Publish(ev)
	}
}

func (f *Facade) appendAndProject(ctx context.Context, eventType types.EventType, data any) (types.Event, error) {
	var ev types.Event
	err := f.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		ev, err = eventstore.Append(ctx, tx, f.ProjectKey, eventType, data, f.nowMs())
		if err != nil {
			return err
		}
		return projections.Apply(ctx, tx, ev)
	})
	if err != nil {
		return types.Event{}, err
	}
	f.publish(ev)
	return ev, nil
}

// RegisterAgent appends agent_registered, generating a two-word name if the
// caller doesn't supply one (spec §4.7).
func (f *Facade) RegisterAgent(ctx context.Context, args types.RegisterAgentArgs) (*types.Agent, error) {
	name := strings.TrimSpace(args.AgentName)
	if name == "" {
		name = GenerateAgentName()
	}
	a := &types.Agent{
		ProjectKey:      f.ProjectKey,
		Name:            name,
		Program:         args.Program,
		Model:           args.Model,
		TaskDescription: args.TaskDescription,
		RegisteredAt:    f.nowMs(),
		LastActiveAt:    f.nowMs(),
	}
	if _, err := f.appendAndProject(ctx, types.EventAgentRegistered, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SendMessage appends message_sent and fans it out to every recipient.
// The assigned message ID comes from the database's own AUTO_INCREMENT,
// not the event payload (messages, unlike cells, don't use content-hash
// IDs) — so SendMessage reads it back inside the same transaction that
// performed the insert, immediately after projections.Apply runs.
func (f *Facade) SendMessage(ctx context.Context, args types.SendMessageArgs) (types.SendMessageResult, error) {
	if strings.TrimSpace(args.From) == "" {
		return types.SendMessageResult{}, herr.New(herr.CodeValidation, "facade.SendMessage", "from is required", nil)
	}
	if len(args.To) == 0 {
		return types.SendMessageResult{}, herr.New(herr.CodeValidation, "facade.SendMessage", "at least one recipient is required", nil)
	}
	if args.Importance == "" {
		args.Importance = types.ImportanceNormal
	}
	nowMs := f.nowMs()

	payload := struct {
		MessageID   int64            `json:"message_id"`
		From        string           `json:"from_agent"`
		To          []string         `json:"to"`
		Subject     string           `json:"subject"`
		Body        string           `json:"body"`
		ThreadID    string           `json:"thread_id"`
		Importance  types.Importance `json:"importance"`
		AckRequired bool             `json:"ack_required"`
	}{From: args.From, To: args.To, Subject: args.Subject, Body: args.Body, ThreadID: args.ThreadID, Importance: args.Importance, AckRequired: args.AckRequired}

	var result types.SendMessageResult
	var ev types.Event
	err := f.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		ev, err = eventstore.Append(ctx, tx, f.ProjectKey, types.EventMessageSent, payload, nowMs)
		if err != nil {
			return err
		}
		if err := projections.Apply(ctx, tx, ev); err != nil {
			return err
		}
		var msgID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM messages WHERE project_key = ? AND from_agent = ? AND subject = ? AND created_at = ?
			ORDER BY id DESC LIMIT 1
		`, f.ProjectKey, args.From, args.Subject, nowMs).Scan(&msgID)
		if err != nil {
			return herr.Wrap("facade.SendMessage", err)
		}
		result = types.SendMessageResult{Success: true, MessageID: msgID, RecipientCount: len(args.To)}
		return nil
	})
	if err != nil {
		return types.SendMessageResult{}, err
	}
	f.publish(ev)
	return result, nil
}

// Inbox returns at most InboxHardCap rows for agent, newest first (spec
// §4.7's deliberate context-preservation cap).
func (f *Facade) Inbox(ctx context.Context, args types.InboxArgs) ([]types.InboxRow, error) {
	if strings.TrimSpace(args.Agent) == "" {
		return nil, herr.New(herr.CodeValidation, "facade.Inbox", "agent is required", nil)
	}
	limit := args.Limit
	if limit <= 0 || limit > types.InboxHardCap {
		limit = types.InboxHardCap
	}

	var b strings.Builder
	b.WriteString(`
		SELECT m.id, m.from_agent, m.subject, m.body, m.thread_id, m.importance, m.ack_required, m.created_at, r.read_at, r.acked_at
		FROM messages m
		JOIN message_recipients r ON r.message_id = m.id
		WHERE m.project_key = ? AND r.agent_name = ?
	`)
	sqlArgs := []any{f.ProjectKey, args.Agent}
	if args.UrgentOnly {
		b.WriteString(" AND m.importance = ?")
		sqlArgs = append(sqlArgs, string(types.ImportanceUrgent))
	}
	if args.UnreadOnly {
		b.WriteString(" AND r.read_at = 0")
	}
	b.WriteString(" ORDER BY m.created_at DESC LIMIT ?")
	sqlArgs = append(sqlArgs, limit)

	rows, err := f.store.Query(ctx, b.String(), sqlArgs...)
	if err != nil {
		return nil, herr.Wrap("facade.Inbox", err)
	}
	defer rows.Close()

	var out []types.InboxRow
	for rows.Next() {
		var row types.InboxRow
		var importance string
		if err := rows.Scan(&row.MessageID, &row.FromAgent, &row.Subject, &row.Body, &row.ThreadID, &importance, &row.AckRequired, &row.CreatedAt, &row.ReadAt, &row.AckedAt); err != nil {
			return nil, herr.Wrap("facade.Inbox", err)
		}
		row.Importance = types.Importance(importance)
		if !args.IncludeBodies {
			row.Body = ""
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReadMessage returns the full row for messageID (always including the
// body), optionally appending message_read for agent.
func (f *Facade) ReadMessage(ctx context.Context, messageID int64, agent string, markAsRead bool) (types.InboxRow, error) {
	var row types.InboxRow
	var importance string
	err := f.store.QueryRow(ctx, `
		SELECT m.id, m.from_agent, m.subject, m.body, m.thread_id, m.importance, m.ack_required, m.created_at,
		       COALESCE(r.read_at, 0), COALESCE(r.acked_at, 0)
		FROM messages m
		LEFT JOIN message_recipients r ON r.message_id = m.id AND r.agent_name = ?
		WHERE m.project_key = ? AND m.id = ?
	`, agent, f.ProjectKey, messageID).Scan(&row.MessageID, &row.FromAgent, &row.Subject, &row.Body, &row.ThreadID, &importance, &row.AckRequired, &row.CreatedAt, &row.ReadAt, &row.AckedAt)
	if err == sql.ErrNoRows {
		return types.InboxRow{}, herr.NotFound("facade.ReadMessage", "message")
	}
	if err != nil {
		return types.InboxRow{}, herr.Wrap("facade.ReadMessage", err)
	}
	row.Importance = types.Importance(importance)

	if markAsRead && agent != "" {
		if _, err := f.appendAndProject(ctx, types.EventMessageRead, map[string]any{"message_id": messageID, "agent": agent}); err != nil {
			return row, err
		}
		row.ReadAt = f.nowMs()
	}
	return row, nil
}

// Acknowledge appends message_acked for (messageID, agent).
func (f *Facade) Acknowledge(ctx context.Context, messageID int64, agent string) error {
	if strings.TrimSpace(agent) == "" {
		return herr.New(herr.CodeValidation, "facade.Acknowledge", "agent is required", nil)
	}
	_, err := f.appendAndProject(ctx, types.EventMessageAcked, map[string]any{"message_id": messageID, "agent": agent})
	return err
}

// HealthStatus is the shape Health returns (spec §4.7).
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Database string `json:"database"`
}

// Health runs a trivial query to confirm the Storage Adapter connection is
// alive.
func (f *Facade) Health(ctx context.Context) HealthStatus {
	var one int
	if err := f.store.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return HealthStatus{Healthy: false, Database: "disconnected"}
	}
	return HealthStatus{Healthy: true, Database: "connected"}
}

// Close releases the Facade's Storage Adapter handle. The Registry calls
// this during shutdown, after flushing dirty cells.
func (f *Facade) Close() error {
	return f.store.Close()
}
