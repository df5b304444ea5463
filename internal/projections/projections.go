// Package projections updates hive's materialized read-model tables from
// events, always inside the same transaction as the eventstore.Append call
// that produced them (spec §4.2 "synchronous projections" — there is no
// separate projection worker or replay lag to reason about). Grounded on the
// donor's internal/storage/sqlite package's habit of updating derived state
// (dirty set, blocked_issues_cache) inline with the mutation that caused it,
// generalized from ad-hoc per-mutation updates to one dispatch table keyed
// by event type.
package projections

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hiveswarm/hive/internal/herr"
	"github.com/hiveswarm/hive/internal/types"
)

// Apply projects one event onto its read-model table(s) inside tx. Event
// types with no projection (e.g. pure audit events like task_progress) are
// a no-op here — they still live in the event log itself.
func Apply(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	switch ev.Type {
	case types.EventAgentRegistered:
		return applyAgentRegistered(ctx, tx, ev)
	case types.EventAgentActive:
		return applyAgentActive(ctx, tx, ev)

	case types.EventMessageSent:
		return applyMessageSent(ctx, tx, ev)
	case types.EventMessageRead:
		return applyMessageRead(ctx, tx, ev)
	case types.EventMessageAcked:
		return applyMessageAcked(ctx, tx, ev)

	case types.EventFileReserved:
		return applyFileReserved(ctx, tx, ev)
	case types.EventFileReleased:
		return applyFileReleased(ctx, tx, ev)

	case types.EventCellCreated:
		return applyCellCreated(ctx, tx, ev)
	case types.EventCellStatusChanged:
		return applyCellStatusChanged(ctx, tx, ev)
	case types.EventCellClosed:
		return applyCellClosed(ctx, tx, ev)

	case types.EventSwarmCheckpointed:
		return applySwarmCheckpointed(ctx, tx, ev)
	case types.EventSwarmRecovered:
		return applySwarmRecovered(ctx, tx, ev)

	case types.EventDecompositionGenerated:
		return applyDecompositionGenerated(ctx, tx, ev)
	case types.EventSubtaskOutcome:
		return applySubtaskOutcome(ctx, tx, ev)
	case types.EventHumanFeedback:
		return applyHumanFeedback(ctx, tx, ev)

	default:
		// file_conflict, thread_created/activity, task_*, review_*,
		// worker_*, validation_*, checkpoint_created, context_compacted:
		// log-only events (spec §4.2 families without a dedicated
		// projection table). The event log itself is their store of record.
		return nil
	}
}

func decode(ev types.Event, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return herr.New(herr.CodeValidation, "projections.Apply", fmt.Sprintf("decode %s payload: %v", ev.Type, err), nil)
	}
	return nil
}

func applyAgentRegistered(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var a types.Agent
	if err := decode(ev, &a); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO agents (project_key, name, program, model, task_description, registered_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			program = VALUES(program), model = VALUES(model),
			task_description = VALUES(task_description), last_active_at = VALUES(last_active_at)
	`, ev.ProjectKey, a.Name, a.Program, a.Model, a.TaskDescription, ev.Timestamp, ev.Timestamp)
	return herr.Wrap("projections.applyAgentRegistered", err)
}

func applyAgentActive(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		Agent string `json:"agent"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE agents SET last_active_at = ? WHERE project_key = ? AND name = ?`,
		ev.Timestamp, ev.ProjectKey, payload.Agent)
	return herr.Wrap("projections.applyAgentActive", err)
}

func applyMessageSent(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		MessageID   int64             `json:"message_id"`
		From        string            `json:"from_agent"`
		To          []string          `json:"to"`
		Subject     string            `json:"subject"`
		Body        string            `json:"body"`
		ThreadID    string            `json:"thread_id"`
		Importance  types.Importance  `json:"importance"`
		AckRequired bool              `json:"ack_required"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, project_key, from_agent, subject, body, thread_id, importance, ack_required, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, payload.MessageID, ev.ProjectKey, payload.From, payload.Subject, payload.Body, payload.ThreadID, string(payload.Importance), payload.AckRequired, ev.Timestamp)
	if err != nil {
		return herr.Wrap("projections.applyMessageSent", err)
	}
	msgID := payload.MessageID
	if msgID == 0 {
		if msgID, err = res.LastInsertId(); err != nil {
			return herr.Wrap("projections.applyMessageSent", err)
		}
	}
	for _, to := range payload.To {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_recipients (message_id, agent_name) VALUES (?, ?)`,
			msgID, to); err != nil {
			return herr.Wrap("projections.applyMessageSent", err)
		}
	}
	return nil
}

func applyMessageRead(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		MessageID int64  `json:"message_id"`
		Agent     string `json:"agent"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE message_recipients SET read_at = ? WHERE message_id = ? AND agent_name = ? AND read_at = 0`,
		ev.Timestamp, payload.MessageID, payload.Agent)
	return herr.Wrap("projections.applyMessageRead", err)
}

func applyMessageAcked(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		MessageID int64  `json:"message_id"`
		Agent     string `json:"agent"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE message_recipients SET acked_at = ? WHERE message_id = ? AND agent_name = ? AND acked_at = 0`,
		ev.Timestamp, payload.MessageID, payload.Agent)
	return herr.Wrap("projections.applyMessageAcked", err)
}

func applyFileReserved(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		ReservationID int64  `json:"reservation_id"`
		Agent         string `json:"agent"`
		PathPattern   string `json:"path_pattern"`
		Exclusive     bool   `json:"exclusive"`
		Reason        string `json:"reason"`
		ExpiresAt     int64  `json:"expires_at"`
		HolderID      string `json:"holder_id"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}

	// spec §4.3 file_reserved: "first delete any active row for the same
	// (project_key, agent_name, path_pattern)" — an agent re-reserving an
	// identical path replaces its prior row instead of accumulating one.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM reservations WHERE project_key = ? AND agent_name = ? AND path_pattern = ? AND released_at = 0
	`, ev.ProjectKey, payload.Agent, payload.PathPattern); err != nil {
		return herr.Wrap("projections.applyFileReserved", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO reservations (id, project_key, agent_name, path_pattern, exclusive, reason, created_at, expires_at, lock_holder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, payload.ReservationID, ev.ProjectKey, payload.Agent, payload.PathPattern, payload.Exclusive, payload.Reason, ev.Timestamp, payload.ExpiresAt, payload.HolderID)
	return herr.Wrap("projections.applyFileReserved", err)
}

func applyFileReleased(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		ReservationIDs []int64 `json:"reservation_ids"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	for _, id := range payload.ReservationIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE reservations SET released_at = ? WHERE id = ? AND released_at = 0`,
			ev.Timestamp, id); err != nil {
			return herr.Wrap("projections.applyFileReleased", err)
		}
	}
	return nil
}

func applyCellCreated(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var c types.Cell
	if err := decode(ev, &c); err != nil {
		return err
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return herr.Wrap("projections.applyCellCreated", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cells (id, project_key, issue_type, status, title, description, priority, parent_id, assignee, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, ev.ProjectKey, string(c.Type), string(c.Status), c.Title, c.Description, c.Priority, c.ParentID, c.Assignee, metadata, ev.Timestamp, ev.Timestamp)
	if err != nil {
		return herr.Wrap("projections.applyCellCreated", err)
	}
	for _, dep := range c.Dependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cell_dependencies (cell_id, depends_on_id) VALUES (?, ?)`,
			c.ID, dep); err != nil {
			return herr.Wrap("projections.applyCellCreated", err)
		}
	}
	if c.ParentID != "" {
		if err := refreshEpicEligibility(ctx, tx, c.ParentID); err != nil {
			return err
		}
	}
	return nil
}

func applyCellStatusChanged(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		CellID string      `json:"cell_id"`
		To     types.Status `json:"to"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE cells SET status = ?, updated_at = ? WHERE id = ?`,
		string(payload.To), ev.Timestamp, payload.CellID)
	if err != nil {
		return herr.Wrap("projections.applyCellStatusChanged", err)
	}
	return refreshParentEligibility(ctx, tx, payload.CellID)
}

func applyCellClosed(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		CellID string `json:"cell_id"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE cells SET status = 'closed', closed_at = ?, updated_at = ? WHERE id = ?`,
		ev.Timestamp, ev.Timestamp, payload.CellID)
	if err != nil {
		return herr.Wrap("projections.applyCellClosed", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dirty_cells WHERE cell_id = ?`, payload.CellID); err != nil {
		return herr.Wrap("projections.applyCellClosed", err)
	}
	return refreshParentEligibility(ctx, tx, payload.CellID)
}

// refreshParentEligibility looks up cellID's parent and recomputes its
// eligibility cache row, the way the donor's blocked_issues_cache migration
// materializes a derived aggregate instead of recomputing it on every read.
func refreshParentEligibility(ctx context.Context, tx *sql.Tx, cellID string) error {
	var parentID sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT parent_id FROM cells WHERE id = ?`, cellID).Scan(&parentID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return herr.Wrap("projections.refreshParentEligibility", err)
	}
	if !parentID.Valid || parentID.String == "" {
		return nil
	}
	return refreshEpicEligibility(ctx, tx, parentID.String)
}

func refreshEpicEligibility(ctx context.Context, tx *sql.Tx, epicID string) error {
	var total, closed int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END) FROM cells WHERE parent_id = ?`,
		epicID).Scan(&total, &closed)
	if err != nil {
		return herr.Wrap("projections.refreshEpicEligibility", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO epic_eligibility_cache (epic_id, total_children, closed_children)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE total_children = VALUES(total_children), closed_children = VALUES(closed_children)
	`, epicID, total, closed)
	return herr.Wrap("projections.refreshEpicEligibility", err)
}

func applySwarmCheckpointed(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var sc types.SwarmContext
	if err := decode(ev, &sc); err != nil {
		return err
	}
	files, _ := json.Marshal(sc.Files)
	deps, _ := json.Marshal(sc.Dependencies)
	directives, _ := json.Marshal(sc.Directives)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO swarm_contexts (project_key, bead_id, epic_id, strategy, files, dependencies, directives, checkpointed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			epic_id = VALUES(epic_id), strategy = VALUES(strategy), files = VALUES(files),
			dependencies = VALUES(dependencies), directives = VALUES(directives), checkpointed_at = VALUES(checkpointed_at)
	`, ev.ProjectKey, sc.BeadID, sc.EpicID, sc.Strategy, files, deps, directives, ev.Timestamp)
	return herr.Wrap("projections.applySwarmCheckpointed", err)
}

func applySwarmRecovered(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		BeadID   string         `json:"bead_id"`
		Recovery map[string]any `json:"recovery"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	recovery, _ := json.Marshal(payload.Recovery)
	_, err := tx.ExecContext(ctx,
		`UPDATE swarm_contexts SET recovery = ?, recovered_at = ? WHERE project_key = ? AND bead_id = ?`,
		recovery, ev.Timestamp, ev.ProjectKey, payload.BeadID)
	return herr.Wrap("projections.applySwarmRecovered", err)
}

func applyDecompositionGenerated(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		EpicID   string              `json:"epic_id"`
		Subtasks []types.EvalSubtask `json:"subtasks"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	subtasks, _ := json.Marshal(payload.Subtasks)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO eval_records (project_key, epic_id, subtasks, outcomes)
		VALUES (?, ?, ?, JSON_ARRAY())
		ON DUPLICATE KEY UPDATE subtasks = VALUES(subtasks)
	`, ev.ProjectKey, payload.EpicID, subtasks)
	return herr.Wrap("projections.applyDecompositionGenerated", err)
}

func applySubtaskOutcome(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		EpicID  string            `json:"epic_id"`
		Outcome types.EvalOutcome `json:"outcome"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}

	var outcomesRaw []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT outcomes FROM eval_records WHERE project_key = ? AND epic_id = ?`,
		ev.ProjectKey, payload.EpicID).Scan(&outcomesRaw); err != nil {
		return herr.Wrap("projections.applySubtaskOutcome", err)
	}
	var outcomes []types.EvalOutcome
	if len(outcomesRaw) > 0 {
		if err := json.Unmarshal(outcomesRaw, &outcomes); err != nil {
			return herr.Wrap("projections.applySubtaskOutcome", err)
		}
	}
	outcomes = append(outcomes, payload.Outcome)
	successCount, failureCount, totalDuration, lastError := aggregateOutcomes(outcomes)

	newRaw, err := json.Marshal(outcomes)
	if err != nil {
		return herr.Wrap("projections.applySubtaskOutcome", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE eval_records
		SET outcomes = ?, success_count = ?, failure_count = ?, total_duration_ms = ?, last_error = ?
		WHERE project_key = ? AND epic_id = ?
	`, newRaw, successCount, failureCount, totalDuration, lastError, ev.ProjectKey, payload.EpicID)
	return herr.Wrap("projections.applySubtaskOutcome", err)
}

// aggregateOutcomes recomputes eval_records' running aggregates from the
// full outcome list. lastError reflects the most recent failure only.
func aggregateOutcomes(outcomes []types.EvalOutcome) (successCount, failureCount int, totalDuration int64, lastError string) {
	for _, o := range outcomes {
		if o.Success {
			successCount++
		} else {
			failureCount++
			lastError = o.Error
		}
		totalDuration += o.DurationMs
	}
	return
}

func applyHumanFeedback(ctx context.Context, tx *sql.Tx, ev types.Event) error {
	var payload struct {
		EpicID   string `json:"epic_id"`
		Accepted bool   `json:"accepted"`
		Modified bool   `json:"modified"`
		Notes    string `json:"notes"`
	}
	if err := decode(ev, &payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE eval_records SET accepted = ?, modified = ?, notes = ? WHERE project_key = ? AND epic_id = ?`,
		payload.Accepted, payload.Modified, payload.Notes, ev.ProjectKey, payload.EpicID)
	return herr.Wrap("projections.applyHumanFeedback", err)
}
