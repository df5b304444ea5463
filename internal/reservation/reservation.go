// Package reservation implements hive's file-path mutual-exclusion layer
// (spec §4.4): glob-pattern reservations backed by CAS-versioned lock rows,
// bounded-retry acquisition, and reject-unless-force conflict handling (the
// Open Question decision recorded in SPEC_FULL.md §13). Grounded on the
// donor's internal/beads/paths.go filepath.Match usage for glob matching and
// internal/storage/dolt's optimistic-retry idiom (isRetryableError/
// withRetry) generalized from transient-connection retry to CAS-version
// retry.
package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hiveswarm/hive/internal/debug"
	"github.com/hiveswarm/hive/internal/eventstore"
	"github.com/hiveswarm/hive/internal/herr"
	"github.com/hiveswarm/hive/internal/projections"
	"github.com/hiveswarm/hive/internal/storage"
	"github.com/hiveswarm/hive/internal/types"
)

// DefaultTTL is applied when ReserveArgs.TTLSeconds is zero (spec §4.4:
// "ttl_seconds=3600").
const DefaultTTL = 3600 * time.Second

// MaxCASRetries bounds how many times Manager.Reserve retries a CAS
// conflict before giving up with CodeLockTimeout (spec §4.4).
const MaxCASRetries = 5

// Manager implements hive's reservation/mutual-exclusion operations against
// one project's storage adapter.
type Manager struct {
	store      storage.Store
	projectKey string
	now        func() int64
}

// New constructs a Manager for projectKey against store. now defaults to the
// wall clock in milliseconds if nil; tests may supply a fixed clock.
func New(store storage.Store, projectKey string, now func() int64) *Manager {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Manager{store: store, projectKey: projectKey, now: now}
}

// matches reports whether path matches glob pattern, supporting a single
// trailing "/**" suffix for whole-subtree patterns that filepath.Match alone
// cannot express (spec §4.4 "glob-aware" reservations).
func matches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	ok, err := filepath.Match(pattern, path)
	return err == nil && ok
}

// Reserve attempts to grant args.Paths to args.Agent. Each path is checked
// independently against every other active exclusive reservation in the
// project; a conflicting path is reported in Conflicts rather than failing
// the whole call, unless args.Force is set, in which case the existing
// reservation is superseded (spec §13: reject-unless-force). Callers that
// want the spec's exclusive-by-default semantics must set args.Exclusive
// themselves — the zero value is Go's false, not a sentinel for "unset".
func (m *Manager) Reserve(ctx context.Context, args types.ReserveArgs) (types.ReserveResult, error) {
	if args.Agent == "" {
		return types.ReserveResult{}, herr.New(herr.CodeValidation, "reservation.Reserve", "agent is required", nil)
	}
	if len(args.Paths) == 0 {
		return types.ReserveResult{}, herr.New(herr.CodeValidation, "reservation.Reserve", "at least one path is required", nil)
	}
	ttl := time.Duration(args.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exclusive := args.Exclusive

	var result types.ReserveResult
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second

	err := backoff.Retry(func() error {
		attempt++
		result = types.ReserveResult{}
		nowMs := m.now()
		expiresAt := nowMs + ttl.Milliseconds()

		txErr := m.store.WithTx(ctx, func(tx *sql.Tx) error {
			active, err := activeExclusiveReservations(ctx, tx, m.projectKey, nowMs)
			if err != nil {
				return err
			}

			var toGrant []string
			for _, path := range args.Paths {
				conflict, holder, pattern := findConflict(active, path, args.Agent)
				if conflict && !args.Force {
					result.Conflicts = append(result.Conflicts, types.Conflict{Path: path, Holder: holder, Pattern: pattern})
					continue
				}
				toGrant = append(toGrant, path)
			}

			// Locks are acquired before any file_reserved event is appended, and
			// everything here runs inside one transaction: if acquireLock fails
			// partway through toGrant, the transaction aborts and rolls back, so
			// holders acquired earlier in this same call are released for free
			// (spec §4.4 failure model: "partial holders acquired earlier in the
			// same call must be released on the abort path").
			for _, path := range toGrant {
				var holderID string
				if exclusive {
					holderID, err = acquireLock(ctx, tx, m.projectKey, path, nowMs, ttl, args.Force)
					if err != nil {
						return err
					}
				}
				ev, err := eventstore.Append(ctx, tx, m.projectKey, types.EventFileReserved, map[string]any{
					"reservation_id": 0,
					"agent":          args.Agent,
					"path_pattern":   path,
					"exclusive":      exclusive,
					"reason":         args.Reason,
					"expires_at":     expiresAt,
					"holder_id":      holderID,
				}, nowMs)
				if err != nil {
					return err
				}
				if err := projections.Apply(ctx, tx, ev); err != nil {
					return err
				}
				result.Granted = append(result.Granted, types.Grant{ID: ev.ID, Path: path, ExpiresAt: expiresAt})
			}
			return nil
		})
		if txErr != nil && isCASConflict(txErr) {
			debug.Logf(debug.TagReservations, "CAS retry attempt=%d project=%s", attempt, m.projectKey)
			return txErr
		}
		if txErr != nil {
			return backoff.Permanent(txErr)
		}
		return nil
	}, backoff.WithMaxRetries(bo, MaxCASRetries))

	if err != nil {
		if isCASConflict(err) {
			return types.ReserveResult{}, herr.LockTimeout("reservation.Reserve", strings.Join(args.Paths, ","))
		}
		return types.ReserveResult{}, err
	}
	return result, nil
}

// Release clears args.ReservationIDs, or reservations matching args.Paths,
// or — if neither is given — every active reservation held by args.Agent.
func (m *Manager) Release(ctx context.Context, args types.ReleaseArgs) (types.ReleaseResult, error) {
	if args.Agent == "" {
		return types.ReleaseResult{}, herr.New(herr.CodeValidation, "reservation.Release", "agent is required", nil)
	}
	nowMs := m.now()
	var result types.ReleaseResult

	err := m.store.WithTx(ctx, func(tx *sql.Tx) error {
		targets, err := reservationsToRelease(ctx, tx, m.projectKey, args, nowMs)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return nil
		}

		// spec §4.4 Release step 2: "for each with a lock_holder_id, attempt
		// lock.release(resource, holder_id) (no-op if expired — never fatal)".
		ids := make([]int64, len(targets))
		for i, t := range targets {
			ids[i] = t.id
			if t.holderID == "" {
				continue
			}
			if err := releaseLock(ctx, tx, m.projectKey, t.path, t.holderID); err != nil {
				return err
			}
		}

		ev, err := eventstore.Append(ctx, tx, m.projectKey, types.EventFileReleased, map[string]any{
			"reservation_ids": ids,
		}, nowMs)
		if err != nil {
			return err
		}
		if err := projections.Apply(ctx, tx, ev); err != nil {
			return err
		}
		result.Released = len(ids)
		result.ReleasedAt = nowMs
		return nil
	})
	if err != nil {
		return types.ReleaseResult{}, err
	}
	return result, nil
}

// releaseTarget is one active reservation row about to be released, carrying
// enough to also release its backing Lock by holder.
type releaseTarget struct {
	id       int64
	path     string
	holderID string
}

func reservationsToRelease(ctx context.Context, tx *sql.Tx, projectKey string, args types.ReleaseArgs, nowMs int64) ([]releaseTarget, error) {
	var rows *sql.Rows
	var err error
	switch {
	case len(args.ReservationIDs) > 0:
		placeholders := make([]string, len(args.ReservationIDs))
		qargs := make([]any, 0, len(args.ReservationIDs)+2)
		qargs = append(qargs, projectKey, args.Agent)
		for i, id := range args.ReservationIDs {
			placeholders[i] = "?"
			qargs = append(qargs, id)
		}
		rows, err = tx.QueryContext(ctx, fmt.Sprintf(
			`SELECT id, path_pattern, lock_holder_id FROM reservations WHERE project_key = ? AND agent_name = ? AND released_at = 0 AND id IN (%s)`,
			strings.Join(placeholders, ",")), qargs...)
	case len(args.Paths) > 0:
		placeholders := make([]string, len(args.Paths))
		qargs := make([]any, 0, len(args.Paths)+2)
		qargs = append(qargs, projectKey, args.Agent)
		for i, p := range args.Paths {
			placeholders[i] = "?"
			qargs = append(qargs, p)
		}
		rows, err = tx.QueryContext(ctx, fmt.Sprintf(
			`SELECT id, path_pattern, lock_holder_id FROM reservations WHERE project_key = ? AND agent_name = ? AND released_at = 0 AND path_pattern IN (%s)`,
			strings.Join(placeholders, ",")), qargs...)
	default:
		rows, err = tx.QueryContext(ctx,
			`SELECT id, path_pattern, lock_holder_id FROM reservations WHERE project_key = ? AND agent_name = ? AND released_at = 0`,
			projectKey, args.Agent)
	}
	if err != nil {
		return nil, herr.Wrap("reservation.reservationsToRelease", err)
	}
	defer rows.Close()

	var targets []releaseTarget
	for rows.Next() {
		var t releaseTarget
		if err := rows.Scan(&t.id, &t.path, &t.holderID); err != nil {
			return nil, herr.Wrap("reservation.reservationsToRelease", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// acquireLock grants resource to a fresh holder via CAS on the locks table's
// (resource, cas_version) pair (spec §3 Lock entity, §4.4 reserve step 3): no
// existing row inserts at version 1; an expired row updates conditioned on
// the version last read, so a concurrent acquirer's interleaved write makes
// the UPDATE affect zero rows, which surfaces as CodeLockContention for
// Reserve's backoff.Retry loop to retry. force bypasses the "still held and
// unexpired" check, taking the resource over outright the way a forced
// Reserve supersedes the conflicting reservation it came from.
func acquireLock(ctx context.Context, tx *sql.Tx, projectKey, resource string, nowMs int64, ttl time.Duration, force bool) (string, error) {
	holderID := uuid.NewString()
	expiresAt := nowMs + ttl.Milliseconds()

	var version, existingExpiresAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT cas_version, expires_at FROM locks WHERE project_key = ? AND resource = ?`,
		projectKey, resource).Scan(&version, &existingExpiresAt)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO locks (project_key, resource, holder_id, expires_at, cas_version) VALUES (?, ?, ?, ?, 1)
		`, projectKey, resource, holderID, expiresAt); err != nil {
			return "", herr.Wrap("reservation.acquireLock", err)
		}
		return holderID, nil
	case err != nil:
		return "", herr.Wrap("reservation.acquireLock", err)
	}

	if !force && existingExpiresAt > nowMs {
		return "", herr.New(herr.CodeLockContention, "reservation.acquireLock", "lock still held", resource)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE locks SET holder_id = ?, expires_at = ?, cas_version = cas_version + 1
		WHERE project_key = ? AND resource = ? AND cas_version = ?
	`, holderID, expiresAt, projectKey, resource, version)
	if err != nil {
		return "", herr.Wrap("reservation.acquireLock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", herr.Wrap("reservation.acquireLock", err)
	}
	if n == 0 {
		return "", herr.New(herr.CodeLockContention, "reservation.acquireLock", "cas version conflict", resource)
	}
	return holderID, nil
}

// releaseLock deletes resource's Lock row iff it is still held by holderID.
// A mismatch — already reassigned to a later holder, or already swept on
// natural expiry — is not an error (spec §4.4 Release step 2: "no-op if
// expired — never fatal").
func releaseLock(ctx context.Context, tx *sql.Tx, projectKey, resource, holderID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM locks WHERE project_key = ? AND resource = ? AND holder_id = ?`,
		projectKey, resource, holderID)
	return herr.Wrap("reservation.releaseLock", err)
}

type activeReservation struct {
	id     int64
	agent  string
	path   string
}

func activeExclusiveReservations(ctx context.Context, tx *sql.Tx, projectKey string, nowMs int64) ([]activeReservation, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, agent_name, path_pattern FROM reservations
		WHERE project_key = ? AND exclusive = TRUE AND released_at = 0 AND expires_at > ?
	`, projectKey, nowMs)
	if err != nil {
		return nil, herr.Wrap("reservation.activeExclusiveReservations", err)
	}
	defer rows.Close()

	var out []activeReservation
	for rows.Next() {
		var r activeReservation
		if err := rows.Scan(&r.id, &r.agent, &r.path); err != nil {
			return nil, herr.Wrap("reservation.activeExclusiveReservations", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func findConflict(active []activeReservation, path, requester string) (conflict bool, holder, pattern string) {
	for _, r := range active {
		if r.agent == requester {
			continue
		}
		if matches(r.path, path) {
			return true, r.agent, r.path
		}
	}
	return false, "", ""
}

// isCASConflict reports whether err indicates either acquireLock's
// (resource, cas_version) CAS lost a race (herr.CodeLockContention) or the
// active-reservation set changed between read and write within Reserve's
// transaction, and is worth retrying. Embedded Dolt serializes transactions,
// so the latter surfaces as a driver-level "database is locked"/write-
// conflict style error rather than an explicit version mismatch.
func isCASConflict(err error) bool {
	if err == nil {
		return false
	}
	if herr.Is(err, herr.CodeLockContention) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "database is locked") || strings.Contains(s, "write conflict")
}
