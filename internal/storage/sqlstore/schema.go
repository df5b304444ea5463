package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema is hive's initial DDL, covering every projection table spec §4
// describes: the append-only event log plus agents, messages/recipients,
// reservations/locks, cells/dependencies, eval_records, swarm_contexts, and
// consumer cursors. Split and executed statement-by-statement the way the
// donor's schema.go does, since Dolt (like MySQL) rejects multi-statement
// Exec calls.
const schema = `
CREATE TABLE IF NOT EXISTS config (
	` + "`key`" + ` VARCHAR(128) PRIMARY KEY,
	` + "`value`" + ` TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	project_key VARCHAR(255) NOT NULL,
	sequence BIGINT NOT NULL,
	type VARCHAR(64) NOT NULL,
	timestamp BIGINT NOT NULL,
	data JSON NOT NULL,
	UNIQUE KEY uq_events_project_sequence (project_key, sequence)
);
CREATE INDEX IF NOT EXISTS idx_events_project_type ON events (project_key, type);

CREATE TABLE IF NOT EXISTS project_sequences (
	project_key VARCHAR(255) PRIMARY KEY,
	last_sequence BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS agents (
	project_key VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	program VARCHAR(128) DEFAULT '',
	model VARCHAR(128) DEFAULT '',
	task_description TEXT DEFAULT '',
	registered_at BIGINT NOT NULL,
	last_active_at BIGINT NOT NULL,
	PRIMARY KEY (project_key, name)
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	project_key VARCHAR(255) NOT NULL,
	from_agent VARCHAR(255) NOT NULL,
	subject VARCHAR(500) NOT NULL,
	body TEXT DEFAULT '',
	thread_id VARCHAR(255) DEFAULT '',
	importance VARCHAR(16) NOT NULL DEFAULT 'normal',
	ack_required BOOLEAN NOT NULL DEFAULT FALSE,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_project_thread ON messages (project_key, thread_id);

CREATE TABLE IF NOT EXISTS message_recipients (
	message_id BIGINT NOT NULL,
	agent_name VARCHAR(255) NOT NULL,
	read_at BIGINT DEFAULT 0,
	acked_at BIGINT DEFAULT 0,
	PRIMARY KEY (message_id, agent_name),
	CONSTRAINT fk_recipients_message FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_recipients_agent ON message_recipients (agent_name, read_at);

CREATE TABLE IF NOT EXISTS reservations (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	project_key VARCHAR(255) NOT NULL,
	agent_name VARCHAR(255) NOT NULL,
	path_pattern VARCHAR(1024) NOT NULL,
	exclusive BOOLEAN NOT NULL DEFAULT TRUE,
	reason VARCHAR(500) DEFAULT '',
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	released_at BIGINT DEFAULT 0,
	lock_holder_id VARCHAR(64) DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_reservations_project_active ON reservations (project_key, released_at, expires_at);

CREATE TABLE IF NOT EXISTS locks (
	project_key VARCHAR(255) NOT NULL,
	resource VARCHAR(1024) NOT NULL,
	holder_id VARCHAR(64) NOT NULL,
	expires_at BIGINT NOT NULL,
	cas_version BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (project_key, resource)
);

CREATE TABLE IF NOT EXISTS cells (
	id VARCHAR(64) PRIMARY KEY,
	project_key VARCHAR(255) NOT NULL,
	issue_type VARCHAR(32) NOT NULL DEFAULT 'task',
	status VARCHAR(32) NOT NULL DEFAULT 'open',
	title VARCHAR(500) NOT NULL,
	description TEXT DEFAULT '',
	priority INT NOT NULL DEFAULT 2,
	parent_id VARCHAR(64) DEFAULT '',
	assignee VARCHAR(255) DEFAULT '',
	metadata JSON,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	closed_at BIGINT DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cells_project_status ON cells (project_key, status);
CREATE INDEX IF NOT EXISTS idx_cells_parent ON cells (parent_id);

CREATE TABLE IF NOT EXISTS cell_dependencies (
	cell_id VARCHAR(64) NOT NULL,
	depends_on_id VARCHAR(64) NOT NULL,
	PRIMARY KEY (cell_id, depends_on_id),
	CONSTRAINT fk_deps_cell FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS dirty_cells (
	project_key VARCHAR(255) NOT NULL,
	cell_id VARCHAR(64) NOT NULL,
	marked_at BIGINT NOT NULL,
	PRIMARY KEY (project_key, cell_id)
);

CREATE TABLE IF NOT EXISTS eval_records (
	project_key VARCHAR(255) NOT NULL,
	epic_id VARCHAR(64) NOT NULL,
	subtasks JSON,
	outcomes JSON,
	accepted BOOLEAN DEFAULT NULL,
	modified BOOLEAN DEFAULT NULL,
	notes TEXT DEFAULT '',
	success_count INT NOT NULL DEFAULT 0,
	failure_count INT NOT NULL DEFAULT 0,
	total_duration_ms BIGINT NOT NULL DEFAULT 0,
	last_error TEXT DEFAULT '',
	PRIMARY KEY (project_key, epic_id)
);

CREATE TABLE IF NOT EXISTS swarm_contexts (
	project_key VARCHAR(255) NOT NULL,
	bead_id VARCHAR(64) NOT NULL,
	epic_id VARCHAR(64) DEFAULT '',
	strategy VARCHAR(64) DEFAULT '',
	files JSON,
	dependencies JSON,
	directives JSON,
	recovery JSON,
	checkpointed_at BIGINT NOT NULL,
	recovered_at BIGINT DEFAULT 0,
	PRIMARY KEY (project_key, bead_id)
);

CREATE TABLE IF NOT EXISTS cursors (
	consumer_id VARCHAR(255) NOT NULL,
	project_key VARCHAR(255) NOT NULL,
	last_sequence BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (consumer_id, project_key)
);
`

const defaultConfig = `
INSERT INTO config (` + "`key`" + `, ` + "`value`" + `) VALUES ('schema_version', '0')
ON DUPLICATE KEY UPDATE ` + "`value`" + ` = ` + "`value`" + `;
`

// initSchemaOnDB applies schema DDL idempotently, skipping work entirely
// once the recorded schema_version is current. Grounded on the donor's
// initSchemaOnDB fast-path-then-splitStatements sequence.
func initSchemaOnDB(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, "SELECT `value` FROM config WHERE `key` = 'schema_version'").Scan(&version)
	if err == nil && version >= currentSchemaVersion {
		return nil
	}

	for _, stmt := range splitStatements(schema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w\nstatement: %s", err, truncateForError(stmt))
		}
	}

	for _, stmt := range splitStatements(defaultConfig) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("insert default config: %w", err)
		}
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO config (`key`, `value`) VALUES ('schema_version', ?) "+
			"ON DUPLICATE KEY UPDATE `value` = ?",
		currentSchemaVersion, currentSchemaVersion)
	return err
}

// splitStatements splits a SQL script on ';' outside of string literals, the
// way the donor's schema loader does, since Dolt/MySQL rejects multi-
// statement Exec calls.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	var stringChar byte

	for i := 0; i < len(script); i++ {
		c := script[i]
		if inString {
			current.WriteByte(c)
			if c == stringChar && (i == 0 || script[i-1] != '\\') {
				inString = false
			}
			continue
		}
		switch c {
		case '\'', '"':
			inString = true
			stringChar = c
			current.WriteByte(c)
		case ';':
			statements = append(statements, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}

func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

func truncateForError(stmt string) string {
	if len(stmt) > 200 {
		return stmt[:200] + "…"
	}
	return stmt
}
