package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
// Timestamps are stored as INTEGER unix nanoseconds (UTC).
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS machines (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				hostname TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT '',
				api_token_hash TEXT UNIQUE NOT NULL,
				is_active INTEGER NOT NULL DEFAULT 1,
				last_heartbeat_ns INTEGER,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS rules (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				slug TEXT UNIQUE NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				threshold INTEGER NOT NULL CHECK (threshold > 0),
				window_minutes INTEGER NOT NULL CHECK (window_minutes >= 0),
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);

			-- source_ip is '' when the event carried none
			CREATE TABLE IF NOT EXISTS log_events (
				id TEXT PRIMARY KEY,
				machine_id TEXT NOT NULL,
				ts_ns INTEGER NOT NULL,
				ingested_at_ns INTEGER NOT NULL,
				event_type TEXT NOT NULL,
				severity TEXT NOT NULL DEFAULT 'info',
				raw_message TEXT NOT NULL DEFAULT '',
				source_ip TEXT NOT NULL DEFAULT '',
				username TEXT NOT NULL DEFAULT '',
				metadata_json TEXT NOT NULL DEFAULT '{}',
				correlation_id TEXT NOT NULL DEFAULT '',
				FOREIGN KEY (machine_id) REFERENCES machines(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				machine_id TEXT NOT NULL,
				source_ip TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				severity TEXT NOT NULL,
				severity_rank INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'open',
				occurrences INTEGER NOT NULL CHECK (occurrences > 0),
				first_seen_ns INTEGER NOT NULL,
				last_seen_ns INTEGER NOT NULL,
				is_escalated INTEGER NOT NULL DEFAULT 0,
				escalated_at_ns INTEGER,
				metadata_json TEXT NOT NULL DEFAULT '{}',
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL,
				FOREIGN KEY (rule_id) REFERENCES rules(id) ON DELETE CASCADE,
				FOREIGN KEY (machine_id) REFERENCES machines(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_rules_event_type ON rules(event_type, enabled);
			CREATE INDEX IF NOT EXISTS idx_events_window ON log_events(machine_id, event_type, ts_ns);
			CREATE INDEX IF NOT EXISTS idx_events_window_ip ON log_events(machine_id, event_type, source_ip, ts_ns);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, last_seen_ns);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_key
				ON alerts(rule_id, machine_id, source_ip) WHERE status = 'open';
		`,
	},
	{
		Version: 2,
		Name:    "alert_history",
		Up: `
			CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				action TEXT NOT NULL,
				severity TEXT NOT NULL,
				occurrences INTEGER NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				actor TEXT NOT NULL DEFAULT '',
				created_at_ns INTEGER NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_alert_history_alert ON alert_history(alert_id, created_at_ns);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at_ns INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name, applied_at_ns) VALUES (?, ?, ?)",
		m.Version, m.Name, toNanos(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
