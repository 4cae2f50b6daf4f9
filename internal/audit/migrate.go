package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in the
// schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "asks ledger",
		SQL: `
		CREATE TABLE IF NOT EXISTS asks (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at    INTEGER NOT NULL,
			platform      TEXT NOT NULL,
			trigger_rule  TEXT NOT NULL,
			user_ref      TEXT,
			question_len  INTEGER DEFAULT 0,
			history_turns INTEGER DEFAULT 0,
			fragments     INTEGER DEFAULT 0,
			latency_ms    INTEGER DEFAULT 0,
			outcome       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_asks_time ON asks(created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: backend error codes",
		SQL: `
		ALTER TABLE asks ADD COLUMN error_code INTEGER DEFAULT 0;
		CREATE INDEX IF NOT EXISTS idx_asks_outcome ON asks(outcome, created_at);
		`,
	},
}

// runMigrations applies all pending schema migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying audit migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
