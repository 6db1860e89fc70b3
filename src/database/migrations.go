package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ppm/src/token"
)

// SchemaVersion is the schema this build reads and writes.
const SchemaVersion = 2

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY NOT NULL,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_personas_name ON personas(name)`,
	`CREATE TABLE IF NOT EXISTS granularity_levels (
		id TEXT PRIMARY KEY NOT NULL,
		name TEXT NOT NULL,
		display_order INTEGER NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY NOT NULL,
		persona_id TEXT NOT NULL,
		granularity_id TEXT NOT NULL,
		polarity TEXT NOT NULL,
		content TEXT NOT NULL,
		weight REAL,
		display_order INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (persona_id) REFERENCES personas(id) ON DELETE CASCADE,
		UNIQUE (persona_id, granularity_id, polarity, content)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_persona_id ON tokens(persona_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_order ON tokens(persona_id, granularity_id, polarity, display_order)`,
}

var schemaV2 = []string{
	`CREATE TABLE IF NOT EXISTS generation_params (
		persona_id TEXT PRIMARY KEY NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		seed INTEGER NOT NULL DEFAULT -1,
		steps INTEGER NOT NULL DEFAULT 30,
		cfg_scale REAL NOT NULL DEFAULT 7.0,
		sampler TEXT NOT NULL DEFAULT '',
		scheduler TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (persona_id) REFERENCES personas(id) ON DELETE CASCADE
	)`,
	// personas created before v2 get the defaults
	`INSERT OR IGNORE INTO generation_params (persona_id) SELECT id FROM personas`,
}

// migrate brings db up to SchemaVersion. Running it again is a no-op.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", current, SchemaVersion)
	}
	if current == SchemaVersion {
		return nil
	}

	tm := NewTxManager(db)
	return tm.ExecuteInTransaction(ctx, nil, func(tx *sql.Tx) error {
		if current < 1 {
			for _, stmt := range schemaV1 {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration v1: %w", err)
				}
			}
			if err := seedGranularityLevels(ctx, tx); err != nil {
				return err
			}
		}
		if current < 2 {
			for _, stmt := range schemaV2 {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration v2: %w", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			return fmt.Errorf("failed to clear schema version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	})
}

func currentVersion(ctx context.Context, q querier) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// readSchemaVersion reports the version of a database that may not be ours.
// ok is false when the schema_version table is missing or empty.
func readSchemaVersion(ctx context.Context, q querier) (version int, ok bool, err error) {
	var n int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`).Scan(&n); err != nil {
		return 0, false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}

	version, err = currentVersion(ctx, q)
	if err != nil {
		return 0, false, err
	}
	return version, version > 0, nil
}

func seedGranularityLevels(ctx context.Context, tx *sql.Tx) error {
	now := formatTime(time.Now())
	for _, l := range token.DefaultGranularityLevels() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO granularity_levels (id, name, display_order, color, is_default, created_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			l.ID, l.Name, l.DisplayOrder, l.Color, now); err != nil {
			return fmt.Errorf("failed to seed granularity %s: %w", l.ID, err)
		}
	}
	return nil
}
