package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    root_path TEXT NOT NULL UNIQUE,
    index_version TEXT NOT NULL,
    total_files INTEGER DEFAULT 0,
    last_indexed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_projects_root_path ON projects(root_path);

-- Files table
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    content_hash INTEGER NOT NULL,
    mod_time TIMESTAMP,
    size_bytes INTEGER,
    unstructured BOOLEAN DEFAULT 0,
    parse_error TEXT,
    entity_count INTEGER DEFAULT 0,
    last_indexed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
    UNIQUE(project_id, file_path)
);

CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);

-- Entity arena rows
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL,
    ordinal INTEGER NOT NULL,
    parent_ordinal INTEGER NOT NULL,
    qualified_name TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    signature TEXT,
    docstring TEXT,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    UNIQUE(file_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file_id);
`

const migrationV1Down = `
-- Drop all tables in reverse order of dependencies
DROP TABLE IF EXISTS entities;
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS projects;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
CREATE INDEX IF NOT EXISTS idx_entities_qualified_name ON entities(qualified_name);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_entities_qualified_name;
`

var zeroVersion = semver.MustParse("0.0.0")

// SchemaVersion returns the highest applied migration version, or 0.0.0 for a
// fresh database. Versions are compared as semver, not by application time.
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	return schemaVersion(ctx, db)
}

func schemaVersion(ctx context.Context, q querier) (*semver.Version, error) {
	var present int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&present); err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if present == 0 {
		return zeroVersion, nil
	}

	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	highest := zeroVersion
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %q: %w", raw, err)
		}
		if v.GreaterThan(highest) {
			highest = v
		}
	}
	return highest, rows.Err()
}

// ApplyMigrations brings the schema up to CurrentSchemaVersion. Each pending
// migration runs in its own transaction together with its version record.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	applied, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", m.Version, err)
		}
		if !applied.LessThan(v) {
			continue
		}
		if err := runMigration(ctx, db, m.Up, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		applied = v
	}
	return nil
}

// RollbackMigration reverts the most recently applied migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	applied, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if applied.Equal(zeroVersion) {
		return fmt.Errorf("no migrations to rollback")
	}

	idx := -1
	for i := range AllMigrations {
		if v, err := semver.NewVersion(AllMigrations[i].Version); err == nil && v.Equal(applied) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("migration %s not found", applied)
	}
	m := AllMigrations[idx]

	// the first migration's Down drops schema_version along with everything else
	record := "DELETE FROM schema_version WHERE version = ?"
	if idx == 0 {
		record = ""
	}
	if err := runMigration(ctx, db, m.Down, record, m.Version); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", m.Version, err)
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, script, record, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if record != "" {
		if _, err := tx.ExecContext(ctx, record, version); err != nil {
			return fmt.Errorf("failed to update schema_version: %w", err)
		}
	}
	return tx.Commit()
}
