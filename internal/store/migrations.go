package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var schemaV1 string

// revision is one versioned step of the story database schema. Revisions
// apply in order inside a transaction and are recorded in schema_version,
// so reopening an already-migrated database is a no-op.
type revision struct {
	version int
	name    string
	script  string
}

var revisions = []revision{
	{version: 1, name: "initial_schema", script: schemaV1},
}

// runMigrations brings the database up to the latest schema revision.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return storeFailure("init schema_version", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return storeFailure("read schema_version", err)
	}

	for _, rev := range revisions {
		if rev.version <= current {
			continue
		}
		if err := applyRevision(ctx, db, rev); err != nil {
			return storeFailure(fmt.Sprintf("apply schema revision %d (%s)", rev.version, rev.name), err)
		}
	}
	return nil
}

func applyRevision(ctx context.Context, db *sql.DB, rev revision) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(rev.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, rev.version, rev.name); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlStatements splits an embedded migration script into individual
// statements. Comment-only fragments are dropped so trailing comments do
// not produce empty executions.
func sqlStatements(script string) []string {
	var stmts []string
	for _, frag := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(frag); containsSQL(stmt) {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func containsSQL(fragment string) bool {
	for _, line := range strings.Split(fragment, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return true
		}
	}
	return false
}
