package database

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// schemaFiles maps database names to their schema files.
var schemaFiles = map[string]string{
	"ledger":    "ledger_schema.sql",
	"artifacts": "artifacts_schema.sql",
	"cache":     "cache_schema.sql",
}

// Migrate applies the embedded schema for this database's name. Databases with
// no registered schema are left untouched. Schemas are written to be re-runnable
// (CREATE TABLE IF NOT EXISTS), so Migrate is safe to call on every startup.
func (db *DB) Migrate() error {
	schemaFile, ok := schemaFiles[db.name]
	if !ok {
		return nil
	}

	content, err := schemaFS.ReadFile("schemas/" + schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read embedded schema %s: %w", schemaFile, err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema %s: %w", schemaFile, err)
	}

	if _, err := tx.Exec(string(content)); err != nil {
		_ = tx.Rollback()

		// Already-applied schemas are not an error
		errStr := err.Error()
		if strings.Contains(errStr, "duplicate column") ||
			strings.Contains(errStr, "already exists") {
			return nil
		}
		return fmt.Errorf("failed to execute schema %s for %s: %w", schemaFile, db.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema %s for %s: %w", schemaFile, db.name, err)
	}

	return nil
}
