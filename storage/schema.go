package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"go.uber.org/zap"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// markerTable is created by the first script; its presence means the schema
// has already been applied.
const markerTable = "profiles"

// SchemaScripts returns the embedded schema script names in execution order.
func SchemaScripts() []string {
	entries, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		// The pattern is a constant; Glob only fails on a malformed pattern.
		panic(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e[len("schema/"):])
	}
	sort.Strings(names)
	return names
}

// Bootstrap creates the schema on a fresh database. It is a no-op when the
// marker table already exists. All scripts run in one transaction, so a
// failure leaves the database untouched.
func Bootstrap(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) (bool, error) {
	exists, err := tableExists(ctx, db, markerTable)
	if err != nil {
		return false, err
	}
	if exists {
		logger.Debugw("Schema already present, skipping bootstrap", "marker", markerTable)
		return false, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range SchemaScripts() {
		script, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return false, fmt.Errorf("failed to read schema script %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			return false, fmt.Errorf("schema script %s failed: %w", name, err)
		}
		logger.Debugw("Applied schema script", "script", name)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit schema: %w", err)
	}

	count, err := countUserTables(ctx, db)
	if err != nil {
		return true, err
	}
	if count != len(allTables) {
		logger.Warnw("Schema table count differs from expected", "created", count, "expected", len(allTables))
	} else {
		logger.Infow("Schema created", "tables", count)
	}

	return true, nil
}

// ListTables returns the user tables present in the database, sorted by name.
func ListTables(ctx context.Context, db Executor) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableExists(ctx context.Context, db Executor, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", name, err)
	}
	return n > 0, nil
}

func countUserTables(ctx context.Context, db Executor) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tables: %w", err)
	}
	return n, nil
}
