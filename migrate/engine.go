package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"auditdesk/metrics"
	"auditdesk/storage"
)

const DefaultBatchSize = 1000

// Config controls a migration run.
type Config struct {
	BatchSize int
	// RateLimit caps page fetches per second. Zero disables limiting.
	RateLimit float64
	// ReportDir receives the run report. Defaults to the directory of the
	// destination database.
	ReportDir string
	// SourceName is recorded in the report (DSN host, URL or archive path).
	SourceName string
}

// Engine copies tables from a Source into the embedded store.
type Engine struct {
	dest    *storage.SQLite
	source  Source
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewEngine creates a migration engine. dest may be nil for export-only use.
func NewEngine(dest *storage.SQLite, source Source, cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	if source == nil {
		return nil, errors.New("migration source is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", cfg.RateLimit)
	}
	if cfg.ReportDir == "" && dest != nil && dest.Path != ":memory:" {
		cfg.ReportDir = filepath.Dir(dest.Path)
	}

	e := &Engine{
		dest:   dest,
		source: source,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return e, nil
}

// Run migrates every table in dependency order.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	return e.run(ctx, Order())
}

// RunTables migrates the named tables only. Unknown names are logged and
// skipped; known ones run in dependency order regardless of argument order.
func (e *Engine) RunTables(ctx context.Context, names []string) (*Report, error) {
	wanted := make(map[storage.Table]bool, len(names))
	for _, name := range names {
		t := storage.Table(strings.TrimSpace(name))
		if !inOrder(t) {
			e.logger.Warnw("Skipping unknown table", "table", name)
			continue
		}
		wanted[t] = true
	}

	tables := make([]storage.Table, 0, len(wanted))
	for _, t := range order {
		if wanted[t] {
			tables = append(tables, t)
		}
	}
	return e.run(ctx, tables)
}

func (e *Engine) run(ctx context.Context, tables []storage.Table) (*Report, error) {
	if e.dest == nil {
		return nil, errors.New("migration requires a destination store")
	}

	report := newReport(e.cfg, e.dest.Path)
	e.logger.Infow("Starting migration", "tables", len(tables), "batch_size", e.cfg.BatchSize, "source", e.cfg.SourceName)

	for _, table := range tables {
		stats, err := e.migrateTable(ctx, table)
		report.add(stats)
		if err != nil {
			// Only cancellation aborts the run; table failures are in the stats.
			err = fmt.Errorf("migration interrupted at %s: %w", table, err)
			report.Interrupted = err.Error()
			e.logger.Warnw("Migration interrupted", "table", table, "tables_done", len(report.Stats), "error", err)
			if werr := e.saveReport(report); werr != nil {
				e.logger.Errorw("Failed to save partial migration report", "error", werr)
			}
			return report, err
		}
	}
	report.finish()

	e.logger.Infow("Migration complete",
		"tables", report.Summary.Tables,
		"exported", report.Summary.Exported,
		"imported", report.Summary.Imported,
		"errors", report.Summary.Errors,
		"duration_ms", report.Summary.DurationMS)

	if err := e.saveReport(report); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) saveReport(report *Report) error {
	if e.cfg.ReportDir == "" {
		return nil
	}
	path, err := report.Write(e.cfg.ReportDir)
	if err != nil {
		return err
	}
	e.logger.Infow("Migration report saved", "path", path)
	return nil
}

func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

// pages calls fn for every page of table. It stops after a short or empty
// page, or once a known row count is reached. Returns the number of fetches;
// a fetch error is returned as fetchErr, cancellation as err.
func (e *Engine) pages(ctx context.Context, table storage.Table, fn func(page []map[string]any) error) (fetches int, fetchErr, err error) {
	total := -1
	if c, ok := e.source.(Counter); ok {
		n, cerr := c.Count(ctx, table)
		if cerr != nil {
			e.logger.Warnw("Row count unavailable, paging until a short page", "table", table, "error", cerr)
		} else {
			total = n
		}
	}

	batch := e.cfg.BatchSize
	for offset := 0; total < 0 || offset < total; offset += batch {
		if err := e.wait(ctx); err != nil {
			return fetches, nil, err
		}

		page, ferr := e.source.FetchPage(ctx, table, offset, batch)
		if ferr != nil {
			if ctx.Err() != nil {
				return fetches, nil, ctx.Err()
			}
			return fetches, ferr, nil
		}
		fetches++
		metrics.MigrationPageFetches.WithLabelValues(string(table)).Inc()

		if len(page) == 0 {
			break
		}
		if err := fn(page); err != nil {
			return fetches, nil, err
		}
		if len(page) < batch {
			break
		}
	}
	return fetches, nil, nil
}

func (e *Engine) migrateTable(ctx context.Context, table storage.Table) (TableStats, error) {
	start := time.Now()
	stats := TableStats{Table: string(table)}
	defer func() {
		stats.DurationMS = time.Since(start).Milliseconds()
		metrics.MigrationTableDuration.Observe(time.Since(start).Seconds())
	}()

	columns, err := e.dest.TableColumns(ctx, e.dest.DB, table)
	if err != nil {
		stats.Errors++
		e.logger.Errorw("Failed to read destination columns", "table", table, "error", err)
		return stats, ctx.Err()
	}
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	dropped := make(map[string]bool)

	fetches, fetchErr, err := e.pages(ctx, table, func(page []map[string]any) error {
		stats.Exported += len(page)
		metrics.MigrationRows.WithLabelValues(string(table), "exported").Add(float64(len(page)))

		imported, failed, ierr := e.insertPage(ctx, table, page, known, dropped)
		if ierr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Errorw("Page insert failed", "table", table, "rows", len(page), "error", ierr)
			imported, failed = 0, len(page)
		}
		stats.Imported += imported
		stats.Errors += failed
		metrics.MigrationRows.WithLabelValues(string(table), "imported").Add(float64(imported))
		metrics.MigrationRows.WithLabelValues(string(table), "failed").Add(float64(failed))

		e.logger.Debugw("Page migrated", "table", table, "rows", len(page), "imported", imported)
		return nil
	})
	stats.Pages = fetches
	if fetchErr != nil {
		stats.Errors++
		e.logger.Errorw("Failed to fetch page", "table", table, "error", fetchErr)
	}
	if err != nil {
		return stats, err
	}

	e.logger.Infow("Table migrated", "table", table, "exported", stats.Exported, "imported", stats.Imported, "errors", stats.Errors)
	return stats, nil
}

// insertPage upserts one page in a single transaction. Each row runs under
// its own savepoint so a failing row leaves the rest of the page intact.
func (e *Engine) insertPage(ctx context.Context, table storage.Table, page []map[string]any, known, dropped map[string]bool) (imported, failed int, err error) {
	err = e.dest.WithTransaction(ctx, func(tx *sql.Tx) error {
		imported, failed = 0, 0
		for _, raw := range page {
			row, terr := Transform(raw)
			if terr != nil {
				failed++
				e.logger.Warnw("Row transform failed", "table", table, "error", terr)
				continue
			}

			cols := make([]string, 0, len(row))
			for col := range row {
				if known[col] {
					cols = append(cols, col)
				} else if !dropped[col] {
					dropped[col] = true
					e.logger.Warnw("Dropping column missing from destination", "table", table, "column", col)
				}
			}
			if len(cols) == 0 {
				failed++
				continue
			}
			sort.Strings(cols)

			args := make([]any, len(cols))
			for i, c := range cols {
				args[i] = row[c]
			}

			if _, err := tx.ExecContext(ctx, "SAVEPOINT migrate_row"); err != nil {
				return fmt.Errorf("savepoint: %w", err)
			}
			if _, xerr := tx.ExecContext(ctx, upsertStatement(table, cols), args...); xerr != nil {
				failed++
				e.logger.Warnw("Row insert failed", "table", table, "id", row["id"], "error", xerr)
				if _, err := tx.ExecContext(ctx, "ROLLBACK TO migrate_row"); err != nil {
					return fmt.Errorf("rollback to savepoint: %w", err)
				}
			} else {
				imported++
			}
			if _, err := tx.ExecContext(ctx, "RELEASE migrate_row"); err != nil {
				return fmt.Errorf("release savepoint: %w", err)
			}
		}
		return nil
	})
	return imported, failed, err
}

// upsertStatement inserts cols into table, updating the existing row when the
// primary key already exists. Rows are updated in place rather than deleted
// and reinserted so children referencing them keep valid foreign keys.
func upsertStatement(table storage.Table, cols []string) string {
	quoted := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	hasID := false
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
		if c == "id" {
			hasID = true
			continue
		}
		updates = append(updates, fmt.Sprintf(`"%s" = excluded."%s"`, c, c))
	}

	stmt := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
		table, strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	switch {
	case !hasID:
		return stmt
	case len(updates) == 0:
		return stmt + ` ON CONFLICT("id") DO NOTHING`
	default:
		return stmt + ` ON CONFLICT("id") DO UPDATE SET ` + strings.Join(updates, ", ")
	}
}

// Export pulls every table into an archive at path without touching the
// embedded store. A table whose fetch fails is archived with the rows read
// before the failure.
func (e *Engine) Export(ctx context.Context, path string) (*Archive, error) {
	archive := &Archive{
		Timestamp: time.Now().UTC(),
		Tables:    make(map[string][]map[string]any, len(order)),
	}

	for _, table := range order {
		rows := make([]map[string]any, 0)
		_, fetchErr, err := e.pages(ctx, table, func(page []map[string]any) error {
			rows = append(rows, page...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("export interrupted at %s: %w", table, err)
		}
		if fetchErr != nil {
			e.logger.Errorw("Failed to export table", "table", table, "error", fetchErr)
		}
		archive.Tables[string(table)] = rows
		e.logger.Infow("Table exported", "table", table, "rows", len(rows))
	}

	if err := WriteArchive(path, archive); err != nil {
		return nil, err
	}
	e.logger.Infow("Backup saved", "path", path)
	return archive, nil
}
