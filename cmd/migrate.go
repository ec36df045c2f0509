package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"auditdesk/migrate"
)

// ErrNoSource is returned when no migration source is configured.
var ErrNoSource = errors.New("no migration source configured: set SUPABASE_DB_URL, or VITE_SUPABASE_URL and VITE_SUPABASE_ANON_KEY with --rest, or pass --archive")

type migrateOptions struct {
	batchSize  int
	sourceDSN  string
	archive    string
	rest       bool
	outputJSON bool
	outputYAML bool
	noProgress bool
}

// newMigrateCmd creates the 'migrate' command and its subcommands
func (c *cli) newMigrateCmd() *cobra.Command {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every table from the hosted backend into the local database",
		Long: `Copy every table from the hosted Postgres backend into the local SQLite
database, parents before children. Rows are upserted by id, so the command
can be re-run. A JSON report is written next to the database.

The source is, in order of precedence: --archive, --rest, --source,
SUPABASE_DB_URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigration(cmd, opts, nil)
		},
	}

	flags := cmd.PersistentFlags()
	flags.IntVar(&opts.batchSize, "batch-size", 0, "Rows per page (default from config)")
	flags.StringVar(&opts.sourceDSN, "source", "", "Postgres connection string (default SUPABASE_DB_URL)")
	flags.StringVar(&opts.archive, "archive", "", "Use an export archive as the source")
	flags.BoolVar(&opts.rest, "rest", false, "Read through the REST API instead of a database connection")
	flags.BoolVar(&opts.outputJSON, "json", false, "Print the report as JSON")
	flags.BoolVar(&opts.outputYAML, "yaml", false, "Print the report as YAML")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress spinner")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	cmd.MarkFlagsMutuallyExclusive("archive", "rest", "source")

	cmd.AddCommand(&cobra.Command{
		Use:   "tables <name>...",
		Short: "Migrate only the named tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMigration(cmd, opts, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <path>",
		Short: "Export every source table to a JSON archive without touching the local database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExport(cmd, opts, args[0])
		},
	})

	return cmd
}

// openSource picks the migration source from flags and configuration.
// The returned name is safe to print and record.
func (c *cli) openSource(ctx context.Context, opts *migrateOptions) (migrate.Source, string, error) {
	switch {
	case opts.archive != "":
		src, err := migrate.OpenArchiveSource(opts.archive)
		if err != nil {
			return nil, "", err
		}
		return src, opts.archive, nil

	case opts.rest:
		if !c.cfg.HasRESTCredentials() {
			return nil, "", errors.New("missing REST credentials: set VITE_SUPABASE_URL and VITE_SUPABASE_ANON_KEY")
		}
		src, err := migrate.NewRESTSource(c.cfg.Migration.SupabaseURL, c.cfg.Migration.SupabaseAnonKey, c.logger)
		if err != nil {
			return nil, "", err
		}
		return src, c.cfg.Migration.SupabaseURL, nil
	}

	dsn := opts.sourceDSN
	if dsn == "" {
		dsn = c.cfg.Migration.SourceDSN
	}
	if dsn == "" {
		return nil, "", ErrNoSource
	}
	src, err := migrate.NewPostgresSource(ctx, dsn)
	if err != nil {
		return nil, "", err
	}
	return src, redactDSN(dsn), nil
}

// redactDSN keeps only the host and database name of a connection string.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	return u.Scheme + "://" + u.Host + u.Path
}

func closeSource(src migrate.Source) {
	if cl, ok := src.(migrate.Closer); ok {
		_ = cl.Close()
	}
}

func (c *cli) migrateConfig(opts *migrateOptions, sourceName string) migrate.Config {
	batch := opts.batchSize
	if batch <= 0 {
		batch = c.cfg.Migration.BatchSize
	}
	return migrate.Config{
		BatchSize:  batch,
		RateLimit:  c.cfg.Migration.RateLimit,
		ReportDir:  c.cfg.Migration.ReportDir,
		SourceName: sourceName,
	}
}

func (c *cli) startSpinner(opts *migrateOptions, suffix string) *spinner.Spinner {
	if c.quiet || opts.noProgress || opts.outputJSON || opts.outputYAML {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = suffix
	s.Start()
	return s
}

func (c *cli) runMigration(cmd *cobra.Command, opts *migrateOptions, tables []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, sourceName, err := c.openSource(ctx, opts)
	if err != nil {
		return err
	}
	defer closeSource(src)

	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := migrate.NewEngine(store, src, c.migrateConfig(opts, sourceName), c.logger)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if !c.quiet && !opts.outputJSON && !opts.outputYAML {
		infoColor.Fprintf(w, "Migrating from %s into %s\n", sourceName, store.Path)
	}

	s := c.startSpinner(opts, " Migrating tables...")
	var report *migrate.Report
	if len(tables) > 0 {
		report, err = engine.RunTables(ctx, tables)
	} else {
		report, err = engine.Run(ctx)
	}
	if s != nil {
		s.Stop()
	}

	// A partial report is still worth printing when the run was interrupted.
	if report != nil {
		if perr := c.printReport(w, opts, report, store.Path); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (c *cli) printReport(w io.Writer, opts *migrateOptions, report *migrate.Report, dbPath string) error {
	switch {
	case opts.outputJSON:
		return outputAsJSON(w, report)
	case opts.outputYAML:
		return outputAsYAML(w, report)
	case c.quiet:
		return nil
	}
	renderReport(w, report)
	if size := fileSize(dbPath); size != "" {
		infoColor.Fprintf(w, "Database size: %s\n", size)
	}
	return nil
}

func (c *cli) runExport(cmd *cobra.Command, opts *migrateOptions, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, sourceName, err := c.openSource(ctx, opts)
	if err != nil {
		return err
	}
	defer closeSource(src)

	cfg := c.migrateConfig(opts, sourceName)
	cfg.ReportDir = ""
	engine, err := migrate.NewEngine(nil, src, cfg, c.logger)
	if err != nil {
		return err
	}

	s := c.startSpinner(opts, " Exporting tables...")
	archive, err := engine.Export(ctx, path)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	w := cmd.OutOrStdout()
	summary := exportSummary(archive, path)
	switch {
	case opts.outputJSON:
		return outputAsJSON(w, summary)
	case opts.outputYAML:
		return outputAsYAML(w, summary)
	case c.quiet:
		return nil
	}
	successColor.Fprintf(w, "✓ Exported %s rows from %d tables to %s (%s)\n",
		humanize.Comma(int64(summary.Rows)), len(summary.Tables), path, fileSize(path))
	return nil
}

type exportResult struct {
	Path   string         `json:"path" yaml:"path"`
	Rows   int            `json:"rows" yaml:"rows"`
	Tables map[string]int `json:"tables" yaml:"tables"`
}

func exportSummary(a *migrate.Archive, path string) exportResult {
	res := exportResult{Path: path, Tables: make(map[string]int, len(a.Tables))}
	for name, rows := range a.Tables {
		res.Tables[name] = len(rows)
		res.Rows += len(rows)
	}
	return res
}
