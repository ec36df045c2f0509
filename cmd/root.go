// Package cmd provides the auditdesk command-line interface.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auditdesk/config"
	"auditdesk/storage"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const defaultTimeout = 5 * time.Minute

// cli holds state shared by all subcommands, populated in PersistentPreRunE.
type cli struct {
	debug   bool
	noColor bool
	quiet   bool
	dbPath  string

	cfg    *config.Config
	logger *zap.SugaredLogger
}

// NewRootCmd creates the auditdesk command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "auditdesk",
		Short: "Local data store, access control and migration for auditdesk",
		Long: `auditdesk manages the embedded SQLite store of the audit practice
application: schema bootstrap, account setup, migration from the hosted
Postgres backend and the local HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.noColor {
				color.NoColor = true
			}
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "Enable development logging")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "Suppress non-essential output")

	root.AddCommand(c.newInitCmd())
	root.AddCommand(c.newMigrateCmd())
	root.AddCommand(c.newUserCmd())
	root.AddCommand(c.newServeCmd())

	return root
}

func (c *cli) setup() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.dbPath != "" {
		derived := cfg.Migration.ReportDir == filepath.Dir(cfg.DataPaths.SQLitePath)
		cfg.DataPaths.SQLitePath = c.dbPath
		if derived {
			cfg.Migration.ReportDir = ""
		}
		cfg.ResolveDataPaths()
	}
	c.cfg = cfg

	var zl *zap.Logger
	if c.debug || cfg.Logging.Development {
		zl, err = zap.NewDevelopment()
	} else {
		zc := zap.NewProductionConfig()
		if lvl, lerr := zap.ParseAtomicLevel(cfg.Logging.Level); lerr == nil {
			zc.Level = lvl
		}
		zl, err = zc.Build()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = zl.Sugar()
	return nil
}

// openStore opens the configured database, bootstrapping it when new.
func (c *cli) openStore(ctx context.Context) (*storage.SQLite, error) {
	store, err := storage.NewSQLite(ctx, c.cfg.DataPaths.SQLitePath, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}
