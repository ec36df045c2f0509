package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"auditdesk/access"
	"auditdesk/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' command
func (c *cli) newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				c.cfg.API.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			coverage, err := access.ParseFilterCoverage(c.cfg.Access.FilterCoverage)
			if err != nil {
				return err
			}
			engine, err := access.New(store, access.Options{Coverage: coverage}, c.logger)
			if err != nil {
				return fmt.Errorf("failed to create access engine: %w", err)
			}

			server, err := api.NewAPI(store, engine, c.cfg, c.logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			if !c.quiet {
				infoColor.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", c.cfg.APIAddr())
			}

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			c.logger.Infow("Shutting down API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("failed to stop API: %w", err)
			}
			return <-errCh
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	return cmd
}
