package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"auditdesk/storage"
)

// newInitCmd creates the 'init' command
func (c *cli) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or open the local database and apply the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			tables, err := storage.ListTables(ctx, store.DB)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if c.quiet {
				fmt.Fprintln(w, store.Path)
				return nil
			}

			successColor.Fprintf(w, "✓ Database ready: %s", store.Path)
			if size := fileSize(store.Path); size != "" {
				fmt.Fprintf(w, " (%s)", size)
			}
			fmt.Fprintln(w)
			infoColor.Fprintf(w, "%s tables\n", humanize.Comma(int64(len(tables))))
			for _, name := range tables {
				marker := " "
				if !storage.Table(name).Valid() {
					marker = warningColor.Sprint("?")
				}
				fmt.Fprintf(w, "  %s %s\n", marker, name)
			}
			return nil
		},
	}
}
