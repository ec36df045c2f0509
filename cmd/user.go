package cmd

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"auditdesk/storage"
)

// newUserCmd creates the 'user' command
func (c *cli) newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}
	cmd.AddCommand(c.newUserCreateCmd())
	return cmd
}

func (c *cli) newUserCreateCmd() *cobra.Command {
	var (
		email    string
		name     string
		password string
		roles    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account and grant roles",
		Long: `Create an account in the local database. Every account gets the staff
role; --role grants more (manager, partner, senior). The password is read
from stdin when --password is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			granted := make([]storage.Role, 0, len(roles))
			for _, r := range roles {
				role, err := storage.ParseRole(r)
				if err != nil {
					return err
				}
				granted = append(granted, role)
			}

			w := cmd.OutOrStdout()
			if password == "" {
				var err error
				password, err = promptString(w, bufio.NewReader(cmd.InOrStdin()), "Password", true)
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			session := storage.NewSession(store, c.cfg.AuthOptions(), c.logger)
			profile, err := session.Signup(ctx, email, password, name)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			for _, role := range granted {
				if err := store.AssignRole(ctx, profile.UserID, role); err != nil {
					return fmt.Errorf("failed to grant role %s: %w", role, err)
				}
			}

			assigned, err := store.UserRoles(ctx, profile.UserID)
			if err != nil {
				return err
			}
			if c.quiet {
				fmt.Fprintln(w, profile.ID)
				return nil
			}
			successColor.Fprintf(w, "✓ Created %s\n", profile.Email)
			fmt.Fprintf(w, "  Profile ID: %s\n", profile.ID)
			fmt.Fprintf(w, "  User ID:    %s\n", profile.UserID)
			fmt.Fprintf(w, "  Roles:      %v\n", assigned)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Additional role to grant (repeatable)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
