package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/migrations"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			if err := migrations.Apply(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "migrations applied")
			return nil
		},
	}
}

func newUserAddCmd(a *app) *cobra.Command {
	var (
		email    string
		password string
		mfa      bool
	)
	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			e, err := a.openEngine(ctx, db)
			if err != nil {
				return err
			}
			u, err := e.CreateUser(ctx, identity.NewUser{
				Username:   args[0],
				Email:      email,
				Password:   password,
				MFAEnabled: mfa,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "created user %d (%s)\n", u.ID, u.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().BoolVar(&mfa, "mfa", false, "require a second factor at login")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired challenges, refresh tokens and trusted devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			e, err := a.openEngine(ctx, db)
			if err != nil {
				return err
			}
			res, err := e.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "purged %d challenges, %d refresh tokens, %d trusted devices\n",
				res.Challenges, res.RefreshTokens, res.TrustedDevices)
			return nil
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the security posture of the configured engine as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			e, err := a.openEngine(ctx, db)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(e.SecurityReport())
		},
	}
}
