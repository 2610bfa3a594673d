package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"erp_sync/internal/domain"
	"erp_sync/internal/storage/postgres"
)

type connectionOptions struct {
	tenant   string
	realm    string
	token    string
	inactive bool
}

func newConnectionCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage tenant connections to the accounting system",
	}

	opts := &connectionOptions{}
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or replace the connection of a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			db, err := sqlx.Connect("postgres", cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			conn := &domain.Connection{
				TenantID:    opts.tenant,
				RealmID:     opts.realm,
				AccessToken: opts.token,
				Active:      !opts.inactive,
			}
			if err := postgres.NewConnectionStore(db).Save(cmd.Context(), conn); err != nil {
				return err
			}
			logger.Info("connection saved", "tenant", conn.TenantID, "realm", conn.RealmID, "active", conn.Active)
			return nil
		},
	}
	set.Flags().StringVar(&opts.tenant, "tenant", "", "tenant id (required)")
	set.Flags().StringVar(&opts.realm, "realm", "", "accounting realm id (required)")
	set.Flags().StringVar(&opts.token, "token", "", "access token (required)")
	set.Flags().BoolVar(&opts.inactive, "inactive", false, "store the connection as inactive")
	for _, name := range []string{"tenant", "realm", "token"} {
		_ = set.MarkFlagRequired(name)
	}

	cmd.AddCommand(set)
	return cmd
}
