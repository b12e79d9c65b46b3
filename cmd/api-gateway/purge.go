package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/clinical-iam/pkg/config"
	"github.com/noah-isme/clinical-iam/pkg/logger"
)

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete expired user and admin refresh tokens once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			a, err := newApp(cfg, logr)
			if err != nil {
				return err
			}
			defer a.close()

			users, admins, err := a.maintenance.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d user and %d admin refresh tokens\n", users, admins)
			return nil
		},
	}
}
