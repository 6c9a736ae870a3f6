package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/db"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := db.MigrateUp(cfg.Postgres.MigrateURL()); err != nil {
				return err
			}
			log.Info().Msg("Migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := db.MigrateDown(cfg.Postgres.MigrateURL(), steps); err != nil {
				return err
			}
			log.Info().Int("steps", steps).Msg("Migrations rolled back")
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}
