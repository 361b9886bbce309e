package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sita/internal/config"
	"sita/internal/repository"
	"sita/pkg/db"
	"sita/pkg/logger"
)

var skipSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres schema and seed the agent catalog",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&skipSeed, "skip-seed", false, "Only create the schema")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return errors.New("migrate requires store=postgres")
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	ctx := cmd.Context()
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool, log); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if skipSeed {
		return nil
	}

	agents := repository.NewAgentRepository(pool, log)
	for i := range defaultAgents {
		a := defaultAgents[i]
		if err := agents.UpsertAgent(ctx, &a); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.Name, err)
		}
		log.Info("Seeded agent", zap.String("name", a.Name), zap.String("id", a.ID))
	}
	return nil
}
