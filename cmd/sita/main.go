package main

import (
	"os"

	"github.com/spf13/cobra"

	"sita/internal/config"
	pkgconfig "sita/pkg/config"
)

var (
	configEnv string
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "sita",
	Short: "Habit tracking and agent task orchestration backend",
	Long: `sita serves the habit tracker and the agent task orchestrator.

Commands:
  serve    Run the HTTP API
  worker   Execute queued agent tasks from RabbitMQ
  migrate  Create the Postgres schema and seed the agent catalog
  token    Issue a bearer token for a user id`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", pkgconfig.GetConfigEnv(), "Config environment (loads config/<env>.yaml over base.yaml)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory holding base.yaml, <env>.yaml and secrets.env")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configEnv, configDir)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
