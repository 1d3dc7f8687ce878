package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kanalbot/kanal/internal/config"
	"github.com/kanalbot/kanal/internal/db"
	"github.com/kanalbot/kanal/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "kanal",
	Short: "Multi-channel message relay between messaging platforms and a chatbot backend",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level, cfg.Log.Format)
		if err := db.Migrate(cfg.Postgres); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.L.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
