package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wndlink/wndlink/pkg/config"
	"github.com/wndlink/wndlink/pkg/logger"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded by the root pre-run hook.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wndlink",
	Short: "App/companion messaging with reliable log shipping",
	Long: `wndlink links an app context with a companion window over an
acknowledged message queue, and ships accumulated logs to a remote
record store through the companion.

Commands:
  wndlink serve                 - App context, gateway API and companion
  wndlink companion --url <ws>  - Companion worker for remote mode
  wndlink logs list|add|rm      - Inspect or edit stored logs offline
  wndlink console               - Interactive shell on a live app context
  wndlink version               - Print version information

Configuration is read from wndlink.yaml (or --config), then WNDLINK_*
environment variables. A .env file in the working directory is loaded
first.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to wndlink.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(companionCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	// .env is optional.
	_ = godotenv.Load()

	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := c.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)

	if c.Log.File != "" {
		if err := logger.EnableFileLogging(c.Log.File); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
	}
	cfg = c
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// No config needed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wndlink %s (commit %s, built %s)\n", version, commit, date)
	},
}
