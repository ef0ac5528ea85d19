package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/streamline/pkg/config"
	"github.com/killallgit/streamline/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "streamline",
	Short: "Token-by-token chat streaming over server-sent events",
	Long: `streamline relays chat completions from an LLM provider to clients as a
stream of server-sent events, and ships a terminal client that renders them
as they arrive.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.streamline/settings.yaml, then $XDG_CONFIG_HOME/streamline/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")
	viper.BindPFlag("logging.log_file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if used := config.GetConfigFileUsed(); used != "" {
		logger.Debug("Using config file: %s", used)
	}
	return nil
}
