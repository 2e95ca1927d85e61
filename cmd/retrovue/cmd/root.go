// Package cmd implements the CLI commands for retrovue.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/observability"
	"github.com/retrovue/retrovue/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrConfig marks errors caused by invalid configuration, so main can exit
// with a distinct code.
var ErrConfig = errors.New("configuration error")

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "retrovue",
	Short:   "24/7 linear streaming channel server",
	Version: version.Short(),
	Long: `retrovue turns a media library into always-on linear channels: it
schedules programming blocks, transcodes them into continuous HLS
streams, and publishes an XMLTV guide that matches what is on air.

Channels start transcoding when the first viewer tunes in and stop when
the last one leaves, while the schedule position keeps advancing with
the clock.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags are deliberately not bound to viper: a bound flag's
	// default would shadow env and config file values. Changed() is checked
	// instead, preserving flag > env > config > default precedence.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/retrovue)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads the config file and environment variables.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/retrovue")
		viper.SetConfigType("yaml")
		viper.SetConfigName("retrovue")
	}

	viper.SetEnvPrefix("RETROVUE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger from config, with CLI
// flags overriding when explicitly set.
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg := config.LoggingConfig{
		Level:     strings.ToLower(level),
		Format:    strings.ToLower(format),
		AddSource: viper.GetBool("logging.add_source"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// loadConfig loads and validates the full configuration, tagging failures
// as configuration errors.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}
