package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/server"
	"github.com/retrovue/retrovue/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the retrovue server",
	Long: `Start the retrovue HTTP server.

The server provides:
- HLS playback endpoints per channel (/{slug}/master.m3u8)
- An XMLTV guide at /epg.xml
- A management API under /api/v1 with OpenAPI docs at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("data-dir", "data", "Base directory for stream output and state")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cfg, cmd.Flags()); err != nil {
		return err
	}

	logger := slog.Default()

	srv, err := server.New(cfg, version.Version, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting retrovue",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
	)
	return srv.Run(ctx)
}

// applyServeFlags layers explicitly-set serve flags over the loaded
// configuration. config.Load reads its own viper instance, so flags are
// applied here to keep flag > env > file > default precedence.
func applyServeFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}
