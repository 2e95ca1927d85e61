package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/ffmpeg"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/scanner"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan library folders for media files",
	Long: `Walk every enabled library folder, probe media files with ffprobe,
and sync the media table with what is on disk. Files that disappeared
since the last scan are removed.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.Default()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	info, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffprobe: %w", err)
	}

	s := scanner.New(
		repository.NewLibraryFolderRepository(db.DB),
		repository.NewMediaRepository(db.DB),
		ffmpeg.NewProber(info.FFprobePath),
		cfg.Storage,
		logger,
	)

	results, err := s.ScanAll(ctx)
	if err != nil {
		return err
	}

	var files, skipped int
	var removed int64
	for _, r := range results {
		files += r.Upserted
		skipped += r.Skipped
		removed += r.Removed
	}
	fmt.Printf("Scanned %d folder(s): %d file(s) indexed, %d skipped, %d removed\n",
		len(results), files, skipped, removed)
	return nil
}
