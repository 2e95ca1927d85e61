// Package scanner walks library folders, probes media files, and keeps the
// media_files table in sync with what is actually on disk.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/ffmpeg"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/repository"
)

// videoExtensions are the container types the scanner considers playable.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".m4v":  true,
	".ts":   true,
	".webm": true,
	".mpg":  true,
	".mpeg": true,
	".wmv":  true,
	".flv":  true,
}

// MediaProber abstracts ffprobe for tests.
type MediaProber interface {
	ProbeMedia(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// Result summarises one folder scan.
type Result struct {
	FolderID models.ULID
	Scanned  int
	Upserted int
	Skipped  int
	Removed  int64
	Took     time.Duration
}

// Scanner ingests library folders into the media repository.
type Scanner struct {
	folders repository.LibraryFolderRepository
	media   repository.MediaRepository
	prober  MediaProber
	storage config.StorageConfig
	logger  *slog.Logger

	now func() time.Time
}

// New creates a Scanner.
func New(
	folders repository.LibraryFolderRepository,
	media repository.MediaRepository,
	prober MediaProber,
	storage config.StorageConfig,
	logger *slog.Logger,
) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		folders: folders,
		media:   media,
		prober:  prober,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// ScanAll scans every enabled library folder in sequence.
func (s *Scanner) ScanAll(ctx context.Context) ([]Result, error) {
	folders, err := s.folders.GetEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading library folders: %w", err)
	}

	results := make([]Result, 0, len(folders))
	for _, folder := range folders {
		result, err := s.Scan(ctx, folder)
		if err != nil {
			s.logger.Error("folder scan failed",
				slog.String("path", folder.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// Scan walks one folder, probing and upserting every video file, then
// sweeps database rows whose files are gone.
func (s *Scanner) Scan(ctx context.Context, folder *models.LibraryFolder) (Result, error) {
	start := s.now()

	if !s.storage.PathAllowed(folder.Path) {
		return Result{}, fmt.Errorf("library folder %s is outside the allowed paths", folder.Path)
	}

	result := Result{FolderID: folder.ID}
	var keep []string

	err := filepath.WalkDir(folder.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable entry",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			// Hidden directories hold artwork caches and trash.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		result.Scanned++
		item, err := s.ingest(ctx, folder, path)
		if err != nil {
			result.Skipped++
			s.logger.Warn("skipping unprobeable file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		keep = append(keep, item.FilePath)
		result.Upserted++
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("walking %s: %w", folder.Path, err)
	}

	removed, err := s.media.DeleteMissing(ctx, folder.ID, keep)
	if err != nil {
		return Result{}, fmt.Errorf("sweeping removed files: %w", err)
	}
	result.Removed = removed
	result.Took = s.now().Sub(start)

	if err := s.folders.UpdateScanResult(ctx, folder.ID, s.now(), len(keep)); err != nil {
		s.logger.Warn("recording scan result", slog.String("error", err.Error()))
	}

	s.logger.Info("folder scanned",
		slog.String("path", folder.Path),
		slog.Int("files", result.Upserted),
		slog.Int("skipped", result.Skipped),
		slog.Int64("removed", result.Removed),
		slog.Duration("took", result.Took),
	)
	return result, nil
}

// ingest probes one file and upserts its media row.
func (s *Scanner) ingest(ctx context.Context, folder *models.LibraryFolder, path string) (*models.MediaItem, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := s.prober.ProbeMedia(ctx, abs)
	if err != nil {
		return nil, err
	}

	item := &models.MediaItem{
		FilePath:        abs,
		DurationSeconds: info.DurationSeconds,
		SizeBytes:       info.SizeBytes,
		VideoCodec:      info.VideoCodec,
		AudioCodec:      info.AudioCodec,
		Width:           info.Width,
		Height:          info.Height,
		FPS:             info.FPS,
		Bitrate:         info.Bitrate,
		LibraryFolderID: folder.ID,
	}

	meta := ParseFilename(filepath.Base(abs))
	item.ShowName = meta.Show
	item.Season = meta.Season
	item.Episode = meta.Episode
	item.EpisodeTitle = meta.Title

	if err := s.media.Upsert(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
