package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/ffmpeg"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	// failPaths holds base names whose probe should fail.
	failPaths map[string]bool
	probed    []string
}

func (p *fakeProber) ProbeMedia(_ context.Context, path string) (*ffmpeg.MediaInfo, error) {
	p.probed = append(p.probed, path)
	if p.failPaths[filepath.Base(path)] {
		return nil, errors.New("moov atom not found")
	}
	return &ffmpeg.MediaInfo{
		DurationSeconds: 1320,
		SizeBytes:       64 << 20,
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		Width:           1280,
		Height:          720,
		FPS:             29.97,
		Bitrate:         2_500_000,
	}, nil
}

type fakeFolderRepo struct {
	folders []*models.LibraryFolder

	scannedID    models.ULID
	scannedAt    time.Time
	scannedCount int
}

func (r *fakeFolderRepo) Create(context.Context, *models.LibraryFolder) error { return nil }
func (r *fakeFolderRepo) GetByID(context.Context, models.ULID) (*models.LibraryFolder, error) {
	return nil, nil
}
func (r *fakeFolderRepo) GetByPath(context.Context, string) (*models.LibraryFolder, error) {
	return nil, nil
}
func (r *fakeFolderRepo) GetAll(context.Context) ([]*models.LibraryFolder, error) {
	return r.folders, nil
}
func (r *fakeFolderRepo) GetEnabled(context.Context) ([]*models.LibraryFolder, error) {
	return r.folders, nil
}
func (r *fakeFolderRepo) Update(context.Context, *models.LibraryFolder) error { return nil }
func (r *fakeFolderRepo) Delete(context.Context, models.ULID) error           { return nil }
func (r *fakeFolderRepo) UpdateScanResult(_ context.Context, id models.ULID, at time.Time, count int) error {
	r.scannedID = id
	r.scannedAt = at
	r.scannedCount = count
	return nil
}

type fakeMediaRepo struct {
	items map[string]*models.MediaItem

	deleteFolder models.ULID
	deleteKeep   []string
	removed      int64
}

func newFakeMediaRepo() *fakeMediaRepo {
	return &fakeMediaRepo{items: make(map[string]*models.MediaItem)}
}

func (r *fakeMediaRepo) Create(_ context.Context, item *models.MediaItem) error {
	r.items[item.FilePath] = item
	return nil
}
func (r *fakeMediaRepo) Upsert(_ context.Context, item *models.MediaItem) error {
	r.items[item.FilePath] = item
	return nil
}
func (r *fakeMediaRepo) GetByID(context.Context, models.ULID) (*models.MediaItem, error) {
	return nil, models.ErrMediaNotFound
}
func (r *fakeMediaRepo) GetByPath(_ context.Context, path string) (*models.MediaItem, error) {
	if item, ok := r.items[path]; ok {
		return item, nil
	}
	return nil, models.ErrMediaNotFound
}
func (r *fakeMediaRepo) GetAll(context.Context) ([]*models.MediaItem, error) { return nil, nil }
func (r *fakeMediaRepo) Delete(context.Context, models.ULID) error           { return nil }
func (r *fakeMediaRepo) DeleteMissing(_ context.Context, folderID models.ULID, keep []string) (int64, error) {
	r.deleteFolder = folderID
	r.deleteKeep = keep
	return r.removed, nil
}
func (r *fakeMediaRepo) Count(context.Context) (int64, error) {
	return int64(len(r.items)), nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func newScanner(t *testing.T, folders *fakeFolderRepo, media *fakeMediaRepo, prober *fakeProber, storage config.StorageConfig) *Scanner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(folders, media, prober, storage, logger)
}

func TestScan_IngestsVideoFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"Space Detectives - S01E01 - Pilot.mkv",
		"movies/Big Buck Bunny.mp4",
		"notes.txt",
		".thumbnails/cached.mp4",
	)

	folder := &models.LibraryFolder{Path: dir}
	folder.ID = models.NewULID()
	folders := &fakeFolderRepo{folders: []*models.LibraryFolder{folder}}
	media := newFakeMediaRepo()
	media.removed = 2
	prober := &fakeProber{}

	s := newScanner(t, folders, media, prober, config.StorageConfig{})

	result, err := s.Scan(context.Background(), folder)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, int64(2), result.Removed)
	assert.Len(t, media.items, 2)

	episode := media.items[filepath.Join(dir, "Space Detectives - S01E01 - Pilot.mkv")]
	require.NotNil(t, episode)
	assert.Equal(t, "Space Detectives", episode.ShowName)
	assert.Equal(t, 1, episode.Season)
	assert.Equal(t, 1, episode.Episode)
	assert.Equal(t, "Pilot", episode.EpisodeTitle)
	assert.Equal(t, float64(1320), episode.DurationSeconds)
	assert.Equal(t, "h264", episode.VideoCodec)
	assert.Equal(t, folder.ID, episode.LibraryFolderID)

	// The sweep keeps exactly the files seen this pass.
	assert.Equal(t, folder.ID, media.deleteFolder)
	assert.Len(t, media.deleteKeep, 2)

	assert.Equal(t, folder.ID, folders.scannedID)
	assert.Equal(t, 2, folders.scannedCount)
	assert.False(t, folders.scannedAt.IsZero())
}

func TestScan_SkipsUnprobeableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "good.mp4", "corrupt.mp4")

	folder := &models.LibraryFolder{Path: dir}
	folder.ID = models.NewULID()
	folders := &fakeFolderRepo{folders: []*models.LibraryFolder{folder}}
	media := newFakeMediaRepo()
	prober := &fakeProber{failPaths: map[string]bool{"corrupt.mp4": true}}

	s := newScanner(t, folders, media, prober, config.StorageConfig{})

	result, err := s.Scan(context.Background(), folder)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, media.items, 1)
	// Unprobeable files are not kept, so a stale row for them gets swept.
	assert.Equal(t, []string{filepath.Join(dir, "good.mp4")}, media.deleteKeep)
}

func TestScan_RejectsFolderOutsideAllowedPaths(t *testing.T) {
	dir := t.TempDir()
	folder := &models.LibraryFolder{Path: dir}
	folder.ID = models.NewULID()

	storage := config.StorageConfig{AllowedLibraryPaths: []string{"/srv/media"}}
	s := newScanner(t, &fakeFolderRepo{}, newFakeMediaRepo(), &fakeProber{}, storage)

	_, err := s.Scan(context.Background(), folder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the allowed paths")
}

func TestScanAll_ContinuesPastFailingFolder(t *testing.T) {
	good := t.TempDir()
	writeFiles(t, good, "ok.mp4")

	badFolder := &models.LibraryFolder{Path: t.TempDir()}
	badFolder.ID = models.NewULID()
	goodFolder := &models.LibraryFolder{Path: good}
	goodFolder.ID = models.NewULID()

	folders := &fakeFolderRepo{folders: []*models.LibraryFolder{badFolder, goodFolder}}
	media := newFakeMediaRepo()

	// The allowlist covers only the good folder, so the other scan fails.
	storage := config.StorageConfig{AllowedLibraryPaths: []string{good}}
	s := newScanner(t, folders, media, &fakeProber{}, storage)

	results, err := s.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, goodFolder.ID, results[0].FolderID)
	assert.Equal(t, 1, results[0].Upserted)
}

func TestScan_CancelledContextStopsWalk(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.mp4", "b.mp4")

	folder := &models.LibraryFolder{Path: dir}
	folder.ID = models.NewULID()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newScanner(t, &fakeFolderRepo{}, newFakeMediaRepo(), &fakeProber{}, config.StorageConfig{})
	_, err := s.Scan(ctx, folder)
	require.ErrorIs(t, err, context.Canceled)
}
