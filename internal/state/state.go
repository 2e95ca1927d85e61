// Package state persists runtime channel positions across restarts. The
// database owns configuration; this file owns only what the scheduler
// learned at runtime (playlist cursors, schedule anchors, and which
// channels were streaming) so a restarted server can resume where the
// clock says it should be.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Version is the current snapshot format version.
const Version = 1

// ChannelState is one channel's persisted runtime position.
type ChannelState struct {
	ChannelID          string    `json:"channel_id"`
	Slug               string    `json:"slug"`
	CurrentIndex       int       `json:"current_index"`
	ScheduleAnchorTime time.Time `json:"schedule_anchor_time"`
	WasStreaming       bool      `json:"was_streaming"`
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Version   int            `json:"version"`
	LastSaved time.Time      `json:"last_saved"`
	Channels  []ChannelState `json:"channels"`
}

// Store reads and writes snapshots at a fixed path.
type Store struct {
	path       string
	backupPath string
	logger     *slog.Logger
}

// NewStore creates a Store persisting to path, with backups beside it.
func NewStore(path, backupPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, backupPath: backupPath, logger: logger}
}

// Save writes the snapshot atomically: the current file is copied to the
// backup path first, then the new snapshot is written to a temp file and
// renamed into place. A crash at any point leaves a readable file behind.
func (s *Store) Save(snapshot Snapshot) error {
	snapshot.Version = Version
	snapshot.LastSaved = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	if err := copyFile(s.path, s.backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("state backup failed", slog.String("error", err.Error()))
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing state file: %w", err)
	}

	s.logger.Debug("state saved", slog.Int("channels", len(snapshot.Channels)))
	return nil
}

// Load reads the snapshot, falling back to the backup when the primary is
// missing or corrupt. A missing state file is not an error: first boot
// returns an empty snapshot.
func (s *Store) Load() (Snapshot, error) {
	snapshot, err := readSnapshot(s.path)
	if err == nil {
		return snapshot, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{Version: Version}, nil
	}

	s.logger.Warn("state file unreadable, trying backup", slog.String("error", err.Error()))
	snapshot, backupErr := readSnapshot(s.backupPath)
	if backupErr == nil {
		return snapshot, nil
	}
	if errors.Is(backupErr, os.ErrNotExist) {
		return Snapshot{Version: Version}, nil
	}
	return Snapshot{}, fmt.Errorf("state file and backup both unreadable: %w", err)
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return snapshot, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
