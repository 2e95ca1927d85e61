// Package hls serves channel playlists and segments. The transcoder owns the
// playlist file on disk; this package never writes it. What it adds happens
// at read time: EXT-X-DISCONTINUITY tags injected into the served text at
// item transitions, and a placeholder playlist while a channel is still
// starting up.
package hls

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/retrovue/retrovue/internal/models"
)

var segmentURIRe = regexp.MustCompile(`^stream_(\d+)\.ts$`)

// Service assembles playlists for viewers.
type Service struct {
	logger *slog.Logger

	mu      sync.Mutex
	markers map[models.ULID]map[int64]bool
}

// NewService creates a playlist service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		markers: make(map[models.ULID]map[int64]bool),
	}
}

// RecordTransition marks segment as the first segment of a new item for the
// channel. The served playlist will carry a discontinuity tag before it.
func (s *Service) RecordTransition(channelID models.ULID, segment int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markers[channelID] == nil {
		s.markers[channelID] = make(map[int64]bool)
	}
	s.markers[channelID][segment] = true
}

// ClearTransition removes a pending marker.
func (s *Service) ClearTransition(channelID models.ULID, segment int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers[channelID], segment)
}

// ClearChannel drops all markers for a channel. Called when a channel stops.
func (s *Service) ClearChannel(channelID models.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, channelID)
}

// GetPlaylist returns the playlist text to serve for a channel. When the
// on-disk playlist is missing or not yet valid, a header-only placeholder is
// returned so players keep polling instead of erroring out.
func (s *Service) GetPlaylist(channelID models.ULID, outputDir string, segmentDuration int) (string, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, "stream.m3u8"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return placeholderPlaylist(segmentDuration), nil
		}
		return "", fmt.Errorf("reading playlist: %w", err)
	}

	if _, err := playlist.Unmarshal(data); err != nil {
		// Mid-write or truncated; treat like not ready.
		return placeholderPlaylist(segmentDuration), nil
	}

	return s.injectDiscontinuities(channelID, string(data)), nil
}

// injectDiscontinuities inserts EXT-X-DISCONTINUITY before the EXTINF of
// each marked segment. Markers that were served are dropped; markers for
// segments that already aged out of the window are dropped too.
func (s *Service) injectDiscontinuities(channelID models.ULID, text string) string {
	s.mu.Lock()
	pending := s.markers[channelID]
	if len(pending) == 0 {
		s.mu.Unlock()
		return text
	}
	marked := make(map[int64]bool, len(pending))
	for seg := range pending {
		marked[seg] = true
	}
	s.mu.Unlock()

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+len(marked))
	served := make(map[int64]bool)
	lowest := int64(-1)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := segmentURIRe.FindStringSubmatch(trimmed); m != nil {
			num, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil {
				if lowest == -1 || num < lowest {
					lowest = num
				}
				if marked[num] {
					if !hasDiscontinuityBeforeExtinf(out) {
						out = insertBeforeExtinf(out, "#EXT-X-DISCONTINUITY")
					}
					served[num] = true
				}
			}
		}
		out = append(out, line)
	}

	// Marker lifecycle: served markers are done; markers below the window
	// floor will never be served. Markers for segments not yet in the
	// playlist stay pending.
	s.mu.Lock()
	for seg := range pending {
		if served[seg] || (lowest != -1 && seg < lowest) {
			delete(pending, seg)
		}
	}
	if len(pending) == 0 {
		delete(s.markers, channelID)
	}
	s.mu.Unlock()

	return strings.Join(out, "\n")
}

// insertBeforeExtinf inserts tag before the trailing EXTINF line in lines.
// The EXTINF directly precedes its URI, possibly with other tags between.
func insertBeforeExtinf(lines []string, tag string) []string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#EXTINF") {
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i]...)
			out = append(out, tag)
			out = append(out, lines[i:]...)
			return out
		}
	}
	return append(lines, tag)
}

// hasDiscontinuityBeforeExtinf reports whether the pending segment's EXTINF
// already has a discontinuity tag, so re-serving never duplicates it.
func hasDiscontinuityBeforeExtinf(lines []string) bool {
	seenExtinf := false
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if !seenExtinf {
			if strings.HasPrefix(trimmed, "#EXTINF") {
				seenExtinf = true
			}
			continue
		}
		if trimmed == "#EXT-X-DISCONTINUITY" {
			return true
		}
		// A URI line means we crossed into the previous segment's entry.
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return false
		}
	}
	return false
}

// placeholderPlaylist is a header-only live playlist: valid, empty, and
// marked EVENT so players treat it as a stream that has not produced
// segments yet.
func placeholderPlaylist(segmentDuration int) string {
	if segmentDuration <= 0 {
		segmentDuration = 4
	}
	return fmt.Sprintf(
		"#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:EVENT\n",
		segmentDuration,
	)
}

// ServeSegment streams a segment file to the client, 404 on missing.
func (s *Service) ServeSegment(w http.ResponseWriter, r *http.Request, outputDir, name string) {
	if !segmentURIRe.MatchString(name) {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filepath.Join(outputDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("opening segment", slog.String("segment", name), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := io.Copy(w, f); err != nil {
		// Client went away mid-segment; routine for HLS.
		s.logger.Debug("segment copy interrupted", slog.String("segment", name))
	}
}
