package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/epg"
	"github.com/retrovue/retrovue/internal/hls"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/sessions"
)

// PlaybackHandler serves the viewer-facing stream endpoints. Every playlist
// and segment request also feeds the session tracker, which is what keeps a
// watched channel's transcoder alive.
type PlaybackHandler struct {
	channels  repository.ChannelRepository
	playlists *hls.Service
	tracker   *sessions.Tracker
	guide     *epg.Projector
	storage   config.StorageConfig
	streaming config.StreamingConfig
	logger    *slog.Logger
}

// NewPlaybackHandler creates a playback handler.
func NewPlaybackHandler(
	channels repository.ChannelRepository,
	playlists *hls.Service,
	tracker *sessions.Tracker,
	guide *epg.Projector,
	storage config.StorageConfig,
	streaming config.StreamingConfig,
	logger *slog.Logger,
) *PlaybackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackHandler{
		channels:  channels,
		playlists: playlists,
		tracker:   tracker,
		guide:     guide,
		storage:   storage,
		streaming: streaming,
		logger:    logger,
	}
}

// Routes registers the playback endpoints. The slug wildcard is registered
// last so static routes like /epg.xml win.
func (h *PlaybackHandler) Routes(r chi.Router) {
	r.Get("/epg.xml", h.ServeGuide)
	r.Route("/{slug}", func(r chi.Router) {
		r.Get("/master.m3u8", h.ServeMaster)
		r.Get("/stream.m3u8", h.ServePlaylist)
		r.Get("/init.mp4", h.ServeInit)
		r.Get("/{segment}", h.ServeSegment)
	})
}

// lookup resolves a slug to an enabled channel, writing the error response
// itself when the channel is unknown or disabled.
func (h *PlaybackHandler) lookup(w http.ResponseWriter, r *http.Request) *models.Channel {
	slug := chi.URLParam(r, "slug")
	channel, err := h.channels.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, models.ErrChannelNotFound) {
			http.NotFound(w, r)
			return nil
		}
		h.logger.Error("channel lookup failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	if !channel.IsEnabled() {
		http.NotFound(w, r)
		return nil
	}
	return channel
}

// ServeMaster returns the multivariant playlist. The channel has exactly one
// rendition, so this is a single EXT-X-STREAM-INF pointing at stream.m3u8.
func (h *PlaybackHandler) ServeMaster(w http.ResponseWriter, r *http.Request) {
	channel := h.lookup(w, r)
	if channel == nil {
		return
	}
	h.tracker.NoteRequest(channel.ID, sessions.RequestPlaylist)

	bandwidth := bitrateBits(channel.VideoBitrate) + bitrateBits(channel.AudioBitrate)

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,FRAME-RATE=%d\n",
		bandwidth, channel.Width, channel.Height, channel.FPS)
	b.WriteString("stream.m3u8\n")

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(b.String()))
}

// ServePlaylist returns the media playlist with read-time discontinuity
// markers injected. A channel that has not produced segments yet gets a
// valid placeholder so players keep polling.
func (h *PlaybackHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	channel := h.lookup(w, r)
	if channel == nil {
		return
	}
	h.tracker.NoteRequest(channel.ID, sessions.RequestPlaylist)

	segmentDuration := channel.SegmentDuration
	if segmentDuration <= 0 {
		segmentDuration = h.streaming.SegmentDuration
	}
	text, err := h.playlists.GetPlaylist(channel.ID, h.storage.ChannelOutputDir(channel.Slug), segmentDuration)
	if err != nil {
		h.logger.Error("serving playlist",
			slog.String("channel", channel.Slug),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(text))
}

// ServeSegment streams one transport-stream segment.
func (h *PlaybackHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	channel := h.lookup(w, r)
	if channel == nil {
		return
	}
	h.tracker.NoteRequest(channel.ID, sessions.RequestSegment)

	name := chi.URLParam(r, "segment")
	h.playlists.ServeSegment(w, r, h.storage.ChannelOutputDir(channel.Slug), name)
}

// ServeInit serves the init section when the transcoder produced one. The
// MPEG-TS output path has none, so missing is the normal case.
func (h *PlaybackHandler) ServeInit(w http.ResponseWriter, r *http.Request) {
	channel := h.lookup(w, r)
	if channel == nil {
		return
	}

	path := filepath.Join(h.storage.ChannelOutputDir(channel.Slug), "init.mp4")
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

// ServeGuide streams the XMLTV guide for every enabled channel.
func (h *PlaybackHandler) ServeGuide(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := h.guide.WriteXMLTV(r.Context(), w); err != nil {
		h.logger.Error("writing xmltv guide", slog.String("error", err.Error()))
		// Headers are out by now; the client sees a truncated document.
	}
}

// bitrateBits parses an FFmpeg-style bitrate such as "2500k" or "4M" into
// bits per second. Unparseable values fall back to zero.
func bitrateBits(s string) int {
	if s == "" {
		return 0
	}
	mult := 1
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1000000
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * mult
}
