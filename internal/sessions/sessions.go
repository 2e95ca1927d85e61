// Package sessions tracks viewer presence per channel. Presence is
// boolean: a channel has viewers, or it does not. Any playback request
// refreshes the channel's last-seen time; a channel with no requests for
// the grace period goes inactive, which is what lets the scheduler pause
// transcoding nobody is watching.
package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/retrovue/retrovue/internal/models"
)

// RequestKind describes which playback asset was requested.
type RequestKind string

// Request kinds.
const (
	RequestPlaylist RequestKind = "playlist"
	RequestSegment  RequestKind = "segment"
)

// Event reports a channel's presence flipping.
type Event struct {
	ChannelID models.ULID
	// Active is true when the first viewer arrived, false when the last
	// viewer's grace period expired.
	Active bool
}

// Tracker watches per-channel viewer presence.
type Tracker struct {
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeen map[models.ULID]time.Time
	active   map[models.ULID]bool

	events chan Event
}

// NewTracker creates a tracker with the given grace period.
func NewTracker(grace time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		grace:    grace,
		logger:   logger,
		now:      time.Now,
		lastSeen: make(map[models.ULID]time.Time),
		active:   make(map[models.ULID]bool),
		events:   make(chan Event, 64),
	}
}

// Events delivers presence transitions. The channel is buffered; if a
// consumer stalls, events are dropped rather than blocking request handling.
func (t *Tracker) Events() <-chan Event {
	return t.events
}

// NoteRequest records a playback request for a channel. The first request
// for an inactive channel emits an activation event immediately.
func (t *Tracker) NoteRequest(channelID models.ULID, kind RequestKind) {
	t.mu.Lock()
	t.lastSeen[channelID] = t.now()
	wasActive := t.active[channelID]
	if !wasActive {
		t.active[channelID] = true
	}
	t.mu.Unlock()

	if !wasActive {
		t.logger.Info("viewer arrived",
			slog.String("channel_id", channelID.String()),
			slog.String("kind", string(kind)),
		)
		t.emit(Event{ChannelID: channelID, Active: true})
	}
}

// IsActive reports whether a channel currently has viewers.
func (t *Tracker) IsActive(channelID models.ULID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[channelID]
}

// LastSeen returns the time of the channel's most recent request.
func (t *Tracker) LastSeen(channelID models.ULID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSeen[channelID]
	return ts, ok
}

// Run sweeps for expired channels once a second until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep expires channels whose grace period has lapsed.
func (t *Tracker) sweep() {
	now := t.now()

	t.mu.Lock()
	var expired []models.ULID
	for id, active := range t.active {
		if !active {
			continue
		}
		if now.Sub(t.lastSeen[id]) >= t.grace {
			t.active[id] = false
			delete(t.lastSeen, id)
			expired = append(expired, id)
		}
	}
	t.mu.Unlock()

	for _, id := range expired {
		t.logger.Info("last viewer gone", slog.String("channel_id", id.String()))
		t.emit(Event{ChannelID: id, Active: false})
	}
}

func (t *Tracker) emit(event Event) {
	select {
	case t.events <- event:
	default:
		t.logger.Warn("session event dropped",
			slog.String("channel_id", event.ChannelID.String()),
			slog.Bool("active", event.Active),
		)
	}
}
