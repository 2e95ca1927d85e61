package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/sessions"
	"github.com/retrovue/retrovue/internal/state"
)

// Group owns one Scheduler per channel and fans session events out to
// them.
type Group struct {
	deps   Deps
	logger *slog.Logger

	mu         sync.RWMutex
	schedulers map[models.ULID]*Scheduler
}

// NewGroup creates an empty scheduler group.
func NewGroup(deps Deps) *Group {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{
		deps:       deps,
		logger:     logger,
		schedulers: make(map[models.ULID]*Scheduler),
	}
}

// Add creates and starts a scheduler for the channel. Adding an already
// managed channel returns the existing scheduler.
func (g *Group) Add(ctx context.Context, channel *models.Channel) *Scheduler {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.schedulers[channel.ID]; ok {
		return existing
	}
	s := New(channel, g.deps)
	g.schedulers[channel.ID] = s
	go s.Run(ctx)
	return s
}

// Get returns the scheduler for a channel, if managed.
func (g *Group) Get(channelID models.ULID) (*Scheduler, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.schedulers[channelID]
	return s, ok
}

// Remove shuts down and forgets a channel's scheduler.
func (g *Group) Remove(channelID models.ULID) {
	g.mu.Lock()
	s, ok := g.schedulers[channelID]
	if ok {
		delete(g.schedulers, channelID)
	}
	g.mu.Unlock()
	if ok {
		s.Shutdown()
	}
}

// All returns the managed schedulers.
func (g *Group) All() []*Scheduler {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Scheduler, 0, len(g.schedulers))
	for _, s := range g.schedulers {
		out = append(out, s)
	}
	return out
}

// ConsumeSessionEvents routes viewer activation events to schedulers until
// the context ends.
func (g *Group) ConsumeSessionEvents(ctx context.Context, events <-chan sessions.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s, found := g.Get(ev.ChannelID)
			if !found {
				g.logger.Debug("session event for unmanaged channel",
					slog.String("channel_id", ev.ChannelID.String()),
				)
				continue
			}
			if ev.Active {
				s.Activate()
			} else {
				s.Deactivate()
			}
		}
	}
}

// Snapshot collects every channel's persisted runtime state.
func (g *Group) Snapshot() []state.ChannelState {
	schedulers := g.All()
	out := make([]state.ChannelState, 0, len(schedulers))
	for _, s := range schedulers {
		snap := s.Snapshot()
		out = append(out, state.ChannelState{
			ChannelID:          s.channel.ID.String(),
			Slug:               s.channel.Slug,
			CurrentIndex:       snap.CurrentIndex,
			ScheduleAnchorTime: s.channel.Anchor().UTC(),
			WasStreaming:       snap.WasStreaming,
		})
	}
	return out
}

// Restore seeds managed schedulers from a loaded snapshot. Channels are
// matched by ID; restored channels are not auto-started.
func (g *Group) Restore(snapshot state.Snapshot) {
	for _, cs := range snapshot.Channels {
		id, err := models.ParseULID(cs.ChannelID)
		if err != nil {
			continue
		}
		if s, ok := g.Get(id); ok {
			s.RestoreIndex(cs.CurrentIndex)
		}
	}
}

// Shutdown stops every scheduler, in parallel, and waits.
func (g *Group) Shutdown() {
	var wg sync.WaitGroup
	for _, s := range g.All() {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Shutdown()
		}(s)
	}
	wg.Wait()
}
