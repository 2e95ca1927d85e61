package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/sessions"
	"github.com/retrovue/retrovue/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_SessionEventsRouteToScheduler(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 600))
	e := newEnv(t, links, nil)

	g := NewGroup(e.s.deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := g.Add(ctx, e.s.channel)
	s.now = e.s.now
	s.nextStartNumber = func(string) int64 { return 0 }
	s.lastSegment = func(string) (int64, bool) { return 0, false }
	defer g.Shutdown()

	events := make(chan sessions.Event, 2)
	go g.ConsumeSessionEvents(ctx, events)

	events <- sessions.Event{ChannelID: e.s.channel.ID, Active: true}
	require.Eventually(t, func() bool {
		return s.Status().State == models.ChannelStateStarting
	}, 2*time.Second, 10*time.Millisecond)

	events <- sessions.Event{ChannelID: e.s.channel.ID, Active: false}
	require.Eventually(t, func() bool {
		return s.Status().State == models.ChannelStateIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGroup_SnapshotAndRestore(t *testing.T) {
	links := fallbackLinks(mediaItem("alpha", 600))
	e := newEnv(t, links, nil)

	g := NewGroup(e.s.deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := g.Add(ctx, e.s.channel)
	defer g.Shutdown()

	s.RestoreIndex(4)
	snap := g.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, e.s.channel.ID.String(), snap[0].ChannelID)
	assert.Equal(t, 4, snap[0].CurrentIndex)
	assert.False(t, snap[0].WasStreaming)

	g.Restore(state.Snapshot{Channels: []state.ChannelState{
		{ChannelID: e.s.channel.ID.String(), CurrentIndex: 7},
	}})
	assert.Equal(t, 7, s.Status().CurrentIndex)
}
