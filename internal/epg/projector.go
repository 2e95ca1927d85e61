// Package epg projects channel schedules onto wall-clock time. The
// projector uses the same resolver and timeline math the scheduler uses,
// so the guide a viewer reads and the stream they watch always agree.
package epg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/resolver"
	"github.com/retrovue/retrovue/internal/timeline"
)

// maxPrograms is the hard ceiling per generation run. A playlist of
// one-second clips over a 48h horizon would otherwise produce unbounded
// output.
const maxPrograms = 10000

// emptySkip is how far generation jumps when nothing resolves and no
// future block start is known.
const emptySkip = time.Hour

// Program is one projected guide entry.
type Program struct {
	ChannelID   models.ULID
	MediaItemID string
	// Index is the playlist index the scheduler would be on while this
	// program airs.
	Index       int
	Start       time.Time
	Stop        time.Time
	Title       string
	SubTitle    string
	Description string
	EpisodeNum  string
}

// Contains reports whether t falls within [Start, Stop).
func (p Program) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.Stop)
}

// Position is the playback position implied by the currently airing
// program.
type Position struct {
	FileIndex    int
	SeekPosition time.Duration
}

type memEntry struct {
	programs    []Program
	generatedAt time.Time
}

// Projector generates and caches forward-looking program guides.
type Projector struct {
	channels repository.ChannelRepository
	resolve  *resolver.Resolver
	cache    repository.EPGRepository
	logger   *slog.Logger

	lookahead time.Duration
	memTTL    time.Duration
	dbTTL     time.Duration

	now func() time.Time

	mu  sync.Mutex
	mem map[models.ULID]*memEntry
}

// New creates a Projector.
func New(
	channels repository.ChannelRepository,
	res *resolver.Resolver,
	cache repository.EPGRepository,
	cfg config.EPGConfig,
	logger *slog.Logger,
) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		channels:  channels,
		resolve:   res,
		cache:     cache,
		logger:    logger,
		lookahead: time.Duration(cfg.LookaheadHours) * time.Hour,
		memTTL:    time.Duration(cfg.CacheMinutes) * time.Minute,
		dbTTL:     time.Duration(cfg.DatabaseCacheMinutes) * time.Minute,
		now:       time.Now,
		mem:       make(map[models.ULID]*memEntry),
	}
}

// Programs returns the channel's projected guide from local midnight to
// now + horizonHours. A zero horizonHours uses the configured lookahead.
// Results come from the in-memory cache, then the database cache, then a
// fresh projection.
func (p *Projector) Programs(ctx context.Context, channelID models.ULID, horizonHours int) ([]Program, error) {
	now := p.now()
	horizon := p.lookahead
	if horizonHours > 0 {
		horizon = time.Duration(horizonHours) * time.Hour
	}

	p.mu.Lock()
	if entry, ok := p.mem[channelID]; ok && now.Sub(entry.generatedAt) < p.memTTL {
		programs := entry.programs
		p.mu.Unlock()
		return clipToHorizon(programs, now.Add(horizon)), nil
	}
	p.mu.Unlock()

	windowStart := localMidnight(now)

	if cached, ok := p.loadFromDB(ctx, channelID, windowStart, now); ok {
		return clipToHorizon(cached, now.Add(horizon)), nil
	}

	channel, err := p.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading channel for EPG: %w", err)
	}

	programs, err := p.generate(ctx, channel, windowStart, now.Add(p.lookahead))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.mem[channelID] = &memEntry{programs: programs, generatedAt: now}
	p.mu.Unlock()

	p.storeToDB(ctx, channelID, programs, now)

	return clipToHorizon(programs, now.Add(horizon)), nil
}

// CurrentAndNext returns the program airing now and the one after it.
// Either may be nil: current when the channel is between blocks, next at
// the end of the projected window.
func (p *Projector) CurrentAndNext(ctx context.Context, channelID models.ULID) (*Program, *Program, error) {
	programs, err := p.Programs(ctx, channelID, 0)
	if err != nil {
		return nil, nil, err
	}

	now := p.now()
	var current, next *Program
	for i := range programs {
		if programs[i].Contains(now) {
			current = &programs[i]
			if i+1 < len(programs) {
				next = &programs[i+1]
			}
			break
		}
		if programs[i].Start.After(now) {
			next = &programs[i]
			break
		}
	}
	return current, next, nil
}

// PositionForCurrentProgram returns the playlist index and seek offset of
// the program airing now. ok is false when nothing is airing, in which
// case the caller falls back to raw timeline math.
func (p *Projector) PositionForCurrentProgram(ctx context.Context, channelID models.ULID) (Position, bool, error) {
	current, _, err := p.CurrentAndNext(ctx, channelID)
	if err != nil {
		return Position{}, false, err
	}
	if current == nil {
		return Position{}, false, nil
	}
	return Position{
		FileIndex:    current.Index,
		SeekPosition: p.now().Sub(current.Start),
	}, true, nil
}

// Invalidate drops both cache tiers for a channel. Admin mutations to
// schedules, buckets, or media call this so the next guide request
// re-projects.
func (p *Projector) Invalidate(ctx context.Context, channelID models.ULID) error {
	p.mu.Lock()
	delete(p.mem, channelID)
	p.mu.Unlock()

	if err := p.cache.ReplaceChannelEntries(ctx, channelID, nil); err != nil {
		return fmt.Errorf("clearing EPG cache: %w", err)
	}
	return nil
}

// InvalidateAll drops the in-memory tier for every channel.
func (p *Projector) InvalidateAll() {
	p.mu.Lock()
	p.mem = make(map[models.ULID]*memEntry)
	p.mu.Unlock()
}

// generate walks the window emitting one program per media item. Block
// boundaries are detected at program edges: when the resolved list
// changes, the position cursor resets to index zero.
func (p *Projector) generate(ctx context.Context, channel *models.Channel, windowStart, horizon time.Time) ([]Program, error) {
	anchor := channel.Anchor()

	var programs []Program
	cursor := windowStart
	itemStart := windowStart
	index := 0
	first := true
	prevKey := ""

	for cursor.Before(horizon) && len(programs) < maxPrograms {
		res, err := p.resolve.Resolve(ctx, channel, cursor)
		if err != nil {
			if !errors.Is(err, resolver.ErrNothingScheduled) {
				return nil, fmt.Errorf("resolving at %s: %w", cursor.Format(time.RFC3339), err)
			}
			next, ok, nbErr := p.resolve.NextBlockStart(ctx, channel.ID, cursor)
			if nbErr != nil {
				return nil, nbErr
			}
			if !ok || !next.Before(horizon) {
				break
			}
			if next.After(cursor.Add(emptySkip)) {
				cursor = next
			} else {
				cursor = cursor.Add(emptySkip)
			}
			itemStart = cursor
			prevKey = ""
			first = false
			continue
		}

		key := listKey(res.Items)
		if key != prevKey {
			prevKey = key
			if first {
				// Joining mid-rotation: the first program starts wherever
				// the deterministic position says, possibly before the
				// window opens.
				pos, posErr := timeline.PositionAt(anchor, cursor, res.Items)
				if posErr != nil {
					return nil, posErr
				}
				index = pos.Index
				itemStart = pos.ItemStart
			} else {
				index = 0
				itemStart = cursor
			}
		}
		first = false

		item := res.Items[index]
		stop := itemStart.Add(item.Duration)
		programs = append(programs, Program{
			ChannelID:   channel.ID,
			MediaItemID: item.ID,
			Index:       index,
			Start:       itemStart,
			Stop:        stop,
			Title:       item.Title,
			SubTitle:    item.SubTitle,
			EpisodeNum:  item.EpisodeNum,
		})

		cursor = stop
		itemStart = stop
		index++
		if index >= len(res.Items) {
			index = 0
		}
	}

	if len(programs) >= maxPrograms {
		p.logger.Warn("EPG generation hit program ceiling",
			slog.String("channel", channel.Slug),
			slog.Int("programs", len(programs)),
		)
	}
	return programs, nil
}

// loadFromDB serves the persisted cache tier when its projection is still
// fresh. Cache read failures degrade to regeneration, never to an error.
func (p *Projector) loadFromDB(ctx context.Context, channelID models.ULID, windowStart, now time.Time) ([]Program, bool) {
	entries, err := p.cache.GetChannelEntries(ctx, channelID, windowStart, now.Add(p.lookahead))
	if err != nil {
		p.logger.Warn("EPG database cache read failed, regenerating",
			slog.String("channel_id", channelID.String()),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if len(entries) == 0 || now.Sub(entries[0].ProjectedAt) >= p.dbTTL {
		return nil, false
	}

	programs := make([]Program, 0, len(entries))
	for _, e := range entries {
		programs = append(programs, Program{
			ChannelID:   e.ChannelID,
			MediaItemID: e.MediaItemID.String(),
			Index:       e.PlaylistIndex,
			Start:       e.Start,
			Stop:        e.Stop,
			Title:       e.Title,
			SubTitle:    e.SubTitle,
			Description: e.Description,
			EpisodeNum:  e.EpisodeNum,
		})
	}

	p.mu.Lock()
	p.mem[channelID] = &memEntry{programs: programs, generatedAt: now}
	p.mu.Unlock()
	return programs, true
}

// storeToDB writes the persisted cache tier. Failures are logged and
// swallowed: the projection already succeeded.
func (p *Projector) storeToDB(ctx context.Context, channelID models.ULID, programs []Program, now time.Time) {
	entries := make([]*models.EPGEntry, 0, len(programs))
	for _, prog := range programs {
		entry := &models.EPGEntry{
			ChannelID:     channelID,
			Start:         prog.Start,
			Stop:          prog.Stop,
			Title:         prog.Title,
			SubTitle:      prog.SubTitle,
			Description:   prog.Description,
			EpisodeNum:    prog.EpisodeNum,
			PlaylistIndex: prog.Index,
			ProjectedAt:   now,
		}
		if id, err := models.ParseULID(prog.MediaItemID); err == nil {
			entry.MediaItemID = id
		}
		entries = append(entries, entry)
	}

	if err := p.cache.ReplaceChannelEntries(ctx, channelID, entries); err != nil {
		p.logger.Warn("EPG database cache write failed",
			slog.String("channel_id", channelID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// listKey fingerprints a resolved playlist for change detection.
func listKey(items []timeline.Item) string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return strings.Join(ids, "|")
}

// clipToHorizon drops programs that start at or after the horizon.
func clipToHorizon(programs []Program, horizon time.Time) []Program {
	for i, prog := range programs {
		if !prog.Start.Before(horizon) {
			return programs[:i]
		}
	}
	return programs
}

func localMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
