// Package resolver answers "what should this channel be playing at time T".
// It picks the active schedule block for a wall-clock instant, honoring
// priority, day-of-week sets, and blocks that wrap past midnight, and falls
// back to the channel's fallback bucket rotation when no block is active.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/timeline"
)

// ErrNothingScheduled is returned when neither a schedule block nor a
// fallback bucket yields any playable items.
var ErrNothingScheduled = errors.New("nothing scheduled for channel")

// Resolution is the outcome of resolving a channel at an instant.
type Resolution struct {
	// Items is the ordered playlist in the bucket's persisted order.
	Items []timeline.Item
	// Block is the winning schedule block, nil when the fallback rotation
	// was used.
	Block *models.ScheduleBlock
	// PlaybackMode is the effective mode (sequential for fallback).
	PlaybackMode string
}

// Resolver resolves channels to playlists.
type Resolver struct {
	blocks  repository.ScheduleBlockRepository
	buckets repository.BucketRepository
	logger  *slog.Logger
}

// New creates a Resolver.
func New(blocks repository.ScheduleBlockRepository, buckets repository.BucketRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{blocks: blocks, buckets: buckets, logger: logger}
}

// Resolve returns the playlist the channel should be playing at now.
func (r *Resolver) Resolve(ctx context.Context, channel *models.Channel, now time.Time) (*Resolution, error) {
	blocks, err := r.blocks.GetByChannelID(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("loading schedule blocks: %w", err)
	}

	if block := ActiveBlock(blocks, now); block != nil {
		items := bucketItems(block.Bucket)
		if len(items) > 0 {
			return &Resolution{
				Items:        items,
				Block:        block,
				PlaybackMode: block.PlaybackMode,
			}, nil
		}
		r.logger.Warn("active schedule block has empty bucket, using fallback",
			slog.String("channel", channel.Slug),
			slog.String("block_id", block.ID.String()),
		)
	}

	return r.resolveFallback(ctx, channel)
}

// resolveFallback concatenates the channel's fallback buckets by priority.
func (r *Resolver) resolveFallback(ctx context.Context, channel *models.Channel) (*Resolution, error) {
	links, err := r.buckets.GetChannelBuckets(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("loading fallback buckets: %w", err)
	}

	var items []timeline.Item
	for _, link := range links {
		items = append(items, bucketItems(link.Bucket)...)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("channel %s: %w", channel.Slug, ErrNothingScheduled)
	}

	return &Resolution{
		Items:        items,
		PlaybackMode: models.PlaybackModeSequential,
	}, nil
}

// NextBlockStart returns the wall-clock start of the next enabled block
// strictly after now, looking ahead up to a week. ok is false when the
// channel has no enabled blocks at all.
func (r *Resolver) NextBlockStart(ctx context.Context, channelID models.ULID, now time.Time) (time.Time, bool, error) {
	blocks, err := r.blocks.GetByChannelID(ctx, channelID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("loading schedule blocks: %w", err)
	}

	best := time.Time{}
	found := false
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, block := range blocks {
		if !block.IsEnabled() {
			continue
		}
		start, err := models.ParseTimeOfDay(block.StartTime)
		if err != nil {
			continue
		}
		for day := 0; day <= 7; day++ {
			candidate := midnight.AddDate(0, 0, day).Add(start)
			if !candidate.After(now) {
				continue
			}
			if !block.MatchesDay(candidate.Weekday()) {
				continue
			}
			if !found || candidate.Before(best) {
				best = candidate
				found = true
			}
			break
		}
	}
	return best, found, nil
}

// ActiveBlock returns the winning block at now, or nil when none is active.
// Blocks must already be ordered by priority DESC, created_at ASC; the first
// active one wins. A block that wraps past midnight stays active in its
// early-morning tail when its day set matched the previous day.
func ActiveBlock(blocks []*models.ScheduleBlock, now time.Time) *models.ScheduleBlock {
	tod := models.TimeOfDay(now)
	today := now.Weekday()
	yesterday := now.AddDate(0, 0, -1).Weekday()

	for _, block := range blocks {
		if !block.IsEnabled() {
			continue
		}
		if !block.ContainsTimeOfDay(tod) {
			continue
		}
		if blockAppliesOn(block, tod, today, yesterday) {
			return block
		}
	}
	return nil
}

// blockAppliesOn resolves day matching for a block already known to contain
// tod. For a wrapping block the pre-midnight span belongs to today and the
// post-midnight span to the day the block started on.
func blockAppliesOn(block *models.ScheduleBlock, tod time.Duration, today, yesterday time.Weekday) bool {
	if !block.Wraps() {
		return block.MatchesDay(today)
	}

	start, err := models.ParseTimeOfDay(block.StartTime)
	if err != nil {
		return false
	}
	if tod >= start {
		// Evening span: the block started today.
		return block.MatchesDay(today)
	}
	// Early-morning tail: the block started yesterday.
	return block.MatchesDay(yesterday)
}

// bucketItems converts a preloaded bucket's membership into timeline items,
// skipping rows whose media failed to preload or has no duration.
func bucketItems(bucket *models.Bucket) []timeline.Item {
	if bucket == nil {
		return nil
	}
	items := make([]timeline.Item, 0, len(bucket.Media))
	for _, bm := range bucket.Media {
		if bm.MediaItem == nil || bm.MediaItem.DurationSeconds <= 0 {
			continue
		}
		m := bm.MediaItem
		items = append(items, timeline.Item{
			ID:         m.ID.String(),
			Path:       m.FilePath,
			Duration:   time.Duration(m.DurationSeconds * float64(time.Second)),
			Title:      m.DisplayTitle(),
			SubTitle:   m.EpisodeTitle,
			EpisodeNum: m.EpisodeNum(),
		})
	}
	return items
}
