// Package timeline computes deterministic schedule positions for 24/7
// channels. Given a fixed anchor time and an ordered playlist, the position
// at any wall-clock instant is a pure function: elapsed time modulo the
// playlist's total duration. Every caller that does the same math lands on
// the same item and offset, which is what keeps playback, the EPG, and
// restart recovery in agreement.
package timeline

import (
	"errors"
	"time"
)

// ErrEmptyPlaylist is returned when position math is attempted over a
// playlist with no playable duration.
var ErrEmptyPlaylist = errors.New("playlist has no playable duration")

// Item is one entry in an ordered playlist.
type Item struct {
	// ID identifies the underlying media item.
	ID string
	// Path is the absolute media file path.
	Path string
	// Duration is the probed item length.
	Duration time.Duration
	// Title is used for EPG projection.
	Title string
	// SubTitle is the episode title, if any.
	SubTitle string
	// EpisodeNum is the onscreen episode label, if any.
	EpisodeNum string
}

// Position is a resolved playback position within a playlist.
type Position struct {
	// Index is the playlist index of the current item.
	Index int
	// Offset is how far into the current item playback is.
	Offset time.Duration
	// Cycle is how many complete playlist loops have elapsed since anchor.
	Cycle int64
	// ItemStart is the wall-clock time the current item began.
	ItemStart time.Time
}

// TotalDuration sums the durations of all items.
func TotalDuration(items []Item) time.Duration {
	var total time.Duration
	for _, item := range items {
		total += item.Duration
	}
	return total
}

// PositionAt computes the deterministic position at time now for a playlist
// anchored at anchor. Items with zero or negative duration are skipped when
// walking; a now before anchor resolves to the playlist start.
func PositionAt(anchor, now time.Time, items []Item) (Position, error) {
	total := TotalDuration(items)
	if len(items) == 0 || total <= 0 {
		return Position{}, ErrEmptyPlaylist
	}

	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		elapsed = 0
	}

	cycle := int64(elapsed / total)
	intoCycle := elapsed % total

	cycleStart := anchor.Add(time.Duration(cycle) * total)
	var cursor time.Duration
	for i, item := range items {
		if item.Duration <= 0 {
			continue
		}
		if intoCycle < cursor+item.Duration {
			return Position{
				Index:     i,
				Offset:    intoCycle - cursor,
				Cycle:     cycle,
				ItemStart: cycleStart.Add(cursor),
			}, nil
		}
		cursor += item.Duration
	}

	// Unreachable while total > 0, but keep the zero value out of callers.
	return Position{}, ErrEmptyPlaylist
}

// Program is one projected program with wall-clock boundaries.
type Program struct {
	Item  Item
	Start time.Time
	Stop  time.Time
}

// Project walks the playlist forward from the position current at from and
// emits program boundaries until the horizon is passed. The first program's
// Start is its true start time, which may be before from.
func Project(anchor, from, horizon time.Time, items []Item) ([]Program, error) {
	pos, err := PositionAt(anchor, from, items)
	if err != nil {
		return nil, err
	}

	var programs []Program
	idx := pos.Index
	start := pos.ItemStart
	for start.Before(horizon) {
		item := items[idx]
		if item.Duration > 0 {
			programs = append(programs, Program{
				Item:  item,
				Start: start,
				Stop:  start.Add(item.Duration),
			})
			start = start.Add(item.Duration)
		}
		idx++
		if idx >= len(items) {
			idx = 0
		}
	}
	return programs, nil
}
