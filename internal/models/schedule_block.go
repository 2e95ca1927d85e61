package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Playback modes for schedule blocks.
const (
	PlaybackModeSequential = "sequential"
	PlaybackModeShuffle    = "shuffle"
	PlaybackModeRandom     = "random"
)

// ScheduleBlock is a time-of-day rule binding a channel to a bucket.
// When EndTime is less than or equal to StartTime the block wraps past
// midnight.
type ScheduleBlock struct {
	BaseModel

	ChannelID ULID `gorm:"type:varchar(26);not null;index" json:"channel_id"`
	BucketID  ULID `gorm:"type:varchar(26);not null" json:"bucket_id"`

	// StartTime and EndTime are times of day as "HH:MM:SS".
	StartTime string `gorm:"not null;size:8" json:"start_time"`
	EndTime   string `gorm:"not null;size:8" json:"end_time"`

	// DayOfWeek is a comma-separated set of weekday indices (0=Sunday).
	// Empty means every day.
	DayOfWeek string `gorm:"size:20" json:"day_of_week,omitempty"`

	// Priority breaks overlaps: the highest-priority active block wins.
	// Ties go to the earliest CreatedAt.
	Priority int `gorm:"not null;default:0" json:"priority"`

	// PlaybackMode is honored by the playback advance policy only; the
	// resolver and EPG always use the bucket's persisted order.
	PlaybackMode string `gorm:"not null;size:20;default:'sequential'" json:"playback_mode"`

	Enabled *bool `gorm:"default:true" json:"enabled"`

	Bucket *Bucket `gorm:"foreignKey:BucketID" json:"bucket,omitempty"`
}

// TableName returns the table name for ScheduleBlock.
func (ScheduleBlock) TableName() string {
	return "schedule_blocks"
}

// Validate performs basic validation on the schedule block.
func (b *ScheduleBlock) Validate() error {
	if b.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if b.BucketID.IsZero() {
		return ErrBucketIDRequired
	}
	if _, err := ParseTimeOfDay(b.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if _, err := ParseTimeOfDay(b.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if _, err := b.Days(); err != nil {
		return err
	}
	switch b.PlaybackMode {
	case PlaybackModeSequential, PlaybackModeShuffle, PlaybackModeRandom:
	default:
		return ErrInvalidPlaybackMode
	}
	return nil
}

// IsEnabled reports whether the block is enabled.
func (b *ScheduleBlock) IsEnabled() bool {
	return BoolVal(b.Enabled)
}

// Days returns the weekday set, or nil when the block applies every day.
func (b *ScheduleBlock) Days() (map[time.Weekday]bool, error) {
	s := strings.TrimSpace(b.DayOfWeek)
	if s == "" {
		return nil, nil
	}
	days := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return nil, ErrInvalidDayOfWeek
		}
		days[time.Weekday(n)] = true
	}
	return days, nil
}

// Wraps reports whether the block spans midnight (end <= start).
func (b *ScheduleBlock) Wraps() bool {
	start, err1 := ParseTimeOfDay(b.StartTime)
	end, err2 := ParseTimeOfDay(b.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	return end <= start
}

// ContainsTimeOfDay reports whether the given time-of-day offset lies inside
// [start, end) with wrap semantics: a wrapping block matches t >= start OR
// t < end.
func (b *ScheduleBlock) ContainsTimeOfDay(t time.Duration) bool {
	start, err1 := ParseTimeOfDay(b.StartTime)
	end, err2 := ParseTimeOfDay(b.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	if end <= start {
		return t >= start || t < end
	}
	return t >= start && t < end
}

// MatchesDay reports whether the block applies on the given weekday.
func (b *ScheduleBlock) MatchesDay(day time.Weekday) bool {
	days, err := b.Days()
	if err != nil {
		return false
	}
	if days == nil {
		return true
	}
	return days[day]
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, ErrInvalidTimeOfDay
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, ErrInvalidTimeOfDay
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, ErrInvalidTimeOfDay
	}
	var sec int
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, ErrInvalidTimeOfDay
		}
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// TimeOfDay returns t's offset from its local midnight.
func TimeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}
