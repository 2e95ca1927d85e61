package models

import (
	"regexp"
	"time"
)

// ChannelState is the scheduler-facing lifecycle state of a channel.
type ChannelState string

// Channel lifecycle states.
const (
	ChannelStateIdle          ChannelState = "idle"
	ChannelStateStarting      ChannelState = "starting"
	ChannelStateStreaming     ChannelState = "streaming"
	ChannelStateTransitioning ChannelState = "transitioning"
	ChannelStateStopping      ChannelState = "stopping"
	ChannelStateWaiting       ChannelState = "waiting"
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Channel is a 24/7 linear channel definition: identity plus the encoding
// profile every stream on the channel is normalized to.
type Channel struct {
	BaseModel

	Name string `gorm:"not null;size:255" json:"name"`

	// Slug is the URL-safe identifier used in playback paths and as the
	// output directory name.
	Slug string `gorm:"not null;size:100;uniqueIndex" json:"slug"`

	// AnchorTime is the fixed epoch the deterministic schedule position is
	// computed from. Zero means the channel's CreatedAt is used.
	AnchorTime int64 `gorm:"default:0" json:"anchor_time,omitempty"`

	// Encoding profile.
	Width           int    `gorm:"not null;default:1280" json:"width"`
	Height          int    `gorm:"not null;default:720" json:"height"`
	FPS             int    `gorm:"not null;default:30" json:"fps"`
	VideoBitrate    string `gorm:"not null;size:20;default:'2500k'" json:"video_bitrate"`
	AudioBitrate    string `gorm:"not null;size:20;default:'128k'" json:"audio_bitrate"`
	SegmentDuration int    `gorm:"not null;default:4" json:"segment_duration"`

	// WatermarkPath is an optional PNG overlaid bottom-right on the output.
	WatermarkPath string `gorm:"size:4096" json:"watermark_path,omitempty"`

	Enabled *bool `gorm:"default:true" json:"enabled"`

	ScheduleBlocks  []ScheduleBlock `gorm:"foreignKey:ChannelID" json:"schedule_blocks,omitempty"`
	FallbackBuckets []ChannelBucket `gorm:"foreignKey:ChannelID" json:"fallback_buckets,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.Slug == "" {
		return ErrSlugRequired
	}
	if !slugRe.MatchString(c.Slug) {
		return ErrInvalidSlug
	}
	if c.Width <= 0 || c.Height <= 0 {
		return ErrInvalidResolution
	}
	if c.FPS <= 0 {
		return ErrInvalidFPS
	}
	if c.SegmentDuration < 1 || c.SegmentDuration > 10 {
		return ErrInvalidSegmentDuration
	}
	return nil
}

// IsEnabled reports whether the channel is enabled.
func (c *Channel) IsEnabled() bool {
	return BoolVal(c.Enabled)
}

// Anchor returns the epoch the deterministic schedule position is computed
// from: AnchorTime when set, otherwise the channel's creation time.
func (c *Channel) Anchor() time.Time {
	if c.AnchorTime != 0 {
		return time.Unix(c.AnchorTime, 0)
	}
	return c.CreatedAt
}
