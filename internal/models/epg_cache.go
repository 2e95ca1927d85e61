package models

import "time"

// EPGEntry is one cached program row for a channel's projected schedule.
// Rows are written by the EPG projector and are a pure cache: the database
// copy survives restarts so guide requests right after boot do not have to
// re-project every channel.
type EPGEntry struct {
	BaseModel

	ChannelID ULID `gorm:"type:varchar(26);not null;index:idx_epg_channel_start" json:"channel_id"`

	Start time.Time `gorm:"not null;index:idx_epg_channel_start" json:"start"`
	Stop  time.Time `gorm:"not null" json:"stop"`

	Title       string `gorm:"not null;size:512" json:"title"`
	SubTitle    string `gorm:"size:512" json:"sub_title,omitempty"`
	Description string `gorm:"size:2048" json:"description,omitempty"`

	// EpisodeNum is the onscreen episode label ("S01E02"), if known.
	EpisodeNum string `gorm:"size:20" json:"episode_num,omitempty"`

	MediaItemID ULID `gorm:"type:varchar(26)" json:"media_item_id,omitempty"`

	// PlaylistIndex is the playlist position the scheduler is on while this
	// program airs. Position recovery after a restart reads it back, so it
	// must survive the cache round trip.
	PlaylistIndex int `gorm:"not null;default:0" json:"playlist_index"`

	// ProjectedAt records when the projection that produced this row ran.
	ProjectedAt time.Time `gorm:"not null" json:"projected_at"`
}

// TableName returns the table name for EPGEntry.
func (EPGEntry) TableName() string {
	return "epg_entries"
}

// Duration returns the program's scheduled length.
func (e *EPGEntry) Duration() time.Duration {
	return e.Stop.Sub(e.Start)
}

// Contains reports whether t falls within [Start, Stop).
func (e *EPGEntry) Contains(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.Stop)
}
