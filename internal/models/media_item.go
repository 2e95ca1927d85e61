package models

import "fmt"

// MediaItem describes one playable file in the library. Items are created by
// the scanner and treated as immutable by the playback core.
type MediaItem struct {
	BaseModel

	// FilePath is the absolute path to the media file.
	FilePath string `gorm:"not null;size:4096;uniqueIndex" json:"file_path"`

	// DurationSeconds is the probed container duration.
	DurationSeconds float64 `gorm:"not null" json:"duration_seconds"`

	// SizeBytes is the file size at scan time.
	SizeBytes int64 `gorm:"default:0" json:"size_bytes"`

	// Probed stream properties; zero values mean unknown.
	VideoCodec string  `gorm:"size:50" json:"video_codec,omitempty"`
	AudioCodec string  `gorm:"size:50" json:"audio_codec,omitempty"`
	Width      int     `gorm:"default:0" json:"width,omitempty"`
	Height     int     `gorm:"default:0" json:"height,omitempty"`
	FPS        float64 `gorm:"default:0" json:"fps,omitempty"`
	Bitrate    int64   `gorm:"default:0" json:"bitrate,omitempty"`

	// Parsed naming metadata, best-effort from the filename.
	ShowName     string `gorm:"size:512;index" json:"show_name,omitempty"`
	Season       int    `gorm:"default:0" json:"season,omitempty"`
	Episode      int    `gorm:"default:0" json:"episode,omitempty"`
	EpisodeTitle string `gorm:"size:512" json:"episode_title,omitempty"`

	// LibraryFolderID links back to the scanned root, if any.
	LibraryFolderID ULID `gorm:"type:varchar(26);index" json:"library_folder_id,omitempty"`
}

// TableName returns the table name for MediaItem.
func (MediaItem) TableName() string {
	return "media_files"
}

// Validate performs basic validation on the media item.
func (m *MediaItem) Validate() error {
	if m.FilePath == "" {
		return ErrFilePathRequired
	}
	if m.DurationSeconds < 0 {
		return ErrValidation{Field: "duration_seconds", Message: "must be non-negative"}
	}
	return nil
}

// DisplayTitle returns the best human-readable title for the item.
func (m *MediaItem) DisplayTitle() string {
	if m.ShowName != "" {
		return m.ShowName
	}
	if m.EpisodeTitle != "" {
		return m.EpisodeTitle
	}
	return m.FilePath
}

// EpisodeNum returns an XMLTV onscreen episode label like "S01E02",
// or "" when season/episode are unknown.
func (m *MediaItem) EpisodeNum() string {
	switch {
	case m.Season > 0 && m.Episode > 0:
		return fmt.Sprintf("S%02dE%02d", m.Season, m.Episode)
	case m.Episode > 0:
		return fmt.Sprintf("E%02d", m.Episode)
	default:
		return ""
	}
}
