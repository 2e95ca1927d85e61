// Package worker manages FFmpeg transcoder processes: one live process per
// streaming channel, producing a rolling HLS playlist into the channel's
// output directory. The worker owns process lifecycle only; what to play is
// the scheduler's decision, delivered as a RunSpec.
package worker

import (
	"time"

	"github.com/retrovue/retrovue/internal/models"
)

// RunSpec describes one transcoder run.
type RunSpec struct {
	// SingleInput is the media file to play when ConcatManifest is empty.
	SingleInput string
	// StartPosition seeks into SingleInput before playback. Ignored for
	// concat runs.
	StartPosition time.Duration
	// ConcatManifest is a path to an ffmpeg concat demuxer manifest. When
	// set it takes precedence over SingleInput.
	ConcatManifest string

	// OutputDir receives stream.m3u8 and stream_NNN.ts segments.
	OutputDir string

	// Encoding profile.
	Width           int
	Height          int
	FPS             int
	VideoBitrate    string
	AudioBitrate    string
	SegmentDuration int

	// PlaylistWindowSize is the hls_list_size rolling window.
	PlaylistWindowSize int
	// SegmentMaxAge controls how long expired segments stay on disk.
	SegmentMaxAge time.Duration

	// StartNumber continues segment numbering across transitions.
	StartNumber int64

	// WatermarkPath overlays a PNG bottom-right when non-empty.
	WatermarkPath string

	// Preset is the x264 preset (whitelisted by config).
	Preset string
	// HWAccel selects a hardware encoder family; empty or "none" means
	// software libx264.
	HWAccel string
}

// IsConcat reports whether the run uses the concat demuxer.
func (s *RunSpec) IsConcat() bool {
	return s.ConcatManifest != ""
}

// InputPath returns the effective input path.
func (s *RunSpec) InputPath() string {
	if s.IsConcat() {
		return s.ConcatManifest
	}
	return s.SingleInput
}

// SpecFromChannel seeds a RunSpec from a channel's encoding profile.
func SpecFromChannel(channel *models.Channel, outputDir string, windowSize int, segmentMaxAge time.Duration) RunSpec {
	return RunSpec{
		OutputDir:          outputDir,
		Width:              channel.Width,
		Height:             channel.Height,
		FPS:                channel.FPS,
		VideoBitrate:       channel.VideoBitrate,
		AudioBitrate:       channel.AudioBitrate,
		SegmentDuration:    channel.SegmentDuration,
		PlaylistWindowSize: windowSize,
		SegmentMaxAge:      segmentMaxAge,
		WatermarkPath:      channel.WatermarkPath,
	}
}

// FailureKind classifies why a run could not start or ended badly.
type FailureKind string

// Failure kinds.
const (
	FailSpawn         FailureKind = "spawn"
	FailInputNotFound FailureKind = "input_not_found"
	FailConcatInvalid FailureKind = "concat_invalid"
	AbnormalExit      FailureKind = "abnormal_exit"
)

// ExitEvent reports a worker process ending.
type ExitEvent struct {
	ChannelID models.ULID
	RunID     string
	// Graceful is true when ffmpeg finished its input and exited zero.
	Graceful bool
	// Stopped is true when the exit was caused by an explicit Stop.
	Stopped bool
	// Failure is set for abnormal exits.
	Failure FailureKind
	Err     error
}
