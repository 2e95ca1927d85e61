package worker

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// SegmentPattern is the segment filename template within an output dir.
const SegmentPattern = "stream_%03d.ts"

// PlaylistName is the live playlist filename within an output dir.
const PlaylistName = "stream.m3u8"

// BuildArgs assembles the ffmpeg argument list for a run. The output is a
// rolling live HLS playlist: a fixed window of segments, expired segments
// deleted by ffmpeg itself after a retention threshold, atomic segment
// writes via temp_file, and segment numbering continued from StartNumber so
// numbers stay monotonic across item transitions.
func BuildArgs(spec RunSpec) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nostdin",
		// Pace reading at input rate; downstream is a live playlist.
		"-re",
	}

	if spec.IsConcat() {
		args = append(args,
			"-f", "concat",
			"-safe", "0",
			"-i", spec.ConcatManifest,
		)
	} else {
		if spec.StartPosition > 0 {
			args = append(args, "-ss", fmt.Sprintf("%.3f", spec.StartPosition.Seconds()))
		}
		args = append(args, "-i", spec.SingleInput)
	}

	if spec.WatermarkPath != "" {
		args = append(args, "-i", spec.WatermarkPath)
		filter := fmt.Sprintf(
			"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[base];[base][1:v]overlay=W-w-24:H-h-24[v]",
			spec.Width, spec.Height, spec.Width, spec.Height,
		)
		args = append(args,
			"-filter_complex", filter,
			"-map", "[v]",
			"-map", "0:a:0?",
		)
	} else {
		filter := fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
			spec.Width, spec.Height, spec.Width, spec.Height,
		)
		args = append(args,
			"-vf", filter,
			"-map", "0:v:0",
			"-map", "0:a:0?",
		)
	}

	gop := spec.FPS * spec.SegmentDuration

	args = append(args,
		"-c:v", videoEncoder(spec.HWAccel),
		"-preset", presetOrDefault(spec.Preset),
		"-b:v", spec.VideoBitrate,
		"-maxrate", spec.VideoBitrate,
		"-bufsize", spec.VideoBitrate,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(spec.FPS),
		"-fps_mode", "cfr",
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		// Keyframes exactly on segment boundaries so split_by_time cuts clean.
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", spec.SegmentDuration),

		"-c:a", "aac",
		"-b:a", spec.AudioBitrate,
		"-ar", "44100",
		"-ac", "2",
	)

	deleteThreshold := int64(1)
	if spec.SegmentDuration > 0 && spec.SegmentMaxAge > 0 {
		deleteThreshold = int64(spec.SegmentMaxAge.Seconds()) / int64(spec.SegmentDuration)
		if deleteThreshold < 1 {
			deleteThreshold = 1
		}
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(spec.SegmentDuration),
		"-hls_list_size", strconv.Itoa(spec.PlaylistWindowSize),
		"-hls_flags", "delete_segments+append_list+omit_endlist+temp_file+split_by_time+independent_segments",
		"-hls_delete_threshold", strconv.FormatInt(deleteThreshold, 10),
		"-hls_segment_filename", filepath.Join(spec.OutputDir, SegmentPattern),
		"-start_number", strconv.FormatInt(spec.StartNumber, 10),
		filepath.Join(spec.OutputDir, PlaylistName),
	)

	return args
}

// videoEncoder maps the hwAccel setting to an encoder name.
func videoEncoder(hwAccel string) string {
	switch hwAccel {
	case "nvenc":
		return "h264_nvenc"
	case "qsv":
		return "h264_qsv"
	case "videotoolbox":
		return "h264_videotoolbox"
	default:
		return "libx264"
	}
}

func presetOrDefault(preset string) string {
	if preset == "" {
		return "veryfast"
	}
	return preset
}
