package worker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSpec() RunSpec {
	return RunSpec{
		SingleInput:        "/media/show.mp4",
		OutputDir:          "/var/lib/retrovue/channels/toons",
		Width:              1280,
		Height:             720,
		FPS:                30,
		VideoBitrate:       "2500k",
		AudioBitrate:       "128k",
		SegmentDuration:    4,
		PlaylistWindowSize: 30,
		SegmentMaxAge:      10 * time.Minute,
	}
}

// argValue returns the value following a flag, or "" when absent.
func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgs_SingleInput(t *testing.T) {
	args := BuildArgs(baseSpec())

	assert.Contains(t, args, "-re")
	assert.Equal(t, "/media/show.mp4", argValue(args, "-i"))
	assert.NotContains(t, args, "-ss")

	assert.Equal(t, "libx264", argValue(args, "-c:v"))
	assert.Equal(t, "aac", argValue(args, "-c:a"))
	assert.Equal(t, "44100", argValue(args, "-ar"))
	assert.Equal(t, "2", argValue(args, "-ac"))
	assert.Equal(t, "cfr", argValue(args, "-fps_mode"))

	// GOP = fps * segment duration, keyframes forced on boundaries.
	assert.Equal(t, "120", argValue(args, "-g"))
	assert.Equal(t, "expr:gte(t,n_forced*4)", argValue(args, "-force_key_frames"))

	assert.Equal(t, "4", argValue(args, "-hls_time"))
	assert.Equal(t, "30", argValue(args, "-hls_list_size"))
	assert.Equal(t, "0", argValue(args, "-start_number"))
	// 10 minutes of expired segments at 4s each.
	assert.Equal(t, "150", argValue(args, "-hls_delete_threshold"))
	assert.Equal(t, "/var/lib/retrovue/channels/toons/stream_%03d.ts", argValue(args, "-hls_segment_filename"))
	assert.Equal(t, "/var/lib/retrovue/channels/toons/stream.m3u8", args[len(args)-1])

	flags := argValue(args, "-hls_flags")
	for _, want := range []string{"delete_segments", "append_list", "omit_endlist", "temp_file", "split_by_time"} {
		assert.Contains(t, flags, want)
	}
}

func TestBuildArgs_SeekPosition(t *testing.T) {
	spec := baseSpec()
	spec.StartPosition = 754*time.Second + 500*time.Millisecond

	args := BuildArgs(spec)
	assert.Equal(t, "754.500", argValue(args, "-ss"))

	// -ss must precede -i for input seeking.
	ssIdx, iIdx := -1, -1
	for i, a := range args {
		if a == "-ss" && ssIdx == -1 {
			ssIdx = i
		}
		if a == "-i" && iIdx == -1 {
			iIdx = i
		}
	}
	require.NotEqual(t, -1, ssIdx)
	require.NotEqual(t, -1, iIdx)
	assert.Less(t, ssIdx, iIdx)
}

func TestBuildArgs_ConcatManifest(t *testing.T) {
	spec := baseSpec()
	spec.ConcatManifest = "/var/lib/retrovue/channels/toons/next.txt"
	spec.StartPosition = 30 * time.Second // ignored for concat
	spec.StartNumber = 412

	args := BuildArgs(spec)
	assert.Equal(t, "concat", argValue(args, "-f"))
	assert.Equal(t, "0", argValue(args, "-safe"))
	assert.Equal(t, "/var/lib/retrovue/channels/toons/next.txt", argValue(args, "-i"))
	assert.NotContains(t, args, "-ss")
	assert.Equal(t, "412", argValue(args, "-start_number"))
}

func TestBuildArgs_Watermark(t *testing.T) {
	spec := baseSpec()
	spec.WatermarkPath = "/etc/retrovue/logo.png"

	args := BuildArgs(spec)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "/etc/retrovue/logo.png")
	filter := argValue(args, "-filter_complex")
	assert.Contains(t, filter, "overlay=W-w-24:H-h-24")
	assert.Contains(t, filter, "scale=1280:720")
	assert.NotContains(t, args, "-vf")
}

func TestBuildArgs_HWAccel(t *testing.T) {
	spec := baseSpec()
	spec.HWAccel = "nvenc"
	assert.Equal(t, "h264_nvenc", argValue(BuildArgs(spec), "-c:v"))

	spec.HWAccel = "none"
	assert.Equal(t, "libx264", argValue(BuildArgs(spec), "-c:v"))
}
