package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondenseProbe(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{
			Duration: "1321.504000",
			Size:     "245000000",
			BitRate:  "1483000",
		},
		Streams: []ProbeStream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, AvgFrameRate: "30000/1001"},
			{Index: 1, CodecType: "audio", CodecName: "aac"},
			{Index: 2, CodecType: "subtitle", CodecName: "subrip"},
		},
	}

	info, err := CondenseProbe(result)
	require.NoError(t, err)

	assert.InDelta(t, 1321.504, info.DurationSeconds, 0.001)
	assert.Equal(t, int64(245000000), info.SizeBytes)
	assert.Equal(t, int64(1483000), info.Bitrate)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
}

func TestCondenseProbe_NoDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration string
	}{
		{name: "empty", duration: ""},
		{name: "zero", duration: "0.000000"},
		{name: "garbage", duration: "N/A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CondenseProbe(&ProbeResult{Format: ProbeFormat{Duration: tt.duration}})
			assert.Error(t, err)
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.01)
	assert.Equal(t, 25.0, parseFrameRate("25/1"))
	assert.Equal(t, 24.0, parseFrameRate("24"))
	assert.Equal(t, 0.0, parseFrameRate("0/0"))
	assert.Equal(t, 0.0, parseFrameRate(""))
	assert.Equal(t, 0.0, parseFrameRate("30/0"))
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 1}
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}
