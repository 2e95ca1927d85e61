package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:118
#EXTINF:4.000000,
stream_118.ts
#EXTINF:4.000000,
stream_119.ts
#EXTINF:3.600000,
stream_120.ts
`

func writePlaylist(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PlaylistName), []byte(content), 0o644))
}

func TestLastSegmentNumber(t *testing.T) {
	dir := t.TempDir()

	// Missing playlist: fresh start.
	_, ok := LastSegmentNumber(dir)
	assert.False(t, ok)
	assert.Equal(t, int64(0), NextStartNumber(dir))

	writePlaylist(t, dir, samplePlaylist)
	last, ok := LastSegmentNumber(dir)
	require.True(t, ok)
	assert.Equal(t, int64(120), last)
	assert.Equal(t, int64(121), NextStartNumber(dir))
}

func TestLastSegmentNumber_InvalidPlaylist(t *testing.T) {
	dir := t.TempDir()
	writePlaylist(t, dir, "not a playlist")

	_, ok := LastSegmentNumber(dir)
	assert.False(t, ok)
}

func TestLastSegmentNumber_EmptyPlaylist(t *testing.T) {
	dir := t.TempDir()
	writePlaylist(t, dir, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n")

	_, ok := LastSegmentNumber(dir)
	assert.False(t, ok)
}

func TestValidateInput(t *testing.T) {
	t.Run("missing single input", func(t *testing.T) {
		err := validateInput(RunSpec{SingleInput: "/does/not/exist.mp4"})
		var startErr *StartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, FailInputNotFound, startErr.Kind)
	})

	t.Run("empty spec", func(t *testing.T) {
		err := validateInput(RunSpec{})
		var startErr *StartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, FailInputNotFound, startErr.Kind)
	})

	t.Run("existing single input", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "clip.mp4")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
		assert.NoError(t, validateInput(RunSpec{SingleInput: f}))
	})

	t.Run("missing concat manifest", func(t *testing.T) {
		err := validateInput(RunSpec{ConcatManifest: "/does/not/exist.txt"})
		var startErr *StartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, FailConcatInvalid, startErr.Kind)
	})

	t.Run("manifest without files", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "next.txt")
		require.NoError(t, os.WriteFile(f, []byte("# empty\n"), 0o644))
		err := validateInput(RunSpec{ConcatManifest: f})
		var startErr *StartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, FailConcatInvalid, startErr.Kind)
	})

	t.Run("valid manifest", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "next.txt")
		require.NoError(t, os.WriteFile(f, []byte("file '/media/a.mp4'\nfile '/media/b.mp4'\n"), 0o644))
		assert.NoError(t, validateInput(RunSpec{ConcatManifest: f}))
	})
}

func TestBenignStderrPatterns(t *testing.T) {
	benign := []string{
		"[mp4 @ 0x55] Using AVStream.codec to pass codec parameters is deprecated",
		"Last message repeated 3 times",
		"Past duration 0.999992 too large",
		"[mpegts @ 0x55] Non-monotonic DTS in output stream",
	}
	for _, line := range benign {
		assert.True(t, benignStderrRe.MatchString(line), line)
	}

	serious := []string{
		"/media/missing.mp4: No such file or directory",
		"Error while decoding stream #0:0: Invalid data found",
		"Conversion failed!",
	}
	for _, line := range serious {
		assert.False(t, benignStderrRe.MatchString(line), line)
	}
}
