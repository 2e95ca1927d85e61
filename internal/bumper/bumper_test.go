package bumper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		Title:           "Space Detectives",
		Width:           1280,
		Height:          720,
		FPS:             30,
		VideoBitrate:    "2500k",
		AudioBitrate:    "128k",
		SegmentDuration: 4,
	}
}

func TestCacheKey_Stable(t *testing.T) {
	a := testRequest()
	b := testRequest()
	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestCacheKey_SensitiveToProfile(t *testing.T) {
	base := testRequest()

	title := testRequest()
	title.Title = "Other Show"
	assert.NotEqual(t, base.CacheKey(), title.CacheKey())

	res := testRequest()
	res.Width, res.Height = 1920, 1080
	assert.NotEqual(t, base.CacheKey(), res.CacheKey())

	fps := testRequest()
	fps.FPS = 25
	assert.NotEqual(t, base.CacheKey(), fps.CacheKey())

	dur := testRequest()
	dur.Duration = 5 * time.Second
	assert.NotEqual(t, base.CacheKey(), dur.CacheKey())

	// Zero duration and explicit default hash the same.
	explicit := testRequest()
	explicit.Duration = DefaultDuration
	assert.Equal(t, base.CacheKey(), explicit.CacheKey())
}

func TestProduceUpNext_CacheHit(t *testing.T) {
	dir := t.TempDir()
	// Point at a binary that would fail instantly; the cache hit must win
	// before ffmpeg is ever invoked.
	g := NewGenerator("/nonexistent/ffmpeg", dir, nil)

	req := testRequest()
	cached := filepath.Join(dir, "upnext_"+req.CacheKey()[:16]+".ts")
	require.NoError(t, os.WriteFile(cached, []byte("ts"), 0o644))

	path, err := g.ProduceUpNext(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, cached, path)
}

func TestProduceUpNext_SpawnFailure(t *testing.T) {
	g := NewGenerator("/nonexistent/ffmpeg", t.TempDir(), nil)

	_, err := g.ProduceUpNext(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestBuildSlateArgs(t *testing.T) {
	args := buildSlateArgs(testRequest(), "/cache/upnext_x.ts")

	joined := ""
	for _, a := range args {
		joined += a + " "
	}

	assert.Contains(t, joined, "color=c=0x101020:s=1280x720:r=30:d=10")
	assert.Contains(t, joined, "anullsrc=r=44100:cl=stereo")
	assert.Contains(t, joined, "Space Detectives")
	assert.Contains(t, joined, "-g 120")
	assert.Contains(t, joined, "-t 10")
	assert.Contains(t, joined, "-f mpegts")
	assert.Equal(t, "/cache/upnext_x.ts", args[len(args)-1])
}

func TestEscapeDrawtext(t *testing.T) {
	assert.Equal(t, `It\'s 100\% Fun\: Part 2`, escapeDrawtext(`It's 100% Fun: Part 2`))
	assert.Equal(t, "Plain Title", escapeDrawtext("Plain Title"))
}
