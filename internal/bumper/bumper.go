// Package bumper generates short "up next" interstitial clips: a title
// announcement rendered over a solid background with silent audio, encoded
// to the exact profile of the channel it will air on so the transcoder can
// concatenate it with real media without re-negotiating parameters.
package bumper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// generateTimeout bounds a single ffmpeg slate render.
const generateTimeout = 30 * time.Second

// DefaultDuration is the slate length.
const DefaultDuration = 10 * time.Second

// Request describes the slate to produce.
type Request struct {
	// Title is the announced program title.
	Title string
	// Channel encoding profile the clip must match.
	Width           int
	Height          int
	FPS             int
	VideoBitrate    string
	AudioBitrate    string
	SegmentDuration int
	// Duration of the slate; zero means DefaultDuration.
	Duration time.Duration
	// Background is a hex color like "101020"; empty picks the default.
	Background string
}

// CacheKey returns the SHA-256 hash of every field that affects the encoded
// output. Identical requests share one cached file.
func (r Request) CacheKey() string {
	d := r.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%dx%d|%d|%s|%s|%d|%s|%s",
		r.Title, r.Width, r.Height, r.FPS,
		r.VideoBitrate, r.AudioBitrate, r.SegmentDuration,
		d, r.Background,
	)
	return hex.EncodeToString(h.Sum(nil))
}

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Generator produces and caches up-next slates.
type Generator struct {
	ffmpegPath string
	cacheDir   string
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]*inflight
}

// NewGenerator creates a Generator writing into cacheDir.
func NewGenerator(ffmpegPath, cacheDir string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		ffmpegPath: ffmpegPath,
		cacheDir:   cacheDir,
		logger:     logger,
		running:    make(map[string]*inflight),
	}
}

// ProduceUpNext returns the path of a slate for req, generating it on a
// cache miss. When a generation for the same key is already in flight, the
// in-flight run is killed and generation restarts for this caller: the
// newest request wins.
func (g *Generator) ProduceUpNext(ctx context.Context, req Request) (string, error) {
	key := req.CacheKey()
	outPath := filepath.Join(g.cacheDir, "upnext_"+key[:16]+".ts")

	if _, err := os.Stat(outPath); err == nil {
		return outPath, nil
	}

	g.mu.Lock()
	if prior, ok := g.running[key]; ok {
		g.logger.Debug("killing in-flight bumper generation", slog.String("key", key[:16]))
		prior.cancel()
		g.mu.Unlock()
		<-prior.done
		g.mu.Lock()
	}

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	run := &inflight{cancel: cancel, done: make(chan struct{})}
	g.running[key] = run
	g.mu.Unlock()

	defer func() {
		cancel()
		close(run.done)
		g.mu.Lock()
		if g.running[key] == run {
			delete(g.running, key)
		}
		g.mu.Unlock()
	}()

	if err := os.MkdirAll(g.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating bumper cache dir: %w", err)
	}

	// Render to a temp name, then rename: readers only ever see whole files.
	tmpPath := outPath + ".tmp"
	args := buildSlateArgs(req, tmpPath)

	start := time.Now()
	cmd := exec.CommandContext(genCtx, g.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(tmpPath)
		if genCtx.Err() != nil {
			return "", fmt.Errorf("bumper generation cancelled: %w", genCtx.Err())
		}
		return "", fmt.Errorf("generating bumper: %w (%s)", err, firstLine(output))
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", fmt.Errorf("finalizing bumper: %w", err)
	}

	g.logger.Info("bumper generated",
		slog.String("title", req.Title),
		slog.Duration("took", time.Since(start)),
	)
	return outPath, nil
}

// buildSlateArgs assembles the ffmpeg command for a slate render. GOP and
// keyframe cadence match the channel profile so downstream segmentation
// stays aligned.
func buildSlateArgs(req Request, outPath string) []string {
	duration := req.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	background := req.Background
	if background == "" {
		background = "101020"
	}
	secs := fmt.Sprintf("%.0f", duration.Seconds())
	gop := req.FPS * req.SegmentDuration

	drawtext := fmt.Sprintf(
		"drawtext=text='UP NEXT':fontcolor=white@0.8:fontsize=%d:x=(w-text_w)/2:y=h*0.38,"+
			"drawtext=text='%s':fontcolor=white:fontsize=%d:x=(w-text_w)/2:y=h*0.5",
		req.Height/16, escapeDrawtext(req.Title), req.Height/10,
	)

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x%s:s=%dx%d:r=%d:d=%s", background, req.Width, req.Height, req.FPS, secs),
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=stereo",
		"-vf", drawtext,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", req.VideoBitrate,
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", req.SegmentDuration),
		"-c:a", "aac",
		"-b:a", req.AudioBitrate,
		"-ar", "44100",
		"-ac", "2",
		"-t", secs,
		"-f", "mpegts",
		"-y",
		outPath,
	}
}

// escapeDrawtext escapes characters drawtext treats specially.
func escapeDrawtext(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return replacer.Replace(s)
}

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
