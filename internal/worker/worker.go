package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/google/uuid"
	"github.com/retrovue/retrovue/internal/models"
	"golang.org/x/time/rate"
)

const (
	// progressPollInterval is how often the playlist is re-read while
	// waiting for the first new segment.
	progressPollInterval = 200 * time.Millisecond
	// initialStartDeadline bounds the wait for a channel's first segment.
	initialStartDeadline = 45 * time.Second
	// transitionDeadline bounds the wait when a playlist already exists.
	transitionDeadline = 35 * time.Second
	// stopGracePeriod is how long SIGTERM gets before SIGKILL.
	stopGracePeriod = 5 * time.Second
	// respawnDelay separates killing a prior worker from spawning its
	// replacement, letting the old process release the playlist file.
	respawnDelay = 200 * time.Millisecond
)

// Handle tracks one live transcoder process.
type Handle struct {
	ChannelID models.ULID
	RunID     string
	PID       int
	StartedAt time.Time

	cmd           *exec.Cmd
	stopRequested atomic.Bool
	done          chan struct{}
}

// Done is closed when the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitFunc receives worker exit events. Events for Stop-initiated exits are
// not delivered.
type ExitFunc func(ExitEvent)

// Manager spawns and supervises transcoder processes, at most one per
// channel.
type Manager struct {
	ffmpegPath string
	logger     *slog.Logger

	mu      sync.Mutex
	handles map[models.ULID]*Handle
}

// NewManager creates a worker manager.
func NewManager(ffmpegPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ffmpegPath: ffmpegPath,
		logger:     logger,
		handles:    make(map[models.ULID]*Handle),
	}
}

// IsActive reports whether a channel has a live worker.
func (m *Manager) IsActive(channelID models.ULID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[channelID]
	return ok
}

// Start launches a transcoder for the channel. Any prior worker for the same
// channel is force-killed first. onExit is invoked exactly once when the
// process ends, unless the end was caused by Stop.
func (m *Manager) Start(ctx context.Context, channel *models.Channel, spec RunSpec, onExit ExitFunc) (*Handle, error) {
	if err := validateInput(spec); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, &StartError{Kind: FailSpawn, Err: fmt.Errorf("creating output dir: %w", err)}
	}

	// Baseline before spawn: a valid existing playlist means this is a
	// transition and progress is "a segment beyond what was there".
	baseline, isTransition := LastSegmentNumber(spec.OutputDir)

	m.mu.Lock()
	if prior, ok := m.handles[channel.ID]; ok {
		m.logger.Warn("force-killing stale worker before start",
			slog.String("channel", channel.Slug),
			slog.Int("pid", prior.PID),
		)
		prior.stopRequested.Store(true)
		_ = prior.cmd.Process.Kill()
		delete(m.handles, channel.ID)
		m.mu.Unlock()
		select {
		case <-prior.done:
		case <-time.After(stopGracePeriod):
		}
		time.Sleep(respawnDelay)
		m.mu.Lock()
	}

	args := BuildArgs(spec)
	cmd := exec.Command(m.ffmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		m.mu.Unlock()
		return nil, &StartError{Kind: FailSpawn, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return nil, &StartError{Kind: FailSpawn, Err: fmt.Errorf("spawning ffmpeg: %w", err)}
	}

	handle := &Handle{
		ChannelID: channel.ID,
		RunID:     uuid.New().String(),
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	m.handles[channel.ID] = handle
	m.mu.Unlock()

	logger := m.logger.With(
		slog.String("channel", channel.Slug),
		slog.String("run_id", handle.RunID),
		slog.Int("pid", handle.PID),
	)
	logger.Info("transcoder started",
		slog.Bool("transition", isTransition),
		slog.Int64("start_number", spec.StartNumber),
		slog.Bool("concat", spec.IsConcat()),
	)

	go m.scanStderr(logger, stderr)
	go m.reap(logger, handle, onExit)
	go m.watchProgress(ctx, logger, spec, baseline, isTransition, handle)

	return handle, nil
}

// Stop terminates a channel's worker: SIGTERM, a grace period, then SIGKILL.
// No exit event is delivered for the stopped process.
func (m *Manager) Stop(channelID models.ULID) error {
	m.mu.Lock()
	handle, ok := m.handles[channelID]
	if ok {
		delete(m.handles, channelID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	handle.stopRequested.Store(true)
	if err := handle.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	select {
	case <-handle.done:
	case <-time.After(stopGracePeriod):
		m.logger.Warn("worker ignored SIGTERM, killing",
			slog.String("channel", channelID.String()),
			slog.Int("pid", handle.PID),
		)
		_ = handle.cmd.Process.Kill()
		<-handle.done
	}
	return nil
}

// StopAll stops every live worker. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]models.ULID, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id models.ULID) {
			defer wg.Done()
			_ = m.Stop(id)
		}(id)
	}
	wg.Wait()
}

// reap waits for the process and classifies the exit.
func (m *Manager) reap(logger *slog.Logger, handle *Handle, onExit ExitFunc) {
	err := handle.cmd.Wait()
	close(handle.done)

	m.mu.Lock()
	if current, ok := m.handles[handle.ChannelID]; ok && current == handle {
		delete(m.handles, handle.ChannelID)
	}
	m.mu.Unlock()

	if handle.stopRequested.Load() {
		logger.Debug("transcoder stopped")
		return
	}

	event := ExitEvent{
		ChannelID: handle.ChannelID,
		RunID:     handle.RunID,
	}
	if err == nil {
		// ffmpeg consumed its whole input: the scheduled item ended.
		event.Graceful = true
		logger.Info("transcoder finished input")
	} else {
		event.Failure = AbnormalExit
		event.Err = err
		logger.Error("transcoder exited abnormally",
			slog.Duration("uptime", time.Since(handle.StartedAt)),
			slog.String("error", err.Error()),
		)
		// Give the filesystem a beat so the last playlist write settles
		// before the scheduler reacts.
		time.Sleep(time.Second)
	}

	if onExit != nil {
		onExit(event)
	}
}

// watchProgress polls the playlist until a new segment appears or the
// deadline passes. A timeout is logged but not fatal: slow storage can hold
// up the first segment without the run being doomed.
func (m *Manager) watchProgress(ctx context.Context, logger *slog.Logger, spec RunSpec, baseline int64, isTransition bool, handle *Handle) {
	deadline := initialStartDeadline
	if isTransition {
		deadline = transitionDeadline
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-handle.done:
			return
		case <-timer.C:
			logger.Warn("no new segment within deadline",
				slog.Duration("deadline", deadline),
			)
			return
		case <-ticker.C:
			last, ok := LastSegmentNumber(spec.OutputDir)
			if !ok {
				continue
			}
			if !isTransition || last > baseline {
				logger.Info("first segment ready",
					slog.Int64("segment", last),
					slog.Duration("took", time.Since(start)),
				)
				return
			}
		}
	}
}

// benignStderrRe matches ffmpeg chatter that is routine for imperfect
// source files and should not alarm anyone reading the logs.
var benignStderrRe = regexp.MustCompile(
	`(?i)deprecated|last message repeated|past duration .* too large|non-monotonic dts|corrupt decoded frame|queue input is backward in time`,
)

// scanStderr forwards ffmpeg stderr to the log, demoting benign chatter to
// debug and rate-limiting the rest so a broken source cannot flood the log.
func (m *Manager) scanStderr(logger *slog.Logger, r io.Reader) {
	limiter := rate.NewLimiter(rate.Every(time.Second), 10)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if benignStderrRe.MatchString(line) {
			logger.Debug("ffmpeg", slog.String("line", line))
			continue
		}
		if limiter.Allow() {
			logger.Warn("ffmpeg", slog.String("line", line))
		}
	}
}

// StartError carries a failure classification for a run that never launched.
type StartError struct {
	Kind FailureKind
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("worker start failed (%s): %v", e.Kind, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// validateInput checks the run's input before spawning anything.
func validateInput(spec RunSpec) error {
	if spec.IsConcat() {
		data, err := os.ReadFile(spec.ConcatManifest)
		if err != nil {
			return &StartError{Kind: FailConcatInvalid, Err: err}
		}
		if !strings.Contains(string(data), "file ") {
			return &StartError{Kind: FailConcatInvalid, Err: fmt.Errorf("manifest %s lists no files", spec.ConcatManifest)}
		}
		return nil
	}
	if spec.SingleInput == "" {
		return &StartError{Kind: FailInputNotFound, Err: errors.New("no input configured")}
	}
	if _, err := os.Stat(spec.SingleInput); err != nil {
		return &StartError{Kind: FailInputNotFound, Err: err}
	}
	return nil
}

var segmentNumRe = regexp.MustCompile(`stream_(\d+)\.ts$`)

// LastSegmentNumber parses the channel's live playlist and returns the
// highest segment number it references. ok is false when the playlist is
// missing, unparsable, or empty; callers treat that as a fresh start.
func LastSegmentNumber(outputDir string) (int64, bool) {
	data, err := os.ReadFile(filepath.Join(outputDir, PlaylistName))
	if err != nil {
		return 0, false
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return 0, false
	}
	media, ok := pl.(*playlist.Media)
	if !ok || len(media.Segments) == 0 {
		return 0, false
	}

	var last int64 = -1
	for _, seg := range media.Segments {
		m := segmentNumRe.FindStringSubmatch(seg.URI)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	if last < 0 {
		return 0, false
	}
	return last, true
}

// NextStartNumber returns the -start_number a new run should use to keep
// segment numbering monotonic for the channel.
func NextStartNumber(outputDir string) int64 {
	last, ok := LastSegmentNumber(outputDir)
	if !ok {
		return 0
	}
	return last + 1
}
