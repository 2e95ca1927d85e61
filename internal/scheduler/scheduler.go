// Package scheduler drives one channel's 24/7 playback. Each channel owns
// a serialising actor: every state mutation (viewer arrival, item end,
// worker exit, retry timers) is an event on a single queue consumed by one
// goroutine, so per-channel state needs no locking discipline beyond the
// queue itself.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/retrovue/retrovue/internal/bumper"
	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/epg"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/resolver"
	"github.com/retrovue/retrovue/internal/timeline"
	"github.com/retrovue/retrovue/internal/worker"
	"golang.org/x/sync/semaphore"
)

const (
	// waitingRetryInterval is how often a channel with nothing scheduled
	// re-asks the resolver.
	waitingRetryInterval = 60 * time.Second
	// failureWindow and failureThreshold define "repeatedly failing": this
	// many abnormal exits inside the window triggers a backoff.
	failureWindow    = 60 * time.Second
	failureThreshold = 3
	// failureBackoff is the pause before retrying a repeatedly failing
	// channel; after maxAttempts backoffs the channel is parked as fatal.
	failureBackoff = 30 * time.Second
	maxAttempts    = 5
	// readyPollInterval paces the playlist polls that confirm a new run is
	// producing segments.
	readyPollInterval = 200 * time.Millisecond
	// lookaheadItems is how many extra items a transition manifest carries
	// beyond the next one, keeping the worker supplied.
	lookaheadItems = 2
)

// WorkerManager is the slice of worker.Manager the scheduler drives.
type WorkerManager interface {
	Start(ctx context.Context, channel *models.Channel, spec worker.RunSpec, onExit worker.ExitFunc) (*worker.Handle, error)
	Stop(channelID models.ULID) error
	IsActive(channelID models.ULID) bool
}

// BumperProducer renders up-next slates.
type BumperProducer interface {
	ProduceUpNext(ctx context.Context, req bumper.Request) (string, error)
}

// TransitionRecorder marks segments that begin a new encode run.
type TransitionRecorder interface {
	RecordTransition(channelID models.ULID, segment int64)
	ClearChannel(channelID models.ULID)
}

// PositionRecoverer resolves the currently airing program's position.
// Satisfied by the EPG projector; the scheduler prefers it over raw
// timeline math after a restart so guide and stream agree.
type PositionRecoverer interface {
	PositionForCurrentProgram(ctx context.Context, channelID models.ULID) (epg.Position, bool, error)
}

type eventKind int

const (
	evActivate eventKind = iota
	evDeactivate
	evWorkerExited
	evWorkerReady
	evRetry
	evReset
	evShutdown
)

type event struct {
	kind  eventKind
	runID string
	exit  worker.ExitEvent
}

// Deps bundles the collaborators a channel scheduler needs.
type Deps struct {
	Channels  repository.ChannelRepository
	Resolver  *resolver.Resolver
	Recovery  PositionRecoverer
	Workers   WorkerManager
	Bumpers   BumperProducer
	Playlists TransitionRecorder
	Semaphore *semaphore.Weighted
	Streaming config.StreamingConfig
	Storage   config.StorageConfig
	Logger    *slog.Logger
}

// Scheduler is the actor for one channel.
type Scheduler struct {
	channel *models.Channel
	deps    Deps
	logger  *slog.Logger

	events chan event
	done   chan struct{}

	now             func() time.Time
	nextStartNumber func(outputDir string) int64
	lastSegment     func(outputDir string) (int64, bool)

	// Actor-owned state. Written only by the run loop; Status reads take
	// the mutex.
	stateMu      sync.Mutex
	state        models.ChannelState
	currentIndex int
	listID       string
	viewerActive bool
	semHeld      bool
	fatal        bool
	currentRunID string
	attempts     int
	failures     []time.Time
	retryTimer   *time.Timer
}

// New creates a scheduler for the channel. Run must be called to start the
// event loop.
func New(channel *models.Channel, deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		channel:         channel,
		deps:            deps,
		logger:          logger.With(slog.String("channel", channel.Slug)),
		events:          make(chan event, 32),
		done:            make(chan struct{}),
		now:             time.Now,
		nextStartNumber: worker.NextStartNumber,
		lastSegment:     worker.LastSegmentNumber,
		state:           models.ChannelStateIdle,
	}
	return s
}


func (s *Scheduler) setState(state models.ChannelState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Status is a point-in-time snapshot for the admin API.
type Status struct {
	ChannelID    models.ULID         `json:"channel_id"`
	Slug         string              `json:"slug"`
	State        models.ChannelState `json:"state"`
	CurrentIndex int                 `json:"current_index"`
	ViewerActive bool                `json:"viewer_active"`
	Fatal        bool                `json:"fatal"`
}

// Status returns the channel's current runtime status.
func (s *Scheduler) Status() Status {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return Status{
		ChannelID:    s.channel.ID,
		Slug:         s.channel.Slug,
		State:        s.state,
		CurrentIndex: s.currentIndex,
		ViewerActive: s.viewerActive,
		Fatal:        s.fatal,
	}
}

// Snapshot captures the persisted runtime position.
func (s *Scheduler) Snapshot() struct {
	CurrentIndex int
	WasStreaming bool
} {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	streaming := s.state == models.ChannelStateStreaming ||
		s.state == models.ChannelStateTransitioning ||
		s.state == models.ChannelStateStarting
	return struct {
		CurrentIndex int
		WasStreaming bool
	}{CurrentIndex: s.currentIndex, WasStreaming: streaming}
}

// RestoreIndex seeds the playlist cursor from a persisted snapshot.
// Restored channels stay Idle until a viewer arrives.
func (s *Scheduler) RestoreIndex(index int) {
	s.stateMu.Lock()
	s.currentIndex = index
	s.stateMu.Unlock()
}

// Activate signals that a viewer arrived.
func (s *Scheduler) Activate() { s.post(event{kind: evActivate}) }

// Deactivate signals that the viewer grace period expired.
func (s *Scheduler) Deactivate() { s.post(event{kind: evDeactivate}) }

// Reset tears down any active run and clears failure history. Admin
// schedule mutations call this.
func (s *Scheduler) Reset() { s.post(event{kind: evReset}) }

// Shutdown stops the actor. It returns once the loop has exited.
func (s *Scheduler) Shutdown() {
	s.post(event{kind: evShutdown})
	<-s.done
}

func (s *Scheduler) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run consumes the event queue until Shutdown. It must be called exactly
// once, in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.stopWorker()
			s.releaseSlot()
			return
		case ev := <-s.events:
			if s.handle(ctx, ev) {
				return
			}
		}
	}
}

// handle processes one event; a true return ends the loop.
func (s *Scheduler) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case evActivate:
		s.onActivate(ctx)
	case evDeactivate:
		s.onDeactivate()
	case evWorkerExited:
		s.onWorkerExited(ctx, ev.exit)
	case evWorkerReady:
		s.onWorkerReady(ev.runID)
	case evRetry:
		s.onRetry(ctx)
	case evReset:
		s.onReset(ctx)
	case evShutdown:
		s.stopWorker()
		s.releaseSlot()
		s.setState(models.ChannelStateIdle)
		return true
	}
	return false
}

func (s *Scheduler) onActivate(ctx context.Context) {
	s.stateMu.Lock()
	s.viewerActive = true
	state := s.state
	fatal := s.fatal
	s.stateMu.Unlock()

	if state != models.ChannelStateIdle {
		return
	}
	if fatal {
		s.logger.Warn("ignoring viewer on fatally failed channel")
		return
	}
	if !s.deps.Semaphore.TryAcquire(1) {
		s.logger.Warn("concurrent stream limit reached, channel stays idle")
		return
	}
	s.semHeld = true
	s.startRun(ctx, true)
}

func (s *Scheduler) onDeactivate() {
	s.stateMu.Lock()
	s.viewerActive = false
	state := s.state
	s.stateMu.Unlock()

	switch state {
	case models.ChannelStateStarting, models.ChannelStateStreaming, models.ChannelStateTransitioning:
		s.setState(models.ChannelStateStopping)
		s.stopWorker()
		s.cancelRetry()
		s.releaseSlot()
		s.setState(models.ChannelStateIdle)
		s.logger.Info("channel stopped, no viewers")
	case models.ChannelStateWaiting:
		s.cancelRetry()
		s.releaseSlot()
		s.setState(models.ChannelStateIdle)
	}
}

func (s *Scheduler) onWorkerExited(ctx context.Context, exit worker.ExitEvent) {
	if exit.RunID != s.currentRunID {
		// A straggler from a run we already replaced.
		return
	}

	s.stateMu.Lock()
	state := s.state
	s.stateMu.Unlock()
	if state == models.ChannelStateIdle || state == models.ChannelStateStopping {
		return
	}

	if exit.Graceful {
		// The scheduled input finished: advance to the next item.
		s.advance(ctx)
		return
	}
	s.onWorkerFailed(ctx, exit)
}

func (s *Scheduler) onWorkerFailed(ctx context.Context, exit worker.ExitEvent) {
	now := s.now()
	s.failures = append(s.failures, now)
	cutoff := now.Add(-failureWindow)
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = kept

	if len(s.failures) < failureThreshold {
		s.logger.Warn("worker failed, restarting",
			slog.Int("recent_failures", len(s.failures)),
			slog.String("error", errString(exit.Err)),
		)
		s.startRun(ctx, true)
		return
	}

	s.attempts++
	if s.attempts >= maxAttempts {
		s.logger.Error("channel failed repeatedly, giving up",
			slog.Int("attempts", s.attempts),
		)
		s.stateMu.Lock()
		s.fatal = true
		s.state = models.ChannelStateIdle
		s.stateMu.Unlock()
		s.releaseSlot()
		return
	}

	s.logger.Warn("worker failing repeatedly, backing off",
		slog.Int("attempt", s.attempts),
		slog.Duration("backoff", failureBackoff),
	)
	s.failures = nil
	s.setState(models.ChannelStateWaiting)
	s.scheduleRetry(failureBackoff)
}

func (s *Scheduler) onWorkerReady(runID string) {
	if runID != s.currentRunID {
		return
	}
	s.stateMu.Lock()
	if s.state == models.ChannelStateStarting || s.state == models.ChannelStateTransitioning {
		s.state = models.ChannelStateStreaming
	}
	s.stateMu.Unlock()
}

func (s *Scheduler) onRetry(ctx context.Context) {
	s.stateMu.Lock()
	state := s.state
	active := s.viewerActive
	s.stateMu.Unlock()
	if state != models.ChannelStateWaiting {
		return
	}
	if !active {
		s.releaseSlot()
		s.setState(models.ChannelStateIdle)
		return
	}
	s.startRun(ctx, true)
}

func (s *Scheduler) onReset(ctx context.Context) {
	s.cancelRetry()
	s.stopWorker()
	s.deps.Playlists.ClearChannel(s.channel.ID)

	s.stateMu.Lock()
	s.fatal = false
	s.currentIndex = 0
	s.listID = ""
	active := s.viewerActive
	s.stateMu.Unlock()
	s.attempts = 0
	s.failures = nil

	if active && s.semHeld {
		s.startRun(ctx, true)
	} else {
		s.releaseSlot()
		s.setState(models.ChannelStateIdle)
	}
}

// startRun resolves the playlist and spawns a worker playing the current
// item. resume controls whether playback seeks to the deterministic
// mid-file position (viewer joins, restarts) or starts the item cold.
func (s *Scheduler) startRun(ctx context.Context, resume bool) {
	now := s.now()
	res, err := s.deps.Resolver.Resolve(ctx, s.channel, now)
	if err != nil {
		s.enterWaiting(ctx, err)
		return
	}

	s.recordAnchorIfAbsent(ctx, now)

	index, seek := s.resumePosition(ctx, now, res.Items)
	if !resume {
		seek = 0
	}

	s.stateMu.Lock()
	s.currentIndex = index
	s.listID = listID(res.Items)
	s.state = models.ChannelStateStarting
	s.stateMu.Unlock()

	item := res.Items[index]
	spec := s.baseSpec()
	spec.SingleInput = item.Path
	spec.StartPosition = seek
	spec.StartNumber = s.nextStartNumber(s.outputDir())

	if spec.StartNumber > 0 {
		// Joining an existing playlist: the first segment of this run is a
		// new encode, so players need a discontinuity there.
		s.deps.Playlists.RecordTransition(s.channel.ID, spec.StartNumber)
	}

	s.spawn(ctx, spec, item.Title)
}

// advance is the itemEnd policy: pick the next item, render its bumper,
// and hand the worker a concat manifest of bumper + item + lookahead.
func (s *Scheduler) advance(ctx context.Context) {
	now := s.now()
	res, err := s.deps.Resolver.Resolve(ctx, s.channel, now)
	if err != nil {
		s.enterWaiting(ctx, err)
		return
	}

	newList := listID(res.Items)
	s.stateMu.Lock()
	if newList != s.listID {
		// Schedule block changed under us: restart the rotation.
		s.listID = newList
		s.currentIndex = 0
	} else {
		s.currentIndex = s.nextIndex(res, s.currentIndex)
	}
	index := s.currentIndex
	s.state = models.ChannelStateTransitioning
	s.stateMu.Unlock()

	entries, lastIndex := s.manifestEntries(ctx, res.Items, index)

	s.stateMu.Lock()
	s.currentIndex = lastIndex
	s.stateMu.Unlock()

	manifestPath := filepath.Join(s.outputDir(), "next.concat")
	if err := writeConcatManifest(manifestPath, entries); err != nil {
		s.logger.Error("writing concat manifest", slog.String("error", err.Error()))
		s.enterWaiting(ctx, err)
		return
	}

	spec := s.baseSpec()
	spec.ConcatManifest = manifestPath
	spec.StartNumber = s.nextStartNumber(s.outputDir())

	// The new run re-encodes from scratch; its first segment needs a
	// discontinuity tag.
	s.deps.Playlists.RecordTransition(s.channel.ID, spec.StartNumber)

	s.spawn(ctx, spec, res.Items[index].Title)
}

// manifestEntries builds the concat file list: a bumper announcing the
// item at index, the item itself, then up to lookaheadItems more. The
// returned lastIndex is the playlist position of the final real item.
func (s *Scheduler) manifestEntries(ctx context.Context, items []timeline.Item, index int) ([]string, int) {
	next := items[index]

	var entries []string
	bumperPath, err := s.deps.Bumpers.ProduceUpNext(ctx, bumper.Request{
		Title:           next.Title,
		Width:           s.channel.Width,
		Height:          s.channel.Height,
		FPS:             s.channel.FPS,
		VideoBitrate:    s.channel.VideoBitrate,
		AudioBitrate:    s.channel.AudioBitrate,
		SegmentDuration: s.channel.SegmentDuration,
	})
	if err != nil {
		// A missing bumper never blocks playback.
		s.logger.Warn("bumper generation failed, transitioning without one",
			slog.String("error", err.Error()),
		)
	} else {
		entries = append(entries, bumperPath)
	}

	entries = append(entries, next.Path)
	lastIndex := index
	// Lookahead stops at the list end: wrapping is the next advance's
	// decision, because the resolver may return a different list by then.
	for i := 1; i <= lookaheadItems; i++ {
		lookahead := index + i
		if lookahead >= len(items) {
			break
		}
		entries = append(entries, items[lookahead].Path)
		lastIndex = lookahead
	}
	return entries, lastIndex
}

// nextIndex advances the cursor according to the block's playback mode.
// Sequential wraps; shuffle avoids an immediate repeat; random is
// unconstrained.
func (s *Scheduler) nextIndex(res *resolver.Resolution, current int) int {
	n := len(res.Items)
	switch res.PlaybackMode {
	case models.PlaybackModeRandom:
		return rand.Intn(n)
	case models.PlaybackModeShuffle:
		if n == 1 {
			return 0
		}
		next := rand.Intn(n - 1)
		if next >= current {
			next++
		}
		return next
	default:
		return (current + 1) % n
	}
}

// resumePosition asks the EPG for the airing program first so the stream
// matches the guide, and falls back to pure timeline math.
func (s *Scheduler) resumePosition(ctx context.Context, now time.Time, items []timeline.Item) (int, time.Duration) {
	if s.deps.Recovery != nil {
		pos, ok, err := s.deps.Recovery.PositionForCurrentProgram(ctx, s.channel.ID)
		if err != nil {
			s.logger.Warn("EPG position recovery failed, using timeline",
				slog.String("error", err.Error()),
			)
		} else if ok && pos.FileIndex < len(items) {
			return pos.FileIndex, s.clampSeek(pos.SeekPosition, items[pos.FileIndex])
		}
	}

	pos, err := timeline.PositionAt(s.channel.Anchor(), now, items)
	if err != nil {
		return 0, 0
	}
	return pos.Index, s.clampSeek(pos.Offset, items[pos.Index])
}

// clampSeek applies the resume-seeking policy: disabled or sub-threshold
// offsets start the item from the top.
func (s *Scheduler) clampSeek(seek time.Duration, item timeline.Item) time.Duration {
	if !s.deps.Streaming.EnableResumeSeeking {
		return 0
	}
	if seek < s.deps.Streaming.ResumeSeekThreshold {
		return 0
	}
	if seek >= item.Duration {
		return 0
	}
	return seek
}

func (s *Scheduler) spawn(ctx context.Context, spec worker.RunSpec, title string) {
	baseline, hadPlaylist := s.lastSegment(spec.OutputDir)

	handle, err := s.deps.Workers.Start(ctx, s.channel, spec, func(exit worker.ExitEvent) {
		s.post(event{kind: evWorkerExited, exit: exit})
	})
	if err != nil {
		s.logger.Error("worker start failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		s.onWorkerFailed(ctx, worker.ExitEvent{ChannelID: s.channel.ID, Failure: worker.FailSpawn, Err: err})
		return
	}

	s.currentRunID = handle.RunID
	s.logger.Info("run started",
		slog.String("title", title),
		slog.Int64("start_number", spec.StartNumber),
		slog.Bool("concat", spec.IsConcat()),
	)

	go s.watchReady(ctx, handle.RunID, spec.OutputDir, baseline, hadPlaylist)
}

// watchReady polls the playlist until the new run produces a segment, then
// reports readiness to the actor. Worker exit or shutdown ends the watch.
func (s *Scheduler) watchReady(ctx context.Context, runID, outputDir string, baseline int64, hadPlaylist bool) {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			last, ok := s.lastSegment(outputDir)
			if !ok {
				continue
			}
			if !hadPlaylist || last > baseline {
				s.post(event{kind: evWorkerReady, runID: runID})
				return
			}
		}
	}
}

// enterWaiting parks the channel when nothing resolves, retrying every
// minute or sleeping straight through to the next scheduled block.
func (s *Scheduler) enterWaiting(ctx context.Context, cause error) {
	s.setState(models.ChannelStateWaiting)

	delay := waitingRetryInterval
	next, ok, err := s.deps.Resolver.NextBlockStart(ctx, s.channel.ID, s.now())
	if err == nil && ok {
		if until := next.Sub(s.now()); until > delay {
			delay = until
		}
	}

	s.logger.Info("nothing scheduled, waiting",
		slog.Duration("retry_in", delay),
		slog.String("cause", errString(cause)),
	)
	s.scheduleRetry(delay)
}

func (s *Scheduler) scheduleRetry(delay time.Duration) {
	s.cancelRetry()
	s.retryTimer = time.AfterFunc(delay, func() {
		s.post(event{kind: evRetry})
	})
}

func (s *Scheduler) cancelRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Scheduler) stopWorker() {
	if s.deps.Workers.IsActive(s.channel.ID) {
		if err := s.deps.Workers.Stop(s.channel.ID); err != nil {
			s.logger.Warn("stopping worker", slog.String("error", err.Error()))
		}
	}
	s.currentRunID = ""
}

func (s *Scheduler) releaseSlot() {
	if s.semHeld {
		s.deps.Semaphore.Release(1)
		s.semHeld = false
	}
}

// recordAnchorIfAbsent pins the channel's schedule epoch the first time it
// ever streams, making every later position computation deterministic. The
// pin prefers the channel's creation time so it agrees with the Anchor
// fallback guides were already projected from.
func (s *Scheduler) recordAnchorIfAbsent(ctx context.Context, now time.Time) {
	if s.channel.AnchorTime != 0 {
		return
	}
	anchor := s.channel.CreatedAt
	if anchor.IsZero() {
		anchor = now
	}
	s.channel.AnchorTime = anchor.Unix()
	if err := s.deps.Channels.Update(ctx, s.channel); err != nil {
		s.logger.Warn("persisting schedule anchor", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) baseSpec() worker.RunSpec {
	spec := worker.SpecFromChannel(
		s.channel,
		s.outputDir(),
		s.deps.Streaming.PlaylistWindowSize,
		s.deps.Streaming.SegmentMaxAge,
	)
	spec.Preset = s.deps.Streaming.TranscoderPreset
	spec.HWAccel = s.deps.Streaming.HWAccel
	if spec.SegmentDuration == 0 {
		spec.SegmentDuration = s.deps.Streaming.SegmentDuration
	}
	return spec
}

func (s *Scheduler) outputDir() string {
	return s.deps.Storage.ChannelOutputDir(s.channel.Slug)
}

func listID(items []timeline.Item) string {
	id := ""
	for _, item := range items {
		id += item.ID + "|"
	}
	return id
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

