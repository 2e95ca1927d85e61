package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/epg"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/observability"
	"github.com/retrovue/retrovue/internal/repository"
	"github.com/retrovue/retrovue/internal/resolver"
	"github.com/retrovue/retrovue/internal/scheduler"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// APIHandler implements the admin API under /api/v1.
type APIHandler struct {
	channels   repository.ChannelRepository
	schedulers *scheduler.Group
	guide      *epg.Projector
	resolve    *resolver.Resolver
	db         *database.DB
	redactor   *observability.PathRedactor
	version    string
	startTime  time.Time
	logger     *slog.Logger
}

// NewAPIHandler creates the admin API handler.
func NewAPIHandler(
	channels repository.ChannelRepository,
	schedulers *scheduler.Group,
	guide *epg.Projector,
	resolve *resolver.Resolver,
	db *database.DB,
	redactor *observability.PathRedactor,
	version string,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if redactor == nil {
		redactor = observability.NewPathRedactor()
	}
	return &APIHandler{
		channels:   channels,
		schedulers: schedulers,
		guide:      guide,
		resolve:    resolve,
		db:         db,
		redactor:   redactor,
		version:    version,
		startTime:  time.Now(),
		logger:     logger,
	}
}

// Register registers every admin operation with the API.
func (h *APIHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Description: "Returns every channel with its live scheduler status.",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelStatus",
		Method:      "GET",
		Path:        "/api/v1/channels/{slug}/status",
		Summary:     "Get channel status",
		Tags:        []string{"Channels"},
	}, h.GetChannelStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelGuide",
		Method:      "GET",
		Path:        "/api/v1/channels/{slug}/guide",
		Summary:     "Get projected guide",
		Description: "Returns the channel's projected programs within the horizon.",
		Tags:        []string{"EPG"},
	}, h.GetChannelGuide)

	huma.Register(api, huma.Operation{
		OperationID: "invalidateChannelGuide",
		Method:      "POST",
		Path:        "/api/v1/channels/{slug}/guide/invalidate",
		Summary:     "Invalidate cached guide",
		Description: "Drops both EPG cache tiers so the next read reprojects.",
		Tags:        []string{"EPG"},
	}, h.InvalidateChannelGuide)

	huma.Register(api, huma.Operation{
		OperationID: "resetChannel",
		Method:      "POST",
		Path:        "/api/v1/channels/{slug}/reset",
		Summary:     "Reset channel scheduler",
		Description: "Clears the fatal flag, playlist cursor, and pending discontinuity markers.",
		Tags:        []string{"Channels"},
	}, h.ResetChannel)

	huma.Register(api, huma.Operation{
		OperationID: "previewChannelPlaylist",
		Method:      "GET",
		Path:        "/api/v1/channels/{slug}/playlist",
		Summary:     "Preview resolved playlist",
		Description: "Resolves the channel's schedule for the current instant without touching playback.",
		Tags:        []string{"Channels"},
	}, h.PreviewPlaylist)
}

// HealthOutput is the health endpoint response.
type HealthOutput struct {
	Body struct {
		Status        string  `json:"status"`
		Version       string  `json:"version"`
		Timestamp     string  `json:"timestamp"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		GoVersion     string  `json:"go_version"`
		Load1         float64 `json:"load_1,omitempty"`
		MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
		Database      string  `json:"database"`
		ActiveStreams int     `json:"active_streams"`
	}
}

// GetHealth reports service health and coarse system metrics.
func (h *APIHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = h.version
	out.Body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	out.Body.UptimeSeconds = time.Since(h.startTime).Seconds()
	out.Body.GoVersion = runtime.Version()

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Body.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.Body.MemoryUsedPct = vm.UsedPercent
	}

	out.Body.Database = "ok"
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			out.Body.Database = "unreachable"
			out.Body.Status = "degraded"
		}
	}

	for _, s := range h.schedulers.All() {
		switch s.Status().State {
		case models.ChannelStateStreaming, models.ChannelStateTransitioning:
			out.Body.ActiveStreams++
		}
	}

	return out, nil
}

// ChannelStatusBody is one channel's combined configuration and runtime view.
type ChannelStatusBody struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Enabled      bool   `json:"enabled"`
	State        string `json:"state"`
	CurrentIndex int    `json:"current_index"`
	ViewerActive bool   `json:"viewer_active"`
	Fatal        bool   `json:"fatal"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FPS          int    `json:"fps"`
}

// ListChannelsOutput is the channel list response.
type ListChannelsOutput struct {
	Body struct {
		Items []ChannelStatusBody `json:"items"`
		Total int                 `json:"total"`
	}
}

// ListChannels returns every channel with scheduler status merged in.
func (h *APIHandler) ListChannels(ctx context.Context, _ *struct{}) (*ListChannelsOutput, error) {
	channels, err := h.channels.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing channels: " + h.redactor.RedactError(err))
	}

	out := &ListChannelsOutput{}
	out.Body.Items = make([]ChannelStatusBody, 0, len(channels))
	for _, channel := range channels {
		out.Body.Items = append(out.Body.Items, h.statusBody(channel))
	}
	out.Body.Total = len(out.Body.Items)
	return out, nil
}

// ChannelSlugInput selects a channel by slug.
type ChannelSlugInput struct {
	Slug string `path:"slug" maxLength:"100"`
}

// ChannelStatusOutput is a single channel status response.
type ChannelStatusOutput struct {
	Body ChannelStatusBody
}

// GetChannelStatus returns one channel's status.
func (h *APIHandler) GetChannelStatus(ctx context.Context, input *ChannelSlugInput) (*ChannelStatusOutput, error) {
	channel, err := h.loadChannel(ctx, input.Slug)
	if err != nil {
		return nil, err
	}
	return &ChannelStatusOutput{Body: h.statusBody(channel)}, nil
}

// GuideInput selects a channel and optional horizon.
type GuideInput struct {
	Slug         string `path:"slug" maxLength:"100"`
	HorizonHours int    `query:"horizon_hours" minimum:"0" maximum:"168"`
}

// GuideProgram is one projected program in API form.
type GuideProgram struct {
	Start      time.Time `json:"start"`
	Stop       time.Time `json:"stop"`
	Title      string    `json:"title"`
	SubTitle   string    `json:"sub_title,omitempty"`
	EpisodeNum string    `json:"episode_num,omitempty"`
	Index      int       `json:"index"`
}

// GuideOutput is the projected guide response.
type GuideOutput struct {
	Body struct {
		Slug     string         `json:"slug"`
		Programs []GuideProgram `json:"programs"`
	}
}

// GetChannelGuide returns the channel's projected programs.
func (h *APIHandler) GetChannelGuide(ctx context.Context, input *GuideInput) (*GuideOutput, error) {
	channel, err := h.loadChannel(ctx, input.Slug)
	if err != nil {
		return nil, err
	}

	programs, err := h.guide.Programs(ctx, channel.ID, input.HorizonHours)
	if err != nil {
		return nil, huma.Error500InternalServerError("projecting guide: " + h.redactor.RedactError(err))
	}

	out := &GuideOutput{}
	out.Body.Slug = channel.Slug
	out.Body.Programs = make([]GuideProgram, 0, len(programs))
	for _, p := range programs {
		out.Body.Programs = append(out.Body.Programs, GuideProgram{
			Start:      p.Start,
			Stop:       p.Stop,
			Title:      p.Title,
			SubTitle:   p.SubTitle,
			EpisodeNum: p.EpisodeNum,
			Index:      p.Index,
		})
	}
	return out, nil
}

// InvalidateOutput acknowledges a cache invalidation.
type InvalidateOutput struct {
	Body struct {
		Invalidated bool `json:"invalidated"`
	}
}

// InvalidateChannelGuide drops the channel's cached guide.
func (h *APIHandler) InvalidateChannelGuide(ctx context.Context, input *ChannelSlugInput) (*InvalidateOutput, error) {
	channel, err := h.loadChannel(ctx, input.Slug)
	if err != nil {
		return nil, err
	}

	if err := h.guide.Invalidate(ctx, channel.ID); err != nil {
		return nil, huma.Error500InternalServerError("invalidating guide: " + h.redactor.RedactError(err))
	}

	out := &InvalidateOutput{}
	out.Body.Invalidated = true
	return out, nil
}

// ResetOutput acknowledges a scheduler reset.
type ResetOutput struct {
	Body struct {
		Reset bool `json:"reset"`
	}
}

// ResetChannel clears a channel scheduler's fatal state and cursor.
func (h *APIHandler) ResetChannel(ctx context.Context, input *ChannelSlugInput) (*ResetOutput, error) {
	channel, err := h.loadChannel(ctx, input.Slug)
	if err != nil {
		return nil, err
	}

	s, ok := h.schedulers.Get(channel.ID)
	if !ok {
		return nil, huma.Error404NotFound("channel is not managed")
	}
	s.Reset()

	out := &ResetOutput{}
	out.Body.Reset = true
	return out, nil
}

// PlaylistItem is one resolved playlist entry in API form. Media paths are
// deliberately absent.
type PlaylistItem struct {
	Index      int     `json:"index"`
	Title      string  `json:"title"`
	SubTitle   string  `json:"sub_title,omitempty"`
	DurationS  float64 `json:"duration_seconds"`
	EpisodeNum string  `json:"episode_num,omitempty"`
}

// PreviewOutput is the resolver preview response.
type PreviewOutput struct {
	Body struct {
		Slug         string         `json:"slug"`
		PlaybackMode string         `json:"playback_mode"`
		BlockID      string         `json:"block_id,omitempty"`
		BlockWindow  string         `json:"block_window,omitempty"`
		Items        []PlaylistItem `json:"items"`
	}
}

// PreviewPlaylist resolves the channel for the current instant.
func (h *APIHandler) PreviewPlaylist(ctx context.Context, input *ChannelSlugInput) (*PreviewOutput, error) {
	channel, err := h.loadChannel(ctx, input.Slug)
	if err != nil {
		return nil, err
	}

	resolution, err := h.resolve.Resolve(ctx, channel, time.Now())
	if err != nil {
		return nil, huma.Error500InternalServerError("resolving playlist: " + h.redactor.RedactError(err))
	}

	out := &PreviewOutput{}
	out.Body.Slug = channel.Slug
	out.Body.PlaybackMode = resolution.PlaybackMode
	if resolution.Block != nil {
		out.Body.BlockID = resolution.Block.ID.String()
		out.Body.BlockWindow = resolution.Block.StartTime + "-" + resolution.Block.EndTime
	}
	out.Body.Items = make([]PlaylistItem, 0, len(resolution.Items))
	for i, item := range resolution.Items {
		out.Body.Items = append(out.Body.Items, PlaylistItem{
			Index:      i,
			Title:      item.Title,
			SubTitle:   item.SubTitle,
			DurationS:  item.Duration.Seconds(),
			EpisodeNum: item.EpisodeNum,
		})
	}
	return out, nil
}

func (h *APIHandler) loadChannel(ctx context.Context, slug string) (*models.Channel, error) {
	channel, err := h.channels.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, models.ErrChannelNotFound) {
			return nil, huma.Error404NotFound("channel not found")
		}
		return nil, huma.Error500InternalServerError("loading channel: " + h.redactor.RedactError(err))
	}
	return channel, nil
}

func (h *APIHandler) statusBody(channel *models.Channel) ChannelStatusBody {
	body := ChannelStatusBody{
		ID:      channel.ID.String(),
		Name:    channel.Name,
		Slug:    channel.Slug,
		Enabled: channel.IsEnabled(),
		State:   string(models.ChannelStateIdle),
		Width:   channel.Width,
		Height:  channel.Height,
		FPS:     channel.FPS,
	}
	if s, ok := h.schedulers.Get(channel.ID); ok {
		status := s.Status()
		body.State = string(status.State)
		body.CurrentIndex = status.CurrentIndex
		body.ViewerActive = status.ViewerActive
		body.Fatal = status.Fatal
	}
	return body
}
