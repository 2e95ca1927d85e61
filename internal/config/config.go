// Package config provides configuration management for retrovue using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 30 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultSegmentDuration     = 4
	defaultPlaylistWindowSize  = 30
	defaultSegmentMaxAge       = 10 * time.Minute
	defaultViewerGracePeriod   = 45 * time.Second
	defaultResumeSeekThreshold = 10 * time.Second
	defaultEPGLookaheadHours   = 48
	defaultEPGCacheMinutes     = 5
	defaultEPGDBCacheMinutes   = 120
	defaultMaxConcurrent       = 8
	defaultTranscoderPreset    = "veryfast"
	defaultStateSaveInterval   = 60 * time.Second
)

// transcoderPresets is the whitelist of accepted FFmpeg presets.
var transcoderPresets = []string{
	"ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow",
}

// hwAccels is the whitelist of accepted hardware acceleration modes.
var hwAccels = []string{"none", "nvenc", "qsv", "videotoolbox"}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	EPG       EPGConfig       `mapstructure:"epg"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequireAuth guards /api/v1 with a static bearer token. Playback
	// endpoints are always open.
	RequireAuth bool   `mapstructure:"require_auth"`
	AuthToken   string `mapstructure:"auth_token"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// BaseDir is the root for channel output directories, bumper cache,
	// and the state file.
	BaseDir string `mapstructure:"base_dir"`
	// AllowedLibraryPaths restricts which filesystem roots media may be
	// scanned or played from. Empty means no restriction.
	AllowedLibraryPaths []string `mapstructure:"allowed_library_paths"`
	// StateSaveInterval is how often runtime channel positions are snapshotted.
	StateSaveInterval time.Duration `mapstructure:"state_save_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StreamingConfig holds playback and transcoder orchestration configuration.
type StreamingConfig struct {
	// SegmentDuration is the HLS segment length in seconds. The encoder GOP
	// is derived as fps * SegmentDuration.
	SegmentDuration int `mapstructure:"segment_duration"`
	// PlaylistWindowSize is the number of segments in the rolling playlist.
	PlaylistWindowSize int `mapstructure:"playlist_window_size"`
	// SegmentMaxAge is how long aged-out segments are retained on disk.
	SegmentMaxAge time.Duration `mapstructure:"segment_max_age"`
	// ViewerGracePeriod is the inactivity window before a channel is stopped.
	ViewerGracePeriod time.Duration `mapstructure:"viewer_grace_period"`
	// EnableResumeSeeking controls whether a restarted item is seeked to the
	// position the linear timeline has advanced to.
	EnableResumeSeeking bool `mapstructure:"enable_resume_seeking"`
	// ResumeSeekThreshold is the minimum offset worth seeking to on resume.
	ResumeSeekThreshold time.Duration `mapstructure:"resume_seek_threshold"`
	// MaxConcurrentStreams caps the number of simultaneously active channels.
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`
	// TranscoderPreset is the x264 preset; must be in the whitelist.
	TranscoderPreset string `mapstructure:"transcoder_preset"`
	// HWAccel selects hardware encoding: none, nvenc, qsv, videotoolbox.
	HWAccel string `mapstructure:"hw_accel"`
}

// EPGConfig holds EPG projection configuration.
type EPGConfig struct {
	LookaheadHours       int `mapstructure:"lookahead_hours"`
	CacheMinutes         int `mapstructure:"cache_minutes"`
	DatabaseCacheMinutes int `mapstructure:"database_cache_minutes"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// Load reads configuration from the given path (or default locations) and
// returns a validated Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("retrovue")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/retrovue")
	}

	v.SetEnvPrefix("RETROVUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults sets default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.require_auth", false)
	v.SetDefault("server.auth_token", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "retrovue.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.allowed_library_paths", []string{})
	v.SetDefault("storage.state_save_interval", defaultStateSaveInterval)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("streaming.segment_duration", defaultSegmentDuration)
	v.SetDefault("streaming.playlist_window_size", defaultPlaylistWindowSize)
	v.SetDefault("streaming.segment_max_age", defaultSegmentMaxAge)
	v.SetDefault("streaming.viewer_grace_period", defaultViewerGracePeriod)
	v.SetDefault("streaming.enable_resume_seeking", true)
	v.SetDefault("streaming.resume_seek_threshold", defaultResumeSeekThreshold)
	v.SetDefault("streaming.max_concurrent_streams", defaultMaxConcurrent)
	v.SetDefault("streaming.transcoder_preset", defaultTranscoderPreset)
	v.SetDefault("streaming.hw_accel", "none")

	v.SetDefault("epg.lookahead_hours", defaultEPGLookaheadHours)
	v.SetDefault("epg.cache_minutes", defaultEPGCacheMinutes)
	v.SetDefault("epg.database_cache_minutes", defaultEPGDBCacheMinutes)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RequireAuth && c.Server.AuthToken == "" {
		return errors.New("server.auth_token is required when server.require_auth is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres, or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return errors.New("storage.base_dir is required")
	}
	for _, p := range c.Storage.AllowedLibraryPaths {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("storage.allowed_library_paths entries must be absolute, got %q", p)
		}
	}

	if c.Streaming.SegmentDuration < 1 || c.Streaming.SegmentDuration > 10 {
		return fmt.Errorf("streaming.segment_duration must be 1-10 seconds, got %d", c.Streaming.SegmentDuration)
	}
	if c.Streaming.PlaylistWindowSize < 3 {
		return fmt.Errorf("streaming.playlist_window_size must be at least 3, got %d", c.Streaming.PlaylistWindowSize)
	}
	if c.Streaming.ViewerGracePeriod < time.Second {
		return fmt.Errorf("streaming.viewer_grace_period must be at least 1s, got %s", c.Streaming.ViewerGracePeriod)
	}
	if c.Streaming.MaxConcurrentStreams < 1 {
		return fmt.Errorf("streaming.max_concurrent_streams must be at least 1, got %d", c.Streaming.MaxConcurrentStreams)
	}
	if !slices.Contains(transcoderPresets, c.Streaming.TranscoderPreset) {
		return fmt.Errorf("streaming.transcoder_preset %q not in whitelist %v", c.Streaming.TranscoderPreset, transcoderPresets)
	}
	if !slices.Contains(hwAccels, c.Streaming.HWAccel) {
		return fmt.Errorf("streaming.hw_accel %q not one of %v", c.Streaming.HWAccel, hwAccels)
	}

	if c.EPG.LookaheadHours < 1 {
		return fmt.Errorf("epg.lookahead_hours must be at least 1, got %d", c.EPG.LookaheadHours)
	}
	if c.EPG.CacheMinutes < 0 || c.EPG.DatabaseCacheMinutes < 0 {
		return errors.New("epg cache durations must be non-negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}

	return nil
}

// Address returns the host:port string for the HTTP server.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChannelOutputDir returns the output directory for a channel slug.
func (c *StorageConfig) ChannelOutputDir(slug string) string {
	return filepath.Join(c.BaseDir, "channels", slug)
}

// BumperCacheDir returns the bumper cache directory.
func (c *StorageConfig) BumperCacheDir() string {
	return filepath.Join(c.BaseDir, "bumpers")
}

// StatePath returns the runtime state file path.
func (c *StorageConfig) StatePath() string {
	return filepath.Join(c.BaseDir, "state.json")
}

// StateBackupPath returns the backup state file path.
func (c *StorageConfig) StateBackupPath() string {
	return filepath.Join(c.BaseDir, "state.backup.json")
}

// PathAllowed reports whether the given path is inside one of the allowed
// library roots. An empty allowlist permits everything.
func (c *StorageConfig) PathAllowed(path string) bool {
	if len(c.AllowedLibraryPaths) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range c.AllowedLibraryPaths {
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
