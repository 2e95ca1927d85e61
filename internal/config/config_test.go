package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, defaultConfig(t).Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "auth enabled without token",
			mutate:  func(c *Config) { c.Server.RequireAuth = true },
			wantErr: "server.auth_token",
		},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "relative library path",
			mutate:  func(c *Config) { c.Storage.AllowedLibraryPaths = []string{"media"} },
			wantErr: "allowed_library_paths",
		},
		{
			name:    "segment duration too long",
			mutate:  func(c *Config) { c.Streaming.SegmentDuration = 11 },
			wantErr: "segment_duration",
		},
		{
			name:    "preset not whitelisted",
			mutate:  func(c *Config) { c.Streaming.TranscoderPreset = "placebo" },
			wantErr: "transcoder_preset",
		},
		{
			name:    "unknown hardware accel",
			mutate:  func(c *Config) { c.Streaming.HWAccel = "vaapi" },
			wantErr: "hw_accel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AuthTokenSatisfiesRequireAuth(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Server.RequireAuth = true
	cfg.Server.AuthToken = "secret"
	assert.NoError(t, cfg.Validate())
}
