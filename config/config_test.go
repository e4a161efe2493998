package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "input.jpg", cfg.Source)
	assert.Equal(t, "output/output.png", cfg.Destination)
	assert.Equal(t, "rembg", cfg.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "rembg", cfg.CacheNamespace)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.VerifyOutput)
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("REMBG_SOURCE", "attached_assets/photo.jpg")
	t.Setenv("REMBG_DESTINATION", "client/public/mascot.png")
	t.Setenv("REMBG_BACKEND", "comfyui")
	t.Setenv("REMBG_TIMEOUT", "30s")
	t.Setenv("REMBG_SKIP_TRANSPARENT", "true")
	t.Setenv("REMBG_REDIS_ADDR", "localhost:6379")

	cfg, err := Load([]string{"-dst", "out/other.png", "-max-size", "1024", "-log-level", "debug"})
	require.NoError(t, err)

	assert.Equal(t, "attached_assets/photo.jpg", cfg.Source)
	assert.Equal(t, "out/other.png", cfg.Destination)
	assert.Equal(t, "comfyui", cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.SkipTransparent)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 1024, cfg.MaxSize)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{name: "bad duration env", env: map[string]string{"REMBG_TIMEOUT": "soon"}, wantErr: "parse env"},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: "flag provided but not defined"},
		{name: "positional args", args: []string{"extra"}, wantErr: "unexpected arguments"},
		{name: "unknown backend", args: []string{"-backend", "gimp"}, wantErr: `unknown backend "gimp"`},
		{name: "same paths", args: []string{"-src", "a/b.png", "-dst", "a/./b.png"}, wantErr: "must differ"},
		{name: "empty source", args: []string{"-src", " "}, wantErr: "source path is required"},
		{name: "negative max size", args: []string{"-max-size", "-1"}, wantErr: "max size"},
		{name: "bad log level", args: []string{"-log-level", "loud"}, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_CacheVariant(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "backend only", cfg: Config{Backend: "rembg"}, want: "rembg"},
		{name: "with model", cfg: Config{Backend: "rembg", Model: "u2net"}, want: "rembg-u2net"},
		{name: "with workflow", cfg: Config{Backend: "ComfyUI", Workflow: "/etc/wf/birefnet.json"}, want: "comfyui-birefnet.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.CacheVariant())
		})
	}
}
