package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/chaos-io/rembg-cli/rembg"
)

const envPrefix = "REMBG_"

// Config holds all application configuration.
type Config struct {
	Source      string `env:"SOURCE" envDefault:"input.jpg"`
	Destination string `env:"DESTINATION" envDefault:"output/output.png"`

	Backend      string        `env:"BACKEND" envDefault:"rembg"`
	Endpoint     string        `env:"ENDPOINT"`
	Model        string        `env:"MODEL"`
	Workflow     string        `env:"WORKFLOW"` // ComfyUI API workflow file, embedded BiRefNet workflow when empty
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"2m"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	MaxSize         int  `env:"MAX_SIZE" envDefault:"0"`
	SkipTransparent bool `env:"SKIP_TRANSPARENT" envDefault:"false"`
	VerifyOutput    bool `env:"VERIFY_OUTPUT" envDefault:"false"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"24h"`
	CacheNamespace string        `env:"CACHE_NAMESPACE" envDefault:"rembg"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from REMBG_* environment variables (and a .env file
// when present), then applies command-line flags from args on top.
func Load(args []string) (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := cfg.FlagSet("rembg-cli")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration built from the environment only, used for
// printing flag defaults.
func Defaults() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix})
	return cfg
}

// FlagSet binds every option to a flag whose default is the current value.
func (c *Config) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.Source, "src", c.Source, "path to the source image")
	fs.StringVar(&c.Destination, "dst", c.Destination, "path of the image without background")
	fs.StringVar(&c.Backend, "backend", c.Backend, "background removal backend: "+strings.Join(rembg.Backends(), ", "))
	fs.StringVar(&c.Endpoint, "endpoint", c.Endpoint, "base URL of the backend service")
	fs.StringVar(&c.Model, "model", c.Model, "model name passed to the rembg server")
	fs.StringVar(&c.Workflow, "workflow", c.Workflow, "ComfyUI workflow file in API format")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "timeout of a single backend request")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "ComfyUI history poll interval")
	fs.IntVar(&c.MaxSize, "max-size", c.MaxSize, "downscale inputs whose longest side exceeds this, 0 disables")
	fs.BoolVar(&c.SkipTransparent, "skip-transparent", c.SkipTransparent, "return PNG inputs that already have transparency unchanged")
	fs.BoolVar(&c.VerifyOutput, "verify", c.VerifyOutput, "fail when the backend output is not a decodable image")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "redis address for the result cache, empty disables caching")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "result cache TTL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	return fs
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source) == "" {
		errs = append(errs, errors.New("source path is required"))
	}
	if strings.TrimSpace(c.Destination) == "" {
		errs = append(errs, errors.New("destination path is required"))
	}
	if c.Source != "" && c.Destination != "" && filepath.Clean(c.Source) == filepath.Clean(c.Destination) {
		errs = append(errs, errors.New("source and destination must differ"))
	}
	if !rembg.IsBackend(c.Backend) {
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("max size must not be negative, got %d", c.MaxSize))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// CacheVariant identifies the backend configuration in cache keys.
func (c *Config) CacheVariant() string {
	parts := []string{strings.ToLower(c.Backend)}
	if c.Model != "" {
		parts = append(parts, c.Model)
	}
	if c.Workflow != "" {
		parts = append(parts, filepath.Base(c.Workflow))
	}
	return strings.Join(parts, "-")
}
