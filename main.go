package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/chaos-io/rembg-cli/config"
	"github.com/chaos-io/rembg-cli/rembg"
	"github.com/chaos-io/rembg-cli/runner"
	"github.com/chaos-io/rembg-cli/util"
	nhttp "github.com/chaos-io/rembg-cli/util/http"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage()
			return
		}
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("background removal failed", "src", cfg.Source, "dst", cfg.Destination, "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	defer util.Trace("rembg-cli")()

	remover, closeFn, err := buildRemover(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	r := runner.New(remover, runner.WithVerifyOutput(cfg.VerifyOutput))
	return r.Run(ctx, cfg.Source, cfg.Destination)
}

// buildRemover 组装 Preprocessor -> CachingRemover -> 后端
func buildRemover(ctx context.Context, cfg *config.Config) (rembg.Remover, func(), error) {
	cli := nhttp.NewHTTPClientWithTimeout(cfg.Timeout)

	opts := rembg.Options{
		Backend:  cfg.Backend,
		Endpoint: cfg.Endpoint,
		Server: []rembg.ServerOption{
			rembg.WithServerClient(cli),
			rembg.WithServerModel(cfg.Model),
		},
		BiRefNet: []rembg.BiRefNetOption{
			rembg.WithBiRefNetClient(cli),
			rembg.WithPollInterval(cfg.PollInterval),
		},
	}
	if cfg.Workflow != "" {
		workflow, err := os.ReadFile(cfg.Workflow)
		if err != nil {
			return nil, nil, fmt.Errorf("read workflow: %w", err)
		}
		opts.BiRefNet = append(opts.BiRefNet, rembg.WithWorkflow(workflow))
	}

	backend, err := rembg.New(opts)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// 缓存不可用时直接调用后端
			slog.Warn("redis unavailable, result cache disabled", "address", cfg.RedisAddr, "error", err)
			_ = rdb.Close()
			rdb = nil
		} else {
			slog.Debug("redis connection successful", "address", cfg.RedisAddr)
			closeFn = func() { _ = rdb.Close() }
		}
	}

	cached := rembg.NewCachingRemover(rdb, cfg.CacheTTL, backend, cfg.CacheNamespace, cfg.CacheVariant())
	return rembg.NewPreprocessor(cached, cfg.MaxSize, cfg.SkipTransparent), closeFn, nil
}

func usage() {
	fs := config.Defaults().FlagSet("rembg-cli")
	fs.SetOutput(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage: rembg-cli [flags]")
	fmt.Fprintln(os.Stderr, "Every flag can also be set through REMBG_* environment variables or a .env file.")
	fs.PrintDefaults()
}
