package app

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"log/slog"
	"os"
	"runtime"

	"mediaproxy/internal/cache"
	"mediaproxy/internal/config"
	"mediaproxy/internal/fetcher"
	"mediaproxy/internal/frameextractor"
	"mediaproxy/internal/httpapi"
	"mediaproxy/internal/locker"
	"mediaproxy/internal/orchestrator"
	"mediaproxy/internal/processor"
	"mediaproxy/internal/server"
)

// Build constructs an fx application configured with all dependencies.
func Build(cfg *config.Config) *fx.App {
	logger := newLogger()
	applyRuntimeTuning(logger, cfg)

	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
		fx.Supply(
			cfg,
			logger,
		),
		fx.Provide(
			cache.NewManager,
			processor.New,
			locker.New,
			provideFetcher,
			provideFrameExtractor,
			orchestrator.New,
			httpapi.NewHandler,
		),
		server.Module,
	)
}

func provideFetcher(cfg *config.Config) *fetcher.Fetcher {
	return fetcher.New(cfg.Fetch.Timeout(), cfg.Fetch.MaxImageBytes.Bytes())
}

func provideFrameExtractor(cfg *config.Config, f *fetcher.Fetcher) (*frameextractor.Extractor, error) {
	return frameextractor.New(cfg.Extractor.FFmpegPath, cfg.Extractor.MaxConcurrent, f)
}

func newLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler)
}

func applyRuntimeTuning(logger *slog.Logger, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Runtime.GOMAXPROCS > 0 {
		prev := runtime.GOMAXPROCS(cfg.Runtime.GOMAXPROCS)
		logger.Info("set GOMAXPROCS", "value", cfg.Runtime.GOMAXPROCS, "previous", prev)
	}
	if cfg.Runtime.VIPSConcurrency > 0 {
		configureVipsConcurrency(cfg.Runtime.VIPSConcurrency)
		logger.Info("set libvips concurrency", "value", cfg.Runtime.VIPSConcurrency)
	}
}
