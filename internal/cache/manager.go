package cache

import (
	"context"
	"log/slog"
	"time"

	"mediaproxy/internal/config"
	"mediaproxy/pkg/human"
)

// janitorInterval is fixed per spec.md §4.7 — not configurable from the core.
const janitorInterval = 60 * time.Second

// Manager owns the original and processed stores and runs the periodic
// janitor sweep across both.
type Manager struct {
	Original  *Store
	Processed *Store
	logger    *slog.Logger
}

// NewManager builds a Manager with stores rooted at <cache_dir>/original and
// <cache_dir>/processed.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	ttl := cfg.Cache.TTL.Duration
	original, err := NewStore(cfg.Storage.OriginalDir(), ttl)
	if err != nil {
		return nil, err
	}
	processed, err := NewStore(cfg.Storage.ProcessedDir(), ttl)
	if err != nil {
		return nil, err
	}
	return &Manager{
		Original:  original,
		Processed: processed,
		logger:    logger.With("component", "cache"),
	}, nil
}

// StartJanitor launches the periodic sweep until ctx is cancelled. It does
// not hold any lock and tolerates files disappearing or being rewritten
// concurrently.
func (m *Manager) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		m.sweepOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepOnce()
			}
		}
	}()
}

func (m *Manager) sweepOnce() {
	report := func(path string, err error) {
		m.logger.Warn("janitor: remove stale entry failed", slog.String("path", path), slog.Any("error", err))
	}
	originalStats, err := m.Original.Sweep(report)
	if err != nil {
		m.logger.Error("janitor: sweep original store failed", slog.Any("error", err))
	}
	processedStats, err := m.Processed.Sweep(report)
	if err != nil {
		m.logger.Error("janitor: sweep processed store failed", slog.Any("error", err))
	}
	m.logger.Info("janitor: sweep finished",
		slog.Int("original_removed", originalStats.Removed),
		slog.String("original_bytes_removed", human.FormatBytes(originalStats.Bytes)),
		slog.Int("processed_removed", processedStats.Removed),
		slog.String("processed_bytes_removed", human.FormatBytes(processedStats.Bytes)),
	)
}
