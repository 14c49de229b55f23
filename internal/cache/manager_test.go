package cache

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"mediaproxy/internal/config"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	cacheDir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{CacheDir: cacheDir},
		Cache:   config.CacheConfig{TTL: config.Duration{Duration: ttl}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := NewManager(cfg, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func TestManagerInstallAndLookupRoundTrip(t *testing.T) {
	m := newTestManager(t, 24*time.Hour)
	key := Key("https://example.com/a.jpg")

	if _, ok, err := m.Original.Lookup(key, ""); err != nil || ok {
		t.Fatalf("expected miss before install, got ok=%v err=%v", ok, err)
	}
	if err := m.Original.Install(key, "", []byte("payload")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	payload, ok, err := m.Original.Lookup(key, "")
	if err != nil || !ok {
		t.Fatalf("expected hit after install, got ok=%v err=%v", ok, err)
	}
	if string(payload) != "payload" {
		t.Fatalf("got payload %q, want %q", payload, "payload")
	}
}

func TestSweepRemovesExpiredEntriesOnly(t *testing.T) {
	m := newTestManager(t, 50*time.Millisecond)

	staleKey := Key("stale")
	freshKey := Key("fresh")
	if err := m.Processed.Install(staleKey, ".jpg", []byte("stale")); err != nil {
		t.Fatalf("install stale: %v", err)
	}
	stalePath := filepath.Join(m.Processed.root, staleKey+".jpg")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stalePath, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := m.Processed.Install(freshKey, ".jpg", []byte("fresh")); err != nil {
		t.Fatalf("install fresh: %v", err)
	}

	stats, err := m.Processed.Sweep(nil)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", stats.Removed)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale entry removed, stat err=%v", err)
	}
	if _, ok, _ := m.Processed.Lookup(freshKey, ".jpg"); !ok {
		t.Fatalf("expected fresh entry to survive sweep")
	}
}

func TestLookupExpiresByTTL(t *testing.T) {
	m := newTestManager(t, 10*time.Millisecond)
	key := Key("x")
	if err := m.Original.Install(key, "", []byte("v")); err != nil {
		t.Fatalf("Install: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, err := m.Original.Lookup(key, ""); err != nil || ok {
		t.Fatalf("expected expired entry to miss, got ok=%v err=%v", ok, err)
	}
}
