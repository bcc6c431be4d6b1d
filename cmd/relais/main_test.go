package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// TestBuildWiring opens a real on-disk cache through the same import set
// the binary ships with, so a missing driver registration fails here
// instead of on the first command.
func TestBuildWiring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CachePath = filepath.Join(t.TempDir(), "cache.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cl, closeAll, err := build(cfg, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeAll()

	stats, err := cl.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Cache.Size != 0 {
		t.Fatalf("fresh cache size = %d, want 0", stats.Cache.Size)
	}
	if len(stats.Strategies) == 0 {
		t.Fatal("stats must include transport strategies")
	}
	if _, ok := stats.Engines["searx"]; !ok {
		t.Fatal("stats must include the searx engine")
	}
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relais.yaml")
	if err := os.WriteFile(path, []byte("cache_max_size: 50\nonion_engines: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheMaxSize != 50 {
		t.Fatalf("cache_max_size = %d, want 50", cfg.CacheMaxSize)
	}
	if !cfg.OnionEngines {
		t.Fatal("onion_engines not parsed")
	}
	// Untouched fields keep their defaults.
	if cfg.ProxyAddr != "127.0.0.1:9050" {
		t.Fatalf("proxy_addr = %q", cfg.ProxyAddr)
	}
}
