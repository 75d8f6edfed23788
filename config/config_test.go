package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", FileName, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.URL != "ws://localhost:8090/bridge" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Codec != "json" {
		t.Errorf("Codec = %q", cfg.Server.Codec)
	}
	if cfg.Tick.RateHz != 60 {
		t.Errorf("RateHz = %d", cfg.Tick.RateHz)
	}
	if cfg.TickInterval() != time.Second/60 {
		t.Errorf("TickInterval = %v", cfg.TickInterval())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[server]
url = "ws://orchestrator.local:9000/bridge"
codec = "cbor"

[project]
root = "/srv/projects/demo"

[tick]
rate-hz = 30

[transport]
initial-backoff-ms = 500
max-backoff-ms = 8000
failure-threshold = 5
failure-window-ms = 60000
cooldown-ms = 15000
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "ws://orchestrator.local:9000/bridge" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Codec != "cbor" {
		t.Errorf("Codec = %q", cfg.Server.Codec)
	}
	if cfg.Project.Root != "/srv/projects/demo" {
		t.Errorf("Root = %q", cfg.Project.Root)
	}
	if cfg.Tick.RateHz != 30 {
		t.Errorf("RateHz = %d", cfg.Tick.RateHz)
	}
	if cfg.Transport.InitialBackoff() != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v", cfg.Transport.InitialBackoff())
	}
	if cfg.Transport.Cooldown() != 15*time.Second {
		t.Errorf("Cooldown = %v", cfg.Transport.Cooldown())
	}
	if cfg.Dir == "" || !filepath.IsAbs(cfg.Dir) {
		t.Errorf("Dir = %q, want an absolute path", cfg.Dir)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[tick]
rate-hz = 10
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != Default().Server.URL {
		t.Errorf("URL = %q, want default", cfg.Server.URL)
	}
	if cfg.Server.Codec != "json" {
		t.Errorf("Codec = %q, want json", cfg.Server.Codec)
	}
	if cfg.Tick.RateHz != 10 {
		t.Errorf("RateHz = %d, want 10", cfg.Tick.RateHz)
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `[server`)

	if _, err := Load(dir); err == nil {
		t.Error("malformed file should fail to load")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("missing file should fail to load")
	}
}

func TestFindAndLoad_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[tick]
rate-hz = 24
`)
	nested := filepath.Join(root, "Assets", "Scripts")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if cfg.Tick.RateHz != 24 {
		t.Errorf("RateHz = %d, want 24 from the ancestor file", cfg.Tick.RateHz)
	}
}

func TestFindAndLoad_NoFileReturnsDefaults(t *testing.T) {
	cfg, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if cfg.Server.URL != Default().Server.URL || cfg.Tick.RateHz != 60 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}
