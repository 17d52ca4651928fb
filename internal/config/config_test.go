package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("STAGEHAND_PASSWORD", "hunter2")
	t.Setenv("STAGEHAND_STREAM_TRACKER_URL", "https://tracker.example.org/")
	t.Setenv("STAGEHAND_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Password != "hunter2" {
		t.Fatalf("unexpected password: %q", cfg.Password)
	}
	if cfg.StreamTrackerURL != "https://tracker.example.org" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.StreamTrackerURL)
	}
	if cfg.ReconnectDelay != 10*time.Second {
		t.Fatalf("expected default reconnect delay of 10s, got %s", cfg.ReconnectDelay)
	}
	if cfg.ScheduleRefresh != time.Minute {
		t.Fatalf("expected default schedule refresh of 1m, got %s", cfg.ScheduleRefresh)
	}
}

func TestLoadRequiresPassword(t *testing.T) {
	t.Setenv("STAGEHAND_PASSWORD", "")
	t.Setenv("CONSOLE_PASSWORD", "")
	t.Setenv("STAGEHAND_STREAM_TRACKER_URL", "https://tracker.example.org")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without a password")
	}
}

func TestLoadDurationFormats(t *testing.T) {
	t.Setenv("STAGEHAND_PASSWORD", "pw")
	t.Setenv("STAGEHAND_STREAM_TRACKER_URL", "https://tracker.example.org")
	t.Setenv("STAGEHAND_RECONNECT_DELAY", "3s")
	t.Setenv("STAGEHAND_VOLUME_DEBOUNCE", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("reconnect delay = %s, want 3s", cfg.ReconnectDelay)
	}
	if cfg.VolumeDebounce != 250*time.Millisecond {
		t.Errorf("volume debounce = %s, want 250ms", cfg.VolumeDebounce)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("STAGEHAND_PASSWORD", "")
	t.Setenv("CONSOLE_PASSWORD", "legacy")
	t.Setenv("STAGEHAND_STREAM_TRACKER_URL", "https://tracker.example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Password != "legacy" {
		t.Fatalf("expected legacy password to be honoured, got %q", cfg.Password)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadRooms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	content := `rooms:
  - name: Main Stage
    endpoint: ws://obs-main:4444
    key: main
    techStream: tech-main
    secondaryEndpoint: ws://obs-zoom:4444
  - name: Side Room
    endpoint: ws://obs-side:4444
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rooms file: %v", err)
	}

	rooms, err := LoadRooms(path)
	if err != nil {
		t.Fatalf("LoadRooms() failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].SecondaryEndpoint != "ws://obs-zoom:4444" {
		t.Errorf("unexpected secondary endpoint %q", rooms[0].SecondaryEndpoint)
	}
	if rooms[1].TechStream != "" {
		t.Errorf("expected empty tech stream, got %q", rooms[1].TechStream)
	}
}

func TestLoadRoomsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.yaml")
	content := `rooms:
  - name: A
    endpoint: ws://a
  - name: A
    endpoint: ws://b
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rooms file: %v", err)
	}
	if _, err := LoadRooms(path); err == nil {
		t.Fatal("expected duplicate room names to be rejected")
	}
}
