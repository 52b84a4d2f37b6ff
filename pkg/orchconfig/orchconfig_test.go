package orchconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("daemon: vlanmgrd\nstore:\n  address: 127.0.0.1:6379\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level \"info\", got %q", cfg.Logging.Level)
	}
	if cfg.Nhg.MaxECMPGroupSize != 32 {
		t.Errorf("expected default max ecmp group size 32, got %d", cfg.Nhg.MaxECMPGroupSize)
	}
	if cfg.WarmRestart.Timeout.Seconds() != 30 {
		t.Errorf("expected default warm-restart timeout 30s, got %v", cfg.WarmRestart.Timeout)
	}
}

func TestLoadRejectsMissingDaemonName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  address: 127.0.0.1:6379\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a config with no daemon name")
	}
}
