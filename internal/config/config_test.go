package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.Address != ":5900" {
		t.Errorf("Listen.Address = %q, want :5900", cfg.Listen.Address)
	}
	if cfg.Forwarder.DialTimeout != 5*time.Second {
		t.Errorf("Forwarder.DialTimeout = %v, want 5s", cfg.Forwarder.DialTimeout)
	}
	if cfg.Cleanup.Interval != time.Second {
		t.Errorf("Cleanup.Interval = %v, want 1s", cfg.Cleanup.Interval)
	}
	if cfg.Metrics.Address != ":9090" {
		t.Errorf("Metrics.Address = %q, want :9090", cfg.Metrics.Address)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vncproxyd.yaml")
	yamlContent := "listen:\n  address: \"0.0.0.0:5901\"\nregistry:\n  dsn: \"/tmp/custom.db\"\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0:5901" {
		t.Errorf("Listen.Address = %q, want 0.0.0.0:5901", cfg.Listen.Address)
	}
	if cfg.Registry.DSN != "/tmp/custom.db" {
		t.Errorf("Registry.DSN = %q, want /tmp/custom.db", cfg.Registry.DSN)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vncproxyd.yaml")
	yamlContent := "listen:\n  address: \"0.0.0.0:5901\"\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("LISTEN_ADDRESS", "127.0.0.1:6000")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:6000" {
		t.Errorf("Listen.Address = %q, want 127.0.0.1:6000", cfg.Listen.Address)
	}
}

func TestValidateRejectsEmptyDSN(t *testing.T) {
	cfg := &Config{}
	if err := (&Loader{}).setDefaults(cfg); err != nil {
		t.Fatalf("setDefaults: %v", err)
	}
	cfg.Registry.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty registry DSN")
	}
}
