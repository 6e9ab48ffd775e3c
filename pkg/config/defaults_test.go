package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Topology(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Gateway.Namespace != "S1" || cfg.Gateway.Extension != ".c" || cfg.Gateway.BundleName != "cfiles.tar" {
		t.Errorf("Unexpected default gateway %+v", cfg.Gateway)
	}

	want := []struct {
		namespace, ext, bundle string
		bundlable              bool
	}{
		{"S2", ".pdf", "pdffiles.tar", true},
		{"S3", ".txt", "textfiles.tar", true},
		{"S4", ".zip", "", false},
	}
	if len(cfg.Nodes) != len(want) {
		t.Fatalf("Expected %d nodes, got %d", len(want), len(cfg.Nodes))
	}
	for i, w := range want {
		n := cfg.Nodes[i]
		if n.Namespace != w.namespace || n.Extension != w.ext || n.BundleName != w.bundle || n.Bundlable != w.bundlable {
			t.Errorf("nodes[%d]: expected %+v, got %+v", i, w, n.Config)
		}
		if n.Host != "127.0.0.1" {
			t.Errorf("nodes[%d]: expected default host 127.0.0.1, got %q", i, n.Host)
		}
		if n.IdleTimeout != 0 {
			t.Errorf("nodes[%d]: expected no idle timeout by default, got %v", i, n.IdleTimeout)
		}
	}
	if cfg.Gateway.IdleTimeout != 0 {
		t.Errorf("Expected no gateway idle timeout by default, got %v", cfg.Gateway.IdleTimeout)
	}
}

func TestApplyDefaults_HomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	cfg := &Config{Storage: StorageConfig{Home: "~/shardfs"}}
	ApplyDefaults(cfg)

	if cfg.Storage.Home != filepath.Join(home, "shardfs") {
		t.Errorf("Expected %s, got %q", filepath.Join(home, "shardfs"), cfg.Storage.Home)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{ShutdownTimeout: 5 * time.Second},
		Storage: StorageConfig{Home: "/data"},
	}
	cfg.Gateway.Namespace = "G"
	cfg.Gateway.Extension = ".go"
	cfg.Gateway.Port = 7000
	cfg.Gateway.HandshakeTimeout = time.Second
	cfg.Gateway.MaxCommandsPerSecond = 50

	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Gateway.Extension != ".go" || cfg.Gateway.Bundlable {
		t.Errorf("Expected explicit gateway category preserved, got %+v", cfg.Gateway)
	}
	if cfg.Gateway.Port != 7000 || cfg.Gateway.HandshakeTimeout != time.Second {
		t.Errorf("Expected explicit gateway settings preserved, got %+v", cfg.Gateway.Config)
	}
	if cfg.Gateway.DialTimeout != 5*time.Second {
		t.Errorf("Expected default dial timeout 5s, got %v", cfg.Gateway.DialTimeout)
	}
	if cfg.Gateway.CommandBurst != 50 {
		t.Errorf("Expected burst to follow the rate, got %d", cfg.Gateway.CommandBurst)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}
