package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// isolateConfigDir points the default config location at a temp directory.
func isolateConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return dir
}

func TestInitConfig_Success(t *testing.T) {
	isolateConfigDir(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# shardfs Configuration File",
		"logging:",
		"server:",
		"storage:",
		"gateway:",
		"nodes:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	isolateConfigDir(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if string(content) == "existing" {
		t.Error("File was not overwritten")
	}
}

func TestGenerateYAMLWithComments_IsValidYAML(t *testing.T) {
	out, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	var doc struct {
		Gateway struct {
			Namespace        string `yaml:"namespace"`
			Port             int    `yaml:"port"`
			HandshakeTimeout string `yaml:"handshake_timeout"`
		} `yaml:"gateway"`
		Nodes []struct {
			Namespace  string `yaml:"namespace"`
			Extension  string `yaml:"extension"`
			BundleName string `yaml:"bundle_name"`
			Bundlable  bool   `yaml:"bundlable"`
		} `yaml:"nodes"`
	}
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v\n%s", err, out)
	}

	if doc.Gateway.Namespace != "S1" || doc.Gateway.Port != DefaultGatewayPort {
		t.Errorf("Unexpected gateway section %+v", doc.Gateway)
	}
	if doc.Gateway.HandshakeTimeout != "5s" {
		t.Errorf("Expected handshake_timeout \"5s\", got %q", doc.Gateway.HandshakeTimeout)
	}
	if len(doc.Nodes) != 3 || doc.Nodes[1].BundleName != "textfiles.tar" || doc.Nodes[2].Bundlable {
		t.Errorf("Unexpected nodes section %+v", doc.Nodes)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	isolateConfigDir(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Gateway.Port != DefaultGatewayPort {
		t.Errorf("Expected port %d in generated config, got %d", DefaultGatewayPort, cfg.Gateway.Port)
	}
	if len(cfg.Nodes) != 3 || cfg.Nodes[0].Extension != ".pdf" {
		t.Errorf("Expected stock nodes in generated config, got %+v", cfg.Nodes)
	}
}
