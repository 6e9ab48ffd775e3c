package config

import (
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/marmos91/shardfs/pkg/adapter/node"
)

// Default ports of the stock topology. The CLI normally overrides them
// with positional arguments.
const (
	DefaultGatewayPort = 9001
	DefaultMetricsPort = 9090
)

// DefaultNodes is the stock topology: documents, text and archives on three
// storage nodes. Archives cannot be bundled.
func DefaultNodes() []NodeConfig {
	return []NodeConfig{
		defaultNode("S2", ".pdf", "pdffiles.tar", true, DefaultGatewayPort+1),
		defaultNode("S3", ".txt", "textfiles.tar", true, DefaultGatewayPort+2),
		defaultNode("S4", ".zip", "", false, DefaultGatewayPort+3),
	}
}

func defaultNode(namespace, ext, bundleName string, bundlable bool, port int) NodeConfig {
	n := NodeConfig{
		Config: node.Config{
			Namespace:  namespace,
			Extension:  ext,
			BundleName: bundleName,
			Bundlable:  bundlable,
		},
	}
	n.Port = port
	return n
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - An empty node list selects the stock topology
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyGatewayDefaults(&cfg.Gateway)

	if len(cfg.Nodes) == 0 {
		cfg.Nodes = DefaultNodes()
	}
	for i := range cfg.Nodes {
		applyNodeDefaults(&cfg.Nodes[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

// applyStorageDefaults expands the home directory. When no home can be
// determined Home is left empty and Validate reports it.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Home == "" {
		cfg.Home = "~"
	}
	expanded, err := homedir.Expand(cfg.Home)
	if err != nil || expanded == "" || expanded == "~" {
		cfg.Home = ""
		return
	}
	cfg.Home = expanded
}

func applyGatewayDefaults(cfg *GatewayConfig) {
	if cfg.Namespace == "" {
		cfg.Namespace = "S1"
		if cfg.Extension == "" {
			cfg.Extension = ".c"
			cfg.BundleName = "cfiles.tar"
			cfg.Bundlable = true
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultGatewayPort
	}
	cfg.TCPConfig.ApplyDefaults()

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.MaxCommandsPerSecond > 0 && cfg.CommandBurst == 0 {
		cfg.CommandBurst = cfg.MaxCommandsPerSecond
	}
}

func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	cfg.TCPConfig.ApplyDefaults()
}

// GetDefaultConfig returns a Config with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
