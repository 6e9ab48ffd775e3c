package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/marmos91/shardfs/pkg/adapter/gateway"
	"github.com/marmos91/shardfs/pkg/adapter/node"
	"github.com/marmos91/shardfs/pkg/routing"
)

// EnvPrefix prefixes every environment override, e.g.
// SHARDFS_LOGGING_LEVEL=DEBUG.
const EnvPrefix = "SHARDFS"

// DotenvPathEnv names a .env file loaded before the configuration. Without
// it, ./.env is loaded when present.
const DotenvPathEnv = "SHARDFS_DOTENV_PATH"

// Config represents the complete shardfs configuration.
//
// This structure captures:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Storage home shared by the gateway and every node
//   - The gateway and the category it stores locally
//   - One entry per storage node
//
// Configuration sources (in order of precedence):
//  1. CLI arguments (ports)
//  2. Environment variables (SHARDFS_*), including those from a .env file
//  3. Configuration file (YAML or TOML)
//  4. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Storage locates the namespace trees
	Storage StorageConfig `mapstructure:"storage"`

	// Gateway configures the client-facing endpoint
	Gateway GatewayConfig `mapstructure:"gateway"`

	// Nodes lists the storage nodes in routing order
	Nodes []NodeConfig `mapstructure:"nodes" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds the graceful stop of all endpoints
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=0,max=65535"`
}

// StorageConfig locates the namespace trees.
type StorageConfig struct {
	// Home is the directory holding one subdirectory per namespace.
	// A leading ~ is expanded to the user's home directory.
	Home string `mapstructure:"home"`
}

// GatewayConfig is the gateway endpoint plus the category it keeps locally.
type GatewayConfig struct {
	gateway.Config `mapstructure:",squash"`

	// Namespace is the gateway name and the prefix of every client path,
	// e.g. "S1" for ~S1/.
	Namespace string `mapstructure:"namespace" validate:"required,excludesall=/~"`

	// Extension is the category stored on the gateway itself.
	Extension string `mapstructure:"extension" validate:"required,startswith=."`

	BundleName string `mapstructure:"bundle_name"`
	Bundlable  bool   `mapstructure:"bundlable"`
}

// NodeConfig is one storage node.
type NodeConfig struct {
	node.Config `mapstructure:",squash"`

	// Host is where the gateway dials the node.
	Host string `mapstructure:"host" validate:"required"`
}

// Address is the host:port the gateway dials.
func (n NodeConfig) Address() string {
	return net.JoinHostPort(n.Host, fmt.Sprint(n.Port))
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded configuration with defaults applied and validated.
func Load(configPath string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// loadDotenv exports the variables of a .env file. Variables already set in
// the environment win.
func loadDotenv() error {
	path := os.Getenv(DotenvPathEnv)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load dotenv file %s: %w", path, err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SHARDFS_ prefix and underscores
	// Example: SHARDFS_GATEWAY_HANDSHAKE_TIMEOUT=2s
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys absent from the file only reach Unmarshal when bound.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"storage.home",
	"gateway.namespace",
	"gateway.port",
	"gateway.bind_address",
	"gateway.max_connections",
	"gateway.idle_timeout",
	"gateway.dial_timeout",
	"gateway.handshake_timeout",
	"gateway.max_commands_per_second",
	"gateway.command_burst",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/shardfs, ~/.config/shardfs, or the
// current directory when no home can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shardfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "shardfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

// Node returns the node owning namespace.
func (c *Config) Node(namespace string) (NodeConfig, error) {
	for _, n := range c.Nodes {
		if n.Namespace == namespace {
			return n, nil
		}
	}
	return NodeConfig{}, fmt.Errorf("no node with namespace %q", namespace)
}

// RoutingTable builds the gateway's routing table: the local category
// first, then every node in configuration order.
func (c *Config) RoutingTable() (*routing.Table, error) {
	routes := make([]routing.Route, 0, len(c.Nodes)+1)
	routes = append(routes, routing.Route{
		Extension:  c.Gateway.Extension,
		Namespace:  c.Gateway.Namespace,
		BundleName: c.Gateway.BundleName,
		Bundlable:  c.Gateway.Bundlable,
	})
	for _, n := range c.Nodes {
		routes = append(routes, routing.Route{
			Extension:  n.Extension,
			Namespace:  n.Namespace,
			Address:    n.Address(),
			BundleName: n.BundleName,
			Bundlable:  n.Bundlable,
		})
	}
	return routing.NewTable(c.Gateway.Namespace, routes)
}

// Resolver returns the path resolver for namespace under the storage home.
func (c *Config) Resolver(namespace string) (*routing.Resolver, error) {
	return routing.NewResolver(c.Storage.Home, namespace)
}

// Settings flattens the configuration into nested maps keyed like the
// configuration file.
func (c *Config) Settings() (map[string]any, error) {
	out := make(map[string]any)
	if err := mapstructure.Decode(c, &out); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	// Slices of structs are left as structs by the encoder.
	nodes := make([]map[string]any, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		m := make(map[string]any)
		if err := mapstructure.Decode(n, &m); err != nil {
			return nil, fmt.Errorf("encode node %s: %w", n.Namespace, err)
		}
		nodes = append(nodes, m)
	}
	out["nodes"] = nodes
	return out, nil
}
