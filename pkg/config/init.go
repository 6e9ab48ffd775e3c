package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// InitConfig writes the default configuration to GetDefaultConfigPath and
// returns that path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var configTemplate = template.Must(template.New("config").Parse(`# shardfs Configuration File
#
# Values can be overridden with environment variables prefixed with SHARDFS_,
# e.g. SHARDFS_LOGGING_LEVEL=DEBUG. A .env file in the working directory (or
# the file named by SHARDFS_DOTENV_PATH) is loaded first.

logging:
  # DEBUG, INFO, WARN or ERROR
  level: "{{ .Logging.Level }}"
  # text or json
  format: "{{ .Logging.Format }}"
  # stdout, stderr or a file path
  output: "{{ .Logging.Output }}"

server:
  # Maximum time to wait for in-flight transfers on shutdown
  shutdown_timeout: "{{ .Server.ShutdownTimeout }}"
  metrics:
    enabled: {{ .Server.Metrics.Enabled }}
    port: {{ .Server.Metrics.Port }}

storage:
  # Every namespace is stored in <home>/<namespace>/
  home: "~"

gateway:
  # Clients address files as ~{{ .Gateway.Namespace }}/...
  namespace: "{{ .Gateway.Namespace }}"
  port: {{ .Gateway.Port }}
  # Category stored on the gateway itself
  extension: "{{ .Gateway.Extension }}"
  bundle_name: "{{ .Gateway.BundleName }}"
  bundlable: {{ .Gateway.Bundlable }}
  # 0 means unlimited
  max_connections: {{ .Gateway.MaxConnections }}
  # Drop connections silent for this long; 0 disables it
  idle_timeout: "{{ .Gateway.IdleTimeout }}"
  shutdown_timeout: "{{ .Gateway.ShutdownTimeout }}"
  # Connecting to a storage node
  dial_timeout: "{{ .Gateway.DialTimeout }}"
  # Waiting for the size prefix of a forwarded download
  handshake_timeout: "{{ .Gateway.HandshakeTimeout }}"
  # Per-connection command rate; 0 disables throttling
  max_commands_per_second: {{ .Gateway.MaxCommandsPerSecond }}
  command_burst: {{ .Gateway.CommandBurst }}

# Storage nodes, in the order their files are listed
nodes:
{{- range .Nodes }}
  - namespace: "{{ .Namespace }}"
    extension: "{{ .Extension }}"
    host: "{{ .Host }}"
    port: {{ .Port }}
    bundle_name: "{{ .BundleName }}"
    bundlable: {{ .Bundlable }}
    idle_timeout: "{{ .IdleTimeout }}"
    shutdown_timeout: "{{ .ShutdownTimeout }}"
{{- end }}
`))

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return buf.String(), nil
}
