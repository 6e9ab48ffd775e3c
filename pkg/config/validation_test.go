package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{Storage: StorageConfig{Home: t.TempDir()}}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid log level", func(c *Config) { c.Logging.Level = "TRACE" }, "Level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "ShutdownTimeout"},
		{"empty home", func(c *Config) { c.Storage.Home = "" }, "HOME environment variable not set"},
		{"namespace with slash", func(c *Config) { c.Nodes[0].Namespace = "S2/x" }, "Namespace"},
		{"extension without dot", func(c *Config) { c.Nodes[1].Extension = "txt" }, "Extension"},
		{"empty host", func(c *Config) { c.Nodes[0].Host = "" }, "Host"},
		{"duplicate namespace", func(c *Config) { c.Nodes[1].Namespace = "S2" }, "already used"},
		{"node reuses gateway namespace", func(c *Config) { c.Nodes[0].Namespace = "S1" }, "already used by gateway"},
		{"duplicate extension", func(c *Config) { c.Nodes[1].Extension = ".pdf" }, "duplicate extension"},
		{"gateway extension on a node", func(c *Config) { c.Nodes[0].Extension = ".c" }, "duplicate extension"},
		{"bundlable without name", func(c *Config) { c.Nodes[2].Bundlable = true }, "bundle_name"},
		{"privileged port", func(c *Config) { c.Gateway.Port = 80 }, ErrPortRange.Error()},
		{"port collision", func(c *Config) { c.Nodes[1].Port = c.Nodes[0].Port }, ErrPortUnique.Error()},
		{"metrics port collision", func(c *Config) {
			c.Server.Metrics.Enabled = true
			c.Server.Metrics.Port = c.Gateway.Port
		}, ErrPortUnique.Error()},
		{"no nodes", func(c *Config) { c.Nodes = []NodeConfig{} }, "at least one node"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_LowercaseLevelAccepted(t *testing.T) {
	cfg := validConfig(t)
	cfg.Logging.Level = "warn"

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected lowercase level to validate, got: %v", err)
	}
}

func TestValidate_UnsetNodePortsAllowed(t *testing.T) {
	cfg := validConfig(t)
	for i := range cfg.Nodes {
		cfg.Nodes[i].Port = 0
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected unset node ports to validate, got: %v", err)
	}
}

func TestValidatePorts(t *testing.T) {
	tests := []struct {
		args []string
		want error
	}{
		{[]string{"9001", "9002", "9003", "9004"}, nil},
		{[]string{"1024", "65535"}, nil},
		{[]string{"1023", "9002"}, ErrPortRange},
		{[]string{"9001", "65536"}, ErrPortRange},
		{[]string{"abc", "9002"}, ErrPortRange},
		{[]string{"9001", "9002", "9001", "9004"}, ErrPortUnique},
	}

	for _, tt := range tests {
		ports, err := ValidatePorts(tt.args)
		if !errors.Is(err, tt.want) {
			t.Errorf("ValidatePorts(%v): expected %v, got %v", tt.args, tt.want, err)
			continue
		}
		if tt.want == nil && len(ports) != len(tt.args) {
			t.Errorf("ValidatePorts(%v): expected %d ports, got %v", tt.args, len(tt.args), ports)
		}
	}

	if ErrPortRange.Error() != "Error: Ports must be between 1024 and 65535" {
		t.Errorf("Unexpected range message %q", ErrPortRange)
	}
	if ErrPortUnique.Error() != "Error: All ports must be unique" {
		t.Errorf("Unexpected uniqueness message %q", ErrPortUnique)
	}
}

func TestValidatePort(t *testing.T) {
	if p, err := ValidatePort("9002"); err != nil || p != 9002 {
		t.Errorf("ValidatePort(9002): got %d, %v", p, err)
	}
	for _, arg := range []string{"80", "70000", "", "x"} {
		if _, err := ValidatePort(arg); !errors.Is(err, ErrSinglePortRange) {
			t.Errorf("ValidatePort(%q): expected ErrSinglePortRange, got %v", arg, err)
		}
	}
}

func TestApplyPorts(t *testing.T) {
	cfg := validConfig(t)

	if err := cfg.ApplyPorts([]int{5001, 5002, 5003, 5004}); err != nil {
		t.Fatalf("ApplyPorts failed: %v", err)
	}
	if cfg.Gateway.Port != 5001 || cfg.Nodes[0].Port != 5002 || cfg.Nodes[2].Port != 5004 {
		t.Errorf("Ports not applied in order: gateway=%d nodes=%d,%d,%d",
			cfg.Gateway.Port, cfg.Nodes[0].Port, cfg.Nodes[1].Port, cfg.Nodes[2].Port)
	}

	table, err := cfg.RoutingTable()
	if err != nil {
		t.Fatalf("RoutingTable failed: %v", err)
	}
	route, err := table.Lookup(".txt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if route.Address != "127.0.0.1:5003" {
		t.Errorf("Expected .txt routed to 127.0.0.1:5003, got %s", route.Address)
	}

	if err := cfg.ApplyPorts([]int{5001, 5002}); err == nil {
		t.Error("Expected error for a short port list")
	}
}
