package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/shardfs/pkg/routing"
)

// Port bounds for every listener chosen by an operator.
const (
	MinPort = 1024
	MaxPort = 65535
)

// Messages printed by the CLI for bad positional ports.
var (
	ErrPortRange  = errors.New("Error: Ports must be between 1024 and 65535")
	ErrPortUnique = errors.New("Error: All ports must be unique")

	// ErrSinglePortRange is reported by commands taking one port.
	ErrSinglePortRange = errors.New("Error: Port must be between 1024 and 65535")
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Storage.Home == "" {
		return fmt.Errorf("storage.home: %w", routing.ErrNoHome)
	}

	if len(cfg.Nodes) == 0 {
		return errors.New("nodes: at least one node must be configured")
	}

	for i, n := range cfg.Nodes {
		if n.Bundlable && n.BundleName == "" {
			return fmt.Errorf("nodes[%d]: bundlable is true but bundle_name is empty", i)
		}
	}
	if cfg.Gateway.Bundlable && cfg.Gateway.BundleName == "" {
		return errors.New("gateway: bundlable is true but bundle_name is empty")
	}

	namespaces := map[string]string{cfg.Gateway.Namespace: "gateway"}
	for i, n := range cfg.Nodes {
		if owner, dup := namespaces[n.Namespace]; dup {
			return fmt.Errorf("nodes[%d]: namespace %q already used by %s", i, n.Namespace, owner)
		}
		namespaces[n.Namespace] = fmt.Sprintf("nodes[%d]", i)
	}

	ports := []int{cfg.Gateway.Port}
	for _, n := range cfg.Nodes {
		ports = append(ports, n.Port)
	}
	if cfg.Server.Metrics.Enabled {
		ports = append(ports, cfg.Server.Metrics.Port)
	}
	if err := checkPorts(ports, true); err != nil {
		return fmt.Errorf("ports %v: %w", ports, err)
	}

	// Extensions and the single local route are checked by the table.
	if _, err := cfg.RoutingTable(); err != nil {
		return fmt.Errorf("routing: %w", err)
	}

	return nil
}

// ValidatePorts parses the positional port arguments of the CLI. Every port
// must lie in MinPort-MaxPort and no two may be equal.
//
// Errors carry the exact text printed to the user: ErrPortRange or
// ErrPortUnique.
func ValidatePorts(args []string) ([]int, error) {
	ports := make([]int, len(args))
	for i, arg := range args {
		p, err := strconv.Atoi(arg)
		if err != nil {
			return nil, ErrPortRange
		}
		ports[i] = p
	}
	if err := checkPorts(ports, false); err != nil {
		return nil, err
	}
	return ports, nil
}

// ValidatePort parses a single positional port.
func ValidatePort(arg string) (int, error) {
	p, err := strconv.Atoi(arg)
	if err != nil || p < MinPort || p > MaxPort {
		return 0, ErrSinglePortRange
	}
	return p, nil
}

// checkPorts enforces range and uniqueness. With allowZero, unset (zero)
// ports are skipped.
func checkPorts(ports []int, allowZero bool) error {
	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p == 0 && allowZero {
			continue
		}
		if p < MinPort || p > MaxPort {
			return ErrPortRange
		}
		if seen[p] {
			return ErrPortUnique
		}
		seen[p] = true
	}
	return nil
}

// ApplyPorts assigns positional ports: the gateway first, then each node
// in configuration order.
func (c *Config) ApplyPorts(ports []int) error {
	if len(ports) != len(c.Nodes)+1 {
		return fmt.Errorf("expected %d ports (gateway and %d node(s)), got %d", len(c.Nodes)+1, len(c.Nodes), len(ports))
	}
	c.Gateway.Port = ports[0]
	for i := range c.Nodes {
		c.Nodes[i].Port = ports[i+1]
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
