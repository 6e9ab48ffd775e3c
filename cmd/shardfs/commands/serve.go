package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/adapter/gateway"
	"github.com/marmos91/shardfs/pkg/adapter/node"
	"github.com/marmos91/shardfs/pkg/config"
	"github.com/marmos91/shardfs/pkg/metrics"
	"github.com/marmos91/shardfs/pkg/server"
	fsstore "github.com/marmos91/shardfs/pkg/store/fs"
)

// portsUsage lists one <NS_port> placeholder per endpoint, gateway first.
func portsUsage(cfg *config.Config) string {
	parts := []string{fmt.Sprintf("<%s_port>", cfg.Gateway.Namespace)}
	for _, n := range cfg.Nodes {
		parts = append(parts, fmt.Sprintf("<%s_port>", n.Namespace))
	}
	return strings.Join(parts, " ")
}

// applyPortArgs validates the positional ports and assigns them to the
// gateway and the nodes.
func applyPortArgs(cfg *config.Config, args []string) error {
	ports, err := config.ValidatePorts(args)
	if err != nil {
		return err
	}
	if err := cfg.ApplyPorts(ports); err != nil {
		return err
	}
	return config.Validate(cfg)
}

func buildGateway(cfg *config.Config, m metrics.NodeMetrics) (*gateway.Gateway, error) {
	table, err := cfg.RoutingTable()
	if err != nil {
		return nil, err
	}
	resolver, err := cfg.Resolver(cfg.Gateway.Namespace)
	if err != nil {
		return nil, err
	}
	return gateway.New(cfg.Gateway.Config, table, fsstore.New(resolver, nil), m), nil
}

func buildNode(cfg *config.Config, nc config.NodeConfig, m metrics.NodeMetrics) (*node.Node, error) {
	resolver, err := cfg.Resolver(nc.Namespace)
	if err != nil {
		return nil, err
	}
	return node.New(nc.Config, fsstore.New(resolver, nil), m), nil
}

// run serves adapters until SIGINT or SIGTERM.
func run(ctx context.Context, cfg *config.Config, m *config.MetricsResult, adapters ...adapter.Adapter) error {
	srv := server.New(cfg.Server.ShutdownTimeout)
	if m.Server != nil {
		srv.SetMetricsServer(m.Server)
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
		logger.Info("%s listening on port %d", a.Protocol(), a.Port())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Server is running. Press Ctrl+C to stop.")
	err := srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Server stopped gracefully")
		return nil
	}
	return err
}
