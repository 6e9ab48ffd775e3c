package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/config"
)

func newGatewayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway <S1_port> <S2_port> <S3_port> <S4_port>",
		Short: "Run the client-facing gateway",
		Long: `Run the gateway. The first port is the gateway's own, the rest are the
ports of the configured storage nodes in order. Nodes must be started
separately with "shardfs node".`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if len(args) != len(cfg.Nodes)+1 {
				return usageError(cmd, portsUsage(cfg))
			}
			if err := applyPortArgs(cfg, args); err != nil {
				return err
			}

			m := config.InitializeMetrics(cfg)
			gw, err := buildGateway(cfg, m.NodeMetrics)
			if err != nil {
				return err
			}
			for _, n := range cfg.Nodes {
				logger.Info("Routing %s files to %s at %s", n.Extension, n.Namespace, n.Address())
			}
			return run(cmd.Context(), cfg, m, gw)
		},
	}
}
