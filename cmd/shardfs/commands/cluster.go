package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/config"
)

func newClusterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cluster <S1_port> <S2_port> <S3_port> <S4_port>",
		Short: "Run the gateway and every storage node in one process",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if len(args) != len(cfg.Nodes)+1 {
				return usageError(cmd, portsUsage(cfg))
			}
			if err := applyPortArgs(cfg, args); err != nil {
				return err
			}

			m := config.InitializeMetrics(cfg)
			adapters := make([]adapter.Adapter, 0, len(cfg.Nodes)+1)
			for _, nc := range cfg.Nodes {
				n, err := buildNode(cfg, nc, m.NodeMetrics)
				if err != nil {
					return err
				}
				adapters = append(adapters, n)
			}

			// Adapters stop in reverse order, so the gateway goes first.
			gw, err := buildGateway(cfg, m.NodeMetrics)
			if err != nil {
				return err
			}
			adapters = append(adapters, gw)

			return run(cmd.Context(), cfg, m, adapters...)
		},
	}
}
