package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/shardfs/pkg/config"
)

func newNodeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "node <namespace> <port>",
		Short: "Run one storage node",
		Long: `Run the storage node owning namespace, e.g. "shardfs node S3 9003".
The node stores only its configured extension below <home>/<namespace>/.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if len(args) != 2 {
				return usageError(cmd, "<namespace> <port>")
			}

			nc, err := cfg.Node(args[0])
			if err != nil {
				return fmt.Errorf("Error: %w", err)
			}
			port, err := config.ValidatePort(args[1])
			if err != nil {
				return err
			}
			nc.Port = port

			m := config.InitializeMetrics(cfg)
			n, err := buildNode(cfg, nc, m.NodeMetrics)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, m, n)
		},
	}
}
