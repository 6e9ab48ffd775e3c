// Package commands implements the shardfs command line.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/config"
)

// options are the persistent flags plus the configuration they produce.
type options struct {
	configPath string
	logLevel   string
	home       string

	cfg *config.Config
}

// NewRootCmd builds the shardfs command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "shardfs",
		Short: "Gateway and storage nodes for extension-sharded files",
		Long: `shardfs stores files behind a single gateway. The gateway keeps one
category of files itself and forwards every other category to the storage
node that owns its extension. Clients only ever talk to the gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// init creates the configuration, it cannot require one
			if cmd.Name() == "init" {
				return nil
			}
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/shardfs/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().StringVar(&opts.home, "home", "", "override storage.home")

	root.AddCommand(
		newGatewayCmd(opts),
		newNodeCmd(opts),
		newClusterCmd(opts),
		newClientCmd(opts),
		newInitCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the configuration and configures logging. Flag overrides are
// passed as environment variables so they take part in validation.
func (o *options) load(cmd *cobra.Command) error {
	if cmd.Flags().Changed("log-level") {
		if err := os.Setenv(config.EnvPrefix+"_LOGGING_LEVEL", strings.ToUpper(o.logLevel)); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("home") {
		if err := os.Setenv(config.EnvPrefix+"_STORAGE_HOME", o.home); err != nil {
			return err
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	o.cfg = cfg
	return nil
}

// usageError renders the positional usage line of cmd.
func usageError(cmd *cobra.Command, positional string) error {
	return fmt.Errorf("Usage: %s %s", cmd.CommandPath(), positional)
}
