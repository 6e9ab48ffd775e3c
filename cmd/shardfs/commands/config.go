package commands

import (
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration after file, environment and defaults are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.cfg.Settings()
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(readable(settings)); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

// readable renders durations the way they are written in the file.
func readable(v any) any {
	switch t := v.(type) {
	case time.Duration:
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = readable(e)
		}
		return t
	case []map[string]any:
		for i := range t {
			readable(t[i])
		}
		return t
	default:
		return v
	}
}
