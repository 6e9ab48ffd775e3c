package commands

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/shardfs/pkg/client"
	"github.com/marmos91/shardfs/pkg/config"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/routing"
)

type clientOptions struct {
	*options

	host   string
	outDir string
}

func newClientCmd(opts *options) *cobra.Command {
	co := &clientOptions{options: opts}

	cmd := &cobra.Command{
		Use:   "client <S1_port> <command> [args...]",
		Short: "Run one command against a gateway",
		Long: `Run one command against the gateway listening on <S1_port>:

  uploadf <local_file> <~S1/dir>   upload a file
  downlf <~S1/path>                download a file into the output directory
  removef <~S1/path>               delete a file
  downltar <.ext>                  download the archive of one category
  dispfnames <~S1/dir>             list the files below a directory`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return usageError(cmd, "<S1_port>")
			}
			port, err := config.ValidatePort(args[0])
			if err != nil {
				return err
			}
			if len(args) < 2 {
				return usageError(cmd, "<S1_port> <command> [args...]")
			}

			c := client.New(net.JoinHostPort(co.host, fmt.Sprint(port)))
			defer c.Close()
			return co.dispatch(cmd, c, args[1], args[2:])
		},
	}

	cmd.Flags().StringVar(&co.host, "host", "127.0.0.1", "gateway host")
	cmd.Flags().StringVarP(&co.outDir, "output", "o", ".", "directory downloads are saved to")
	return cmd
}

func (co *clientOptions) dispatch(cmd *cobra.Command, c *client.Client, verb string, args []string) error {
	v, ok := protocol.ParseVerb(verb)
	if !ok {
		return fmt.Errorf("Client: Unknown command: %s", verb)
	}

	ns := co.cfg.Gateway.Namespace
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	switch v {
	case protocol.VerbStore:
		if len(args) != 2 {
			return fmt.Errorf("Error: Please provide a file and a destination (e.g., uploadf sample.c %s/folder1)", routing.Prefix(ns))
		}
		if !routing.HasPrefix(args[1], ns) {
			return fmt.Errorf("Error: Destination path must start with %s", routing.Prefix(ns))
		}
		if err := c.Upload(ctx, args[0], args[1]); err != nil {
			return remoteReason(err)
		}
		fmt.Fprintln(out, protocol.StoredOK)

	case protocol.VerbFetch:
		if len(args) != 1 {
			return fmt.Errorf("Error: Please provide a file path (e.g., %s/folder1/sample.txt)", routing.Prefix(ns))
		}
		name := filepath.Base(args[0])
		return co.save(cmd, name, func(w io.Writer) (uint64, error) {
			return c.Download(ctx, args[0], w)
		})

	case protocol.VerbRemove:
		if len(args) != 1 {
			return fmt.Errorf("Error: Please provide a file path (e.g., %s/folder1/sample.txt)", routing.Prefix(ns))
		}
		if err := c.Remove(ctx, args[0]); err != nil {
			return remoteReason(err)
		}
		fmt.Fprintln(out, protocol.RemovedOK)

	case protocol.VerbBundle:
		table, err := co.cfg.RoutingTable()
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return fmt.Errorf("Error: Please provide a file type (%s)", strings.Join(bundlable(table), ", "))
		}
		route, err := table.ForBundle(args[0])
		if err != nil {
			return fmt.Errorf("Error: File type must be %s", strings.Join(bundlable(table), ", "))
		}
		return co.save(cmd, route.BundleName, func(w io.Writer) (uint64, error) {
			return c.Bundle(ctx, args[0], w)
		})

	case protocol.VerbListNames:
		if len(args) != 1 {
			return fmt.Errorf("Error: Please provide a pathname (e.g., %s/folder1)", routing.Prefix(ns))
		}
		names, err := c.List(ctx, args[0])
		if err != nil {
			return remoteReason(err)
		}
		if len(names) == 0 {
			fmt.Fprintf(out, "No files found in %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "Files in %s:\n", args[0])
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
	}
	return nil
}

// save receives a download into outDir/name. A failed transfer leaves no
// file behind.
func (co *clientOptions) save(cmd *cobra.Command, name string, receive func(io.Writer) (uint64, error)) error {
	path := filepath.Join(co.outDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("Error: Cannot create file %s: %w", path, err)
	}

	size, err := receive(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return remoteReason(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Download of %s completed successfully (%s)\n", name, humanize.IBytes(size))
	return nil
}

// bundlable lists the extensions downltar accepts.
func bundlable(table *routing.Table) []string {
	var exts []string
	for _, r := range table.Routes() {
		if r.Bundlable {
			exts = append(exts, r.Extension)
		}
	}
	return exts
}

// remoteReason unwraps a gateway refusal to the reason it sent.
func remoteReason(err error) error {
	var remote *client.RemoteError
	if errors.As(err, &remote) {
		return errors.New(remote.Reason)
	}
	return err
}
