// Package node implements a backend storage node: a TCP endpoint that owns
// one file category and serves exactly one command per connection.
//
// Exchange:
//
//	gateway -> node   one command line (+ close-terminated payload for uploadf)
//	node -> gateway   status line, listing, or size-prefixed frame
//	node              closes the connection
package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/metrics"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	fsstore "github.com/marmos91/shardfs/pkg/store/fs"
)

// Config describes the category a node owns and how it listens.
type Config struct {
	adapter.TCPConfig `mapstructure:",squash"`

	// Namespace is both the node name and its storage root below home,
	// e.g. "S2".
	Namespace string `mapstructure:"namespace" validate:"required,excludesall=/~"`

	// Extension is the only file type the node stores, e.g. ".pdf".
	Extension string `mapstructure:"extension" validate:"required,startswith=."`

	// BundleName is the archive name offered for downltar, e.g. "pdffiles.tar".
	BundleName string `mapstructure:"bundle_name"`

	// Bundlable enables downltar for this node's extension.
	Bundlable bool `mapstructure:"bundlable"`
}

func (c *Config) validate() error {
	if c.Namespace == "" || strings.ContainsAny(c.Namespace, `/\~`) {
		return fmt.Errorf("invalid namespace %q", c.Namespace)
	}
	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 {
		return fmt.Errorf("invalid extension %q", c.Extension)
	}
	if c.Bundlable && c.BundleName == "" {
		return errors.New("bundlable node needs a bundle name")
	}
	return nil
}

// Node serves one category from its own namespace.
type Node struct {
	*adapter.TCPServer

	config  Config
	store   *fsstore.Store
	metrics metrics.NodeMetrics
}

// New creates a stopped node. store must be rooted at config.Namespace.
//
// Panics if config is invalid or the store belongs to another namespace.
func New(config Config, store *fsstore.Store, m metrics.NodeMetrics) *Node {
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid node config: %v", err))
	}
	if store == nil || store.Resolver().Namespace() != config.Namespace {
		panic(fmt.Sprintf("node %s: store must be rooted at its namespace", config.Namespace))
	}
	if m == nil {
		m = metrics.NewNoopNodeMetrics()
	}

	n := &Node{config: config, store: store, metrics: m}
	n.TCPServer = adapter.NewTCPServer(config.Namespace, config.TCPConfig, n, m)
	return n
}

// Protocol returns "node/<namespace>".
func (n *Node) Protocol() string {
	return "node/" + n.config.Namespace
}

// Config returns the effective configuration.
func (n *Node) Config() Config {
	return n.config
}

// ServeConn reads one command, answers it and returns; the TCP server then
// closes the connection, which terminates the reply.
func (n *Node) ServeConn(ctx context.Context, conn net.Conn) {
	r := bufio.NewReaderSize(conn, 64*1024)

	line, err := protocol.ReadLine(r)
	if err != nil {
		logger.Debug("%s: no command from %s: %v", n.config.Namespace, conn.RemoteAddr(), err)
		return
	}

	cmd := protocol.ParseNode(line)
	log := logger.With(map[string]any{
		"node":   n.config.Namespace,
		"remote": conn.RemoteAddr().String(),
		"verb":   cmd.Verb.String(),
	})

	start := time.Now()
	switch cmd.Verb {
	case protocol.VerbStore:
		err = n.handleStore(ctx, conn, r, cmd, log)
	case protocol.VerbFetch:
		err = n.handleFetch(ctx, conn, cmd, log)
	case protocol.VerbRemove:
		err = n.handleRemove(ctx, conn, cmd, log)
	case protocol.VerbBundle:
		err = n.handleBundle(ctx, conn, cmd, log)
	case protocol.VerbListNames:
		err = n.handleList(ctx, conn, cmd, log)
	default:
		log.Debug("Ignoring unknown command %q", cmd.Raw)
		return
	}

	n.metrics.RecordCommand(n.config.Namespace, cmd.Verb.String(), time.Since(start), err)
	if err != nil {
		log.Debug("Command failed: %v", err)
	}
}

func (n *Node) handleStore(ctx context.Context, conn net.Conn, r *bufio.Reader, cmd protocol.Command, log *logger.Entry) error {
	name := cmd.FileName()
	if name == "" || cmd.Path == "" {
		_, _ = io.Copy(io.Discard, r)
		return reply(conn, protocol.UploadFailed+"Invalid command format")
	}
	if routing.Ext(name) != n.config.Extension {
		_, _ = io.Copy(io.Discard, r)
		return reply(conn, adapter.UploadStatus(routing.ErrUnsupportedType))
	}

	written, err := n.store.Put(ctx, cmd.Path, name, r)
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
		_ = reply(conn, adapter.UploadStatus(err))
		return err
	}

	n.metrics.RecordBytes(n.config.Namespace, metrics.DirectionIn, written)
	log.Info("Stored %s in %s (%s)", name, cmd.Path, humanize.IBytes(written))
	return reply(conn, protocol.StoredOK)
}

func (n *Node) handleFetch(ctx context.Context, conn net.Conn, cmd protocol.Command, log *logger.Entry) error {
	if cmd.Path == "" {
		return frame.SendFailure(conn, protocol.NoFilePath)
	}

	f, size, err := n.store.Open(ctx, cmd.Path)
	if err != nil {
		_ = frame.SendFailure(conn, adapter.FetchReason(err))
		return err
	}
	defer func() { _ = f.Close() }()

	if size == 0 {
		// A zero size would read as failure; an empty file has nothing to send.
		return frame.SendFailure(conn, protocol.DownloadFailed+"File is empty")
	}
	if err := frame.SendLengthFramed(conn, size, f); err != nil {
		return err
	}

	n.metrics.RecordBytes(n.config.Namespace, metrics.DirectionOut, size)
	log.Debug("Sent %s (%s)", cmd.Path, humanize.IBytes(size))
	return nil
}

func (n *Node) handleRemove(ctx context.Context, conn net.Conn, cmd protocol.Command, log *logger.Entry) error {
	if cmd.Path == "" {
		return reply(conn, protocol.RemoveFailed+protocol.NoFilePath)
	}

	err := n.store.Remove(ctx, cmd.Path)
	if replyErr := reply(conn, adapter.RemoveStatus(err)); err == nil {
		log.Info("Removed %s", cmd.Path)
		return replyErr
	}
	return err
}

func (n *Node) handleBundle(ctx context.Context, conn net.Conn, cmd protocol.Command, log *logger.Entry) error {
	if !n.config.Bundlable || cmd.Ext != n.config.Extension {
		return frame.SendFailure(conn, protocol.DownloadFailed+"Invalid file type for this server")
	}

	archive, err := n.store.Bundle(ctx, cmd.Ext, routing.BundleStem(n.config.BundleName))
	if err != nil {
		_ = frame.SendFailure(conn, protocol.DownloadFailed+"No files found or tar creation failed")
		return err
	}
	defer func() { _ = archive.Remove() }()

	f, err := os.Open(archive.Path)
	if err != nil {
		_ = frame.SendFailure(conn, protocol.DownloadFailed+"Cannot open tar file")
		return err
	}
	defer func() { _ = f.Close() }()

	if err := frame.SendLengthFramed(conn, archive.Size, f); err != nil {
		return err
	}

	n.metrics.RecordBytes(n.config.Namespace, metrics.DirectionOut, archive.Size)
	log.Info("Sent %s bundle: %d file(s), %s", cmd.Ext, archive.Files, humanize.IBytes(archive.Size))
	return nil
}

func (n *Node) handleList(ctx context.Context, conn net.Conn, cmd protocol.Command, log *logger.Entry) error {
	if cmd.Path == "" || (cmd.Ext != "" && cmd.Ext != n.config.Extension) {
		return reply(conn, protocol.NoFilesFound)
	}

	names, err := n.store.List(ctx, cmd.Path, n.config.Extension)
	if err != nil {
		_ = reply(conn, protocol.NoFilesFound)
		return err
	}

	log.Debug("Listing %s: %d name(s)", cmd.Path, len(names))
	return protocol.WriteListing(conn, names)
}

func reply(conn net.Conn, status string) error {
	return protocol.WriteLine(conn, status)
}
