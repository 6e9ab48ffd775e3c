package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/metrics"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	"github.com/marmos91/shardfs/pkg/store"
)

// ============================================================================
// uploadf
// ============================================================================

func (s *session) handleStore(ctx context.Context, cmd protocol.Command) error {
	ns := s.gw.table.Namespace()
	name := cmd.FileName()

	if name == "" || cmd.Path == "" {
		s.drain()
		return s.status(protocol.UploadFailed+"Invalid command format", errors.New("missing operand"))
	}
	if !routing.HasPrefix(cmd.Path, ns) {
		s.drain()
		return s.status(protocol.UploadFailed+"Destination path must start with "+routing.Prefix(ns),
			fmt.Errorf("%w: %q", routing.ErrOutsideNamespace, cmd.Path))
	}
	if _, err := s.gw.store.Resolver().ResolveFile(cmd.Path, name); err != nil {
		s.drain()
		return s.status(adapter.UploadStatus(err), err)
	}

	route, err := s.gw.table.ForPath(name)
	if err != nil {
		s.drain()
		return s.status(protocol.UploadFailed+"Unsupported file type", err)
	}

	if route.Local() {
		n, err := s.gw.store.Put(ctx, cmd.Path, name, s.r)
		if err != nil {
			s.drain()
			return s.status(adapter.UploadStatus(err), err)
		}
		s.gw.metrics.RecordBytes(s.gw.Protocol(), metrics.DirectionIn, n)
		s.log.Info("Stored %s in %s (%s)", name, cmd.Path, humanize.IBytes(n))
		return s.status(protocol.StoredOK, nil)
	}

	return s.relayStore(ctx, route, cmd.Path, name)
}

// relayStore buffers the upload in the gateway temp directory, then forwards
// it to the owning node and relays the node's status verbatim.
func (s *session) relayStore(ctx context.Context, route routing.Route, dir, name string) error {
	tmp, err := s.gw.store.TempFile("relay", routing.Ext(name))
	if err != nil {
		s.drain()
		return s.status(protocol.UploadFailed+"Cannot create temp file", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	defer func() { _ = tmp.Close() }()

	n, err := frame.StreamUntilClose(tmp, s.r)
	if err != nil {
		s.drain()
		return s.status(adapter.UploadStatus(err), err)
	}
	s.gw.metrics.RecordBytes(s.gw.Protocol(), metrics.DirectionIn, n)

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return s.status(protocol.UploadFailed+"File not accessible", err)
	}

	remoteDir := routing.Translate(dir, s.gw.table.Namespace(), route.Namespace)
	text, sent, err := s.gw.nodes.store(ctx, route, remoteDir, name, tmp)
	switch {
	case errors.Is(err, errUnreachable):
		return s.status(protocol.UploadFailed+protocol.ServerUnreachable, err)
	case errors.Is(err, errNoResponse):
		return s.status(protocol.UploadFailed+protocol.NoResponse, err)
	case err != nil:
		return s.status(protocol.UploadFailed+"Error sending file to server", err)
	}

	var outcome error
	if text != protocol.StoredOK {
		outcome = &nodeFailure{node: route.Namespace, reason: text}
	} else {
		s.log.Info("Forwarded %s to %s:%s (%s)", name, route.Namespace, remoteDir, humanize.IBytes(sent))
	}
	return s.status(text, outcome)
}

// ============================================================================
// downlf
// ============================================================================

func (s *session) handleFetch(ctx context.Context, cmd protocol.Command) error {
	if cmd.Path == "" {
		return s.failure(protocol.NoFilePath, nil)
	}
	if _, err := s.gw.store.Resolver().Resolve(cmd.Path); err != nil {
		return s.failure(adapter.FetchReason(err), err)
	}

	route, err := s.gw.table.ForPath(cmd.Path)
	if err != nil {
		return s.failure(s.supportedTypes(), err)
	}

	if !route.Local() {
		return s.relayFetch(ctx, route, cmd.Path)
	}

	f, size, err := s.gw.store.Open(ctx, cmd.Path)
	if err != nil {
		return s.failure(adapter.FetchReason(err), err)
	}
	defer func() { _ = f.Close() }()

	if size == 0 {
		return s.failure(protocol.DownloadFailed+"File is empty", nil)
	}
	if err := frame.SendLengthFramed(s.conn, size, f); err != nil {
		return err
	}

	s.gw.metrics.RecordBytes(s.gw.Protocol(), metrics.DirectionOut, size)
	s.log.Debug("Sent %s (%s)", cmd.Path, humanize.IBytes(size))
	return nil
}

// relayFetch forwards a downlf and streams the node's frame to the client
// unmodified. Once the size has been relayed, a short body is fatal for the
// client connection.
func (s *session) relayFetch(ctx context.Context, route routing.Route, vp string) error {
	remote := routing.Translate(vp, s.gw.table.Namespace(), route.Namespace)

	ex, size, err := s.gw.nodes.openFrame(ctx, route, protocol.Command{Verb: protocol.VerbFetch, Path: remote}, s.gw.nodes.handshakeTimeout)
	if err != nil {
		var nf *nodeFailure
		switch {
		case errors.As(err, &nf):
			return s.failure(nf.reason, err)
		case errors.Is(err, errUnreachable):
			return s.failure(protocol.ServerUnreachable, err)
		case errors.Is(err, errSizeNotReceived):
			return s.failure(protocol.SizeNotReceived, err)
		case errors.Is(err, errNoResponse):
			return s.failure(protocol.NoResponse, err)
		default:
			return s.failure("Failed to send command to server", err)
		}
	}
	defer ex.close()

	if err := frame.WriteSize(s.conn, size); err != nil {
		return err
	}
	n, err := frame.CopyExact(s.conn, ex.r, size)
	s.gw.metrics.RecordBytes(s.gw.Protocol(), metrics.DirectionOut, n)
	if err != nil {
		return fmt.Errorf("relay %s from %s: %w", vp, route.Namespace, err)
	}

	s.log.Debug("Relayed %s from %s (%s)", vp, route.Namespace, humanize.IBytes(size))
	return nil
}

// ============================================================================
// removef
// ============================================================================

func (s *session) handleRemove(ctx context.Context, cmd protocol.Command) error {
	if cmd.Path == "" {
		return s.status(protocol.RemoveFailed+protocol.NoFilePath, errors.New("missing path"))
	}
	if _, err := s.gw.store.Resolver().Resolve(cmd.Path); err != nil {
		return s.status(adapter.RemoveStatus(err), err)
	}

	route, err := s.gw.table.ForPath(cmd.Path)
	if err != nil {
		return s.status(adapter.RemoveStatus(err), err)
	}

	if route.Local() {
		err := s.gw.store.Remove(ctx, cmd.Path)
		if err == nil {
			s.log.Info("Removed %s", cmd.Path)
		}
		return s.status(adapter.RemoveStatus(err), err)
	}

	remote := routing.Translate(cmd.Path, s.gw.table.Namespace(), route.Namespace)
	text, err := s.gw.nodes.remove(ctx, route, remote)
	switch {
	case errors.Is(err, errUnreachable):
		return s.status(protocol.RemoveFailed+"Cannot connect to server", err)
	case err != nil:
		return s.status(protocol.RemoveFailed+protocol.NoResponse, err)
	}

	var outcome error
	if text != protocol.RemovedOK {
		outcome = &nodeFailure{node: route.Namespace, reason: text}
	}
	return s.status(text, outcome)
}

// ============================================================================
// downltar
// ============================================================================

func (s *session) handleBundle(ctx context.Context, cmd protocol.Command) error {
	if cmd.Ext == "" {
		return s.failure(protocol.DownloadFailed+"No file type provided", nil)
	}

	route, err := s.gw.table.ForBundle(cmd.Ext)
	if err != nil {
		return s.failure(protocol.DownloadFailed+"Invalid file type", err)
	}

	archive, err := s.gw.agg.Bundle(ctx, route)
	if err != nil {
		return s.failure(bundleReason(route, err), err)
	}
	defer func() { _ = archive.Remove() }()

	f, err := os.Open(archive.Path)
	if err != nil {
		return s.failure(protocol.DownloadFailed+"Cannot open tar file on "+s.gw.table.Namespace(), err)
	}
	defer func() { _ = f.Close() }()

	if err := frame.SendLengthFramed(s.conn, archive.Size, f); err != nil {
		return err
	}

	s.gw.metrics.RecordBytes(s.gw.Protocol(), metrics.DirectionOut, archive.Size)
	s.log.Info("Sent %s (%s)", route.BundleName, humanize.IBytes(archive.Size))
	return nil
}

func bundleReason(route routing.Route, err error) string {
	var nf *nodeFailure
	switch {
	case errors.As(err, &nf):
		return nf.reason
	case errors.Is(err, store.ErrNoMatches):
		return protocol.DownloadFailed + "No " + route.Extension + " files found or tar creation failed"
	case errors.Is(err, errUnreachable):
		return protocol.DownloadFailed + "Cannot connect to server"
	case errors.Is(err, errSizeNotReceived):
		return protocol.DownloadFailed + protocol.SizeNotReceived
	case errors.Is(err, errNoResponse):
		return protocol.DownloadFailed + protocol.NoResponse
	case errors.Is(err, frame.ErrShortRead):
		return protocol.DownloadFailed + "Transfer interrupted"
	default:
		return protocol.DownloadFailed + "Tar creation failed"
	}
}

// ============================================================================
// dispfnames
// ============================================================================

func (s *session) handleList(ctx context.Context, cmd protocol.Command) error {
	if cmd.Path == "" {
		return s.status(protocol.NoFilesFound, nil)
	}
	if _, err := s.gw.store.Resolver().Resolve(cmd.Path); err != nil {
		return s.status(protocol.NoFilesFound, err)
	}

	names := s.gw.agg.List(ctx, cmd.Path, s.log)
	s.log.Debug("Listing %s: %d name(s)", cmd.Path, len(names))
	return protocol.WriteListing(s.conn, names)
}

// supportedTypes is the reason sent for a download of an unrouted type,
// e.g. "Only .c, .pdf, .txt, .zip supported".
func (s *session) supportedTypes() string {
	return "Only " + strings.Join(s.gw.table.Extensions(), ", ") + " supported"
}
