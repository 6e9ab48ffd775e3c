package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	fsstore "github.com/marmos91/shardfs/pkg/store/fs"
)

// aggregator combines results across the local store and the storage nodes.
type aggregator struct {
	table *routing.Table
	store *fsstore.Store
	nodes *nodeClient
}

// List collects the names below dir from every route, one route at a time
// in table order. Each block is sorted by its source. A route that fails or
// has nothing contributes nothing.
func (a *aggregator) List(ctx context.Context, dir string, log *logger.Entry) []string {
	var all []string
	for _, route := range a.table.Routes() {
		if ctx.Err() != nil {
			break
		}

		var (
			names []string
			err   error
		)
		if route.Local() {
			names, err = a.store.List(ctx, dir, route.Extension)
		} else {
			names, err = a.nodes.list(ctx, route, routing.Translate(dir, a.table.Namespace(), route.Namespace))
		}
		if err != nil {
			log.Debug("Listing %s on %s skipped: %v", route.Extension, route.Namespace, err)
			continue
		}
		all = append(all, names...)
	}
	return all
}

// Bundle materializes the archive for route in the gateway's temp
// directory. Remote archives are received into a temp file first so the
// client gets a size that was verified against the bytes actually held.
func (a *aggregator) Bundle(ctx context.Context, route routing.Route) (*fsstore.Archive, error) {
	if route.Local() {
		return a.store.Bundle(ctx, route.Extension, route.BundleStem())
	}

	ex, size, err := a.nodes.openFrame(ctx, route, protocol.Command{Verb: protocol.VerbBundle, Ext: route.Extension}, 0)
	if err != nil {
		return nil, err
	}
	defer ex.close()

	f, err := a.store.TempFile(route.BundleStem(), ".tar")
	if err != nil {
		return nil, err
	}
	archive := &fsstore.Archive{Path: f.Name()}

	n, err := frame.CopyExact(f, ex.r, size)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = archive.Remove()
		return nil, fmt.Errorf("receive %s bundle from %s: %w", route.Extension, route.Namespace, err)
	}

	fi, err := os.Stat(archive.Path)
	if err != nil {
		_ = archive.Remove()
		return nil, fmt.Errorf("stat received bundle: %w", err)
	}
	if uint64(fi.Size()) != n {
		_ = archive.Remove()
		return nil, fmt.Errorf("received bundle is %d bytes, expected %d: %w", fi.Size(), n, frame.ErrShortRead)
	}
	archive.Size = n
	return archive, nil
}
