// Package fs implements node storage on the local filesystem.
//
// Every node (the gateway for its local category, and each storage node)
// keeps its files under <home>/<namespace>/ as laid out by a
// routing.Resolver. Scratch files (upload relay buffers and archives) live in
// <home>/<namespace>/temp/ and are excluded from listings and bundles.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-uuid"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/bundle"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	"github.com/marmos91/shardfs/pkg/store"
)

// Store performs file operations for one namespace.
//
// Store holds no mutable state; concurrent calls for different paths are
// independent. Concurrent writers to the same path race at rename
// granularity: the last completed upload wins.
type Store struct {
	resolver *routing.Resolver
	builder  bundle.Builder
}

// New creates a Store over resolver's tree. builder produces Bundle archives;
// nil selects tar.
func New(resolver *routing.Resolver, builder bundle.Builder) *Store {
	if resolver == nil {
		panic("fs: resolver cannot be nil")
	}
	if builder == nil {
		builder = bundle.NewTar()
	}
	return &Store{resolver: resolver, builder: builder}
}

// Resolver returns the resolver the store writes through.
func (s *Store) Resolver() *routing.Resolver {
	return s.resolver
}

// TempFile creates a uniquely named scratch file in the temp directory. The
// caller owns the file and must remove it.
func (s *Store) TempFile(prefix, suffix string) (*os.File, error) {
	dir := s.resolver.TempDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("generate temp name: %w", err)
	}

	name := filepath.Join(dir, prefix+"-"+id+suffix)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// Put stores the close-terminated stream r as <dir>/<name>.
//
// The data is first written to a scratch file and renamed into place once
// complete, so a failed or empty upload never leaves a partial or zero-byte
// file at the destination. An empty stream fails with frame.ErrNoData.
func (s *Store) Put(ctx context.Context, dir, name string, r io.Reader) (uint64, error) {
	// ========================================================================
	// Step 1: Validate and resolve destination
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	target, err := s.resolver.ResolveFile(dir, name)
	if err != nil {
		return 0, err
	}

	// ========================================================================
	// Step 2: Stream into a scratch file
	// ========================================================================

	tmp, err := s.TempFile("upload", "")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := frame.StreamUntilClose(tmp, r)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("flush upload: %w", closeErr)
	}
	if err != nil {
		return n, err
	}

	// ========================================================================
	// Step 3: Move into place
	// ========================================================================

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return n, fmt.Errorf("create directory: %w", mapErr(err))
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return n, fmt.Errorf("set mode: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return n, fmt.Errorf("store %s: %w", name, mapErr(err))
	}

	logger.Debug("Stored %s (%d bytes)", target, n)
	return n, nil
}

// Open opens the regular file at vp for reading and returns its size.
func (s *Store) Open(ctx context.Context, vp string) (*os.File, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	p, err := s.resolver.Resolve(vp)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", vp, mapErr(err))
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", vp, mapErr(err))
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("open %s: %w", vp, store.ErrNotRegular)
	}

	return f, uint64(fi.Size()), nil
}

// Remove deletes the regular file at vp.
func (s *Store) Remove(ctx context.Context, vp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.resolver.Resolve(vp)
	if err != nil {
		return err
	}

	fi, err := os.Lstat(p)
	if err != nil {
		return fmt.Errorf("remove %s: %w", vp, mapErr(err))
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("remove %s: %w", vp, store.ErrNotRegular)
	}

	if err := os.Remove(p); err != nil {
		return fmt.Errorf("remove %s: %w", vp, mapErr(err))
	}

	logger.Debug("Removed %s", p)
	return nil
}

// mapErr converts filesystem errors into store sentinels, keeping the
// original error in the chain.
func mapErr(err error) error {
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	case errors.Is(err, iofs.ErrPermission):
		return fmt.Errorf("%w: %w", store.ErrPermission, err)
	default:
		return err
	}
}
