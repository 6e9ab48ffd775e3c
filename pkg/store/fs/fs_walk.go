package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/saracen/walker"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/store"
)

// Archive is a bundle materialized in the temp directory. It belongs to a
// single request and must be removed once streamed.
type Archive struct {
	Path  string
	Size  uint64
	Files int
}

// Remove deletes the archive file.
func (a *Archive) Remove() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the base names of regular files with extension ext anywhere
// below the virtual directory dir, sorted. A missing directory yields an
// empty result.
func (s *Store) List(ctx context.Context, dir, ext string) ([]string, error) {
	p, err := s.resolver.Resolve(dir)
	if err != nil {
		return nil, err
	}

	matches, err := s.collect(ctx, p, ext)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names, nil
}

// Bundle archives every file with extension ext in the namespace into a
// fresh temp file named <stem>-<uuid>.tar. Entry names are relative to the
// namespace root. No matching file yields store.ErrNoMatches and no
// archive is left behind.
func (s *Store) Bundle(ctx context.Context, ext, stem string) (*Archive, error) {
	// ========================================================================
	// Step 1: Collect matching files
	// ========================================================================

	root := s.resolver.Root()
	matches, err := s.collect(ctx, root, ext)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("bundle %s: %w", ext, store.ErrNoMatches)
	}

	rel := make([]string, len(matches))
	for i, m := range matches {
		r, err := filepath.Rel(root, m)
		if err != nil {
			return nil, fmt.Errorf("relative path of %s: %w", m, err)
		}
		rel[i] = r
	}

	// ========================================================================
	// Step 2: Write the archive
	// ========================================================================

	f, err := s.TempFile(stem, ".tar")
	if err != nil {
		return nil, err
	}
	archive := &Archive{Path: f.Name(), Files: len(rel)}

	buildErr := s.builder.Build(ctx, root, rel, f)
	closeErr := f.Close()
	if buildErr == nil {
		buildErr = closeErr
	}
	if buildErr != nil {
		_ = archive.Remove()
		return nil, fmt.Errorf("build archive: %w", buildErr)
	}

	fi, err := os.Stat(archive.Path)
	if err != nil {
		_ = archive.Remove()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	archive.Size = uint64(fi.Size())

	logger.Debug("Bundled %d %s file(s) into %s (%d bytes)", archive.Files, ext, archive.Path, archive.Size)
	return archive, nil
}

// collect walks dir and returns the sorted absolute paths of regular files
// with extension ext, skipping the temp directory. Unreadable entries are
// logged and skipped.
func (s *Store) collect(ctx context.Context, dir, ext string) ([]string, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", dir, mapErr(err))
	}
	if !fi.IsDir() {
		return nil, nil
	}

	temp := s.resolver.TempDir()

	var (
		mu      sync.Mutex
		matches []string
	)

	walkFn := func(pathname string, fi os.FileInfo) error {
		if fi.IsDir() {
			if pathname == temp {
				return filepath.SkipDir
			}
			return nil
		}
		if !fi.Mode().IsRegular() || filepath.Ext(pathname) != ext {
			return nil
		}

		mu.Lock()
		matches = append(matches, pathname)
		mu.Unlock()
		return nil
	}

	errorFn := walker.WithErrorCallback(func(pathname string, err error) error {
		logger.Debug("Skipping %s during walk: %v", pathname, err)
		return nil
	})

	if err := walker.WalkWithContext(ctx, dir, walkFn, errorFn); err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	sort.Strings(matches)
	return matches, nil
}
