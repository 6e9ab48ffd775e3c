// Package bundle writes archives of stored files.
package bundle

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Builder writes an archive containing files to w. Each entry in files is a
// path relative to root and becomes the entry name inside the archive.
type Builder interface {
	Build(ctx context.Context, root string, files []string, w io.Writer) error
}

// Tar builds uncompressed POSIX tar archives.
type Tar struct{}

// NewTar returns a tar Builder.
func NewTar() *Tar {
	return &Tar{}
}

// Build implements Builder.
func (Tar) Build(ctx context.Context, root string, files []string, w io.Writer) error {
	tw := tar.NewWriter(w)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(tw, root, rel); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}

	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return fmt.Errorf("header for %s: %w", rel, err)
	}
	hdr.Name = filepath.ToSlash(rel)

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", rel, err)
	}
	// The entry size is fixed by the header, even if the file grows meanwhile.
	if _, err := io.CopyN(tw, f, hdr.Size); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}
