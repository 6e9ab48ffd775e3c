package fs

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	"github.com/marmos91/shardfs/pkg/store"
)

func newTestStore(t *testing.T, namespace string) (*Store, string) {
	t.Helper()
	home := t.TempDir()
	resolver, err := routing.NewResolver(home, namespace)
	require.NoError(t, err)
	return New(resolver, nil), filepath.Join(home, namespace)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func tempEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "temp"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPutThenOpen(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S1")

	n, err := s.Put(ctx, "~S1/src/", "main.c", strings.NewReader("int main(void) { return 0; }\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(29), n)

	f, size, err := s.Open(ctx, "~S1/src/main.c")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, n, size)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "int main(void) { return 0; }\n", string(data))

	_, err = os.Stat(filepath.Join(root, "src", "main.c"))
	assert.NoError(t, err)
	assert.Empty(t, tempEntries(t, root), "scratch file must be gone")
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "S3")

	_, err := s.Put(ctx, "~S3/notes", "a.txt", strings.NewReader("first version"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "~S3/notes", "a.txt", strings.NewReader("second"))
	require.NoError(t, err)

	f, size, err := s.Open(ctx, "~S3/notes/a.txt")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, uint64(6), size)
}

func TestPutEmptyStreamCreatesNothing(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S1")

	_, err := s.Put(ctx, "~S1/src", "empty.c", strings.NewReader(""))
	assert.ErrorIs(t, err, frame.ErrNoData)

	_, statErr := os.Stat(filepath.Join(root, "src", "empty.c"))
	assert.True(t, os.IsNotExist(statErr), "no zero-byte file may be created")
	assert.Empty(t, tempEntries(t, root))
}

func TestPutEmptyKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "S1")

	_, err := s.Put(ctx, "~S1", "keep.c", strings.NewReader("v1"))
	require.NoError(t, err)

	_, err = s.Put(ctx, "~S1", "keep.c", strings.NewReader(""))
	require.Error(t, err)

	f, _, err := s.Open(ctx, "~S1/keep.c")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	data, _ := io.ReadAll(f)
	assert.Equal(t, "v1", string(data))
}

func TestPutRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "S2")

	_, err := s.Put(ctx, "~S2/../S3", "a.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, routing.ErrOutsideNamespace)

	_, err = s.Put(ctx, "~S2", "../a.pdf", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S1")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.c"), 0755))

	_, _, err := s.Open(ctx, "~S1/missing.c")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = s.Open(ctx, "~S1/dir.c")
	assert.ErrorIs(t, err, store.ErrNotRegular)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S4")
	writeFile(t, filepath.Join(root, "a.zip"), "PK")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "folder.zip"), 0755))

	require.NoError(t, s.Remove(ctx, "~S4/a.zip"))
	_, err := os.Stat(filepath.Join(root, "a.zip"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.Remove(ctx, "~S4/a.zip"), store.ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "~S4/folder.zip"), store.ErrNotRegular)
}

func TestRemovePermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}
	ctx := context.Background()
	s, root := newTestStore(t, "S1")
	dir := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(dir, "a.c"), "x")
	require.NoError(t, os.Chmod(dir, 0555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0755) })

	assert.ErrorIs(t, s.Remove(ctx, "~S1/locked/a.c"), store.ErrPermission)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S3")
	writeFile(t, filepath.Join(root, "docs", "zeta.txt"), "z")
	writeFile(t, filepath.Join(root, "docs", "alpha.txt"), "a")
	writeFile(t, filepath.Join(root, "docs", "sub", "mid.txt"), "m")
	writeFile(t, filepath.Join(root, "docs", "skip.pdf"), "p")
	writeFile(t, filepath.Join(root, "temp", "stale.txt"), "t")

	names, err := s.List(ctx, "~S3/docs", ".txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.txt", "mid.txt", "zeta.txt"}, names)

	all, err := s.List(ctx, "~S3", ".txt")
	require.NoError(t, err)
	assert.NotContains(t, all, "stale.txt", "temp directory is never listed")

	missing, err := s.List(ctx, "~S3/nope", ".txt")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestBundle(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S2")
	writeFile(t, filepath.Join(root, "a.pdf"), "first")
	writeFile(t, filepath.Join(root, "docs", "b.pdf"), "second")
	writeFile(t, filepath.Join(root, "docs", "c.txt"), "ignored")

	archive, err := s.Bundle(ctx, ".pdf", "pdffiles")
	require.NoError(t, err)
	defer func() { _ = archive.Remove() }()

	assert.Equal(t, 2, archive.Files)
	assert.True(t, strings.HasPrefix(filepath.Base(archive.Path), "pdffiles-"))
	assert.True(t, strings.HasSuffix(archive.Path, ".tar"))

	f, err := os.Open(archive.Path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(fi.Size()), archive.Size)

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"a.pdf", "docs/b.pdf"}, names)

	require.NoError(t, archive.Remove())
	assert.Empty(t, tempEntries(t, root))
}

func TestBundleNoMatchesLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s, root := newTestStore(t, "S1")
	writeFile(t, filepath.Join(root, "readme.txt"), "not a source file")

	_, err := s.Bundle(ctx, ".c", "cfiles")
	assert.ErrorIs(t, err, store.ErrNoMatches)
	assert.Empty(t, tempEntries(t, root))

	_, err = newStoreWithoutTree(t).Bundle(ctx, ".c", "cfiles")
	assert.ErrorIs(t, err, store.ErrNoMatches)
}

func newStoreWithoutTree(t *testing.T) *Store {
	s, root := newTestStore(t, "S9")
	_, err := os.Stat(root)
	require.True(t, os.IsNotExist(err))
	return s
}
