package node

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	fsstore "github.com/marmos91/shardfs/pkg/store/fs"
)

type testNode struct {
	node *Node
	root string
	addr string
}

func startNode(t *testing.T, namespace, ext, bundleName string) *testNode {
	t.Helper()

	home := t.TempDir()
	resolver, err := routing.NewResolver(home, namespace)
	require.NoError(t, err)

	n := New(Config{
		TCPConfig:  adapter.TCPConfig{BindAddress: "127.0.0.1", ShutdownTimeout: time.Second},
		Namespace:  namespace,
		Extension:  ext,
		BundleName: bundleName,
		Bundlable:  bundleName != "",
	}, fsstore.New(resolver, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-n.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("node did not start")
	}

	return &testNode{node: n, root: filepath.Join(home, namespace), addr: n.Addr().String()}
}

// exchange sends one command (and optional payload), half-closes and reads
// the reply until the node closes.
func (tn *testNode) exchange(t *testing.T, line string, payload []byte) []byte {
	t.Helper()

	conn, err := net.Dial("tcp", tn.addr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = io.WriteString(conn, line+"\n")
	require.NoError(t, err)
	if payload != nil {
		_, err = conn.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return reply
}

func (tn *testNode) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(tn.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func readFrame(t *testing.T, reply []byte) (uint64, []byte, string) {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(reply))
	size, err := frame.ReadSize(r)
	require.NoError(t, err)
	if size == 0 {
		reason, err := frame.ReadReason(r)
		require.NoError(t, err)
		return 0, nil, reason
	}
	body, err := frame.ReceiveExact(r, int(size))
	require.NoError(t, err)
	return size, body, ""
}

func TestNodeStoreAndFetch(t *testing.T) {
	tn := startNode(t, "S2", ".pdf", "pdffiles.tar")
	payload := bytes.Repeat([]byte("%PDF-1.7 "), 10_000)

	reply := tn.exchange(t, "uploadf report.pdf ~S2/docs/2024", payload)
	assert.Equal(t, protocol.StoredOK+"\n", string(reply))

	stored, err := os.ReadFile(filepath.Join(tn.root, "docs", "2024", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	size, body, _ := readFrame(t, tn.exchange(t, "downlf ~S2/docs/2024/report.pdf", nil))
	assert.Equal(t, uint64(len(payload)), size)
	assert.Equal(t, payload, body)
}

func TestNodeStoreRejections(t *testing.T) {
	tn := startNode(t, "S3", ".txt", "textfiles.tar")

	tests := []struct {
		name    string
		line    string
		payload []byte
		want    string
	}{
		{"empty payload", "uploadf a.txt ~S3/notes", []byte{}, "Upload failed: No data received"},
		{"wrong type", "uploadf a.pdf ~S3/notes", []byte("x"), "Upload failed: Unsupported file type"},
		{"missing destination", "uploadf a.txt", []byte("x"), "Upload failed: Invalid command format"},
		{"foreign namespace", "uploadf a.txt ~S2/notes", []byte("x"), "Upload failed: Invalid destination path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want+"\n", string(tn.exchange(t, tt.line, tt.payload)))
		})
	}

	_, err := os.Stat(filepath.Join(tn.root, "notes", "a.txt"))
	assert.True(t, os.IsNotExist(err), "rejected uploads leave nothing behind")
}

func TestNodeFetchFailures(t *testing.T) {
	tn := startNode(t, "S3", ".txt", "textfiles.tar")

	_, _, reason := readFrame(t, tn.exchange(t, "downlf ~S3/missing.txt", nil))
	assert.Equal(t, protocol.FileNotFound, reason)

	_, _, reason = readFrame(t, tn.exchange(t, "downlf", nil))
	assert.Equal(t, protocol.NoFilePath, reason)
}

func TestNodeRemove(t *testing.T) {
	tn := startNode(t, "S4", ".zip", "")
	tn.write(t, "archives/a.zip", "PK")

	assert.Equal(t, protocol.RemovedOK+"\n", string(tn.exchange(t, "removef ~S4/archives/a.zip", nil)))
	assert.Equal(t, "Remove failed: File not found\n", string(tn.exchange(t, "removef ~S4/archives/a.zip", nil)))
	assert.Equal(t, "Remove failed: Not a regular file\n", string(tn.exchange(t, "removef ~S4/archives", nil)))
}

func TestNodeBundle(t *testing.T) {
	tn := startNode(t, "S2", ".pdf", "pdffiles.tar")
	tn.write(t, "a.pdf", "alpha")
	tn.write(t, "deep/b.pdf", "bravo")
	tn.write(t, "deep/c.txt", "ignored")

	size, body, _ := readFrame(t, tn.exchange(t, "downltar .pdf", nil))
	require.NotZero(t, size)

	tr := tar.NewReader(bytes.NewReader(body))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"a.pdf", "deep/b.pdf"}, names)

	entries, err := os.ReadDir(filepath.Join(tn.root, "temp"))
	require.NoError(t, err)
	assert.Empty(t, entries, "archive is removed after streaming")
}

func TestNodeBundleRejections(t *testing.T) {
	pdf := startNode(t, "S2", ".pdf", "pdffiles.tar")
	_, _, reason := readFrame(t, pdf.exchange(t, "downltar .txt", nil))
	assert.Equal(t, "Download failed: Invalid file type for this server", reason)

	_, _, reason = readFrame(t, pdf.exchange(t, "downltar .pdf", nil))
	assert.Equal(t, "Download failed: No files found or tar creation failed", reason)

	zip := startNode(t, "S4", ".zip", "")
	zip.write(t, "a.zip", "PK")
	_, _, reason = readFrame(t, zip.exchange(t, "downltar .zip", nil))
	assert.Equal(t, "Download failed: Invalid file type for this server", reason)
}

func TestNodeList(t *testing.T) {
	tn := startNode(t, "S3", ".txt", "textfiles.tar")
	tn.write(t, "docs/zulu.txt", "z")
	tn.write(t, "docs/alpha.txt", "a")
	tn.write(t, "docs/inner/mike.txt", "m")
	tn.write(t, "docs/skip.pdf", "p")

	reply := tn.exchange(t, "dispfnames ~S3/docs .txt", nil)
	assert.Equal(t, "alpha.txt\nmike.txt\nzulu.txt\n\n", string(reply))

	assert.Equal(t, protocol.NoFilesFound+"\n", string(tn.exchange(t, "dispfnames ~S3/docs .pdf", nil)))
	assert.Equal(t, protocol.NoFilesFound+"\n", string(tn.exchange(t, "dispfnames ~S3/empty .txt", nil)))
}

func TestNodeIgnoresUnknownVerb(t *testing.T) {
	tn := startNode(t, "S2", ".pdf", "pdffiles.tar")
	assert.Empty(t, tn.exchange(t, "format ~S2/", nil))
}

func TestNewRejectsForeignStore(t *testing.T) {
	resolver, err := routing.NewResolver(t.TempDir(), "S3")
	require.NoError(t, err)

	assert.Panics(t, func() {
		New(Config{Namespace: "S2", Extension: ".pdf"}, fsstore.New(resolver, nil), nil)
	})
	assert.Panics(t, func() {
		New(Config{Namespace: "S3", Extension: "txt"}, fsstore.New(resolver, nil), nil)
	})
}
