package gateway

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/adapter/node"
	"github.com/marmos91/shardfs/pkg/client"
	"github.com/marmos91/shardfs/pkg/routing"
	fsstore "github.com/marmos91/shardfs/pkg/store/fs"
)

type server interface {
	Serve(ctx context.Context) error
	Ready() <-chan struct{}
	Addr() net.Addr
}

func serve(t *testing.T, s server) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	return s.Addr().String()
}

func localTCP() adapter.TCPConfig {
	return adapter.TCPConfig{BindAddress: "127.0.0.1", ShutdownTimeout: time.Second}
}

func newStore(t *testing.T, home, namespace string) *fsstore.Store {
	t.Helper()
	resolver, err := routing.NewResolver(home, namespace)
	require.NoError(t, err)
	return fsstore.New(resolver, nil)
}

type testCluster struct {
	home   string
	addr   string
	gw     *Gateway
	client *client.Client
}

// startCluster runs a gateway for .c and one node each for .pdf, .txt and
// .zip, all sharing one home directory.
func startCluster(t *testing.T) *testCluster {
	t.Helper()
	home := t.TempDir()

	routes := []routing.Route{
		{Extension: ".c", Namespace: "S1", BundleName: "cfiles.tar", Bundlable: true},
	}
	for _, nc := range []node.Config{
		{Namespace: "S2", Extension: ".pdf", BundleName: "pdffiles.tar", Bundlable: true},
		{Namespace: "S3", Extension: ".txt", BundleName: "textfiles.tar", Bundlable: true},
		{Namespace: "S4", Extension: ".zip"},
	} {
		nc.TCPConfig = localTCP()
		n := node.New(nc, newStore(t, home, nc.Namespace), nil)
		addr := serve(t, n)
		routes = append(routes, routing.Route{
			Extension:  nc.Extension,
			Namespace:  nc.Namespace,
			Address:    addr,
			BundleName: nc.BundleName,
			Bundlable:  nc.Bundlable,
		})
	}

	return startGateway(t, home, routes, Config{TCPConfig: localTCP()})
}

func startGateway(t *testing.T, home string, routes []routing.Route, config Config) *testCluster {
	t.Helper()

	table, err := routing.NewTable("S1", routes)
	require.NoError(t, err)

	gw := New(config, table, newStore(t, home, "S1"), nil)
	addr := serve(t, gw)

	c := client.New(addr)
	t.Cleanup(func() { _ = c.Close() })

	return &testCluster{home: home, addr: addr, gw: gw, client: c}
}

func (tc *testCluster) path(namespace string, rel ...string) string {
	return filepath.Join(append([]string{tc.home, namespace}, rel...)...)
}

func (tc *testCluster) tempEntries(t *testing.T, namespace string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(tc.path(namespace, "temp"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
