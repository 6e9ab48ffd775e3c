package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/metrics"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
)

var (
	// errUnreachable wraps dial failures.
	errUnreachable = errors.New("storage node unreachable")

	// errNoResponse means the node closed without a status or reason.
	errNoResponse = errors.New("no response from storage node")

	// errSizeNotReceived means the size prefix did not arrive within the
	// handshake timeout.
	errSizeNotReceived = errors.New("size prefix not received")
)

// nodeFailure is a failure reported by a storage node, relayed verbatim.
type nodeFailure struct {
	node   string
	reason string
}

func (e *nodeFailure) Error() string {
	return e.node + ": " + e.reason
}

// nodeClient performs gateway to node exchanges: one connection per command,
// reply terminated by the node closing.
type nodeClient struct {
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	metrics          metrics.NodeMetrics
}

type exchange struct {
	conn net.Conn
	r    *bufio.Reader
	stop func() bool
}

func (e *exchange) close() {
	e.stop()
	_ = e.conn.Close()
}

// open dials route and sends cmd. The connection is closed if ctx is
// cancelled while the exchange is open.
func (c *nodeClient) open(ctx context.Context, route routing.Route, cmd protocol.Command) (ex *exchange, err error) {
	defer func() { c.metrics.RecordForward(route.Namespace, cmd.Verb.String(), err) }()

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", route.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s: %w", errUnreachable, route.Namespace, route.Address, err)
	}

	ex = &exchange{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 64*1024),
		stop: context.AfterFunc(ctx, func() { _ = conn.Close() }),
	}

	if _, err := io.WriteString(conn, cmd.Line()); err != nil {
		ex.close()
		return nil, fmt.Errorf("send %s to %s: %w", cmd.Verb, route.Namespace, err)
	}
	return ex, nil
}

// readStatus reads a one-line status that the node terminates by closing.
func (e *exchange) readStatus() (string, error) {
	raw, err := io.ReadAll(io.LimitReader(e.r, protocol.MaxCommandLength))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		if err != nil {
			return "", fmt.Errorf("%w: %w", errNoResponse, err)
		}
		return "", errNoResponse
	}
	return text, nil
}

// store forwards an upload: command, payload, half-close, then the node's
// status.
func (c *nodeClient) store(ctx context.Context, route routing.Route, dir, name string, payload io.Reader) (string, uint64, error) {
	ex, err := c.open(ctx, route, protocol.Command{Verb: protocol.VerbStore, Name: name, Path: dir})
	if err != nil {
		return "", 0, err
	}
	defer ex.close()

	n, err := io.Copy(ex.conn, payload)
	if err != nil {
		return "", uint64(n), fmt.Errorf("send payload to %s: %w", route.Namespace, err)
	}
	if err := adapter.CloseWrite(ex.conn); err != nil {
		return "", uint64(n), fmt.Errorf("half-close to %s: %w", route.Namespace, err)
	}

	text, err := ex.readStatus()
	return text, uint64(n), err
}

// remove forwards a removef and returns the node's status.
func (c *nodeClient) remove(ctx context.Context, route routing.Route, vp string) (string, error) {
	ex, err := c.open(ctx, route, protocol.Command{Verb: protocol.VerbRemove, Path: vp})
	if err != nil {
		return "", err
	}
	defer ex.close()
	return ex.readStatus()
}

// list asks route for the names of its own type below dir.
func (c *nodeClient) list(ctx context.Context, route routing.Route, dir string) ([]string, error) {
	ex, err := c.open(ctx, route, protocol.Command{Verb: protocol.VerbListNames, Path: dir, Ext: route.Extension})
	if err != nil {
		return nil, err
	}
	defer ex.close()
	return protocol.ReadListing(ex.r)
}

// openFrame sends cmd and reads the size prefix. A positive timeout bounds
// the wait for the prefix; zero waits as long as the node needs. A zero
// size is turned into a *nodeFailure carrying the node's reason. On success
// the caller reads exactly size bytes from ex.r and closes ex.
func (c *nodeClient) openFrame(ctx context.Context, route routing.Route, cmd protocol.Command, timeout time.Duration) (*exchange, uint64, error) {
	ex, err := c.open(ctx, route, cmd)
	if err != nil {
		return nil, 0, err
	}

	if timeout > 0 {
		_ = ex.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	size, err := frame.ReadSize(ex.r)
	if err != nil {
		ex.close()
		return nil, 0, fmt.Errorf("%w from %s: %w", errSizeNotReceived, route.Namespace, err)
	}
	_ = ex.conn.SetReadDeadline(time.Time{})

	if size == 0 {
		defer ex.close()
		reason, err := frame.ReadReason(ex.r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", errNoResponse, err)
		}
		return nil, 0, &nodeFailure{node: route.Namespace, reason: reason}
	}
	return ex, size, nil
}
