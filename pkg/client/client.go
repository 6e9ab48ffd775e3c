// Package client speaks the shardfs gateway protocol.
//
// A Client keeps one connection open across commands and redials on demand.
// Uploads end the connection: the payload is terminated by half-closing, so
// the next command opens a fresh one.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
)

// RemoteError is a failure reported by the gateway.
type RemoteError struct {
	Op     string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Client is a gateway connection. Methods are serialized; a Client may be
// shared between goroutines but commands do not run in parallel.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// New returns a client for the gateway at addr. No connection is made until
// the first command.
func New(addr string) *Client {
	return &Client{addr: addr, dialTimeout: 5 * time.Second}
}

// Close closes the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset()
}

func (c *Client) reset() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r = nil, nil
	return err
}

// begin ensures a connection and binds ctx to it. The returned func must be
// called when the command completes.
func (c *Client) begin(ctx context.Context) (func(), error) {
	if c.conn == nil {
		d := net.Dialer{Timeout: c.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", c.addr, err)
		}
		c.conn, c.r = conn, bufio.NewReaderSize(conn, 64*1024)
	}

	conn := c.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return func() { stop() }, nil
}

// do runs fn with an open connection. Any transport error drops the
// connection so the next command redials.
func (c *Client) do(ctx context.Context, cmd protocol.Command, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	end, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	if _, err := io.WriteString(c.conn, cmd.Line()); err != nil {
		_ = c.reset()
		return fmt.Errorf("send %s: %w", cmd.Verb, err)
	}
	if err := fn(); err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			_ = c.reset()
		}
		return err
	}
	return nil
}

// Upload sends the local file at localPath to the virtual directory destDir
// (e.g. "~S1/docs").
func (c *Client) Upload(ctx context.Context, localPath, destDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return c.UploadReader(ctx, filepath.Base(localPath), destDir, f)
}

// UploadReader sends r as name into destDir. The connection is closed
// afterwards.
func (c *Client) UploadReader(ctx context.Context, name, destDir string, r io.Reader) error {
	cmd := protocol.Command{Verb: protocol.VerbStore, Name: name, Path: destDir}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { _ = c.reset() }()

	end, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	if _, err := io.WriteString(c.conn, cmd.Line()); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Verb, err)
	}
	if _, err := io.Copy(c.conn, r); err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	if err := adapter.CloseWrite(c.conn); err != nil {
		return fmt.Errorf("end payload: %w", err)
	}

	status, err := protocol.ReadLine(c.r)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if status != protocol.StoredOK {
		return &RemoteError{Op: cmd.Verb.String(), Reason: status}
	}
	return nil
}

// Download writes the file at vp to w and returns its size.
func (c *Client) Download(ctx context.Context, vp string, w io.Writer) (uint64, error) {
	return c.receive(ctx, protocol.Command{Verb: protocol.VerbFetch, Path: vp}, w)
}

// Bundle writes the tar archive of every file with extension ext to w.
func (c *Client) Bundle(ctx context.Context, ext string, w io.Writer) (uint64, error) {
	return c.receive(ctx, protocol.Command{Verb: protocol.VerbBundle, Ext: ext}, w)
}

func (c *Client) receive(ctx context.Context, cmd protocol.Command, w io.Writer) (uint64, error) {
	var size uint64
	err := c.do(ctx, cmd, func() error {
		n, err := frame.ReadSize(c.r)
		if err != nil {
			return fmt.Errorf("read size: %w", err)
		}
		if n == 0 {
			reason, err := frame.ReadReason(c.r)
			if err != nil {
				return fmt.Errorf("read failure reason: %w", err)
			}
			return &RemoteError{Op: cmd.Verb.String(), Reason: reason}
		}

		size = n
		_, err = frame.CopyExact(w, c.r, n)
		return err
	})
	return size, err
}

// Remove deletes the file at vp.
func (c *Client) Remove(ctx context.Context, vp string) error {
	cmd := protocol.Command{Verb: protocol.VerbRemove, Path: vp}
	return c.do(ctx, cmd, func() error {
		status, err := protocol.ReadLine(c.r)
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if status != protocol.RemovedOK {
			return &RemoteError{Op: cmd.Verb.String(), Reason: status}
		}
		return nil
	})
}

// List returns the names of files below dir across every category. An empty
// result means the gateway answered "no files found".
func (c *Client) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := c.do(ctx, protocol.Command{Verb: protocol.VerbListNames, Path: dir}, func() error {
		var err error
		names, err = protocol.ReadListing(c.r)
		return err
	})
	return names, err
}
