package adapter

import (
	"net"
	"time"
)

// idleConn pushes the connection deadline forward on every read and write,
// so IdleTimeout bounds silence rather than the length of a transfer.
type idleConn struct {
	net.Conn
	idle time.Duration
}

func newIdleConn(conn net.Conn, idle time.Duration) net.Conn {
	if idle <= 0 {
		return conn
	}
	_ = conn.SetDeadline(time.Now().Add(idle))
	return &idleConn{Conn: conn, idle: idle}
}

func (c *idleConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.idle))
	return c.Conn.Write(p)
}

// CloseWrite half-closes the underlying TCP connection when supported.
func (c *idleConn) CloseWrite() error {
	return CloseWrite(c.Conn)
}

// CloseWrite half-closes conn if it supports it, and closes it otherwise.
func CloseWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return conn.Close()
}
