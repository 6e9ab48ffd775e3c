// Package gateway implements the client-facing shardfs endpoint.
//
// The gateway owns one file category locally and routes every other category
// to a storage node by file extension. A client connection carries any number
// of commands; each is answered before the next is read. Store is the
// exception: the client half-closes to end the payload, so the gateway
// answers and the connection ends.
//
// Per-command flow:
//
//	client -> gateway   command line (+ payload for uploadf)
//	gateway             route by extension (routing.Table)
//	gateway -> store    local category: pkg/store/fs
//	gateway -> node     other categories: one short-lived connection per command
//	gateway -> client   status line, listing or size-prefixed frame
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/internal/ratelimiter"
	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/metrics"
	"github.com/marmos91/shardfs/pkg/protocol"
	"github.com/marmos91/shardfs/pkg/protocol/frame"
	"github.com/marmos91/shardfs/pkg/routing"
	fsstore "github.com/marmos91/shardfs/pkg/store/fs"
)

// Config holds gateway settings on top of the shared listener settings.
//
// Default values (applied by New if zero):
//   - DialTimeout: 5s
//   - HandshakeTimeout: 5s
//   - MaxCommandsPerSecond: 0 (unlimited)
type Config struct {
	adapter.TCPConfig `mapstructure:",squash"`

	// DialTimeout bounds connecting to a storage node.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"min=0"`

	// HandshakeTimeout bounds the wait for the size prefix of a forwarded
	// downlf. Bundles and payloads are not time-bounded.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"min=0"`

	// MaxCommandsPerSecond throttles each connection. 0 disables throttling.
	MaxCommandsPerSecond uint `mapstructure:"max_commands_per_second"`

	// CommandBurst is the number of commands allowed back to back before
	// throttling applies.
	CommandBurst uint `mapstructure:"command_burst"`
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.DialTimeout < 0 || c.HandshakeTimeout < 0 {
		return errors.New("dial_timeout and handshake_timeout must be >= 0")
	}
	return nil
}

// Gateway routes client commands to the local store or to storage nodes.
type Gateway struct {
	*adapter.TCPServer

	config  Config
	table   *routing.Table
	store   *fsstore.Store
	nodes   *nodeClient
	agg     *aggregator
	metrics metrics.NodeMetrics
}

// New creates a stopped gateway. store serves the table's local route and
// must be rooted at the table's namespace.
//
// Panics if config is invalid or store and table disagree on the namespace.
func New(config Config, table *routing.Table, store *fsstore.Store, m metrics.NodeMetrics) *Gateway {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid gateway config: %v", err))
	}
	if table == nil || store == nil {
		panic("gateway: table and store are required")
	}
	if ns := store.Resolver().Namespace(); ns != table.Namespace() {
		panic(fmt.Sprintf("gateway: store namespace %q does not match table namespace %q", ns, table.Namespace()))
	}
	if m == nil {
		m = metrics.NewNoopNodeMetrics()
	}

	nodes := &nodeClient{
		dialTimeout:      config.DialTimeout,
		handshakeTimeout: config.HandshakeTimeout,
		metrics:          m,
	}

	g := &Gateway{
		config:  config,
		table:   table,
		store:   store,
		nodes:   nodes,
		agg:     &aggregator{table: table, store: store, nodes: nodes},
		metrics: m,
	}
	g.TCPServer = adapter.NewTCPServer("gateway", config.TCPConfig, g, m)
	return g
}

// Protocol returns "gateway".
func (g *Gateway) Protocol() string {
	return "gateway"
}

// Table returns the routing table.
func (g *Gateway) Table() *routing.Table {
	return g.table
}

// session is the per-connection state. It is owned by the ServeConn
// goroutine, except for the fields under mu which the drain watcher reads.
type session struct {
	gw      *Gateway
	conn    net.Conn
	r       *bufio.Reader
	limiter *ratelimiter.RateLimiter
	log     *logger.Entry

	// outcome is the failure behind the reply of the current command, for
	// metrics. nil means the command succeeded.
	outcome error

	mu       sync.Mutex
	busy     bool
	draining bool
}

// ServeConn runs the command loop until the client disconnects, a transport
// error occurs or the gateway shuts down.
//
// Once the gateway drains, a session waiting for a command is closed and a
// session serving one finishes it before closing. ctx is only cancelled when
// the shutdown timeout expires.
func (g *Gateway) ServeConn(ctx context.Context, conn net.Conn) {
	s := &session{
		gw:      g,
		conn:    conn,
		r:       bufio.NewReaderSize(conn, 64*1024),
		limiter: ratelimiter.New(g.config.MaxCommandsPerSecond, g.config.CommandBurst),
		log:     logger.With(map[string]any{"remote": conn.RemoteAddr().String()}),
	}

	done := make(chan struct{})
	defer close(done)
	go s.closeWhenIdle(g.Draining(), done)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Closing connection: %v", ctx.Err())
			return
		default:
		}

		line, err := protocol.ReadLine(s.r)
		if err != nil {
			if s.isDraining() {
				s.log.Debug("Closing idle connection: gateway shutting down")
				return
			}
			s.logClose(err)
			return
		}

		cmd := protocol.Parse(line)
		if cmd.Verb == protocol.VerbUnknown {
			s.log.Debug("Ignoring unknown command %q", cmd.Raw)
			continue
		}
		if !s.begin() {
			s.log.With("verb", cmd.Verb.String()).Debug("Dropping command: gateway shutting down")
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		s.outcome = nil
		err = s.dispatch(ctx, cmd)
		if err != nil && s.outcome == nil {
			s.outcome = err
		}
		g.metrics.RecordCommand(g.Protocol(), cmd.Verb.String(), time.Since(start), s.outcome)

		if err != nil {
			s.log.With("verb", cmd.Verb.String()).Debug("Closing connection: %v", err)
			return
		}
		if !s.end() {
			s.log.Debug("Closing connection after %s: gateway shutting down", cmd.Verb)
			return
		}
	}
}

// closeWhenIdle closes the connection when draining starts while the session
// waits for a command. A busy session is left to finish its command.
func (s *session) closeWhenIdle(draining <-chan struct{}, done <-chan struct{}) {
	select {
	case <-draining:
	case <-done:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	if !s.busy {
		_ = s.conn.Close()
	}
}

// begin marks a command as in flight. It reports false once draining started.
func (s *session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.busy = true
	return true
}

// end marks the session idle and reports whether it may read another command.
func (s *session) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	return !s.draining
}

func (s *session) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *session) dispatch(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Verb {
	case protocol.VerbStore:
		return s.handleStore(ctx, cmd)
	case protocol.VerbFetch:
		return s.handleFetch(ctx, cmd)
	case protocol.VerbRemove:
		return s.handleRemove(ctx, cmd)
	case protocol.VerbBundle:
		return s.handleBundle(ctx, cmd)
	case protocol.VerbListNames:
		return s.handleList(ctx, cmd)
	}
	return nil
}

func (s *session) logClose(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		s.log.Debug("Connection closed by client")
	case errors.As(err, &netErr) && netErr.Timeout():
		s.log.Debug("Connection idle timeout")
	case errors.Is(err, protocol.ErrCommandTooLong):
		s.log.Warn("Closing connection: %v", err)
	default:
		s.log.Debug("Connection read error: %v", err)
	}
}

// status writes a one-line reply. cause, when non-nil, marks the command as
// failed.
func (s *session) status(text string, cause error) error {
	s.outcome = cause
	return protocol.WriteLine(s.conn, text)
}

// failure writes a zero-size frame followed by reason.
func (s *session) failure(reason string, cause error) error {
	if cause == nil {
		cause = errors.New(reason)
	}
	s.outcome = cause
	return frame.SendFailure(s.conn, reason)
}

// drain discards the rest of an upload payload the gateway will not store.
func (s *session) drain() {
	_, _ = io.Copy(io.Discard, s.r)
}
