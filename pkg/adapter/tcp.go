package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/metrics"
)

// ConnHandler serves one accepted connection. The TCPServer closes the
// connection after ServeConn returns.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn)

func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// TCPConfig holds the listener settings shared by the gateway and the nodes.
//
// Default values (applied by NewTCPServer if zero):
//   - MaxConnections: 0 (unlimited)
//   - IdleTimeout: 0 (connections may stay silent indefinitely)
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 0 (disabled)
type TCPConfig struct {
	// Port to listen on. Zero binds an ephemeral port, used by tests;
	// the CLI always supplies one in 1024-65535.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// BindAddress restricts the listener to one interface. Empty listens on
	// all of them.
	BindAddress string `mapstructure:"bind_address"`

	// MaxConnections bounds concurrent connections. When reached, accepting
	// pauses until a connection closes. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// IdleTimeout closes a connection that sends nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds how long Serve waits for in-flight connections
	// once shutdown starts. Remaining connections are then force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval logs the active connection count periodically.
	// 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// ApplyDefaults fills zero values.
func (c *TCPConfig) ApplyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks the settings that ApplyDefaults cannot fix.
func (c *TCPConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 || c.ShutdownTimeout <= 0 || c.MetricsLogInterval < 0 {
		return errors.New("timeouts must not be negative and shutdown_timeout must be > 0")
	}
	return nil
}

// TCPServer runs the accept loop for one endpoint and hands every connection
// to its own goroutine.
//
// Shutdown flow:
//  1. Context cancelled or Stop called
//  2. Listener closed, no new connections; Draining is closed so handlers
//     stop taking new commands
//  3. Wait for active connections up to ShutdownTimeout. Requests already
//     being served keep a live context and run to completion
//  4. On timeout, cancel the connection context and force-close whatever remains
type TCPServer struct {
	name    string
	config  TCPConfig
	handler ConnHandler
	metrics metrics.NodeMetrics

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}

	activeConns       sync.WaitGroup
	activeConnections sync.Map
	connCount         atomic.Int32
	connSemaphore     chan struct{}

	shutdown       chan struct{}
	shutdownOnce   sync.Once
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// NewTCPServer creates a stopped server. name labels logs and metrics.
//
// Panics if config is invalid after defaults are applied.
func NewTCPServer(name string, config TCPConfig, handler ConnHandler, m metrics.NodeMetrics) *TCPServer {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid %s config: %v", name, err))
	}
	if handler == nil {
		panic(fmt.Sprintf("%s: handler cannot be nil", name))
	}
	if m == nil {
		m = metrics.NewNoopNodeMetrics()
	}

	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		name:           name,
		config:         config,
		handler:        handler,
		metrics:        m,
		ready:          make(chan struct{}),
		connSemaphore:  sem,
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancel,
	}
}

// Serve listens and accepts until ctx is cancelled or Stop is called.
func (s *TCPServer) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", s.name, addr, err)
	}

	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		_ = listener.Close()
		close(s.ready)
		return nil
	default:
	}
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	logger.Info("%s listening on %s", s.name, listener.Addr())
	logger.Debug("%s config: max_connections=%d idle_timeout=%v shutdown_timeout=%v",
		s.name, s.config.MaxConnections, s.config.IdleTimeout, s.config.ShutdownTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", s.name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("%s: accept error: %v", s.name, err)
				continue
			}
		}

		s.track(conn)
	}
}

func (s *TCPServer) track(conn net.Conn) {
	s.activeConns.Add(1)
	current := s.connCount.Add(1)

	addr := conn.RemoteAddr().String()
	s.activeConnections.Store(addr, conn)

	s.metrics.RecordConnectionAccepted(s.name)
	s.metrics.SetActiveConnections(s.name, current)
	logger.Debug("%s: connection accepted from %s (active: %d)", s.name, addr, current)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("%s: panic serving %s: %v", s.name, addr, r)
			}
			_ = conn.Close()

			s.activeConnections.Delete(addr)
			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			s.metrics.RecordConnectionClosed(s.name)
			s.metrics.SetActiveConnections(s.name, remaining)
			logger.Debug("%s: connection closed from %s (active: %d)", s.name, addr, remaining)
		}()

		s.handler.ServeConn(s.shutdownCtx, newIdleConn(conn, s.config.IdleTimeout))
	}()
}

func (s *TCPServer) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("%s: error closing listener: %v", s.name, err)
			}
		}
		s.mu.Unlock()
	})
}

func (s *TCPServer) gracefulShutdown() error {
	active := s.connCount.Load()
	if active > 0 {
		logger.Info("%s: waiting for %d active connection(s) (timeout: %v)",
			s.name, active, s.config.ShutdownTimeout)
	}

	select {
	case <-s.drained():
		s.cancelRequests()
		logger.Info("%s stopped", s.name)
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("%s: shutdown timeout exceeded, force-closing %d connection(s)", s.name, remaining)
		s.cancelRequests()
		s.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.name, remaining)
	}
}

func (s *TCPServer) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()
	return done
}

func (s *TCPServer) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err == nil {
			closed++
		} else {
			logger.Debug("%s: error force-closing %s: %v", s.name, key, err)
		}
		return true
	})
	if closed > 0 {
		logger.Info("%s: force-closed %d connection(s)", s.name, closed)
	}
}

// Stop initiates shutdown and waits for active connections until ctx
// expires. Safe to call more than once and concurrently with Serve.
func (s *TCPServer) Stop(ctx context.Context) error {
	s.initiateShutdown()

	select {
	case <-s.drained():
		return nil
	case <-ctx.Done():
		logger.Warn("%s: stop interrupted with %d connection(s) active: %v",
			s.name, s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

func (s *TCPServer) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("%s metrics: active_connections=%d", s.name, s.connCount.Load())
		}
	}
}

// Draining is closed once shutdown starts. Handlers serving several
// requests per connection check it between requests.
func (s *TCPServer) Draining() <-chan struct{} {
	return s.shutdown
}

// Ready is closed once the listener is bound.
func (s *TCPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Serve binds.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *TCPServer) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Name returns the label passed to NewTCPServer.
func (s *TCPServer) Name() string {
	return s.name
}

// Port returns the configured port.
func (s *TCPServer) Port() int {
	return s.config.Port
}
