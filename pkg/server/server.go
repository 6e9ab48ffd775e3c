// Package server runs a set of adapters (a gateway, storage nodes, or both)
// and the optional metrics endpoint as one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/shardfs/internal/logger"
	"github.com/marmos91/shardfs/pkg/adapter"
	"github.com/marmos91/shardfs/pkg/metrics"
)

// DefaultStopTimeout bounds the graceful stop of all adapters.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("server is already serving")

// Server manages the lifecycle of multiple adapters.
//
// Lifecycle:
//  1. Creation: New()
//  2. Registration: AddAdapter() for the gateway and every node, and
//     optionally SetMetricsServer()
//  3. Startup: Serve() starts everything concurrently
//  4. Shutdown: context cancellation, or the failure of any adapter, stops
//     all adapters in reverse registration order
//
// Example usage:
//
//	srv := server.New(server.DefaultStopTimeout)
//	_ = srv.AddAdapter(node.New(pdfConfig, pdfStore, m))
//	_ = srv.AddAdapter(gateway.New(gwConfig, table, cStore, m))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	stopTimeout time.Duration

	mu       sync.RWMutex
	adapters []adapter.Adapter
	metrics  *metrics.Server
	served   bool
}

// New creates an empty server. A non-positive stopTimeout selects
// DefaultStopTimeout.
func New(stopTimeout time.Duration) *Server {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Server{
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 4),
	}
}

// SetMetricsServer attaches an HTTP metrics endpoint run alongside the
// adapters. Must be called before Serve.
func (s *Server) SetMetricsServer(m *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// AddAdapter registers a.
//
// Returns an error if another adapter already uses the same protocol name
// or the same non-zero port. Port 0 (pick a free port) never conflicts.
//
// Panics if a is nil or Serve has been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol, port := a.Protocol(), a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s", port, existing.Protocol())
		}
	}
	if s.metrics != nil && port != 0 && s.metrics.Port() == port {
		return fmt.Errorf("port %d already in use by the metrics server", port)
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s on port %d", protocol, port)
	return nil
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve starts every adapter and blocks until ctx is cancelled or one of
// them fails.
//
// Returns:
//   - ctx.Err() after a shutdown triggered by ctx
//   - the first adapter failure otherwise
//   - nil if every adapter stopped on its own
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	s.served = true
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metrics
	s.mu.Unlock()

	logger.Info("Starting %d adapter(s)", len(adapters))
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	// Adapters are stopped only through stopAll, so a gateway drains while
	// the nodes it forwards to are still accepting.
	serveCtx := context.WithoutCancel(gctx)
	for _, a := range adapters {
		g.Go(func() error {
			protocol := a.Protocol()
			if err := a.Serve(serveCtx); err != nil {
				if ctx.Err() == nil {
					logger.Error("%s failed: %v", protocol, err)
				}
				return fmt.Errorf("%s: %w", protocol, err)
			}
			logger.Debug("%s stopped", protocol)
			return nil
		})
	}

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}

	// gctx is done once any adapter fails, ctx is cancelled, or Wait
	// returns, so the stopper always runs.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
		s.stopAll(adapters)
	}()

	err := g.Wait()
	<-stopped

	logger.Info("Server stopped after %v", time.Since(startTime).Round(time.Millisecond))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// stopAll stops adapters in reverse registration order: a gateway
// registered after its nodes is stopped first.
func (s *Server) stopAll(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s: %v", a.Protocol(), err)
		} else {
			logger.Debug("%s stopped", a.Protocol())
		}
	}
}
