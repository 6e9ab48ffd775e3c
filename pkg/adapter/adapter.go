// Package adapter defines the lifecycle shared by every shardfs network
// endpoint: the gateway and each storage node.
package adapter

import "context"

// Adapter is a network endpoint that can be run and stopped by pkg/server.
//
// Lifecycle:
//  1. Creation: the concrete constructor (gateway.New, node.New)
//  2. Serve: blocks accepting connections until ctx is cancelled or Stop
//     is called
//  3. Stop: graceful shutdown, bounded by ctx
//
// Serve and Stop may be called concurrently. Stop must be idempotent.
type Adapter interface {
	// Serve binds the listener and handles connections until ctx is
	// cancelled or an unrecoverable error occurs. Returns nil on a
	// graceful shutdown.
	Serve(ctx context.Context) error

	// Stop stops accepting connections and waits for in-flight ones to
	// finish, or for ctx to expire.
	Stop(ctx context.Context) error

	// Protocol returns a unique name for logging and duplicate detection,
	// e.g. "gateway" or "node/S2".
	Protocol() string

	// Port returns the configured TCP port.
	Port() int
}
