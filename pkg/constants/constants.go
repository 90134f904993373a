// Package constants defines magic numbers and default values shared across
// webbench's engine packages.
package constants

import "time"

// Connection limits.
const (
	// MaxConnections is the compile-time cap on concurrent clients
	// (spec.md §3, Config.clients).
	MaxConnections = 1000

	// MaxPort is the largest valid TCP port number.
	MaxPort = 65535
)

// Wire-format limits.
const (
	// MaxRequestBytes bounds the synthesised request (spec.md §3, Request.bytes).
	MaxRequestBytes = 2048

	// MaxURLLength bounds the URL accepted on the command line (spec.md §6).
	MaxURLLength = 1500
)

// Per-connection buffer sizing.
const (
	// RecvBufferSize is the fixed scratch area each ConnectionSM uses to
	// accumulate a proxy CONNECT response or a response's headers
	// (spec.md §3).
	RecvBufferSize = 8192
)

// Engine timing (spec.md §4.5, §5).
const (
	// PollTimeout is the readiness wait's upper bound per tick.
	PollTimeout = 100 * time.Millisecond

	// TickYield is the inter-tick pause used to avoid busy-spinning when no
	// descriptors are registered.
	TickYield = 10 * time.Millisecond

	// TLSHandshakeTimeout bounds the blocking-mode handshake pkg/tlsadapter
	// runs off the readiness loop (spec.md §4.3/§9): the socket-level
	// SO_RCVTIMEO/SO_SNDTIMEO deadline a stalled or unresponsive peer can't
	// exceed.
	TLSHandshakeTimeout = 10 * time.Second
)

// CLI defaults (spec.md §6).
const (
	DefaultDuration  = 30 * time.Second
	DefaultClients   = 1
	DefaultProxyHost = "127.0.0.1"
	DefaultProxyPort = 80
)
