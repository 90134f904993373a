// Package connection implements the per-connection state machine at the
// heart of the benchmark engine (spec.md §4.4, ConnectionSM): one logical
// client taken from socket creation through an optional proxy CONNECT
// tunnel, an optional TLS handshake, request send, and response receive,
// one step per readiness tick.
package connection

import (
	"bytes"
	"context"

	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/dialer"
	"github.com/tidely/webbench/pkg/errors"
	"github.com/tidely/webbench/pkg/request"
	"github.com/tidely/webbench/pkg/tlsadapter"
)

// State is one of the nine states spec.md §3/§4.4 defines for a
// ConnectionSM.
type State int

const (
	Idle State = iota
	Connecting
	ProxyConnect
	ProxyResponse
	TLSHandshake
	Sending
	Receiving
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case ProxyConnect:
		return "PROXY_CONNECT"
	case ProxyResponse:
		return "PROXY_RESPONSE"
	case TLSHandshake:
		return "TLS_HANDSHAKE"
	case Sending:
		return "SENDING"
	case Receiving:
		return "RECEIVING"
	case Completed:
		return "COMPLETED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ReadinessDirection tells the Engine which directions to register this
// ConnectionSM's descriptor for on the current tick (spec.md §4.4).
type ReadinessDirection int

const (
	None ReadinessDirection = iota
	Read
	Write
	ReadWrite
)

// transport carries the TLS session of an HTTPS cycle. session is nil for
// plain HTTP and before TLSHandshake is entered; read and write branch on
// that nil check. The session is set by the steps that enter TLSHandshake
// and cleared by Reset; the type itself does not enforce when a session is
// present.
type transport struct {
	session *tlsadapter.Session // nil for plain HTTP
}

func (t *transport) write(fd int, b []byte) (int, error) {
	if t.session != nil {
		return t.session.Write(b)
	}
	return plainWrite(fd, b)
}

func (t *transport) read(fd int, b []byte) (int, error) {
	if t.session != nil {
		return t.session.Read(b)
	}
	return plainRead(fd, b)
}

// ConnectionSM is one logical client cycling through the states in
// spec.md §4.4. It is owned exclusively by the Engine for its whole
// lifetime; Config and *request.Request are shared read-only references.
type ConnectionSM struct {
	state State

	cfg *config.Config
	req *request.Request

	fd        int
	transport transport
	isHTTPS   bool
	forceFlag bool

	bytesSent     int
	bytesReceived int
	recvBuf       []byte

	// Counters accumulated across every cycle of this ConnectionSM; the
	// Engine sums them over all ConnectionSMs once its loop ends.
	Speed int
	Failed int
	Bytes  int
}

// New creates an IDLE ConnectionSM sharing cfg and req by reference.
func New(cfg *config.Config, req *request.Request) *ConnectionSM {
	return &ConnectionSM{
		state:     Idle,
		cfg:       cfg,
		req:       req,
		fd:        -1,
		isHTTPS:   cfg.Protocol == config.HTTPS,
		forceFlag: cfg.Force,
		recvBuf:   make([]byte, 0, constants.RecvBufferSize),
	}
}

// State returns the current state.
func (c *ConnectionSM) State() State { return c.state }

// FD returns the socket descriptor this ConnectionSM currently owns, or -1
// if it holds none (IDLE/COMPLETED/ERROR between cycles).
func (c *ConnectionSM) FD() int { return c.fd }

// Readiness reports which direction(s) the Engine should register this
// ConnectionSM's descriptor for on the current tick, per the table in
// spec.md §4.4.
func (c *ConnectionSM) Readiness() ReadinessDirection {
	switch c.state {
	case Connecting, ProxyConnect, Sending:
		return Write
	case ProxyResponse, Receiving:
		return Read
	case TLSHandshake:
		return ReadWrite
	default:
		return None
	}
}

// Start allocates a fresh socket and transitions IDLE → CONNECTING, or
// → ERROR on socket failure (spec.md §4.4, "allocate_socket").
func (c *ConnectionSM) Start(ctx context.Context) {
	fd, err := dialer.Open(ctx, c.cfg.DialHost(), c.cfg.DialPort())
	if err != nil {
		c.fail()
		return
	}
	c.fd = fd
	c.state = Connecting
}

// Step dispatches exactly one state transition attempt, per the tie-break
// policy in spec.md §4.5 ("at most one state transition per ConnectionSM
// per readiness tick").
func (c *ConnectionSM) Step() {
	switch c.state {
	case Connecting:
		c.stepConnecting()
	case ProxyConnect:
		c.stepProxyConnect()
	case ProxyResponse:
		c.stepProxyResponse()
	case TLSHandshake:
		c.stepTLSHandshake()
	case Sending:
		c.stepSending()
	case Receiving:
		c.stepReceiving()
	}
}

// ReadinessError is called by the Engine when the multiplexer reports a
// hangup, invalid descriptor, or socket-level error for this
// ConnectionSM's fd — valid at any state (spec.md §4.4).
func (c *ConnectionSM) ReadinessError() {
	c.fail()
}

func (c *ConnectionSM) stepConnecting() {
	if err := dialer.ConnectResult(c.fd); err != nil {
		if errors.IsWouldBlock(err) {
			return
		}
		c.fail()
		return
	}

	switch {
	case c.cfg.UsesProxyTunnel():
		c.state = ProxyConnect
	case c.isHTTPS:
		c.transport.session = tlsadapter.NewSession(c.fd, c.cfg.TargetHost)
		c.state = TLSHandshake
	default:
		c.state = Sending
	}
}

func (c *ConnectionSM) stepProxyConnect() {
	connectReq := request.BuildConnect(c.cfg.TargetHost, c.cfg.TargetPort)

	remaining := connectReq[c.bytesSent:]
	if len(remaining) == 0 {
		c.bytesSent = 0
		c.state = ProxyResponse
		return
	}

	n, err := plainWrite(c.fd, remaining)
	if err != nil {
		if errors.IsWouldBlock(err) {
			return
		}
		c.fail()
		return
	}
	c.bytesSent += n
	if c.bytesSent >= len(connectReq) {
		c.bytesSent = 0
		c.state = ProxyResponse
	}
}

func (c *ConnectionSM) stepProxyResponse() {
	if len(c.recvBuf) >= constants.RecvBufferSize-1 {
		c.fail()
		return
	}

	chunk := make([]byte, constants.RecvBufferSize-1-len(c.recvBuf))
	n, err := plainRead(c.fd, chunk)
	if err != nil {
		if errors.IsWouldBlock(err) {
			return
		}
		c.fail()
		return
	}

	c.recvBuf = append(c.recvBuf, chunk[:n]...)
	if bytes.Contains(c.recvBuf, []byte(request.ConnectEstablishedMarker)) {
		c.recvBuf = c.recvBuf[:0]
		c.bytesReceived = 0
		c.transport.session = tlsadapter.NewSession(c.fd, c.cfg.TargetHost)
		c.state = TLSHandshake
		return
	}

	if len(c.recvBuf) >= constants.RecvBufferSize-1 {
		c.fail()
	}
}

// stepTLSHandshake polls the session's handshake, which runs to completion
// off the readiness loop (pkg/tlsadapter: crypto/tls caches its first
// handshake outcome and cannot be resumed across ticks). A would-block
// result means that background work is still in flight, not that this tick
// made partial progress.
func (c *ConnectionSM) stepTLSHandshake() {
	err := c.transport.session.Handshake()
	if err != nil {
		if errors.IsWouldBlock(err) {
			return
		}
		c.fail()
		return
	}
	c.state = Sending
}

func (c *ConnectionSM) stepSending() {
	remaining := c.req.Bytes[c.bytesSent:]
	if len(remaining) == 0 {
		c.completeSend()
		return
	}

	n, err := c.transport.write(c.fd, remaining)
	if err != nil {
		if errors.IsWouldBlock(err) {
			return
		}
		c.fail()
		return
	}
	c.bytesSent += n
	if c.bytesSent >= len(c.req.Bytes) {
		c.completeSend()
	}
}

func (c *ConnectionSM) completeSend() {
	if c.forceFlag {
		c.Speed++
		c.state = Completed
		return
	}
	c.state = Receiving
}

func (c *ConnectionSM) stepReceiving() {
	if len(c.recvBuf) >= constants.RecvBufferSize-1 {
		c.Bytes += c.bytesReceived
		c.Speed++
		c.state = Completed
		return
	}

	chunk := make([]byte, constants.RecvBufferSize-1-len(c.recvBuf))
	n, err := c.transport.read(c.fd, chunk)
	if err != nil {
		if errors.IsWouldBlock(err) {
			return
		}
		c.fail()
		return
	}

	c.recvBuf = append(c.recvBuf, chunk[:n]...)
	c.bytesReceived += n

	if bytes.Contains(c.recvBuf, []byte(request.EndOfHeadersMarker)) || len(c.recvBuf) >= constants.RecvBufferSize-1 {
		c.Bytes += c.bytesReceived
		c.Speed++
		c.state = Completed
	}
}

func (c *ConnectionSM) fail() {
	c.Failed++
	c.state = Error
}

// Reset closes the socket and TLS session, zeroes buffers and counters, and
// returns the ConnectionSM to IDLE ready for a fresh Start (spec.md §4.4,
// "the engine resets it"). Speed/Failed/Bytes are NOT zeroed here — they
// keep accumulating across cycles until the Engine sums them at the end
// of Run.
func (c *ConnectionSM) Reset() {
	if c.transport.session != nil {
		c.transport.session.Close()
		c.transport.session = nil
	}
	if c.fd >= 0 {
		dialer.Close(c.fd)
		c.fd = -1
	}
	c.bytesSent = 0
	c.bytesReceived = 0
	c.recvBuf = c.recvBuf[:0]
	c.state = Idle
}

// IsTerminal reports whether the ConnectionSM is in COMPLETED or ERROR.
func (c *ConnectionSM) IsTerminal() bool {
	return c.state == Completed || c.state == Error
}
