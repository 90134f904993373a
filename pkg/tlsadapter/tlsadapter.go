// Package tlsadapter wraps a connected socket in a TLS session
// (spec.md §4.3, TlsAdapter).
//
// crypto/tls cannot be driven incrementally across non-blocking readiness
// ticks the way a plain socket read/write can: tls.Conn.HandshakeContext
// caches its first outcome in an internal field and returns that cached
// result on every later call without ever re-attempting the handshake. A
// ConnectionSM that called Handshake() once, got EAGAIN from the first
// readServerHello, and tried again on the next tick would get that same
// cached would-block result forever. There is no OpenSSL-style
// SSL_ERROR_WANT_READ/WANT_WRITE to resume from.
//
// Instead, the handshake runs to completion on a dedicated goroutine, off
// the readiness loop: the socket is switched to blocking mode with a
// kernel-enforced deadline (SO_RCVTIMEO/SO_SNDTIMEO) for the duration of the
// handshake, so a stalled peer fails rather than hanging the goroutine
// forever. Handshake() itself stays non-blocking from the ConnectionSM's
// point of view — it starts the goroutine once, then returns
// errors.ErrWouldBlock() on every poll until the goroutine's result is
// ready, at which point the socket is restored to non-blocking mode for the
// ordinary SENDING/RECEIVING ticks that follow.
package tlsadapter

import (
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/errors"
	"github.com/tidely/webbench/pkg/tlsconfig"
)

// Session is a TLS session layered over a socket. It is the adapted
// descendant of bench_poll.c's SSL*/SSL_CTX* fields, collapsed into a
// single Go value per connection rather than a process-wide context plus a
// per-connection SSL* handle: crypto/tls.Config is already safe to share
// read-only across sessions, so there is no separate "library handle"
// object to manage.
type Session struct {
	fd   int
	host string
	conn *rawConn
	tls  *tls.Conn

	started bool
	done    chan error
}

// NewSession wraps fd in a TLS client session with the given SNI host.
// Peer verification is disabled by default per spec.md §4.3 ("Peer
// verification is disabled by default").
func NewSession(fd int, sniHost string) *Session {
	conn := &rawConn{fd: fd}
	cfg := &tls.Config{
		ServerName:         sniHost,
		InsecureSkipVerify: true,
	}
	tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileSecure)
	tlsconfig.ApplyCipherSuites(cfg, cfg.MinVersion)

	return &Session{
		fd:   fd,
		host: sniHost,
		conn: conn,
		tls:  tls.Client(conn, cfg),
		done: make(chan error, 1),
	}
}

// Handshake drives the TLS handshake to completion on a dedicated goroutine
// and polls for its result. The first call switches fd to blocking mode,
// arms a socket-level deadline, and launches the goroutine; every call,
// including the first, returns errors.ErrWouldBlock() until that goroutine
// reports its outcome, at which point fd is restored to non-blocking mode
// and the real result (nil or a TLS error) is returned exactly once.
func (s *Session) Handshake() error {
	if !s.started {
		s.started = true
		if err := s.armBlockingDeadline(); err != nil {
			s.done <- err
		} else {
			go func() {
				s.done <- s.tls.Handshake()
			}()
		}
	}

	select {
	case err := <-s.done:
		s.disarmBlockingDeadline()
		if err != nil {
			return errors.NewTLSError(s.host, 0, err)
		}
		return nil
	default:
		return errors.ErrWouldBlock()
	}
}

// armBlockingDeadline switches fd to blocking mode and sets a kernel-level
// read/write timeout, so the handshake goroutine cannot block forever
// against an unresponsive peer.
func (s *Session) armBlockingDeadline() error {
	if err := unix.SetNonblock(s.fd, false); err != nil {
		return err
	}
	tv := unix.NsecToTimeval(int64(constants.TLSHandshakeTimeout))
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return err
	}
	return unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

// disarmBlockingDeadline restores fd to the non-blocking mode SENDING and
// RECEIVING expect, clearing the socket-level deadline the handshake armed.
func (s *Session) disarmBlockingDeadline() {
	zero := unix.Timeval{}
	unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &zero)
	unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &zero)
	unix.SetNonblock(s.fd, true)
}

// Write writes bytes to the session. Returns the number of bytes written
// and a would-block error if the underlying socket isn't ready; n==0 and a
// would-block error means "try again on the next readiness tick", not a
// partial write.
func (s *Session) Write(b []byte) (n int, err error) {
	n, err = s.tls.Write(b)
	if err != nil && errors.IsWouldBlock(err) {
		return n, errors.ErrWouldBlock()
	}
	return n, err
}

// Read reads bytes from the session, would-block semantics as in Write.
func (s *Session) Read(b []byte) (n int, err error) {
	n, err = s.tls.Read(b)
	if err != nil && errors.IsWouldBlock(err) {
		return n, errors.ErrWouldBlock()
	}
	return n, err
}

// Close tears down the TLS session. The underlying socket is owned by the
// caller (pkg/connection), not by the Session, and is closed separately.
func (s *Session) Close() error {
	return s.tls.Close()
}

// rawConn is a minimal net.Conn over fd, translating EAGAIN into a net.Error
// with Timeout()==true so crypto/tls's ordinary net.Error Timeout() check
// (the same one it uses for read/write deadlines) recognizes the
// non-blocking SENDING/RECEIVING case as "not ready yet" rather than a
// fatal I/O error. During the blocking handshake the same translation
// turns an SO_RCVTIMEO/SO_SNDTIMEO expiry into a failed (not retried)
// handshake, since Handshake() is a single blocking attempt rather than a
// resumable one.
type rawConn struct {
	fd int
}

func (c *rawConn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlockNetError{}
		}
		return 0, errors.NewIOError("read", err)
	}
	if n == 0 {
		return 0, errors.NewIOError("read", net.ErrClosed)
	}
	return n, nil
}

func (c *rawConn) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errWouldBlockNetError{}
		}
		return 0, errors.NewIOError("write", err)
	}
	return n, nil
}

func (c *rawConn) Close() error                       { return nil } // fd lifecycle belongs to pkg/dialer/pkg/connection
func (c *rawConn) LocalAddr() net.Addr                { return nil }
func (c *rawConn) RemoteAddr() net.Addr               { return nil }
func (c *rawConn) SetDeadline(t time.Time) error      { return nil }
func (c *rawConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *rawConn) SetWriteDeadline(t time.Time) error { return nil }

// errWouldBlockNetError implements net.Error with Timeout()==true, the
// uniform shape errors.IsWouldBlock recognizes.
type errWouldBlockNetError struct{}

func (errWouldBlockNetError) Error() string   { return "would block" }
func (errWouldBlockNetError) Timeout() bool   { return true }
func (errWouldBlockNetError) Temporary() bool { return true }
