// Package dialer resolves a host:port and returns a non-blocking IPv4
// stream socket with connect already initiated (spec.md §4.2, SocketFactory).
package dialer

import (
	"context"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/tidely/webbench/pkg/errors"
)

// Open resolves host (IPv4 only, per spec.md §1 non-goal) and returns a
// non-blocking socket with connect initiated. For each resolved address in
// order, it creates a stream socket, sets it non-blocking, and issues
// connect; an in-progress result (EINPROGRESS) is treated as success. It
// returns the first socket whose connect did not synchronously fail,
// closing every other candidate socket along the way.
//
// Grounded on create_nonblocking_socket in bench_poll.c: resolve →
// socket → non-blocking → connect → EINPROGRESS-is-success, adapted to
// golang.org/x/sys/unix so the caller keeps the raw fd for epoll
// registration (caddyserver-caddy/listen_linux.go's x/sys/unix idiom,
// adapted here to build a connecting socket directly rather than a
// net.Listener).
func Open(ctx context.Context, host string, port int) (fd int, err error) {
	addrs, resolveErr := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if resolveErr != nil {
		return -1, errors.NewDNSError(host, resolveErr)
	}
	if len(addrs) == 0 {
		return -1, errors.NewDNSError(host, errors.ErrWouldBlock())
	}

	var lastErr error
	for _, ip := range addrs {
		candidate, dialErr := dialCandidate(ip, port)
		if dialErr != nil {
			lastErr = dialErr
			continue
		}
		return candidate, nil
	}

	if lastErr == nil {
		lastErr = errors.NewConnectionError(host, port, net.ErrClosed)
	}
	return -1, lastErr
}

func dialCandidate(ip net.IP, port int) (int, error) {
	sockFD, sockErr := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if sockErr != nil {
		return -1, errors.NewConnectionError(ip.String(), port, sockErr)
	}

	if err := unix.SetNonblock(sockFD, true); err != nil {
		unix.Close(sockFD)
		return -1, errors.NewConnectionError(ip.String(), port, err)
	}

	var addr unix.SockaddrInet4
	addr.Port = port
	v4 := ip.To4()
	if v4 == nil {
		unix.Close(sockFD)
		return -1, errors.NewConnectionError(ip.String(), port, errors.NewValidationError("address is not IPv4: "+ip.String()))
	}
	copy(addr.Addr[:], v4)

	connectErr := unix.Connect(sockFD, &addr)
	if connectErr != nil && connectErr != unix.EINPROGRESS {
		unix.Close(sockFD)
		return -1, errors.NewConnectionError(ip.String(), port, connectErr)
	}

	return sockFD, nil
}

// ConnectResult queries the kernel for the asynchronous connect result via
// SO_ERROR, as ConnectionSM's CONNECTING step does on a writable event
// (spec.md §4.4, CONNECTING).
func ConnectResult(fd int) error {
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.NewConnectionError(strconv.Itoa(fd), 0, err)
	}
	if soErr != 0 {
		return errors.NewConnectionError(strconv.Itoa(fd), 0, unix.Errno(soErr))
	}
	return nil
}

// Close releases the socket. Safe to call on an already-closed fd's zero
// value guard by callers; Close itself does not special-case fd<0.
func Close(fd int) error {
	return unix.Close(fd)
}
