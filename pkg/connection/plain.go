package connection

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/tidely/webbench/pkg/errors"
)

// plainRead and plainWrite perform non-blocking socket I/O directly via
// golang.org/x/sys/unix, surfacing EAGAIN/EWOULDBLOCK as the
// errors.ErrWouldBlock sentinel so the state machine's would-block checks
// are identical for plain and TLS transports.
func plainRead(fd int, b []byte) (int, error) {
	n, err := unix.Read(fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errors.ErrWouldBlock()
		}
		return 0, errors.NewIOError("read", err)
	}
	if n == 0 {
		return 0, errors.NewIOError("read", net.ErrClosed)
	}
	return n, nil
}

func plainWrite(fd int, b []byte) (int, error) {
	n, err := unix.Write(fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errors.ErrWouldBlock()
		}
		return 0, errors.NewIOError("write", err)
	}
	return n, nil
}
