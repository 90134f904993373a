package dialer

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestOpenConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fd, err := Open(ctx, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	defer Close(fd)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if soErr, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); soErr == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ConnectResult(fd); err != nil {
		t.Errorf("ConnectResult: unexpected error: %v", err)
	}
}

func TestOpenRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listening now

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fd, err := Open(ctx, "127.0.0.1", port)
	if err != nil {
		// Some platforms fail fast enough that Open itself sees ECONNREFUSED.
		return
	}
	defer Close(fd)

	deadline := time.Now().Add(time.Second)
	var gotErr bool
	for time.Now().Before(deadline) {
		if err := ConnectResult(fd); err != nil {
			gotErr = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !gotErr {
		t.Error("expected ConnectResult to eventually report connection refused, port=" + strconv.Itoa(port))
	}
}
