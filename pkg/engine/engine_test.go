package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/request"
)

// echoServer answers every accepted connection with a fixed HTTP/1.1
// response, repeatedly, so a short Engine.Run can complete several cycles
// against it.
func echoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				c.Read(buf)
				c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"))
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func mustSplitPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port := 0
	for _, r := range portStr {
		port = port*10 + int(r-'0')
	}
	return host, port
}

func TestEngineRunCyclesAgainstEchoServer(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()
	host, port := mustSplitPort(t, addr)

	cfg := &config.Config{
		TargetHost:  host,
		TargetPort:  port,
		Protocol:    config.HTTP,
		Method:      config.GET,
		HTTPVersion: config.HTTP11,
		Clients:     4,
		Duration:    1,
	}
	req, err := request.Build(cfg)
	if err != nil {
		t.Fatalf("request.Build: %v", err)
	}

	eng, err := New(cfg, req)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	totals := eng.Run(ctx)

	if totals.Failed != 0 {
		t.Errorf("Failed = %d, want 0", totals.Failed)
	}
	if totals.Speed == 0 {
		t.Error("Speed = 0, want at least one completed cycle")
	}
	if totals.Bytes == 0 {
		t.Error("Bytes = 0, want > 0")
	}
}

func TestEngineRegistersAtMostOneBitPerSlot(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()
	host, port := mustSplitPort(t, addr)

	cfg := &config.Config{
		TargetHost:  host,
		TargetPort:  port,
		Protocol:    config.HTTP,
		Method:      config.GET,
		HTTPVersion: config.HTTP11,
		Clients:     3,
		Duration:    1,
	}
	req, err := request.Build(cfg)
	if err != nil {
		t.Fatalf("request.Build: %v", err)
	}

	eng, err := New(cfg, req)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer unix.Close(eng.epfd)

	for i, sm := range eng.conns {
		sm.Start(context.Background())
		eng.sync(i, sm)
		eng.sync(i, sm) // second call for the same slot must MOD, not double-ADD
	}

	for i := range eng.conns {
		live, err := eng.registered.Get(i)
		if err != nil {
			t.Fatalf("registered.Get(%d): %v", i, err)
		}
		if !live {
			t.Errorf("slot %d: want registered after sync", i)
		}
	}

	for _, sm := range eng.conns {
		sm.Reset()
	}
}
