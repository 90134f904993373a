package threaded

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/request"
)

func echoServer(t *testing.T) (host string, port int, stop func()) {
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
	h, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return h, port, func() { ln.Close() }
}

func TestRunCompletesAgainstEchoServer(t *testing.T) {
	host, port, stop := echoServer(t)
	defer stop()

	cfg := &config.Config{
		TargetHost:  host,
		TargetPort:  port,
		Protocol:    config.HTTP,
		Method:      config.GET,
		HTTPVersion: config.HTTP11,
		Clients:     3,
	}
	req, err := request.Build(cfg)
	if err != nil {
		t.Fatalf("request.Build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	totals := Run(ctx, cfg, req)
	speed, failed, bytesRecv := totals.Snapshot()

	if speed < 1 {
		t.Errorf("speed = %d, want >= 1", speed)
	}
	if failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}
	if bytesRecv == 0 {
		t.Error("bytes = 0, want > 0")
	}
}

func TestRunForceModeSkipsReceive(t *testing.T) {
	host, port, stop := echoServer(t)
	defer stop()

	cfg := &config.Config{
		TargetHost:  host,
		TargetPort:  port,
		Protocol:    config.HTTP,
		Method:      config.GET,
		HTTPVersion: config.HTTP11,
		Clients:     1,
		Force:       true,
	}
	req, err := request.Build(cfg)
	if err != nil {
		t.Fatalf("request.Build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	totals := Run(ctx, cfg, req)
	speed, _, bytesRecv := totals.Snapshot()

	if speed < 1 {
		t.Errorf("speed = %d, want >= 1", speed)
	}
	if bytesRecv != 0 {
		t.Errorf("bytes = %d, want 0 in force mode", bytesRecv)
	}
}

func TestRunRefusedConnectCountsAsFailure(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)
	ln.Close()

	cfg := &config.Config{
		TargetHost:  "127.0.0.1",
		TargetPort:  port,
		Protocol:    config.HTTP,
		Method:      config.GET,
		HTTPVersion: config.HTTP11,
		Clients:     1,
	}
	req, err := request.Build(cfg)
	if err != nil {
		t.Fatalf("request.Build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	totals := Run(ctx, cfg, req)
	_, failed, _ := totals.Snapshot()
	if failed == 0 {
		t.Error("failed = 0, want > 0 for refused connection")
	}
}
