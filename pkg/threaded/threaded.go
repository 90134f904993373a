// Package threaded is the simpler, blocking alternative driver
// (spec.md §5, "Alternative driver (non-core)"): one goroutine per client,
// blocking I/O in a loop, local counters folded into mutex-protected shared
// totals. Grounded on communicator.c's per-thread communicate() loop, with
// the racy unprotected shared-int add spec.md §9 flags as a bug replaced by
// a mutex-protected Totals.
package threaded

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/request"
)

// Totals accumulates (speed, failed, bytes) across all client goroutines
// under a single mutex — never a bare shared variable written from
// multiple goroutines (spec.md §9's corrected reading of the source bug).
type Totals struct {
	mu     sync.Mutex
	Speed  int
	Failed int
	Bytes  int
}

func (t *Totals) add(speed, failed, bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Speed += speed
	t.Failed += failed
	t.Bytes += bytes
}

// Snapshot returns a copy of the current totals, safe to call while client
// goroutines are still running.
func (t *Totals) Snapshot() (speed, failed, bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Speed, t.Failed, t.Bytes
}

// Run starts cfg.Clients goroutines, each blocking-cycling communicate()
// until ctx is done, and returns the aggregate totals once every goroutine
// has exited.
func Run(ctx context.Context, cfg *config.Config, req *request.Request) Totals {
	var totals Totals
	var wg sync.WaitGroup

	n := cfg.Clients
	if n > constants.MaxConnections {
		n = constants.MaxConnections
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runClient(ctx, cfg, req, &totals)
		}()
	}

	wg.Wait()
	return totals
}

// runClient repeats one blocking connect→send→receive cycle until ctx is
// done, folding each cycle's outcome into totals.
func runClient(ctx context.Context, cfg *config.Config, req *request.Request, totals *Totals) {
	for ctx.Err() == nil {
		speed, failed, receivedBytes := cycle(cfg, req)
		totals.add(speed, failed, receivedBytes)
	}
}

// cycle runs exactly one connect→(proxy CONNECT)→(TLS handshake)→send→
// receive pass, blocking throughout, mirroring communicate()'s shape.
func cycle(cfg *config.Config, req *request.Request) (speed, failed, receivedBytes int) {
	dialTimeout := 5 * time.Second

	conn, err := net.DialTimeout("tcp4", net.JoinHostPort(cfg.DialHost(), strconv.Itoa(cfg.DialPort())), dialTimeout)
	if err != nil {
		return 0, 1, 0
	}
	defer conn.Close()

	if cfg.UsesProxyTunnel() {
		connectReq := request.BuildConnect(cfg.TargetHost, cfg.TargetPort)
		conn.SetDeadline(time.Now().Add(dialTimeout))
		if _, err := conn.Write(connectReq); err != nil {
			return 0, 1, 0
		}

		buf := make([]byte, constants.RecvBufferSize)
		total := 0
		established := false
		for total < len(buf)-1 {
			n, err := conn.Read(buf[total:])
			if err != nil {
				return 0, 1, 0
			}
			total += n
			if bytes.Contains(buf[:total], []byte(request.ConnectEstablishedMarker)) {
				established = true
				break
			}
		}
		if !established {
			return 0, 1, 0
		}
	}

	var rw readWriter = conn
	if cfg.Protocol == config.HTTPS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         cfg.TargetHost,
			InsecureSkipVerify: true,
		})
		tlsConn.SetDeadline(time.Now().Add(dialTimeout))
		if err := tlsConn.Handshake(); err != nil {
			return 0, 1, 0
		}
		rw = tlsConn
	}

	conn.SetDeadline(time.Now().Add(dialTimeout))
	if _, err := rw.Write(req.Bytes); err != nil {
		return 0, 1, 0
	}

	if cfg.Force {
		return 1, 0, 0
	}

	buf := make([]byte, constants.RecvBufferSize)
	total := 0
	for total < len(buf)-1 {
		n, err := rw.Read(buf[total:])
		if err != nil {
			if total > 0 {
				break
			}
			return 0, 1, 0
		}
		total += n
		if bytes.Contains(buf[:total], []byte(request.EndOfHeadersMarker)) {
			break
		}
	}

	return 1, 0, total
}

type readWriter interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
}
