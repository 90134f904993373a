// Package engine drives the readiness-poll loop that owns N ConnectionSMs
// for the configured wall-clock duration and aggregates their counters
// (spec.md §4.5, Engine).
package engine

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tidely/webbench/pkg/benchlog"
	"github.com/tidely/webbench/pkg/bitmap"
	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/connection"
	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/errors"
	"github.com/tidely/webbench/pkg/request"
)

// Totals is the final aggregate the Engine hands to the Reporter
// (spec.md §4.6).
type Totals struct {
	Speed  int
	Failed int
	Bytes  int
}

// Engine owns an array of ConnectionSMs for its entire lifetime and drives
// them to completion within Config.Duration (spec.md §4.5, §5).
type Engine struct {
	cfg   *config.Config
	req   *request.Request
	conns []*connection.ConnectionSM

	epfd int
	// registered recovers which ConnectionSM slots currently have a live
	// epoll registration (spec.md §9 bitmap note). epoll_event carries
	// per-entry user data (spec.md §4.5/§9: "if the readiness primitive
	// supports per-entry user data, prefer that"), so each registration
	// stores the connection's own index in the event's Pad field instead
	// of the fd; the bitmap is the actual structure sync/unregister consult
	// to decide ADD versus MOD versus no-op, not a parallel bookkeeping copy.
	registered *bitmap.Bitmap
}

// New allocates N=min(cfg.Clients, MaxConnections) ConnectionSMs sharing
// cfg and req by reference.
func New(cfg *config.Config, req *request.Request) (*Engine, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, errors.NewConnectionError("epoll", 0, err)
	}

	n := cfg.Clients
	if n > constants.MaxConnections {
		n = constants.MaxConnections
	}

	e := &Engine{
		cfg:        cfg,
		req:        req,
		conns:      make([]*connection.ConnectionSM, n),
		epfd:       epfd,
		registered: bitmap.New((n + 7) / 8),
	}
	for i := range e.conns {
		e.conns[i] = connection.New(cfg, req)
	}
	return e, nil
}

// Run drives the readiness-poll loop until the wall-clock elapsed reaches
// cfg.Duration, then tears down and returns the aggregate totals
// (spec.md §4.5 steps 1–5).
func (e *Engine) Run(ctx context.Context) Totals {
	defer unix.Close(e.epfd)

	start := time.Now()
	deadline := start.Add(time.Duration(e.cfg.Duration) * time.Second)

	logIfFailed := func(idx int, sm *connection.ConnectionSM) {
		if sm.State() == connection.Error {
			benchlog.Get().WithField("conn", idx).Debug("connection entered ERROR")
		}
	}

	for i, sm := range e.conns {
		sm.Start(ctx)
		logIfFailed(i, sm)
		e.sync(i, sm)
	}

	events := make([]unix.EpollEvent, len(e.conns))

	for time.Now().Before(deadline) {
		for i, sm := range e.conns {
			if sm.IsTerminal() {
				e.unregister(i, sm)
				sm.Reset()
				sm.Start(ctx)
				logIfFailed(i, sm)
				e.sync(i, sm)
			}
		}

		n, err := unix.EpollWait(e.epfd, events, int(constants.PollTimeout/time.Millisecond))
		if err != nil && err != unix.EINTR {
			benchlog.Get().WithError(err).Warn("epoll_wait failed")
			continue
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			idx := int(ev.Pad)
			if idx < 0 || idx >= len(e.conns) {
				continue
			}
			live, _ := e.registered.Get(idx)
			if !live {
				continue
			}
			sm := e.conns[idx]

			if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				sm.ReadinessError()
				logIfFailed(idx, sm)
				e.unregister(idx, sm)
				continue
			}

			sm.Step()
			if sm.IsTerminal() {
				logIfFailed(idx, sm)
				e.unregister(idx, sm)
			} else {
				e.sync(idx, sm)
			}
		}

		time.Sleep(constants.TickYield)
	}

	totals := Totals{}
	for _, sm := range e.conns {
		totals.Speed += sm.Speed
		totals.Failed += sm.Failed
		totals.Bytes += sm.Bytes
		sm.Reset()
	}
	return totals
}

// sync (re-)registers a ConnectionSM's descriptor with the epoll instance
// for the direction(s) its current state requires, or removes it if the
// state requires none (IDLE/COMPLETED/ERROR). The epoll_event's Pad field
// carries idx, not the fd, so the dispatch loop in Run recovers the
// ConnectionSM directly without a separate fd→index lookup.
func (e *Engine) sync(idx int, sm *connection.ConnectionSM) {
	dir := sm.Readiness()
	if dir == connection.None {
		e.unregister(idx, sm)
		return
	}

	fd := sm.FD()
	if fd < 0 {
		return
	}

	var mask uint32
	switch dir {
	case connection.Read:
		mask = unix.EPOLLIN
	case connection.Write:
		mask = unix.EPOLLOUT
	case connection.ReadWrite:
		mask = unix.EPOLLIN | unix.EPOLLOUT
	}

	ev := unix.EpollEvent{Events: mask, Pad: int32(idx)}

	live, _ := e.registered.Get(idx)
	if live {
		unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		return
	}

	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		benchlog.Get().WithError(err).Warn("epoll_ctl add failed")
		return
	}
	e.registered.Set(idx)
}

func (e *Engine) unregister(idx int, sm *connection.ConnectionSM) {
	live, _ := e.registered.Get(idx)
	if !live {
		return
	}
	e.registered.Clear(idx)

	fd := sm.FD()
	if fd < 0 {
		return
	}
	unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}
