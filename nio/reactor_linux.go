// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//go:build linux

package nio

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"connectrpc.com/http11"
	"connectrpc.com/http11/internal/endpoint"
	"connectrpc.com/http11/internal/netpoll"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	scanInterval = time.Second
	pollBatch    = 256
	poolSize     = 500
)

// Serve accepts connections on ln, which must yield connections exposing
// syscall.Conn such as *net.TCPConn, until ctx is done.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	if e.Adapter == nil {
		return errors.New("nio: endpoint has no adapter")
	}
	cfg := e.Config.Resolved()
	poller, err := netpoll.New(pollBatch)
	if err != nil {
		return err
	}
	defer poller.Close()
	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	maxConns := e.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &reactor{
		ctx:     ctx,
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("endpoint", "nio")),
		poller:  poller,
		workers: semaphore.NewWeighted(workers),
		conns:   make(map[int]*conn),
	}
	r.pool = http11.NewProcessorPool(poolSize, func() *http11.Processor {
		proc := http11.NewProcessor(cfg, e.Adapter)
		proc.SetPauser(e)
		return proc
	})
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		_ = poller.Wake()
	})
	defer stop()
	r.logger.Info("serving", slog.String("address", ln.Addr().String()))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer cancel()
		acceptor := &endpoint.Acceptor[net.Conn]{
			Gate:   &e.gate,
			Slots:  semaphore.NewWeighted(maxConns),
			Logger: r.logger,
			Accept: ln.Accept,
			Handle: r.register,
		}
		return acceptor.Run(groupCtx)
	})
	group.Go(func() error {
		return r.poll(groupCtx)
	})
	err = group.Wait()
	r.shutdown()
	return err
}

// reactor owns the poller and the connections registered with it.
type reactor struct {
	ctx     context.Context //nolint:containedctx // lifetime of Serve
	cfg     *http11.Config
	logger  *slog.Logger
	poller  *netpoll.Poller
	pool    *http11.ProcessorPool
	workers *semaphore.Weighted

	mu    sync.Mutex
	conns map[int]*conn
	wg    sync.WaitGroup
}

func (r *reactor) register(nc net.Conn, release func()) {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		r.logger.Error("connection does not expose a file descriptor")
		_ = nc.Close()
		release()
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		_ = nc.Close()
		release()
		return
	}
	fd := -1
	_ = raw.Control(func(sysfd uintptr) { fd = int(sysfd) })
	c := &conn{r: r, nc: nc, raw: raw, fd: fd, release: release}
	c.touch()
	c.proc = r.pool.Get()

	r.mu.Lock()
	r.conns[fd] = c
	r.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := r.poller.Arm(fd, netpoll.ModeRead); err != nil {
		r.logger.Error("register failed", slog.String("error", err.Error()))
		r.closeLocked(c)
	}
}

func (r *reactor) lookup(fd int) *conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[fd]
}

func (r *reactor) poll(ctx context.Context) error {
	var events []netpoll.Event
	nextScan := time.Now().Add(scanInterval)
	for ctx.Err() == nil {
		var err error
		events, err = r.poller.Wait(events[:0], scanInterval)
		if err != nil {
			return err
		}
		for _, ev := range events {
			r.ready(ev)
		}
		if now := time.Now(); !now.Before(nextScan) {
			r.scanTimeouts(now)
			nextScan = now.Add(scanInterval)
		}
	}
	return nil
}

func (r *reactor) ready(ev netpoll.Event) {
	c := r.lookup(ev.Fd)
	if c == nil {
		return
	}
	status := http11.StatusOpenRead
	if ev.Hangup && !ev.Readable && !ev.Writable {
		status = http11.StatusDisconnect
	}
	r.submit(c, status)
}

// submit runs the processor of c on a worker. It blocks while every worker
// is busy.
func (r *reactor) submit(c *conn, status http11.SocketStatus) {
	if err := r.workers.Acquire(r.ctx, 1); err != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.workers.Release(1)
		r.run(c, status)
	}()
}

func (r *reactor) run(c *conn, status http11.SocketStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.sendfile != nil {
		r.resumeSendfileLocked(c)
		return
	}
	r.dispatchLocked(c, status)
}

func (r *reactor) dispatchLocked(c *conn, status http11.SocketStatus) {
	c.touch()
	state := c.proc.Dispatch(r.ctx, c, status)
	c.touch()
	switch state {
	case http11.StateOpen:
		r.armLocked(c, netpoll.ModeRead)
	case http11.StateLong:
		if c.proc.Async().IsAsync() {
			// Resumed by Dispatch or by the timeout scan.
			return
		}
		r.armLocked(c, netpoll.ModeRead)
	case http11.StateSendfile:
		r.armLocked(c, netpoll.ModeWrite)
	case http11.StateUpgrading:
		handler := c.proc.UpgradeHandler()
		leftover := bytes.Clone(c.proc.Leftover())
		r.detachLocked(c)
		handler.Upgrade(c, leftover)
		_ = c.nc.Close()
		c.release()
	default:
		r.closeLocked(c)
	}
}

func (r *reactor) resumeSendfileLocked(c *conn) {
	keepAlive := c.sendfile.data.KeepAlive
	switch c.writeFile() {
	case http11.SendfilePending:
		r.armLocked(c, netpoll.ModeWrite)
	case http11.SendfileDone:
		switch {
		case !keepAlive:
			r.closeLocked(c)
		case c.proc.HasBufferedInput():
			r.dispatchLocked(c, http11.StatusOpenRead)
		default:
			r.armLocked(c, netpoll.ModeRead)
		}
	default:
		r.closeLocked(c)
	}
}

func (r *reactor) armLocked(c *conn, mode netpoll.Mode) {
	if err := r.poller.Arm(c.fd, mode); err != nil {
		r.logger.Debug("rearm failed", slog.String("error", err.Error()))
		r.closeLocked(c)
	}
}

// detachLocked unregisters c and returns its processor to the pool, leaving
// the socket open.
func (r *reactor) detachLocked(c *conn) {
	c.closed = true
	r.mu.Lock()
	delete(r.conns, c.fd)
	r.mu.Unlock()
	_ = r.poller.Remove(c.fd)
	c.closeFile()
	if c.proc != nil {
		r.pool.Put(c.proc)
		c.proc = nil
	}
}

func (r *reactor) closeLocked(c *conn) {
	if c.closed {
		return
	}
	r.detachLocked(c)
	_ = c.nc.Close()
	c.release()
}

// scanTimeouts closes idle connections and resumes timed out asynchronous
// and comet requests. Connections being processed are skipped.
func (r *reactor) scanTimeouts(now time.Time) {
	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		if !c.mu.TryLock() {
			continue
		}
		action := r.timeoutAction(c, now)
		switch action {
		case timeoutClose:
			r.logger.Debug("connection timed out", slog.String("remote", c.nc.RemoteAddr().String()))
			r.closeLocked(c)
		case timeoutDispatch:
			// Unregister from reads so the timeout dispatch is the only
			// event delivered.
			_ = r.poller.Remove(c.fd)
		}
		c.mu.Unlock()
		if action == timeoutDispatch {
			r.submit(c, http11.StatusTimeout)
		}
	}
}

type timeoutAction int

const (
	timeoutNone timeoutAction = iota
	timeoutClose
	timeoutDispatch
)

func (r *reactor) timeoutAction(c *conn, now time.Time) timeoutAction {
	if c.closed {
		return timeoutNone
	}
	idle := now.Sub(c.LastAccess())
	proc := c.proc
	switch {
	case proc.Async().IsAsync():
		if proc.Async().Expired(now) {
			return timeoutDispatch
		}
	case proc.IsComet():
		if timeout := proc.CometTimeout(); timeout > 0 && idle > timeout {
			return timeoutDispatch
		}
	case c.sendfile != nil || proc.HasBufferedInput():
		if idle > r.cfg.ConnectionTimeout {
			return timeoutClose
		}
	default:
		if timeout := r.cfg.KeepAliveTimeout; timeout >= 0 && idle > timeout {
			return timeoutClose
		}
	}
	return timeoutNone
}

func (r *reactor) shutdown() {
	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		// Unblocks workers stuck in body reads or writes.
		_ = c.nc.SetDeadline(time.Now())
	}
	r.wg.Wait()
	for _, c := range conns {
		c.mu.Lock()
		if !c.closed && c.proc.Async().IsAsync() {
			r.dispatchLocked(c, http11.StatusStop)
		}
		r.closeLocked(c)
		c.mu.Unlock()
	}
}
