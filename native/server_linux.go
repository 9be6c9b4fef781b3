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

package native

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"connectrpc.com/http11"
	"connectrpc.com/http11/internal/endpoint"
	"connectrpc.com/http11/internal/netpoll"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	scanInterval = time.Second
	acceptWait   = 250 * time.Millisecond
	pollBatch    = 256
	poolSize     = 500
)

// Listen binds and listens on address.
func (e *Endpoint) Listen(address string) error {
	backlog := e.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	ln, err := listenTCP(address, backlog)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		_ = ln.close()
		return errors.New("native: endpoint is already listening")
	}
	e.listener = ln
	return nil
}

// Serve runs the endpoint until ctx is done. The listening socket is
// closed when Serve returns.
func (e *Endpoint) Serve(ctx context.Context) error {
	e.mu.Lock()
	ln := e.listener
	e.mu.Unlock()
	if ln == nil {
		return errors.New("native: Serve called before Listen")
	}
	defer func() {
		e.mu.Lock()
		e.listener = nil
		e.mu.Unlock()
		_ = ln.close()
	}()
	if e.Adapter == nil {
		return errors.New("native: endpoint has no adapter")
	}
	cfg := e.Config.Resolved()
	poller, err := netpoll.New(pollBatch)
	if err != nil {
		return err
	}
	defer poller.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := &server{
		ctx:     ctx,
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("endpoint", "native")),
		poller:  poller,
		workers: semaphore.NewWeighted(orDefault(e.Workers, DefaultWorkers)),
		sockets: make(map[int]*socket),
	}
	srv.pool = http11.NewProcessorPool(poolSize, func() *http11.Processor {
		proc := http11.NewProcessor(cfg, e.Adapter)
		proc.SetPauser(e)
		return proc
	})
	srv.sendfile, err = newSendfileQueue(srv, orDefault(e.SendfileWorkers, DefaultSendfileWorkers))
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = poller.Wake()
		_ = srv.sendfile.poller.Wake()
	})
	defer stop()
	srv.logger.Info("serving", slog.String("address", ln.addr.String()))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer cancel()
		acceptor := &endpoint.Acceptor[*socket]{
			Gate:   &e.gate,
			Slots:  semaphore.NewWeighted(orDefault(e.MaxConnections, DefaultMaxConnections)),
			Logger: srv.logger,
			Accept: func() (*socket, error) {
				return srv.accept(groupCtx, ln)
			},
			Handle: srv.register,
		}
		return acceptor.Run(groupCtx)
	})
	group.Go(func() error {
		return srv.poll(groupCtx)
	})
	group.Go(func() error {
		return srv.sendfile.run(groupCtx)
	})
	err = group.Wait()
	srv.shutdown()
	return errors.Join(err, srv.sendfile.close())
}

func orDefault(n, def int64) int64 {
	if n <= 0 {
		return def
	}
	return n
}

// server is the running state of a Serve call.
type server struct {
	ctx      context.Context //nolint:containedctx // lifetime of Serve
	cfg      *http11.Config
	logger   *slog.Logger
	poller   *netpoll.Poller
	pool     *http11.ProcessorPool
	workers  *semaphore.Weighted
	sendfile *sendfileQueue

	mu      sync.Mutex
	sockets map[int]*socket
	wg      sync.WaitGroup
}

func (s *server) accept(ctx context.Context, ln *listener) (*socket, error) {
	for {
		if ctx.Err() != nil {
			return nil, net.ErrClosed
		}
		fd, sa, err := ln.accept(acceptWait)
		if err != nil {
			return nil, err
		}
		if fd < 0 {
			continue
		}
		sock := &socket{
			srv:    s,
			fd:     fd,
			local:  ln.addr,
			remote: toTCPAddr(sa),
		}
		sock.touch()
		return sock, nil
	}
}

func (s *server) register(sock *socket, release func()) {
	sock.release = release
	sock.proc = s.pool.Get()
	s.mu.Lock()
	s.sockets[sock.fd] = sock
	s.mu.Unlock()
	sock.mu.Lock()
	defer sock.mu.Unlock()
	s.armLocked(sock)
}

func (s *server) poll(ctx context.Context) error {
	var events []netpoll.Event
	nextScan := time.Now().Add(scanInterval)
	for ctx.Err() == nil {
		var err error
		events, err = s.poller.Wait(events[:0], scanInterval)
		if err != nil {
			return err
		}
		for _, ev := range events {
			s.mu.Lock()
			sock := s.sockets[ev.Fd]
			s.mu.Unlock()
			if sock == nil {
				continue
			}
			status := http11.StatusOpenRead
			if ev.Hangup && !ev.Readable {
				status = http11.StatusDisconnect
			}
			s.submit(sock, status)
		}
		if now := time.Now(); !now.Before(nextScan) {
			s.expire(now)
			nextScan = now.Add(scanInterval)
		}
	}
	return nil
}

func (s *server) submit(sock *socket, status http11.SocketStatus) {
	if err := s.workers.Acquire(s.ctx, 1); err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.workers.Release(1)
		sock.mu.Lock()
		defer sock.mu.Unlock()
		if !sock.closed {
			s.dispatchLocked(sock, status)
		}
	}()
}

func (s *server) dispatchLocked(sock *socket, status http11.SocketStatus) {
	sock.touch()
	state := sock.proc.Dispatch(s.ctx, sock, status)
	sock.touch()
	switch state {
	case http11.StateOpen:
		s.armLocked(sock)
	case http11.StateLong:
		if !sock.proc.Async().IsAsync() {
			s.armLocked(sock)
		}
	case http11.StateSendfile:
		// The sendfile queue owns the socket until the transfer ends.
	case http11.StateUpgrading:
		handler := sock.proc.UpgradeHandler()
		leftover := bytes.Clone(sock.proc.Leftover())
		s.detachLocked(sock)
		handler.Upgrade(sock, leftover)
		sock.closeFd()
		sock.release()
	default:
		s.closeLocked(sock)
	}
}

// sendfileDoneLocked continues a connection after a queued transfer ended.
func (s *server) sendfileDoneLocked(sock *socket, keepAlive bool) {
	switch {
	case !keepAlive:
		s.closeLocked(sock)
	case sock.proc.HasBufferedInput():
		s.dispatchLocked(sock, http11.StatusOpenRead)
	default:
		s.armLocked(sock)
	}
}

func (s *server) armLocked(sock *socket) {
	if err := s.poller.Arm(sock.fd, netpoll.ModeRead); err != nil {
		s.logger.Debug("arm failed", slog.String("error", err.Error()))
		s.closeLocked(sock)
	}
}

func (s *server) detachLocked(sock *socket) {
	sock.closed = true
	s.mu.Lock()
	delete(s.sockets, sock.fd)
	s.mu.Unlock()
	_ = s.poller.Remove(sock.fd)
	s.sendfile.remove(sock.fd)
	if sock.proc != nil {
		s.pool.Put(sock.proc)
		sock.proc = nil
	}
}

func (s *server) closeLocked(sock *socket) {
	if sock.closed {
		return
	}
	s.detachLocked(sock)
	sock.closeFd()
	sock.release()
}

// expire closes connections idle past the keep-alive timeout, or past the
// connection timeout in the middle of a request head, and resumes timed
// out asynchronous and comet requests.
func (s *server) expire(now time.Time) {
	s.mu.Lock()
	sockets := make([]*socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		if !sock.mu.TryLock() {
			continue
		}
		if sock.closed {
			sock.mu.Unlock()
			continue
		}
		idle := now.Sub(sock.LastAccess())
		proc := sock.proc
		dispatch := false
		switch {
		case proc.Async().IsAsync():
			dispatch = proc.Async().Expired(now)
		case proc.IsComet():
			timeout := proc.CometTimeout()
			dispatch = timeout > 0 && idle > timeout
		case s.sendfile.has(sock.fd):
			// The sendfile queue expires its own jobs.
		case proc.HasBufferedInput():
			if idle > s.cfg.ConnectionTimeout {
				s.closeLocked(sock)
			}
		default:
			if timeout := s.cfg.KeepAliveTimeout; timeout >= 0 && idle > timeout {
				s.logger.Debug("keep-alive timeout", slog.String("remote", sock.remote.String()))
				s.closeLocked(sock)
			}
		}
		if dispatch {
			_ = s.poller.Remove(sock.fd)
		}
		sock.mu.Unlock()
		if dispatch {
			s.submit(sock, http11.StatusTimeout)
		}
	}
}

func (s *server) shutdown() {
	s.mu.Lock()
	sockets := make([]*socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()
	for _, sock := range sockets {
		// Wakes workers waiting in poll; reads then see end of stream.
		sock.shutdown()
	}
	s.wg.Wait()
	for _, sock := range sockets {
		sock.mu.Lock()
		if !sock.closed && sock.proc.Async().IsAsync() {
			s.dispatchLocked(sock, http11.StatusStop)
		}
		s.closeLocked(sock)
		sock.mu.Unlock()
	}
}
