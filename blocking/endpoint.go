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

// Package blocking serves HTTP/1.1 with one goroutine per connection over
// net.Conn, plain or TLS. Reads block with deadlines; asynchronous requests
// park the connection goroutine until the application dispatches it.
package blocking

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"connectrpc.com/http11"
	"connectrpc.com/http11/internal/endpoint"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConnections = 200
	defaultPoolSize       = 200
)

// Endpoint accepts connections and runs a processor on each of them.
type Endpoint struct {
	Config  *http11.Config
	Adapter http11.Adapter
	// MaxConnections bounds concurrently served connections. Accepting
	// stops while the limit is reached.
	MaxConnections int64
	// TLSConfig, if set, makes the endpoint terminate TLS.
	TLSConfig *tls.Config

	initOnce sync.Once
	cfg      *http11.Config
	logger   *slog.Logger
	pool     *http11.ProcessorPool
	gate     endpoint.Gate

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

var _ http11.Pauser = (*Endpoint)(nil)

func (e *Endpoint) init() {
	e.initOnce.Do(func() {
		e.cfg = e.Config.Resolved()
		e.logger = e.cfg.Logger.With(slog.String("endpoint", "blocking"))
		e.pool = http11.NewProcessorPool(defaultPoolSize, func() *http11.Processor {
			proc := http11.NewProcessor(e.cfg, e.Adapter)
			proc.SetPauser(e)
			return proc
		})
		e.conns = make(map[*conn]struct{})
	})
}

// Pause stops accepting. Requests that arrive on open connections are
// answered with 503 and the connections close.
func (e *Endpoint) Pause() { e.gate.Pause() }

// Resume undoes Pause.
func (e *Endpoint) Resume() { e.gate.Resume() }

func (e *Endpoint) IsPaused() bool { return e.gate.IsPaused() }

// Serve accepts connections on ln until ctx is done, then closes ln and
// every open connection and waits for their goroutines to exit.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	e.init()
	if e.Adapter == nil {
		return errors.New("blocking: endpoint has no adapter")
	}
	if e.TLSConfig != nil {
		ln = tls.NewListener(ln, e.TLSConfig)
	}
	maxConns := e.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		e.closeAll()
	})
	defer stop()
	e.logger.Info("serving", slog.String("address", ln.Addr().String()))

	acceptor := &endpoint.Acceptor[net.Conn]{
		Gate:   &e.gate,
		Slots:  semaphore.NewWeighted(maxConns),
		Logger: e.logger,
		Accept: ln.Accept,
		Handle: func(nc net.Conn, release func()) {
			c := newConn(e, nc)
			if !e.track(c) {
				_ = nc.Close()
				release()
				return
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				defer release()
				defer e.untrack(c)
				e.serveConn(ctx, c)
			}()
		},
	}
	err := acceptor.Run(ctx)
	_ = ln.Close()
	e.wg.Wait()
	return err
}

func (e *Endpoint) track(c *conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns == nil {
		return false
	}
	e.conns[c] = struct{}{}
	return true
}

func (e *Endpoint) untrack(c *conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, c)
}

func (e *Endpoint) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.conns {
		c.Dispatch(http11.StatusStop)
		_ = c.nc.SetDeadline(time.Now())
	}
}

func (e *Endpoint) serveConn(ctx context.Context, c *conn) {
	defer c.close()
	if tc, ok := c.nc.(*tls.Conn); ok {
		if err := c.handshake(ctx, tc); err != nil {
			e.logger.Debug("tls handshake failed",
				slog.String("remote", c.nc.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}
	}
	proc := e.pool.Get()
	defer func() {
		if proc != nil {
			e.pool.Put(proc)
		}
	}()

	status := http11.StatusOpenRead
	for {
		state := proc.Dispatch(ctx, c, status)
		switch state {
		case http11.StateOpen:
			status = http11.StatusOpenRead
		case http11.StateLong:
			status = c.await(ctx, proc)
		case http11.StateUpgrading:
			handler := proc.UpgradeHandler()
			leftover := bytes.Clone(proc.Leftover())
			e.pool.Put(proc)
			proc = nil
			handler.Upgrade(c, leftover)
			return
		default:
			return
		}
	}
}
