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
package blocking

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"connectrpc.com/http11"
)

const dispatchQueueSize = 8

// conn is the blocking transport of one connection.
type conn struct {
	ep         *Endpoint
	nc         net.Conn
	tlsState   *tls.ConnectionState
	lastAccess atomic.Int64
	dispatches chan http11.SocketStatus
}

var (
	_ http11.Transport = (*conn)(nil)
	_ http11.Executor  = (*conn)(nil)
)

func newConn(ep *Endpoint, nc net.Conn) *conn {
	c := &conn{
		ep:         ep,
		nc:         nc,
		dispatches: make(chan http11.SocketStatus, dispatchQueueSize),
	}
	c.touch()
	return c
}

func (c *conn) handshake(ctx context.Context, tc *tls.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, c.ep.cfg.ConnectionTimeout)
	defer cancel()
	if err := tc.HandshakeContext(ctx); err != nil {
		return err
	}
	state := tc.ConnectionState()
	c.tlsState = &state
	return nil
}

func (c *conn) touch() { c.lastAccess.Store(time.Now().UnixNano()) }

// Fill always blocks: a blocking transport has no way to report that no
// data is available yet.
func (c *conn) Fill(p []byte, _ bool) (int, error) {
	for {
		n, err := c.nc.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

func (c *conn) Write(p []byte) error {
	if timeout := c.ep.cfg.ConnectionTimeout; timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := c.nc.Write(p)
	c.touch()
	return err
}

func (c *conn) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return c.nc.SetReadDeadline(time.Time{})
	}
	return c.nc.SetReadDeadline(time.Now().Add(d))
}

func (c *conn) NonBlocking() bool { return false }

func (c *conn) LastAccess() time.Time { return time.Unix(0, c.lastAccess.Load()) }

func (c *conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

func (c *conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *conn) TLSState() *tls.ConnectionState { return c.tlsState }

// Dispatch queues status for the connection goroutine. It never blocks; a
// full queue already holds a pending wake-up.
func (c *conn) Dispatch(status http11.SocketStatus) {
	select {
	case c.dispatches <- status:
	default:
		c.ep.logger.Debug("dispatch dropped",
			slog.String("remote", c.nc.RemoteAddr().String()),
			slog.String("status", status.String()))
	}
}

func (c *conn) Execute(fn func()) { go fn() }

// await parks the connection goroutine while a request is asynchronous and
// returns the status it must be resumed with.
func (c *conn) await(ctx context.Context, proc *http11.Processor) http11.SocketStatus {
	for {
		var expired <-chan time.Time
		var timer *time.Timer
		if deadline := proc.Async().Deadline(); !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 && proc.Async().Expired(time.Now()) {
				return http11.StatusTimeout
			}
			if wait > 0 {
				timer = time.NewTimer(wait)
				expired = timer.C
			}
		}
		select {
		case status := <-c.dispatches:
			stopTimer(timer)
			return status
		case <-ctx.Done():
			stopTimer(timer)
			return http11.StatusStop
		case <-expired:
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (c *conn) close() {
	_ = c.nc.Close()
}
