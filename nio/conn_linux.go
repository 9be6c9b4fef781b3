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
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"connectrpc.com/http11"
	"golang.org/x/sys/unix"
)

// maxSendfileChunk bounds one sendfile call so a large transfer yields back
// to the reactor between chunks.
const maxSendfileChunk = 1 << 20

// conn is the transport of one reactor connection. Reads during head
// parsing are single non-blocking attempts; body reads and all writes go
// through the runtime poller with deadlines.
type conn struct {
	r       *reactor
	nc      net.Conn
	raw     syscall.RawConn
	fd      int
	release func()

	// mu is held while a worker runs the processor.
	mu       sync.Mutex
	proc     *http11.Processor
	closed   bool
	sendfile *sendfileState

	lastAccess  atomic.Int64
	readTimeout atomic.Int64
}

type sendfileState struct {
	data   *http11.SendfileData
	file   *os.File
	offset int64
}

var (
	_ http11.Transport = (*conn)(nil)
	_ http11.Sendfiler = (*conn)(nil)
	_ http11.Executor  = (*conn)(nil)
)

func (c *conn) touch() { c.lastAccess.Store(time.Now().UnixNano()) }

func (c *conn) Fill(p []byte, block bool) (int, error) {
	if !block {
		return c.tryRead(p)
	}
	timeout := time.Duration(c.readTimeout.Load())
	if timeout <= 0 {
		timeout = c.r.cfg.ConnectionTimeout
		if !c.r.cfg.DisableUploadTimeout {
			timeout = c.r.cfg.ConnectionUploadTimeout
		}
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
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

// tryRead makes a single read attempt without waiting for readiness.
func (c *conn) tryRead(p []byte) (int, error) {
	var n int
	var readErr error
	err := c.raw.Read(func(fd uintptr) bool {
		for {
			n, readErr = unix.Read(int(fd), p)
			if !errors.Is(readErr, unix.EINTR) {
				return true
			}
		}
	})
	switch {
	case err != nil:
		return 0, err
	case errors.Is(readErr, unix.EAGAIN):
		return 0, nil
	case readErr != nil:
		return 0, fmt.Errorf("read: %w", readErr)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

func (c *conn) Write(p []byte) error {
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.r.cfg.ConnectionTimeout)); err != nil {
		return err
	}
	_, err := c.nc.Write(p)
	return err
}

func (c *conn) SetReadTimeout(d time.Duration) error {
	c.readTimeout.Store(int64(d))
	return nil
}

func (c *conn) NonBlocking() bool { return true }

func (c *conn) LastAccess() time.Time { return time.Unix(0, c.lastAccess.Load()) }

func (c *conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

func (c *conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *conn) TLSState() *tls.ConnectionState { return nil }

// Dispatch resumes the processor on a worker. The caller may hold the
// connection, so the hand-off happens on a new goroutine.
func (c *conn) Dispatch(status http11.SocketStatus) {
	go c.r.submit(c, status)
}

// Execute runs fn on a worker of the endpoint.
func (c *conn) Execute(fn func()) {
	go func() {
		if err := c.r.workers.Acquire(c.r.ctx, 1); err != nil {
			return
		}
		defer c.r.workers.Release(1)
		fn()
	}()
}

// Sendfile starts writing a file region. Whatever the socket does not take
// immediately is finished on write readiness.
func (c *conn) Sendfile(data *http11.SendfileData) http11.SendfileState {
	file, err := os.Open(data.Filename)
	if err != nil {
		c.r.logger.Debug("sendfile open failed")
		return http11.SendfileError
	}
	c.sendfile = &sendfileState{data: data, file: file, offset: data.Start}
	return c.writeFile()
}

func (c *conn) writeFile() http11.SendfileState {
	s := c.sendfile
	for s.offset < s.data.End {
		var written int
		var sendErr error
		err := c.raw.Write(func(fd uintptr) bool {
			count := int(min(s.data.End-s.offset, maxSendfileChunk))
			written, sendErr = unix.Sendfile(int(fd), int(s.file.Fd()), &s.offset, count)
			return true
		})
		switch {
		case err != nil:
			c.closeFile()
			return http11.SendfileError
		case errors.Is(sendErr, unix.EAGAIN), errors.Is(sendErr, unix.EINTR):
			c.touch()
			return http11.SendfilePending
		case sendErr != nil, written == 0:
			c.closeFile()
			return http11.SendfileError
		}
	}
	c.closeFile()
	c.touch()
	return http11.SendfileDone
}

func (c *conn) closeFile() {
	if c.sendfile != nil {
		_ = c.sendfile.file.Close()
		c.sendfile = nil
	}
}
