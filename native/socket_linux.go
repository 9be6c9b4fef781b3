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
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/http11"
	"golang.org/x/sys/unix"
)

// listener is a bound, listening, non-blocking socket.
type listener struct {
	fd   int
	addr *net.TCPAddr
}

func listenTCP(address string, backlog int) (*listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}
	family, sa := toSockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := listenSocket(fd, family, sa, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	return &listener{fd: fd, addr: toTCPAddr(local)}, nil
}

func listenSocket(fd, family int, sa unix.Sockaddr, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

// accept waits up to wait for a pending connection. It returns -1 and no
// error when none arrived.
func (l *listener) accept(wait time.Duration) (int, unix.Sockaddr, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fd, sa, nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := pollFd(l.fd, unix.POLLIN, wait); err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					return -1, nil, nil
				}
				return -1, nil, err
			}
		case errors.Is(err, unix.EBADF), errors.Is(err, unix.EINVAL):
			return -1, nil, net.ErrClosed
		default:
			return -1, nil, os.NewSyscallError("accept4", err)
		}
	}
}

func (l *listener) close() error {
	return unix.Close(l.fd)
}

// pollFd waits for events on fd. A non-positive wait blocks indefinitely.
func pollFd(fd int, events int16, wait time.Duration) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		msec := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return os.ErrDeadlineExceeded
			}
			msec = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(fds, msec)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return os.NewSyscallError("poll", err)
		case n == 0:
			return os.ErrDeadlineExceeded
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return net.ErrClosed
		}
		return nil
	}
}

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return &net.TCPAddr{}
	}
}

// socket is the transport of one accepted connection.
type socket struct {
	srv     *server
	fd      int
	local   *net.TCPAddr
	remote  *net.TCPAddr
	release func()

	// mu is held while a worker runs the processor or a transfer.
	mu     sync.Mutex
	proc   *http11.Processor
	closed bool

	lastAccess  atomic.Int64
	readTimeout atomic.Int64
}

var (
	_ http11.Transport = (*socket)(nil)
	_ http11.Sendfiler = (*socket)(nil)
	_ http11.Executor  = (*socket)(nil)
)

func (s *socket) touch() { s.lastAccess.Store(time.Now().UnixNano()) }

// Fill maps EAGAIN to no data for a non-blocking call and waits for input
// with poll otherwise.
func (s *socket) Fill(p []byte, block bool) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n > 0:
			return n, nil
		case err == nil:
			return 0, io.EOF
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if !block {
				return 0, nil
			}
			if err := pollFd(s.fd, unix.POLLIN, s.blockingReadTimeout()); err != nil {
				return 0, err
			}
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

func (s *socket) blockingReadTimeout() time.Duration {
	if timeout := time.Duration(s.readTimeout.Load()); timeout > 0 {
		return timeout
	}
	cfg := s.srv.cfg
	if cfg.DisableUploadTimeout {
		return cfg.ConnectionTimeout
	}
	return cfg.ConnectionUploadTimeout
}

func (s *socket) Write(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			p = p[n:]
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := pollFd(s.fd, unix.POLLOUT, s.srv.cfg.ConnectionTimeout); err != nil {
				return err
			}
		default:
			return os.NewSyscallError("write", err)
		}
	}
	return nil
}

func (s *socket) SetReadTimeout(d time.Duration) error {
	s.readTimeout.Store(int64(d))
	return nil
}

func (s *socket) NonBlocking() bool { return true }

func (s *socket) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

func (s *socket) LocalAddr() net.Addr { return s.local }

func (s *socket) RemoteAddr() net.Addr { return s.remote }

func (s *socket) TLSState() *tls.ConnectionState { return nil }

func (s *socket) Dispatch(status http11.SocketStatus) {
	go s.srv.submit(s, status)
}

func (s *socket) Execute(fn func()) {
	go func() {
		if err := s.srv.workers.Acquire(s.srv.ctx, 1); err != nil {
			return
		}
		defer s.srv.workers.Release(1)
		fn()
	}()
}

// Sendfile writes as much of the file as the socket takes now and queues
// the rest on the sendfile poller.
func (s *socket) Sendfile(data *http11.SendfileData) http11.SendfileState {
	file, err := os.Open(data.Filename)
	if err != nil {
		return http11.SendfileError
	}
	job := &sendfileJob{sock: s, data: data, file: file, offset: data.Start}
	state := job.write()
	if state == http11.SendfilePending {
		if err := s.srv.sendfile.add(job); err != nil {
			job.close()
			return http11.SendfileError
		}
	}
	return state
}

func (s *socket) shutdown() {
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
}

func (s *socket) closeFd() {
	_ = unix.Close(s.fd)
}
