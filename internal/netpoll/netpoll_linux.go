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

// Package netpoll wraps epoll for the reactor-based endpoints. Registrations
// are one-shot: a descriptor reports at most one event and must be rearmed
// once it has been handled.
package netpoll

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Mode selects the readiness a registration waits for.
type Mode uint32

const (
	ModeRead  Mode = unix.EPOLLIN | unix.EPOLLRDHUP
	ModeWrite Mode = unix.EPOLLOUT
)

// Event is one readiness notification.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set when the peer closed or the socket failed.
	Hangup bool
}

// Poller is an epoll instance with an eventfd used to interrupt Wait.
type Poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

// New creates a poller that reports up to batch events per Wait.
func New(batch int) (*Poller, error) {
	if batch <= 0 {
		batch = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &Poller{epfd: epfd, wakefd: wakefd, raw: make([]unix.EpollEvent, batch)}
	wake := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &wake); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("epoll_ctl: %w", err)
	}
	return p, nil
}

// Arm registers fd for one event of the given mode, or rearms an existing
// registration.
func (p *Poller) Arm(fd int, mode Mode) error {
	ev := unix.EpollEvent{Events: uint32(mode) | unix.EPOLLONESHOT, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if errors.Is(err, unix.ENOENT) {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}
	return nil
}

// Remove drops fd. It must run before fd is closed so that a reused
// descriptor number never inherits the registration.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks for up to timeout and appends ready events to events. A
// negative timeout waits until an event or Wake. Wait is not safe for
// concurrent use.
func (p *Poller) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.raw, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return events, nil
		}
		return events, fmt.Errorf("epoll_wait: %w", err)
	}
	for _, raw := range p.raw[:n] {
		fd := int(raw.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		events = append(events, Event{
			Fd:       fd,
			Readable: raw.Events&unix.EPOLLIN != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Hangup:   raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		})
	}
	return events, nil
}

// Wake interrupts a concurrent Wait.
func (p *Poller) Wake() error {
	var one = [8]byte{1}
	_, err := unix.Write(p.wakefd, one[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *Poller) Close() error {
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}
