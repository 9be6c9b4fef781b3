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

// Package native serves HTTP/1.1 on raw non-blocking sockets driven
// directly through system calls, without the net package. A poller waits
// for input on idle connections and enforces the keep-alive timeout; file
// transfers run on a separate sendfile poller and worker pool. Only Linux
// is supported.
package native

import (
	"net"
	"sync"

	"connectrpc.com/http11"
	"connectrpc.com/http11/internal/endpoint"
)

const (
	DefaultMaxConnections  = 8192
	DefaultWorkers         = 200
	DefaultSendfileWorkers = 16
	DefaultBacklog         = 511
)

// Endpoint is a native socket endpoint. Call Listen, then Serve.
type Endpoint struct {
	Config  *http11.Config
	Adapter http11.Adapter
	// MaxConnections bounds open connections.
	MaxConnections int64
	// Workers bounds concurrently running processors.
	Workers int64
	// SendfileWorkers bounds concurrently running file transfers.
	SendfileWorkers int64
	// Backlog is the listen queue length.
	Backlog int

	gate endpoint.Gate

	mu       sync.Mutex
	listener *listener
}

var _ http11.Pauser = (*Endpoint)(nil)

// Pause stops accepting new connections.
func (e *Endpoint) Pause() { e.gate.Pause() }

func (e *Endpoint) Resume() { e.gate.Resume() }

func (e *Endpoint) IsPaused() bool { return e.gate.IsPaused() }

// Addr is the bound address, or nil before Listen.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.addr
}
