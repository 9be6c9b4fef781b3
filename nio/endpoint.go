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

// Package nio serves HTTP/1.1 from a readiness reactor. Connections are
// accepted through net, registered with epoll, and handed to a bounded pool
// of workers only when input arrives, so idle kept-alive connections hold
// no goroutine. Request heads are parsed incrementally across readiness
// events. Only Linux is supported.
package nio

import (
	"connectrpc.com/http11"
	"connectrpc.com/http11/internal/endpoint"
)

const (
	DefaultMaxConnections = 10000
	DefaultWorkers        = 200
)

// Endpoint is a reactor endpoint.
type Endpoint struct {
	Config  *http11.Config
	Adapter http11.Adapter
	// MaxConnections bounds open connections.
	MaxConnections int64
	// Workers bounds concurrently running processors.
	Workers int64

	gate endpoint.Gate
}

var _ http11.Pauser = (*Endpoint)(nil)

// Pause stops accepting new connections.
func (e *Endpoint) Pause() { e.gate.Pause() }

func (e *Endpoint) Resume() { e.gate.Resume() }

func (e *Endpoint) IsPaused() bool { return e.gate.IsPaused() }
