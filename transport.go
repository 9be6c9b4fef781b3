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

package http11

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Transport is the leaf byte I/O of one connection. Each endpoint supplies
// its own implementation; the parser, filters and processor run unchanged on
// top of any of them.
type Transport interface {
	// Fill reads into p. With block set it waits for at least one byte. A
	// non-blocking call that finds no data returns 0, nil. A clean end of
	// stream is reported as io.EOF.
	Fill(p []byte, block bool) (int, error)
	// Write writes all of p, blocking as needed.
	Write(p []byte) error
	// SetReadTimeout bounds subsequent blocking reads. Zero clears it.
	SetReadTimeout(d time.Duration) error
	// NonBlocking reports whether parsing must be resumable because Fill
	// may return no data.
	NonBlocking() bool
	// LastAccess is when the connection was last handed to a processor.
	LastAccess() time.Time
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// TLSState is nil for plain connections.
	TLSState() *tls.ConnectionState
	// Dispatch asks the owning endpoint to run the processor again with
	// the given status, on whatever goroutine the endpoint uses.
	Dispatch(status SocketStatus)
}

// Sendfiler is implemented by transports that can write a file region
// without passing it through the processor.
type Sendfiler interface {
	Sendfile(data *SendfileData) SendfileState
}

// SendfileData describes a pending file transfer.
type SendfileData struct {
	Filename string
	Start    int64
	End      int64
	// KeepAlive tells the transport whether the connection continues once
	// the transfer completes.
	KeepAlive bool
}

// Length is the number of bytes to transfer.
func (d *SendfileData) Length() int64 { return d.End - d.Start }

// SendfileState is the outcome of handing a transfer to a transport.
type SendfileState int

const (
	SendfileDone SendfileState = iota
	SendfilePending
	SendfileError
)

// SocketState is what a processor reports when it stops running.
type SocketState int

const (
	// StateClosed means the connection must be closed.
	StateClosed SocketState = iota
	// StateOpen means the connection waits for more input.
	StateOpen
	// StateLong means processing is suspended (async or comet) and must be
	// resumed with AsyncDispatch or Event.
	StateLong
	// StateUpgrading means the connection is handed to an UpgradeHandler.
	StateUpgrading
	// StateSendfile means a transport-owned file transfer is in progress.
	StateSendfile
	// stateAsyncEnd is internal: async processing finished and the
	// finishing sequence must run.
	stateAsyncEnd
)

func (s SocketState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateLong:
		return "LONG"
	case StateUpgrading:
		return "UPGRADING"
	case StateSendfile:
		return "SENDFILE"
	case stateAsyncEnd:
		return "ASYNC_END"
	default:
		return fmt.Sprintf("SocketState(%d)", int(s))
	}
}

// SocketStatus is the reason an endpoint resumes a processor.
type SocketStatus int

const (
	StatusOpenRead SocketStatus = iota
	StatusOpenWrite
	StatusStop
	StatusTimeout
	StatusDisconnect
	StatusError
	StatusAsyncReadError
)

func (s SocketStatus) String() string {
	switch s {
	case StatusOpenRead:
		return "OPEN_READ"
	case StatusOpenWrite:
		return "OPEN_WRITE"
	case StatusStop:
		return "STOP"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusDisconnect:
		return "DISCONNECT"
	case StatusError:
		return "ERROR"
	case StatusAsyncReadError:
		return "ASYNC_READ_ERROR"
	default:
		return fmt.Sprintf("SocketStatus(%d)", int(s))
	}
}

// UpgradeHandler takes over a connection after an upgrade response.
type UpgradeHandler interface {
	// Upgrade owns t from now on. leftover holds bytes already read past
	// the request that triggered the upgrade.
	Upgrade(t Transport, leftover []byte)
}

// Pauser reports whether the owning endpoint stopped accepting work.
type Pauser interface {
	IsPaused() bool
}
