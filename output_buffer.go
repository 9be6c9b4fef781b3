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
	"strconv"

	"golang.org/x/net/http/httpguts"
)

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// OutputBuffer serializes the response head and carries the body through the
// active output filters to the transport. Small writes are aggregated in a
// socket buffer before they reach the transport.
type OutputBuffer struct {
	resp      *Response
	transport Transport

	maxHeaderSize int
	headerBuf     []byte
	headerErr     error

	socketBuf  []byte
	socketSize int

	raw      socketOutput
	filters  filterStack[OutputFilter]
	finished bool
	// bytesWritten counts bytes handed to the transport, head included.
	bytesWritten int64
}

// NewOutputBuffer returns a buffer writing resp.
func NewOutputBuffer(resp *Response, maxHeaderSize, socketBufferSize int) *OutputBuffer {
	b := &OutputBuffer{
		resp:          resp,
		maxHeaderSize: maxHeaderSize,
		headerBuf:     make([]byte, 0, min(maxHeaderSize, 1024)),
		socketSize:    socketBufferSize,
	}
	b.raw.b = b
	return b
}

// Init binds the buffer to a connection.
func (b *OutputBuffer) Init(t Transport) {
	b.transport = t
	if b.socketBuf == nil && b.socketSize > 0 {
		b.socketBuf = make([]byte, 0, b.socketSize)
	}
}

// AddFilter appends f to the filter library and returns its position.
func (b *OutputBuffer) AddFilter(f OutputFilter) int {
	return b.filters.add(f)
}

// Filters returns the filter library.
func (b *OutputBuffer) Filters() []OutputFilter { return b.filters.library }

// AddActiveFilter pushes f on top of the active stack.
func (b *OutputBuffer) AddActiveFilter(f OutputFilter) {
	var dst OutputSink = &b.raw
	if top, ok := b.filters.top(); ok {
		dst = top
	}
	if !b.filters.push(f) {
		return
	}
	f.SetSink(dst)
	f.SetResponse(b.resp)
}

// ActiveFilters returns the active stack, bottom first.
func (b *OutputBuffer) ActiveFilters() []OutputFilter { return b.filters.active }

// Finished reports whether EndRequest ran.
func (b *OutputBuffer) Finished() bool { return b.finished }

// BytesWritten is the number of bytes sent on the connection for this
// response.
func (b *OutputBuffer) BytesWritten() int64 { return b.bytesWritten }

// DoWrite writes body bytes, committing the response first if needed.
func (b *OutputBuffer) DoWrite(chunk *ByteChunk) (int, error) {
	if !b.resp.committed {
		if err := b.resp.Action(ActionCommit{}); err != nil {
			return 0, err
		}
	}
	if top, ok := b.filters.top(); ok {
		return top.DoWrite(chunk)
	}
	return b.raw.DoWrite(chunk)
}

// Flush commits the response and pushes everything held by the filters and
// the socket buffer to the transport.
func (b *OutputBuffer) Flush() error {
	if !b.resp.committed {
		if err := b.resp.Action(ActionCommit{}); err != nil {
			return err
		}
	}
	if top, ok := b.filters.top(); ok {
		if err := top.Flush(); err != nil {
			return err
		}
	}
	return b.flushSocket()
}

// SendAck writes the interim 100 Continue response. It does nothing once the
// response is committed.
func (b *OutputBuffer) SendAck() error {
	if b.resp.committed {
		return nil
	}
	if err := b.transport.Write(continueResponse); err != nil {
		return err
	}
	b.bytesWritten += int64(len(continueResponse))
	return nil
}

// Reset discards the serialized head. It fails once the response is
// committed.
func (b *OutputBuffer) Reset() error {
	if b.resp.committed {
		return ErrCommitted
	}
	b.headerBuf = b.headerBuf[:0]
	b.headerErr = nil
	return nil
}

// SendStatus starts the head with the status line. Registered codes use a
// preformatted line; a custom message is sanitized so it cannot break the
// head.
func (b *OutputBuffer) SendStatus() {
	status := b.resp.status
	if msg := b.resp.message; msg == "" || !httpguts.ValidHeaderFieldValue(msg) {
		if line, ok := statusLines[status]; ok {
			b.appendHeader(line)
			return
		}
		b.appendHeader([]byte("HTTP/1.1 " + strconv.Itoa(status) + " " + reasonPhrase(status) + "\r\n"))
		return
	}
	b.appendHeader([]byte("HTTP/1.1 " + strconv.Itoa(status) + " " + b.resp.message + "\r\n"))
}

// SendHeader appends one field. Fields that would corrupt the head are
// dropped.
func (b *OutputBuffer) SendHeader(name, value []byte) {
	if !httpguts.ValidHeaderFieldName(string(name)) || !httpguts.ValidHeaderFieldValue(string(value)) {
		return
	}
	b.appendHeader(name)
	b.appendHeader([]byte(": "))
	b.appendHeader(value)
	b.appendHeader(crlf)
}

// EndHeaders terminates the head.
func (b *OutputBuffer) EndHeaders() {
	b.appendHeader(crlf)
}

// HeadersError reports whether the head overflowed MaxHeaderSize.
func (b *OutputBuffer) HeadersError() error { return b.headerErr }

func (b *OutputBuffer) appendHeader(p []byte) {
	if b.headerErr != nil {
		return
	}
	if len(b.headerBuf)+len(p) > b.maxHeaderSize {
		b.headerErr = ErrResponseHeadersTooLarge
		return
	}
	b.headerBuf = append(b.headerBuf, p...)
}

// Commit writes the serialized head to the socket buffer.
func (b *OutputBuffer) Commit() error {
	if b.headerErr != nil {
		return b.headerErr
	}
	b.resp.committed = true
	if len(b.headerBuf) == 0 {
		return nil
	}
	err := b.writeSocket(b.headerBuf)
	b.headerBuf = b.headerBuf[:0]
	return err
}

// EndRequest finishes the response body and flushes everything.
func (b *OutputBuffer) EndRequest() error {
	if b.finished {
		return nil
	}
	if !b.resp.committed {
		if err := b.resp.Action(ActionCommit{}); err != nil {
			return err
		}
	}
	b.finished = true
	if top, ok := b.filters.top(); ok {
		if err := top.End(); err != nil {
			return err
		}
	}
	return b.flushSocket()
}

// resetFilters deactivates every filter, for a response that is prepared
// again after a reset.
func (b *OutputBuffer) resetFilters() {
	for _, f := range b.filters.active {
		f.Recycle()
	}
	b.filters.reset()
}

// NextRequest resets per-response state, keeping the connection binding.
func (b *OutputBuffer) NextRequest() {
	b.resp.Recycle()
	b.resetFilters()
	b.headerBuf = b.headerBuf[:0]
	b.headerErr = nil
	b.socketBuf = b.socketBuf[:0]
	b.finished = false
	b.bytesWritten = 0
}

// Recycle unbinds the connection.
func (b *OutputBuffer) Recycle() {
	b.NextRequest()
	b.transport = nil
}

func (b *OutputBuffer) writeSocket(p []byte) error {
	if b.socketSize <= 0 {
		b.bytesWritten += int64(len(p))
		return b.transport.Write(p)
	}
	if len(b.socketBuf)+len(p) > b.socketSize {
		if err := b.flushSocket(); err != nil {
			return err
		}
		if len(p) >= b.socketSize {
			b.bytesWritten += int64(len(p))
			return b.transport.Write(p)
		}
	}
	b.socketBuf = append(b.socketBuf, p...)
	return nil
}

func (b *OutputBuffer) flushSocket() error {
	if len(b.socketBuf) == 0 {
		return nil
	}
	pending := b.socketBuf
	b.socketBuf = b.socketBuf[:0]
	b.bytesWritten += int64(len(pending))
	return b.transport.Write(pending)
}

// socketOutput is the bottom of the output stack.
type socketOutput struct {
	b *OutputBuffer
}

func (s *socketOutput) DoWrite(chunk *ByteChunk) (int, error) {
	n := chunk.Len()
	if err := s.b.writeSocket(chunk.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *socketOutput) Flush() error { return nil }

func (s *socketOutput) End() error { return nil }
