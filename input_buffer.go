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
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/net/http/httpguts"
)

// Body reads move to a fresh buffer when less than this is left after the
// headers.
const minBodyReadSpace = 4500

type lineStage int

const (
	lineSkipBlank lineStage = iota
	lineMethod
	lineBeforeURI
	lineURI
	lineBeforeProtocol
	lineProtocol
	lineDone
)

type headerStage int

const (
	headerStart headerStage = iota
	headerName
	headerValueStart
	headerValue
	headerMultiLine
	headerSkipLine
)

type headerResult int

const (
	headerNeedMoreData headerResult = iota
	headerHaveMore
	headerDone
)

// headerParseData holds offsets into the buffer, so a header that is only
// partly received survives a buffer growth.
type headerParseData struct {
	start               int
	nameEnd             int
	valueStart          int
	realPos             int
	lastSignificantChar int
}

// InputBuffer owns the connection read buffer. It parses the request line
// and headers in place, resumably when the transport is non-blocking, and
// then serves the body through the active input filters.
type InputBuffer struct {
	req       *Request
	transport Transport
	pool      *bufferPool
	logger    *slog.Logger

	maxHeaderSize int

	buf       []byte
	pos       int
	lastValid int
	// end is where the headers ended; body reads reuse the space after it.
	end int

	parsingHeader bool
	swallowInput  bool
	ended         bool

	stage       lineStage
	lineStart   int
	methodEnd   int
	uriStart    int
	queryPos    int
	protoStart  int
	lastNonCR   int
	headerStage headerStage
	header      headerParseData

	raw     socketInput
	filters filterStack[InputFilter]
}

// NewInputBuffer returns a buffer parsing into req.
func NewInputBuffer(req *Request, maxHeaderSize int, logger *slog.Logger) *InputBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	b := &InputBuffer{
		req:           req,
		pool:          defaultBufferPool,
		logger:        logger,
		maxHeaderSize: maxHeaderSize,
		parsingHeader: true,
		swallowInput:  true,
		queryPos:      -1,
	}
	b.raw.b = b
	return b
}

// Init binds the buffer to a connection.
func (b *InputBuffer) Init(t Transport) {
	b.transport = t
	if b.buf == nil {
		b.buf = b.pool.Get(min(initialBufferSize, b.maxHeaderSize))
	}
}

// AddFilter appends f to the filter library and returns its position.
func (b *InputBuffer) AddFilter(f InputFilter) int {
	return b.filters.add(f)
}

// Filters returns the filter library.
func (b *InputBuffer) Filters() []InputFilter { return b.filters.library }

// AddActiveFilter pushes f on top of the active stack. Adding a filter that
// is already active is a no-op.
func (b *InputBuffer) AddActiveFilter(f InputFilter) {
	var src InputSource = &b.raw
	if top, ok := b.filters.top(); ok {
		src = top
	}
	if !b.filters.push(f) {
		return
	}
	f.SetSource(src)
	f.SetRequest(b.req)
}

// ActiveFilters returns the active stack, bottom first.
func (b *InputBuffer) ActiveFilters() []InputFilter { return b.filters.active }

// SetSwallowInput controls whether EndRequest drains the unread body.
func (b *InputBuffer) SetSwallowInput(swallow bool) { b.swallowInput = swallow }

// SwallowInput reports whether the unread body will be drained.
func (b *InputBuffer) SwallowInput() bool { return b.swallowInput }

// ParsingRequestLineStarted reports whether any part of a request line was
// received.
func (b *InputBuffer) ParsingRequestLineStarted() bool { return b.stage > lineSkipBlank }

// DoRead reads body bytes through the active filters.
func (b *InputBuffer) DoRead(chunk *ByteChunk) (int, error) {
	if top, ok := b.filters.top(); ok {
		return top.DoRead(chunk)
	}
	return b.raw.DoRead(chunk)
}

// Available is the number of body bytes readable without I/O.
func (b *InputBuffer) Available() int {
	if top, ok := b.filters.top(); ok {
		return top.Available()
	}
	return b.lastValid - b.pos
}

// Buffered is the number of bytes read from the connection but not consumed.
func (b *InputBuffer) Buffered() int { return b.lastValid - b.pos }

// Leftover returns a copy of the bytes buffered past the current position.
func (b *InputBuffer) Leftover() []byte {
	if b.lastValid <= b.pos {
		return nil
	}
	return append([]byte(nil), b.buf[b.pos:b.lastValid]...)
}

// ParseRequestLine parses the request line. It returns false when a
// non-blocking read ran out of data; the next call resumes where this one
// stopped.
func (b *InputBuffer) ParseRequestLine(block bool) (bool, error) {
	for {
		switch b.stage {
		case lineSkipBlank:
			if b.pos >= b.lastValid {
				if ok, err := b.fill(block); !ok || err != nil {
					return false, err
				}
			}
			c := b.buf[b.pos]
			if c == '\r' || c == '\n' {
				b.pos++
				continue
			}
			b.req.startTime = time.Now()
			b.lineStart = b.pos
			b.stage = lineMethod
		case lineMethod:
			if b.pos >= b.lastValid {
				if ok, err := b.fill(block); !ok || err != nil {
					return false, err
				}
			}
			c := b.buf[b.pos]
			if c == ' ' || c == '\t' {
				if b.pos == b.lineStart {
					return false, newStatusError(400, errProtocol("empty method"))
				}
				b.methodEnd = b.pos
				b.req.method.SetBytes(b.buf[b.lineStart:b.pos])
				b.stage = lineBeforeURI
				b.pos++
				continue
			}
			if !httpguts.IsTokenRune(rune(c)) {
				return false, newStatusError(400, errProtocol("invalid character %q in method", c))
			}
			b.pos++
		case lineBeforeURI, lineBeforeProtocol:
			if b.pos >= b.lastValid {
				if ok, err := b.fill(block); !ok || err != nil {
					return false, err
				}
			}
			c := b.buf[b.pos]
			if c == ' ' || c == '\t' {
				b.pos++
				continue
			}
			if b.stage == lineBeforeURI {
				if c == '\r' || c == '\n' {
					return false, newStatusError(400, errProtocol("missing request target"))
				}
				b.uriStart = b.pos
				b.queryPos = -1
				b.stage = lineURI
			} else {
				b.protoStart = b.pos
				b.lastNonCR = b.pos
				b.stage = lineProtocol
			}
		case lineURI:
			if b.pos >= b.lastValid {
				if ok, err := b.fill(block); !ok || err != nil {
					return false, err
				}
			}
			c := b.buf[b.pos]
			switch {
			case c == ' ' || c == '\t':
				b.setURI(b.pos)
				b.stage = lineBeforeProtocol
				b.pos++
			case c == '\r' || c == '\n':
				// HTTP/0.9: no protocol token.
				b.setURI(b.pos)
				b.req.protocol.SetString("")
				b.protoStart = b.pos
				b.lastNonCR = b.pos
				b.stage = lineProtocol
			case c == '?' && b.queryPos < 0:
				b.queryPos = b.pos
				b.pos++
			case c < 0x20 || c == 0x7f:
				return false, newStatusError(400, errProtocol("invalid character in request target"))
			default:
				b.pos++
			}
		case lineProtocol:
			if b.pos >= b.lastValid {
				if ok, err := b.fill(block); !ok || err != nil {
					return false, err
				}
			}
			c := b.buf[b.pos]
			b.pos++
			switch c {
			case '\n':
				if b.lastNonCR > b.protoStart {
					b.req.protocol.SetBytes(b.buf[b.protoStart:b.lastNonCR])
				} else if b.req.protocol.IsNull() {
					b.req.protocol.SetString("")
				}
				b.stage = lineDone
				return true, nil
			case '\r':
			default:
				b.lastNonCR = b.pos
			}
		case lineDone:
			return true, nil
		}
	}
}

func (b *InputBuffer) setURI(end int) {
	b.req.uri.SetBytes(b.buf[b.uriStart:end])
	if b.queryPos >= 0 {
		b.req.path.SetBytes(b.buf[b.uriStart:b.queryPos])
		b.req.query.SetBytes(b.buf[b.queryPos+1 : end])
	} else {
		b.req.path.SetBytes(b.buf[b.uriStart:end])
	}
}

// ParseHeaders parses header fields up to the empty line. Like
// ParseRequestLine it returns false when a non-blocking read ran dry.
func (b *InputBuffer) ParseHeaders(block bool) (bool, error) {
	if !b.parsingHeader {
		return true, nil
	}
	for {
		result, err := b.parseHeader(block)
		if err != nil {
			return false, err
		}
		switch result {
		case headerNeedMoreData:
			return false, nil
		case headerDone:
			b.parsingHeader = false
			b.end = b.pos
			return true, nil
		}
	}
}

func (b *InputBuffer) skipHeaders() {
	b.parsingHeader = false
	b.end = b.pos
}

func (b *InputBuffer) parseHeader(block bool) (headerResult, error) {
	h := &b.header
	for {
		if b.pos >= b.lastValid {
			if ok, err := b.fill(block); !ok || err != nil {
				return headerNeedMoreData, err
			}
		}
		c := b.buf[b.pos]
		switch b.headerStage {
		case headerStart:
			switch c {
			case '\r':
				b.pos++
				continue
			case '\n':
				b.pos++
				return headerDone, nil
			}
			h.start = b.pos
			b.headerStage = headerName
		case headerName:
			switch {
			case c == ':':
				if b.pos == h.start {
					b.skipInvalidHeader()
					continue
				}
				h.nameEnd = b.pos
				b.pos++
				b.headerStage = headerValueStart
			case !httpguts.IsTokenRune(rune(c)):
				b.skipInvalidHeader()
			default:
				b.buf[b.pos] = lower(c)
				b.pos++
			}
		case headerValueStart:
			if c == ' ' || c == '\t' {
				b.pos++
				continue
			}
			if h.valueStart == 0 {
				h.valueStart = b.pos
				h.realPos = b.pos
				h.lastSignificantChar = b.pos
			}
			b.headerStage = headerValue
		case headerValue:
			b.pos++
			switch c {
			case '\r':
			case '\n':
				h.realPos = h.lastSignificantChar
				b.headerStage = headerMultiLine
			case ' ', '\t':
				b.buf[h.realPos] = c
				h.realPos++
			default:
				b.buf[h.realPos] = c
				h.realPos++
				h.lastSignificantChar = h.realPos
			}
		case headerMultiLine:
			if c != ' ' && c != '\t' {
				b.req.headers.AddBytes(b.buf[h.start:h.nameEnd], b.buf[h.valueStart:h.realPos])
				*h = headerParseData{}
				b.headerStage = headerStart
				return headerHaveMore, nil
			}
			// Folded continuation: joined with a single space.
			if h.realPos > h.valueStart {
				b.buf[h.realPos] = ' '
				h.realPos++
			}
			b.pos++
			b.headerStage = headerValueStart
		case headerSkipLine:
			b.pos++
			if c == '\n' {
				*h = headerParseData{}
				b.headerStage = headerStart
				return headerHaveMore, nil
			}
		}
	}
}

func (b *InputBuffer) skipInvalidHeader() {
	if b.logger.Enabled(context.Background(), slog.LevelDebug) {
		end := b.pos
		for end < b.lastValid && b.buf[end] != '\n' {
			end++
		}
		b.logger.Debug("ignoring invalid request header",
			slog.String("header", string(b.buf[b.header.start:end])))
	}
	b.headerStage = headerSkipLine
}

// fill reads more bytes. It reports false when a non-blocking read found
// nothing.
func (b *InputBuffer) fill(block bool) (bool, error) {
	if b.parsingHeader {
		if b.lastValid == len(b.buf) {
			if len(b.buf) >= b.maxHeaderSize {
				return false, newStatusError(400, ErrRequestHeaderTooLarge)
			}
			b.buf = b.pool.Grow(b.buf, b.lastValid, min(2*len(b.buf), b.maxHeaderSize))
		}
	} else {
		if len(b.buf)-b.end < minBodyReadSpace {
			// Header views still reference the old buffer.
			b.buf = make([]byte, max(len(b.buf), initialBufferSize))
			b.end = 0
		}
		b.pos = b.end
		b.lastValid = b.pos
	}
	n, err := b.transport.Fill(b.buf[b.lastValid:], block)
	if n > 0 {
		b.lastValid += n
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if block {
		return false, ErrUnexpectedEOF
	}
	return false, nil
}

// EndRequest finishes reading the request body. When input is swallowed the
// rest of the body is drained and any bytes read past it are kept for the
// next request.
func (b *InputBuffer) EndRequest() error {
	if b.ended || !b.swallowInput {
		return nil
	}
	b.ended = true
	top, ok := b.filters.top()
	if !ok {
		return nil
	}
	extra, err := top.End()
	if err != nil {
		return err
	}
	b.pos -= extra
	return nil
}

// NextRequest resets per-request state and moves pipelined bytes to the
// start of the buffer.
func (b *InputBuffer) NextRequest() {
	b.req.Recycle()
	if b.lastValid > b.pos {
		b.lastValid = copy(b.buf, b.buf[b.pos:b.lastValid])
	} else {
		b.lastValid = 0
	}
	b.pos = 0
	b.resetState()
}

// Recycle releases the buffer and unbinds the connection.
func (b *InputBuffer) Recycle() {
	b.req.Recycle()
	if b.buf != nil {
		b.pool.Put(b.buf)
		b.buf = nil
	}
	b.transport = nil
	b.pos, b.lastValid = 0, 0
	b.resetState()
}

func (b *InputBuffer) resetState() {
	for _, f := range b.filters.active {
		f.Recycle()
	}
	b.filters.reset()
	b.end = 0
	b.parsingHeader = true
	b.swallowInput = true
	b.ended = false
	b.stage = lineSkipBlank
	b.lineStart, b.methodEnd, b.uriStart, b.protoStart, b.lastNonCR = 0, 0, 0, 0, 0
	b.queryPos = -1
	b.headerStage = headerStart
	b.header = headerParseData{}
}

// socketInput hands out the buffered bytes directly.
type socketInput struct {
	b *InputBuffer
}

func (s *socketInput) DoRead(chunk *ByteChunk) (int, error) {
	b := s.b
	if b.pos >= b.lastValid {
		ok, err := b.fill(true)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEOF) {
				return 0, io.EOF
			}
			return 0, err
		}
		if !ok {
			return 0, io.EOF
		}
	}
	n := b.lastValid - b.pos
	chunk.SetBytes(b.buf, b.pos, n)
	b.pos = b.lastValid
	return n, nil
}

func (s *socketInput) Available() int { return s.b.lastValid - s.b.pos }
