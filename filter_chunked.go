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
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	crlf     = []byte("\r\n")
	endChunk = []byte("0\r\n")
)

// ChunkedInputFilter decodes the chunked transfer coding. Chunk extensions
// are discarded; trailer fields are merged into the request headers.
//
//	chunk-size [ ";" ext ] CRLF data CRLF ... "0" CRLF *(trailer CRLF) CRLF
type ChunkedInputFilter struct {
	src InputSource
	req *Request

	readChunk ByteChunk
	buf       []byte
	pos       int
	lastValid int

	remaining     int64
	needCRLFParse bool
	endChunk      bool
	err           error

	maxTrailerSize   int
	maxExtensionSize int
	maxSwallowSize   int64
	extensionSize    int
	trailerSize      int
	line             []byte
}

func NewChunkedInputFilter(maxTrailerSize, maxExtensionSize int, maxSwallowSize int64) *ChunkedInputFilter {
	return &ChunkedInputFilter{
		maxTrailerSize:   maxTrailerSize,
		maxExtensionSize: maxExtensionSize,
		maxSwallowSize:   maxSwallowSize,
	}
}

func (f *ChunkedInputFilter) SetRequest(req *Request) { f.req = req }

func (f *ChunkedInputFilter) SetSource(src InputSource) { f.src = src }

func (f *ChunkedInputFilter) DoRead(chunk *ByteChunk) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.endChunk {
		chunk.Reset()
		return 0, io.EOF
	}
	if f.needCRLFParse {
		f.needCRLFParse = false
		if err := f.parseCRLF(); err != nil {
			return f.fail(err)
		}
	}
	if f.remaining <= 0 {
		if err := f.parseChunkHeader(); err != nil {
			return f.fail(err)
		}
		if f.endChunk {
			if err := f.parseEndChunk(); err != nil {
				return f.fail(err)
			}
			chunk.Reset()
			return 0, io.EOF
		}
	}
	if f.pos >= f.lastValid {
		if err := f.readBytes(); err != nil {
			return f.fail(err)
		}
	}
	avail := f.lastValid - f.pos
	if f.remaining > int64(avail) {
		chunk.SetBytes(f.buf, f.pos, avail)
		f.pos = f.lastValid
		f.remaining -= int64(avail)
		return avail, nil
	}
	n := int(f.remaining)
	chunk.SetBytes(f.buf, f.pos, n)
	f.pos += n
	f.remaining = 0
	// Only parse the CRLF now if both bytes are already buffered; reading
	// more would invalidate the view just handed out.
	if f.pos+1 >= f.lastValid {
		f.needCRLFParse = true
	} else if err := f.parseCRLF(); err != nil {
		return f.fail(err)
	}
	return n, nil
}

func (f *ChunkedInputFilter) End() (int, error) {
	var (
		chunk     ByteChunk
		swallowed int64
	)
	for {
		n, err := f.DoRead(&chunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		swallowed += int64(n)
		if f.maxSwallowSize >= 0 && swallowed > f.maxSwallowSize {
			return 0, ErrSwallowTooLarge
		}
	}
	return f.lastValid - f.pos, nil
}

func (f *ChunkedInputFilter) Available() int {
	if f.remaining <= 0 {
		return 0
	}
	return int(min(int64(f.lastValid-f.pos), f.remaining))
}

func (f *ChunkedInputFilter) Recycle() {
	f.readChunk.Reset()
	f.buf = nil
	f.pos, f.lastValid = 0, 0
	f.remaining = 0
	f.needCRLFParse = false
	f.endChunk = false
	f.err = nil
	f.extensionSize = 0
	f.trailerSize = 0
	f.line = f.line[:0]
}

func (f *ChunkedInputFilter) EncodingName() string { return EncodingChunked }

func (f *ChunkedInputFilter) fail(err error) (int, error) {
	f.err = err
	return 0, err
}

func (f *ChunkedInputFilter) readBytes() error {
	n, err := f.src.DoRead(&f.readChunk)
	if n <= 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return ErrUnexpectedEOF
		}
		return err
	}
	f.buf = f.readChunk.buf
	f.pos = f.readChunk.start
	f.lastValid = f.readChunk.end
	return nil
}

func (f *ChunkedInputFilter) parseChunkHeader() error {
	var (
		size       int64
		digits     int
		extension  bool
		trailingWS bool
	)
	for {
		if f.pos >= f.lastValid {
			if err := f.readBytes(); err != nil {
				return err
			}
		}
		b := f.buf[f.pos]
		switch {
		case b == '\r' || b == '\n':
			if err := f.parseCRLF(); err != nil {
				return err
			}
			if digits == 0 {
				return ErrInvalidChunk
			}
			f.remaining = size
			if size == 0 {
				f.endChunk = true
			}
			return nil
		case extension:
			f.extensionSize++
			if f.extensionSize > f.maxExtensionSize {
				return ErrTrailerTooLarge
			}
		case b == ';':
			extension = true
			f.extensionSize++
		case b == ' ' || b == '\t':
			trailingWS = true
		default:
			v, ok := hexValue(b)
			if !ok || trailingWS {
				return ErrInvalidChunk
			}
			if size > (1<<63-1)>>4 {
				return ErrInvalidChunk
			}
			size = size<<4 | int64(v)
			digits++
		}
		f.pos++
	}
}

func (f *ChunkedInputFilter) parseCRLF() error {
	var sawCR bool
	for {
		if f.pos >= f.lastValid {
			if err := f.readBytes(); err != nil {
				return err
			}
		}
		b := f.buf[f.pos]
		f.pos++
		switch {
		case b == '\r' && !sawCR:
			sawCR = true
		case b == '\n':
			return nil
		default:
			return ErrInvalidChunk
		}
	}
}

// parseEndChunk reads the trailer section. Continuation lines are folded
// into the preceding field.
func (f *ChunkedInputFilter) parseEndChunk() error {
	var name, value string
	flush := func() {
		if name != "" && f.req != nil {
			f.req.headers.Add(name, value)
		}
		name, value = "", ""
	}
	for {
		line, err := f.readTrailerLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			flush()
			return nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if name == "" {
				return ErrInvalidChunk
			}
			value += " " + string(bytes.TrimSpace(line))
			continue
		}
		flush()
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 || !httpguts.ValidHeaderFieldName(string(line[:colon])) {
			return ErrInvalidChunk
		}
		name = strings.ToLower(string(line[:colon]))
		value = string(bytes.TrimSpace(line[colon+1:]))
	}
}

func (f *ChunkedInputFilter) readTrailerLine() ([]byte, error) {
	f.line = f.line[:0]
	for {
		if f.pos >= f.lastValid {
			if err := f.readBytes(); err != nil {
				return nil, err
			}
		}
		b := f.buf[f.pos]
		f.pos++
		f.trailerSize++
		if f.trailerSize > f.maxTrailerSize {
			return nil, ErrTrailerTooLarge
		}
		if b == '\n' {
			return bytes.TrimSuffix(f.line, []byte{'\r'}), nil
		}
		f.line = append(f.line, b)
	}
}

func hexValue(b byte) (byte, bool) {
	switch {
	case '0' <= b && b <= '9':
		return b - '0', true
	case 'a' <= b && b <= 'f':
		return b - 'a' + 10, true
	case 'A' <= b && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}

// ChunkedOutputFilter frames every write as one chunk and ends the body
// with the last chunk and the response trailers.
type ChunkedOutputFilter struct {
	dst    OutputSink
	resp   *Response
	header []byte
	frame  ByteChunk
}

func NewChunkedOutputFilter() *ChunkedOutputFilter {
	return &ChunkedOutputFilter{header: make([]byte, 0, 18)}
}

func (f *ChunkedOutputFilter) SetResponse(resp *Response) { f.resp = resp }

func (f *ChunkedOutputFilter) SetSink(dst OutputSink) { f.dst = dst }

func (f *ChunkedOutputFilter) DoWrite(chunk *ByteChunk) (int, error) {
	n := chunk.Len()
	if n <= 0 {
		return 0, nil
	}
	f.header = strconv.AppendInt(f.header[:0], int64(n), 16)
	f.header = append(f.header, crlf...)
	if err := f.write(f.header); err != nil {
		return 0, err
	}
	if _, err := f.dst.DoWrite(chunk); err != nil {
		return 0, err
	}
	if err := f.write(crlf); err != nil {
		return 0, err
	}
	return n, nil
}

func (f *ChunkedOutputFilter) Flush() error { return f.dst.Flush() }

func (f *ChunkedOutputFilter) End() error {
	if err := f.write(endChunk); err != nil {
		return err
	}
	if f.resp != nil {
		var err error
		f.resp.trailers.rangeBytes(func(name, value []byte) bool {
			if !httpguts.ValidHeaderFieldName(string(name)) || !httpguts.ValidHeaderFieldValue(string(value)) {
				return true
			}
			line := make([]byte, 0, len(name)+len(value)+4)
			line = append(line, name...)
			line = append(line, ':', ' ')
			line = append(line, value...)
			line = append(line, crlf...)
			err = f.write(line)
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	if err := f.write(crlf); err != nil {
		return err
	}
	return f.dst.End()
}

func (f *ChunkedOutputFilter) Recycle() {
	f.header = f.header[:0]
	f.frame.Reset()
}

func (f *ChunkedOutputFilter) EncodingName() string { return EncodingChunked }

func (f *ChunkedOutputFilter) write(p []byte) error {
	f.frame.SetBytes(p, 0, len(p))
	_, err := f.dst.DoWrite(&f.frame)
	return err
}
