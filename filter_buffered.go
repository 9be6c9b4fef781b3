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
	"errors"
	"io"
)

type inputEnder interface {
	End() (int, error)
}

// BufferedInputFilter reads the whole request body into memory so that the
// connection can be used for something else (a TLS handshake asking for the
// client certificate) before the application reads the body.
type BufferedInputFilter struct {
	src      InputSource
	limit    int
	buffered []byte
	off      int
	captured bool
	extra    int
}

func NewBufferedInputFilter(limit int) *BufferedInputFilter {
	return &BufferedInputFilter{limit: limit}
}

// SetLimit changes the capture limit.
func (f *BufferedInputFilter) SetLimit(limit int) { f.limit = limit }

func (f *BufferedInputFilter) SetRequest(*Request) {}

func (f *BufferedInputFilter) SetSource(src InputSource) { f.src = src }

// Capture reads the remaining body from the filter below. It fails with
// ErrBodyTooLarge when the body exceeds the limit.
func (f *BufferedInputFilter) Capture() error {
	if f.captured {
		return nil
	}
	var chunk ByteChunk
	for {
		n, err := f.src.DoRead(&chunk)
		if n > 0 {
			if len(f.buffered)+n > f.limit {
				return ErrBodyTooLarge
			}
			f.buffered = append(f.buffered, chunk.Bytes()...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	f.captured = true
	if ender, ok := f.src.(inputEnder); ok {
		extra, err := ender.End()
		if err != nil {
			return err
		}
		f.extra = extra
	}
	return nil
}

func (f *BufferedInputFilter) DoRead(chunk *ByteChunk) (int, error) {
	if !f.captured {
		if err := f.Capture(); err != nil {
			return 0, err
		}
	}
	if f.off >= len(f.buffered) {
		chunk.Reset()
		return 0, io.EOF
	}
	n := len(f.buffered) - f.off
	chunk.SetBytes(f.buffered, f.off, n)
	f.off += n
	return n, nil
}

func (f *BufferedInputFilter) End() (int, error) {
	if !f.captured {
		if ender, ok := f.src.(inputEnder); ok {
			return ender.End()
		}
		return 0, nil
	}
	return f.extra, nil
}

func (f *BufferedInputFilter) Available() int { return len(f.buffered) - f.off }

func (f *BufferedInputFilter) Recycle() {
	f.buffered = f.buffered[:0]
	f.off = 0
	f.captured = false
	f.extra = 0
}

func (f *BufferedInputFilter) EncodingName() string { return EncodingBuffered }

// SavedRequestInputFilter replays a body supplied by the application, for
// example one saved across an authentication redirect.
type SavedRequestInputFilter struct {
	src  InputSource
	body []byte
	done bool
}

func NewSavedRequestInputFilter(body []byte) *SavedRequestInputFilter {
	return &SavedRequestInputFilter{body: body}
}

func (f *SavedRequestInputFilter) SetRequest(*Request) {}

func (f *SavedRequestInputFilter) SetSource(src InputSource) { f.src = src }

func (f *SavedRequestInputFilter) DoRead(chunk *ByteChunk) (int, error) {
	if f.done || len(f.body) == 0 {
		chunk.Reset()
		return 0, io.EOF
	}
	f.done = true
	chunk.SetBytes(f.body, 0, len(f.body))
	return len(f.body), nil
}

// End finishes the connection's own body below the replayed one.
func (f *SavedRequestInputFilter) End() (int, error) {
	if ender, ok := f.src.(inputEnder); ok {
		return ender.End()
	}
	return 0, nil
}

func (f *SavedRequestInputFilter) Available() int {
	if f.done {
		return 0
	}
	return len(f.body)
}

func (f *SavedRequestInputFilter) Recycle() {
	f.body = nil
	f.done = false
}

func (f *SavedRequestInputFilter) EncodingName() string { return EncodingReplay }
