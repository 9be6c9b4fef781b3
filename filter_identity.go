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

// IdentityInputFilter delivers exactly Content-Length body bytes.
type IdentityInputFilter struct {
	src            InputSource
	contentLength  int64
	remaining      int64
	maxSwallowSize int64
	// extra counts bytes handed to us past the end of the body; they
	// belong to the next pipelined request.
	extra int
}

// NewIdentityInputFilter returns a filter that refuses to drain more than
// maxSwallowSize unread bytes. A negative limit drains everything.
func NewIdentityInputFilter(maxSwallowSize int64) *IdentityInputFilter {
	return &IdentityInputFilter{contentLength: -1, remaining: -1, maxSwallowSize: maxSwallowSize}
}

func (f *IdentityInputFilter) SetRequest(req *Request) {
	f.contentLength = req.ContentLength()
	f.remaining = f.contentLength
}

func (f *IdentityInputFilter) SetSource(src InputSource) { f.src = src }

func (f *IdentityInputFilter) DoRead(chunk *ByteChunk) (int, error) {
	if f.remaining <= 0 {
		chunk.Reset()
		return 0, io.EOF
	}
	n, err := f.src.DoRead(chunk)
	if n <= 0 {
		if errors.Is(err, io.EOF) {
			// The client closed before sending the declared length.
			return 0, ErrUnexpectedEOF
		}
		return n, err
	}
	if int64(n) > f.remaining {
		f.extra = n - int(f.remaining)
		n = int(f.remaining)
		chunk.SetBytes(chunk.buf, chunk.start, n)
	}
	f.remaining -= int64(n)
	return n, nil
}

func (f *IdentityInputFilter) End() (int, error) {
	if f.maxSwallowSize >= 0 && f.remaining > f.maxSwallowSize {
		return 0, ErrSwallowTooLarge
	}
	var chunk ByteChunk
	for f.remaining > 0 {
		if _, err := f.DoRead(&chunk); err != nil {
			return 0, err
		}
	}
	return f.extra, nil
}

func (f *IdentityInputFilter) Available() int {
	if avail, ok := f.src.(interface{ Available() int }); ok && f.remaining > 0 {
		return int(min(int64(avail.Available()), f.remaining))
	}
	return 0
}

func (f *IdentityInputFilter) Recycle() {
	f.contentLength = -1
	f.remaining = -1
	f.extra = 0
}

func (f *IdentityInputFilter) EncodingName() string { return EncodingIdentity }

// IdentityOutputFilter writes the body as is, cut off at ContentLength when
// one was declared.
type IdentityOutputFilter struct {
	dst           OutputSink
	contentLength int64
	remaining     int64
}

func NewIdentityOutputFilter() *IdentityOutputFilter {
	return &IdentityOutputFilter{contentLength: -1, remaining: -1}
}

func (f *IdentityOutputFilter) SetResponse(resp *Response) {
	f.contentLength = resp.ContentLength()
	f.remaining = f.contentLength
}

func (f *IdentityOutputFilter) SetSink(dst OutputSink) { f.dst = dst }

func (f *IdentityOutputFilter) DoWrite(chunk *ByteChunk) (int, error) {
	if f.contentLength < 0 {
		return f.dst.DoWrite(chunk)
	}
	if f.remaining <= 0 {
		// Everything declared was written; further bytes are dropped.
		return chunk.Len(), nil
	}
	n := chunk.Len()
	if int64(n) > f.remaining {
		chunk.SetBytes(chunk.buf, chunk.start, int(f.remaining))
	}
	written, err := f.dst.DoWrite(chunk)
	f.remaining -= int64(written)
	if err != nil {
		return written, err
	}
	return n, nil
}

func (f *IdentityOutputFilter) Flush() error { return f.dst.Flush() }

func (f *IdentityOutputFilter) End() error { return f.dst.End() }

func (f *IdentityOutputFilter) Recycle() {
	f.contentLength = -1
	f.remaining = -1
}

func (f *IdentityOutputFilter) EncodingName() string { return EncodingIdentity }
