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

// ByteOutputChannel receives the bytes of a ByteChunk that can no longer
// grow.
type ByteOutputChannel interface {
	RealWriteBytes(p []byte) error
}

// ByteChunk is a view over a byte slice. Input filters hand out views into
// the connection buffer without copying; the response body uses a ByteChunk
// with a limit and an output channel so that it flushes instead of growing
// past the limit.
type ByteChunk struct {
	buf   []byte
	start int
	end   int
	// limit is the maximum capacity, or -1 for unbounded.
	limit int
	out   ByteOutputChannel
}

// NewByteChunk allocates a chunk with the given initial capacity.
func NewByteChunk(initial int) *ByteChunk {
	return &ByteChunk{buf: make([]byte, initial), limit: -1}
}

// SetBytes points the chunk at b[off:off+n].
func (c *ByteChunk) SetBytes(b []byte, off, n int) {
	c.buf = b
	c.start = off
	c.end = off + n
}

// SetLimit bounds the capacity of the chunk. A negative limit removes the bound.
func (c *ByteChunk) SetLimit(limit int) { c.limit = limit }

// Limit reports the configured limit.
func (c *ByteChunk) Limit() int { return c.limit }

// SetOutputChannel attaches the channel used when the chunk is full.
func (c *ByteChunk) SetOutputChannel(out ByteOutputChannel) { c.out = out }

// Bytes returns the viewed bytes. The slice aliases the backing array.
func (c *ByteChunk) Bytes() []byte {
	if c.buf == nil {
		return nil
	}
	return c.buf[c.start:c.end]
}

// Len is the number of viewed bytes.
func (c *ByteChunk) Len() int { return c.end - c.start }

// Start is the offset of the view in the backing array.
func (c *ByteChunk) Start() int { return c.start }

// Recycle empties the view. The backing array is kept for appends.
func (c *ByteChunk) Recycle() {
	c.start, c.end = 0, 0
}

// Reset drops the backing array as well, used for views into buffers the
// chunk does not own.
func (c *ByteChunk) Reset() {
	c.buf = nil
	c.start, c.end = 0, 0
}

// Append copies p into the chunk. When the limit would be exceeded the
// pending bytes are flushed through the output channel; writes larger than
// the limit go straight to the channel. Without a channel the append fails
// with ErrChunkOverflow.
func (c *ByteChunk) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if c.limit < 0 || c.Len()+len(p) <= c.limit {
		c.grow(len(p))
		c.end += copy(c.buf[c.end:], p)
		return nil
	}
	if c.out == nil {
		return ErrChunkOverflow
	}
	// Empty buffer and a write at least as large as the limit: bypass.
	if c.Len() == 0 && len(p) >= c.limit {
		return c.out.RealWriteBytes(p)
	}
	for len(p) > 0 {
		room := c.limit - c.Len()
		if room <= 0 {
			if err := c.FlushBuffer(); err != nil {
				return err
			}
			continue
		}
		n := min(room, len(p))
		c.grow(n)
		c.end += copy(c.buf[c.end:], p[:n])
		p = p[n:]
		if c.Len() == c.limit {
			if err := c.FlushBuffer(); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushBuffer hands the pending bytes to the output channel and empties the view.
func (c *ByteChunk) FlushBuffer() error {
	if c.out == nil {
		return ErrChunkOverflow
	}
	if c.Len() == 0 {
		return nil
	}
	pending := c.Bytes()
	c.Recycle()
	return c.out.RealWriteBytes(pending)
}

func (c *ByteChunk) grow(n int) {
	if c.start > 0 && c.start == c.end {
		c.start, c.end = 0, 0
	}
	if c.end+n <= len(c.buf) {
		return
	}
	need := c.Len() + n
	size := max(2*len(c.buf), need, 256)
	if c.limit >= 0 && size > c.limit {
		size = max(c.limit, need)
	}
	grown := make([]byte, size)
	copy(grown, c.buf[c.start:c.end])
	c.end -= c.start
	c.start = 0
	c.buf = grown
}
