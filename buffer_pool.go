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
	"sync"
)

const (
	initialBufferSize    = 8 * 1024
	maxRecycleBufferSize = 1024 * 1024 // if >1MiB, don't hold onto a buffer
)

// bufferPool recycles connection byte buffers. Buffers are handed out at
// full length; callers track their own read and write offsets.
type bufferPool struct {
	sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{}
}

func (b *bufferPool) Get(size int) []byte {
	if size <= 0 {
		size = initialBufferSize
	}
	if buf, ok := b.Pool.Get().(*[]byte); ok {
		if cap(*buf) >= size {
			return (*buf)[:size]
		}
		// Too small for this caller; let it go and allocate.
	}
	return make([]byte, size)
}

func (b *bufferPool) Put(buf []byte) {
	if cap(buf) > maxRecycleBufferSize || cap(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	b.Pool.Put(&buf)
}

// Grow returns a buffer with at least size bytes whose prefix holds the first
// used bytes of orig. The original buffer is not returned to the pool because
// header views may still reference it.
func (b *bufferPool) Grow(orig []byte, used, size int) []byte {
	if size <= len(orig) {
		return orig
	}
	grown := make([]byte, size)
	copy(grown, orig[:used])
	return grown
}

var defaultBufferPool = newBufferPool() //nolint:gochecknoglobals
