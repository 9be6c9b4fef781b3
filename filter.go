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

// Positions of the built-in filters in a buffer's filter library. The
// library order never changes for the life of a connection.
const (
	FilterIdentity = iota
	FilterChunked
	FilterVoid
	// FilterBuffered is the last input filter; FilterGzip shares its
	// position in the output library.
	FilterBuffered
	FilterGzip = FilterBuffered
)

// Encoding names of the built-in filters.
const (
	EncodingIdentity = "identity"
	EncodingChunked  = "chunked"
	EncodingVoid     = "void"
	EncodingBuffered = "buffered"
	EncodingGzip     = "gzip"
	EncodingReplay   = "replay"
)

// InputSource produces body bytes by pointing chunk at them.
type InputSource interface {
	// DoRead returns the number of bytes in chunk, or io.EOF at the end
	// of the body.
	DoRead(chunk *ByteChunk) (int, error)
}

// InputFilter is one stage of the request body pipeline.
type InputFilter interface {
	InputSource
	// SetRequest gives the filter its request, for limits and trailers.
	SetRequest(req *Request)
	// SetSource links the filter to the stage below it.
	SetSource(src InputSource)
	// End consumes the rest of the body and returns how many bytes were
	// read past its end.
	End() (int, error)
	// Available is the number of bytes readable without I/O.
	Available() int
	Recycle()
	EncodingName() string
}

// OutputSink consumes body bytes.
type OutputSink interface {
	DoWrite(chunk *ByteChunk) (int, error)
	// Flush pushes any bytes held by the stage.
	Flush() error
	// End finishes the body, writing any framing trailer.
	End() error
}

// OutputFilter is one stage of the response body pipeline.
type OutputFilter interface {
	OutputSink
	SetResponse(resp *Response)
	// SetSink links the filter to the stage below it.
	SetSink(dst OutputSink)
	Recycle()
	EncodingName() string
}

// filterStack is the per-message active stack over a fixed library. The
// bottom entry talks to the raw buffer.
type filterStack[F comparable] struct {
	library []F
	active  []F
}

func (s *filterStack[F]) add(f F) int {
	s.library = append(s.library, f)
	return len(s.library) - 1
}

// push activates f and reports whether it was newly added. Pushing a filter
// that is already active does nothing.
func (s *filterStack[F]) push(f F) bool {
	for _, a := range s.active {
		if a == f {
			return false
		}
	}
	s.active = append(s.active, f)
	return true
}

func (s *filterStack[F]) top() (F, bool) {
	var zero F
	if len(s.active) == 0 {
		return zero, false
	}
	return s.active[len(s.active)-1], true
}

func (s *filterStack[F]) reset() {
	clear(s.active)
	s.active = s.active[:0]
}
