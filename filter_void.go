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

import "io"

// VoidInputFilter is the body of a request that has none.
type VoidInputFilter struct{}

func (*VoidInputFilter) SetRequest(*Request)   {}
func (*VoidInputFilter) SetSource(InputSource) {}
func (*VoidInputFilter) End() (int, error)     { return 0, nil }
func (*VoidInputFilter) Available() int        { return 0 }
func (*VoidInputFilter) Recycle()              {}
func (*VoidInputFilter) EncodingName() string  { return EncodingVoid }
func (*VoidInputFilter) DoRead(chunk *ByteChunk) (int, error) {
	chunk.Reset()
	return 0, io.EOF
}

// VoidOutputFilter swallows the body of a response that must not have one.
type VoidOutputFilter struct {
	dst OutputSink
}

func (f *VoidOutputFilter) SetResponse(*Response)  {}
func (f *VoidOutputFilter) SetSink(dst OutputSink) { f.dst = dst }
func (f *VoidOutputFilter) DoWrite(chunk *ByteChunk) (int, error) {
	return chunk.Len(), nil
}
func (f *VoidOutputFilter) Flush() error         { return f.dst.Flush() }
func (f *VoidOutputFilter) End() error           { return f.dst.End() }
func (f *VoidOutputFilter) Recycle()             {}
func (f *VoidOutputFilter) EncodingName() string { return EncodingVoid }
