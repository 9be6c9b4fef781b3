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
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

type compressionPool struct {
	name        string
	compressors sync.Pool
}

func newCompressionPool(name string, newCompressor func() *gzip.Writer) *compressionPool {
	return &compressionPool{
		name: name,
		compressors: sync.Pool{
			New: func() any { return newCompressor() },
		},
	}
}

func (p *compressionPool) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// getCompressor returns a writer reset onto dst and the function that
// returns it to the pool.
func (p *compressionPool) getCompressor(dst io.Writer) (*gzip.Writer, func()) {
	result := p.compressors.Get().(*gzip.Writer) //nolint:forcetypeassert,errcheck
	result.Reset(dst)
	return result, func() {
		result.Reset(io.Discard)
		p.compressors.Put(result)
	}
}

var gzipPool = newCompressionPool(EncodingGzip, func() *gzip.Writer { //nolint:gochecknoglobals
	return gzip.NewWriter(io.Discard)
})

// GzipOutputFilter compresses the body with gzip. It sits above the framing
// filter, so the compressed stream is what gets chunked or delimited by
// connection close.
type GzipOutputFilter struct {
	dst     OutputSink
	sink    sinkWriter
	gz      *gzip.Writer
	release func()
}

func NewGzipOutputFilter() *GzipOutputFilter {
	return &GzipOutputFilter{}
}

func (f *GzipOutputFilter) SetResponse(*Response) {}

func (f *GzipOutputFilter) SetSink(dst OutputSink) {
	f.dst = dst
	f.sink.dst = dst
}

func (f *GzipOutputFilter) DoWrite(chunk *ByteChunk) (int, error) {
	if f.gz == nil {
		f.gz, f.release = gzipPool.getCompressor(&f.sink)
	}
	return f.gz.Write(chunk.Bytes())
}

// Flush emits a sync block so the client can decode everything written so far.
func (f *GzipOutputFilter) Flush() error {
	if f.gz != nil {
		if err := f.gz.Flush(); err != nil {
			return err
		}
	}
	return f.dst.Flush()
}

func (f *GzipOutputFilter) End() error {
	if f.gz == nil {
		f.gz, f.release = gzipPool.getCompressor(&f.sink)
	}
	err := f.gz.Close()
	f.release()
	f.gz, f.release = nil, nil
	if err != nil {
		return err
	}
	return f.dst.End()
}

func (f *GzipOutputFilter) Recycle() {
	if f.release != nil {
		f.release()
	}
	f.gz, f.release = nil, nil
}

func (f *GzipOutputFilter) EncodingName() string { return EncodingGzip }

// sinkWriter adapts an OutputSink to io.Writer.
type sinkWriter struct {
	dst   OutputSink
	chunk ByteChunk
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.chunk.SetBytes(p, 0, len(p))
	n, err := w.dst.DoWrite(&w.chunk)
	w.chunk.Reset()
	if err != nil {
		return n, err
	}
	return len(p), nil
}
