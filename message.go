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
	"strconv"
	"strings"
	"time"
)

// Request is the parsed request of one exchange. It is owned by a single
// processor and recycled in place between requests on a connection.
type Request struct {
	method   MessageBytes
	uri      MessageBytes
	path     MessageBytes
	query    MessageBytes
	protocol MessageBytes
	headers  HeaderSet

	contentLength int64
	expectation   bool

	ServerName string
	ServerPort int
	Scheme     string
	RemoteAddr string
	RemoteHost string
	RemotePort int
	LocalAddr  string
	LocalName  string
	LocalPort  int

	attributes map[string]any
	startTime  time.Time
	bytesRead  int64

	hook  ActionHook
	input InputSource
	// readChunk and readOff back the io.Reader view of the body.
	readChunk ByteChunk
	readOff   int
}

func newRequest() *Request {
	return &Request{contentLength: -1, Scheme: "http"}
}

// Method returns the request method.
func (r *Request) Method() string { return r.method.String() }

// RequestURI returns the request target as received (after absolute-form
// normalization).
func (r *Request) RequestURI() string { return r.uri.String() }

// SetRequestURI replaces the request target and re-splits path and query.
func (r *Request) SetRequestURI(uri string) {
	r.uri.SetString(uri)
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		r.path.SetString(uri[:i])
		r.query.SetString(uri[i+1:])
	} else {
		r.path.SetString(uri)
		r.query.Recycle()
	}
}

// Path is the request target up to the first '?'.
func (r *Request) Path() string { return r.path.String() }

// Query is the raw query string after the first '?'.
func (r *Request) Query() string { return r.query.String() }

// Protocol is the protocol token of the request line; empty for HTTP/0.9.
func (r *Request) Protocol() string { return r.protocol.String() }

// Headers returns the request header set. Names are lowercase.
func (r *Request) Headers() *HeaderSet { return &r.headers }

// Header returns the first value of the named header.
func (r *Request) Header(name string) string {
	v, _ := r.headers.Get(name)
	return v
}

// ContentLength is the declared body length, or -1 when unknown.
func (r *Request) ContentLength() int64 { return r.contentLength }

// SetContentLength overrides the declared length.
func (r *Request) SetContentLength(n int64) { r.contentLength = n }

// Expectation reports whether the client sent Expect: 100-continue.
func (r *Request) Expectation() bool { return r.expectation }

// StartTime is when the request line was parsed.
func (r *Request) StartTime() time.Time { return r.startTime }

// BytesRead counts body bytes delivered to the application.
func (r *Request) BytesRead() int64 { return r.bytesRead }

// Attribute returns a request attribute.
func (r *Request) Attribute(name string) (any, bool) {
	v, ok := r.attributes[name]
	return v, ok
}

// SetAttribute stores a request attribute.
func (r *Request) SetAttribute(name string, value any) {
	if r.attributes == nil {
		r.attributes = make(map[string]any)
	}
	r.attributes[name] = value
}

// RemoveAttribute deletes a request attribute.
func (r *Request) RemoveAttribute(name string) {
	delete(r.attributes, name)
}

// Action forwards a to the processor.
func (r *Request) Action(a Action) error {
	if r.hook == nil {
		return ErrUnsupported
	}
	return r.hook.Action(a)
}

// DoRead points chunk at the next body bytes. The view is valid until the
// next call. The end of the body is reported as io.EOF.
func (r *Request) DoRead(chunk *ByteChunk) (int, error) {
	if r.expectation {
		if err := r.Action(ActionAck{}); err != nil {
			return 0, err
		}
	}
	if r.input == nil {
		return 0, io.EOF
	}
	n, err := r.input.DoRead(chunk)
	if n > 0 {
		r.bytesRead += int64(n)
	}
	return n, err
}

// Read implements io.Reader over DoRead.
func (r *Request) Read(p []byte) (int, error) {
	if r.readOff >= r.readChunk.Len() {
		r.readChunk.Reset()
		r.readOff = 0
		n, err := r.DoRead(&r.readChunk)
		if n <= 0 {
			if err == nil {
				err = io.ErrNoProgress
			}
			return 0, err
		}
	}
	n := copy(p, r.readChunk.Bytes()[r.readOff:])
	r.readOff += n
	return n, nil
}

// Recycle resets the request for the next exchange.
func (r *Request) Recycle() {
	r.method.Recycle()
	r.uri.Recycle()
	r.path.Recycle()
	r.query.Recycle()
	r.protocol.Recycle()
	r.headers.Reset()
	r.contentLength = -1
	r.expectation = false
	r.ServerName = ""
	r.ServerPort = 0
	r.Scheme = "http"
	r.RemoteAddr, r.RemoteHost, r.RemotePort = "", "", 0
	r.LocalAddr, r.LocalName, r.LocalPort = "", "", 0
	clear(r.attributes)
	r.startTime = time.Time{}
	r.bytesRead = 0
	r.readChunk.Reset()
	r.readOff = 0
}

// Response is the response of one exchange. Body writes are buffered up to
// the configured size; the response commits when the buffer overflows, on
// Flush, or when the exchange ends.
type Response struct {
	status        int
	message       string
	headers       HeaderSet
	trailers      HeaderSet
	contentLength int64
	contentType   string
	committed     bool

	body         ByteChunk
	bytesWritten int64

	hook ActionHook
	out  bodyWriter
}

// bodyWriter is where a Response's buffered body goes once it overflows or
// is flushed.
type bodyWriter interface {
	DoWrite(chunk *ByteChunk) (int, error)
}

func newResponse(bufferSize int) *Response {
	resp := &Response{status: 200, contentLength: -1}
	resp.body.SetLimit(bufferSize)
	resp.body.SetOutputChannel(responseChannel{resp})
	return resp
}

type responseChannel struct{ resp *Response }

func (c responseChannel) RealWriteBytes(p []byte) error {
	return c.resp.writeThrough(p)
}

// Status returns the status code.
func (r *Response) Status() int { return r.status }

// SetStatus sets the status code. It has no effect after commit.
func (r *Response) SetStatus(code int) {
	if r.committed {
		return
	}
	r.status = code
}

// Message is the reason phrase override.
func (r *Response) Message() string { return r.message }

// SetMessage overrides the reason phrase.
func (r *Response) SetMessage(msg string) {
	if r.committed {
		return
	}
	r.message = msg
}

// Headers returns the response header set.
func (r *Response) Headers() *HeaderSet { return &r.headers }

// Trailers returns the trailer set, sent only with chunked framing.
func (r *Response) Trailers() *HeaderSet { return &r.trailers }

// SetHeader sets a header. Content-Length and Content-Type are kept as
// fields and serialized when the response commits.
func (r *Response) SetHeader(name, value string) {
	if r.committed {
		return
	}
	if r.specialHeader(name, value) {
		return
	}
	r.headers.Set(name, value)
}

// AddHeader appends a header value.
func (r *Response) AddHeader(name, value string) {
	if r.committed {
		return
	}
	if r.specialHeader(name, value) {
		return
	}
	r.headers.Add(name, value)
}

func (r *Response) specialHeader(name, value string) bool {
	switch {
	case strings.EqualFold(name, "Content-Length"):
		if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && n >= 0 {
			r.contentLength = n
		}
		return true
	case strings.EqualFold(name, "Content-Type"):
		r.contentType = value
		return true
	default:
		return false
	}
}

// ContentLength is the declared body length, or -1.
func (r *Response) ContentLength() int64 { return r.contentLength }

// SetContentLength declares the body length.
func (r *Response) SetContentLength(n int64) {
	if r.committed {
		return
	}
	r.contentLength = n
}

// ContentType returns the Content-Type value.
func (r *Response) ContentType() string { return r.contentType }

// SetContentType sets the Content-Type value.
func (r *Response) SetContentType(ct string) {
	if r.committed {
		return
	}
	r.contentType = ct
}

// Committed reports whether the status line and headers were written.
func (r *Response) Committed() bool { return r.committed }

// BytesWritten counts body bytes accepted from the application.
func (r *Response) BytesWritten() int64 { return r.bytesWritten }

// Write buffers p as response body.
func (r *Response) Write(p []byte) (int, error) {
	if err := r.body.Append(p); err != nil {
		return 0, err
	}
	r.bytesWritten += int64(len(p))
	return len(p), nil
}

// WriteString buffers s as response body.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// Flush commits the response and pushes buffered body bytes to the client.
func (r *Response) Flush() error {
	if err := r.body.FlushBuffer(); err != nil {
		return err
	}
	return r.Action(ActionClientFlush{})
}

// Reset discards the status, headers and buffered body. It fails once the
// response is committed.
func (r *Response) Reset() error {
	if r.committed {
		return ErrCommitted
	}
	r.body.Recycle()
	r.bytesWritten = 0
	return r.Action(ActionReset{})
}

// Action forwards a to the processor.
func (r *Response) Action(a Action) error {
	if r.hook == nil {
		return ErrUnsupported
	}
	return r.hook.Action(a)
}

// finishBody pushes the buffered body. A response that was never committed
// gets its length from the buffer.
func (r *Response) finishBody() error {
	if !r.committed && r.contentLength == -1 && !r.headers.Has("Transfer-Encoding") {
		r.contentLength = int64(r.body.Len())
	}
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.FlushBuffer()
}

func (r *Response) writeThrough(p []byte) error {
	if r.out == nil {
		return ErrUnsupported
	}
	var chunk ByteChunk
	chunk.SetBytes(p, 0, len(p))
	_, err := r.out.DoWrite(&chunk)
	return err
}

// resetState clears status, headers and body without touching the wiring.
func (r *Response) resetState() {
	r.status = 200
	r.message = ""
	r.headers.Reset()
	r.trailers.Reset()
	r.contentLength = -1
	r.contentType = ""
	r.body.Recycle()
	r.bytesWritten = 0
}

// Recycle resets the response for the next exchange.
func (r *Response) Recycle() {
	r.resetState()
	r.committed = false
}
