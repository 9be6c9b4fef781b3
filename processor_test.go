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
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestProcessor(t *testing.T, cfg *Config, adapter Adapter) *Processor {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = sdkmetric.NewMeterProvider()
	}
	return NewProcessor(cfg, adapter)
}

func TestProcessor_Pipelining(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport(
		"GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b?c=d HTTP/1.1\r\nHost: x\r\n\r\n",
	)
	state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
	assert.Equal(t, StateClosed, state)

	responses := readResponses(t, transport.output(), http.MethodGet, http.MethodGet)
	assert.Equal(t, "ok /a", bodyString(t, responses[0]))
	assert.Equal(t, "ok /b?c=d", bodyString(t, responses[1]))
	for _, resp := range responses {
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, resp.Close)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, resp.Header.Get("Date"))
	}
	want := []servedRequest{
		{Method: "GET", URI: "/a", Protocol: "HTTP/1.1", Host: "x", ServerName: "x", ServerPort: 80},
		{Method: "GET", URI: "/b?c=d", Protocol: "HTTP/1.1", Host: "x", ServerName: "x", ServerPort: 80},
	}
	assert.Empty(t, cmp.Diff(want, adapter.requests()))
	assert.Equal(t, StageEnded, proc.Stage())
}

func TestProcessor_KeepAliveLimit(t *testing.T) {
	t.Parallel()
	request := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	tests := []struct {
		name        string
		maxRequests int
		sent        int
		wantServed  int
		wantClose   bool
	}{
		{name: "disabled", maxRequests: 1, sent: 3, wantServed: 1, wantClose: true},
		{name: "limited", maxRequests: 3, sent: 4, wantServed: 3, wantClose: true},
		{name: "unlimited", maxRequests: -1, sent: 4, wantServed: 4, wantClose: false},
		{name: "zero is unlimited", maxRequests: 0, sent: DefaultMaxKeepAliveRequests + 5, wantServed: DefaultMaxKeepAliveRequests + 5, wantClose: false},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{}
			proc := newTestProcessor(t, &Config{MaxKeepAliveRequests: testcase.maxRequests}, adapter)
			transport := newScriptTransport(strings.Repeat(request, testcase.sent))
			proc.Dispatch(context.Background(), transport, StatusOpenRead)

			methods := make([]string, testcase.wantServed)
			for i := range methods {
				methods[i] = http.MethodGet
			}
			responses := readResponses(t, transport.output(), methods...)
			assert.Len(t, adapter.requests(), testcase.wantServed)
			for i, resp := range responses {
				last := i == len(responses)-1
				assert.Equal(t, last && testcase.wantClose, resp.Close, "response %d", i)
			}
		})
	}
}

func TestProcessor_ConnectionManagement(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		request       string
		wantClose     bool
		wantKeepAlive bool
		wantServed    int
	}{
		{
			name:       "http/1.1 close",
			request:    "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\nGET / HTTP/1.1\r\nHost: x\r\n\r\n",
			wantClose:  true,
			wantServed: 1,
		},
		{
			name:       "http/1.0 default",
			request:    "GET / HTTP/1.0\r\n\r\nGET / HTTP/1.0\r\n\r\n",
			wantClose:  true,
			wantServed: 1,
		},
		{
			name:          "http/1.0 keep-alive",
			request:       "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n",
			wantKeepAlive: true,
			wantServed:    1,
		},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{}
			proc := newTestProcessor(t, nil, adapter)
			transport := newScriptTransport(testcase.request)
			proc.Dispatch(context.Background(), transport, StatusOpenRead)

			responses := readResponses(t, transport.output(), http.MethodGet)
			assert.Len(t, adapter.requests(), testcase.wantServed)
			assert.Equal(t, testcase.wantClose, responses[0].Close)
			if testcase.wantKeepAlive {
				assert.Equal(t, "keep-alive", responses[0].Header.Get("Connection"))
			}
		})
	}
}

func TestProcessor_RequestBody(t *testing.T) {
	t.Parallel()
	// framing is what the application sees: the Content-Length header if
	// any, and the declared length.
	type framing struct {
		header string
		length int64
	}
	tests := []struct {
		name        string
		request     string
		wantBody    []string
		wantFraming []framing
	}{
		{
			name:        "content length",
			request:     "POST /u HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello",
			wantBody:    []string{"hello"},
			wantFraming: []framing{{header: "5", length: 5}},
		},
		{
			name: "chunked",
			request: "POST /u HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
				"5\r\nhello\r\n6;ext=1\r\n world\r\n0\r\n\r\n",
			wantBody:    []string{"hello world"},
			wantFraming: []framing{{length: -1}},
		},
		{
			name: "chunked followed by identity",
			request: "POST /u HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked, identity\r\n\r\n" +
				"5\r\nhello\r\n0\r\n\r\n" +
				"GET /next HTTP/1.1\r\nHost: x\r\n\r\n",
			wantBody:    []string{"hello", ""},
			wantFraming: []framing{{length: -1}, {length: -1}},
		},
		{
			name: "transfer encoding wins over content length",
			request: "POST /u HTTP/1.1\r\nHost: x\r\nContent-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n" +
				"5\r\nhello\r\n0\r\n\r\n" +
				"GET /next HTTP/1.1\r\nHost: x\r\n\r\n",
			wantBody:    []string{"hello", ""},
			wantFraming: []framing{{length: -1}, {length: -1}},
		},
		{
			name: "no framing means no body",
			request: "POST /u HTTP/1.1\r\nHost: x\r\n\r\n" +
				"GET /next HTTP/1.1\r\nHost: x\r\n\r\n",
			wantBody:    []string{"", ""},
			wantFraming: []framing{{length: -1}, {length: -1}},
		},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			var seen []framing
			adapter := &testAdapter{
				serve: func(req *Request, _ *Response) error {
					seen = append(seen, framing{header: req.Header("content-length"), length: req.ContentLength()})
					return nil
				},
			}
			proc := newTestProcessor(t, nil, adapter)
			transport := newScriptTransport(testcase.request)
			proc.Dispatch(context.Background(), transport, StatusOpenRead)

			served := adapter.requests()
			require.Len(t, served, len(testcase.wantBody))
			for i, want := range testcase.wantBody {
				assert.Equal(t, want, served[i].Body, "request %d", i)
			}
			assert.Equal(t, testcase.wantFraming, seen)
		})
	}
}

func TestProcessor_UnreadBodyIsSwallowed(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{ignoreBody: true}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport(
		"POST /a HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\n0123456789",
		"GET /b HTTP/1.1\r\nHost: x\r\n\r\n",
	)
	proc.Dispatch(context.Background(), transport, StatusOpenRead)

	served := adapter.requests()
	require.Len(t, served, 2)
	assert.Equal(t, "/b", served[1].URI)
}

func TestProcessor_SwallowLimit(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{ignoreBody: true}
	proc := newTestProcessor(t, &Config{MaxSwallowSize: 4}, adapter)
	transport := newScriptTransport(
		"POST /a HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\n0123456789",
		"GET /b HTTP/1.1\r\nHost: x\r\n\r\n",
	)
	state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
	assert.Equal(t, StateClosed, state)
	assert.Len(t, adapter.requests(), 1)
	assert.Equal(t, ErrorCloseClean, proc.ErrorState())
}

func TestProcessor_BadTrailerClosesConnection(t *testing.T) {
	t.Parallel()
	head := "POST /a HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n"
	next := "GET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	readAndIgnore := func(req *Request, _ *Response) error {
		_, _ = io.ReadAll(req)
		return nil
	}
	tests := []struct {
		name    string
		trailer string
		serve   func(req *Request, resp *Response) error
	}{
		{
			name:    "trailer over budget, body unread",
			trailer: "X-Padding: " + strings.Repeat("p", 32) + "\r\n\r\n",
		},
		{
			name:    "trailer over budget, read error ignored",
			trailer: "X-Padding: " + strings.Repeat("p", 32) + "\r\n\r\n",
			serve:   readAndIgnore,
		},
		{
			name:    "malformed trailer, body unread",
			trailer: "no colon here\r\n\r\n",
		},
		{
			name:    "malformed trailer, read error ignored",
			trailer: "no colon here\r\n\r\n",
			serve:   readAndIgnore,
		},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{ignoreBody: true, serve: testcase.serve}
			proc := newTestProcessor(t, &Config{MaxTrailerSize: 16}, adapter)
			transport := newScriptTransport(head + testcase.trailer + next)
			state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
			assert.Equal(t, StateClosed, state)

			// Only the first request is answered; the rest of the stream is
			// never parsed as a request.
			responses := readResponses(t, transport.output(), http.MethodPost)
			assert.True(t, responses[0].Close)
			require.Len(t, adapter.requests(), 1)
			assert.Equal(t, "/a", adapter.requests()[0].URI)
			assert.Equal(t, ErrorCloseClean, proc.ErrorState())
		})
	}
}

func TestProcessor_ResponsesWithoutBody(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		method     string
		status     int
		wantLength string
	}{
		{name: "no content", method: http.MethodGet, status: http.StatusNoContent},
		{name: "not modified", method: http.MethodGet, status: http.StatusNotModified},
		{name: "head", method: http.MethodHead, status: http.StatusOK, wantLength: "11"},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{serve: func(_ *Request, resp *Response) error {
				resp.SetStatus(testcase.status)
				_, err := resp.WriteString("not visible")
				return err
			}}
			proc := newTestProcessor(t, nil, adapter)
			transport := newScriptTransport(testcase.method + " / HTTP/1.1\r\nHost: x\r\n\r\n")
			proc.Dispatch(context.Background(), transport, StatusOpenRead)

			raw := transport.output()
			assert.NotContains(t, raw, "not visible")
			assert.NotContains(t, raw, "Transfer-Encoding")
			responses := readResponses(t, raw, testcase.method)
			assert.Equal(t, testcase.status, responses[0].StatusCode)
			assert.Equal(t, testcase.wantLength, responses[0].Header.Get("Content-Length"))
		})
	}
}

func TestProcessor_ResponseFraming(t *testing.T) {
	t.Parallel()
	large := strings.Repeat("x", DefaultResponseBufferSize+1)
	tests := []struct {
		name        string
		protocol    string
		body        string
		flush       bool
		wantChunked bool
		wantClose   bool
	}{
		{name: "buffered", protocol: "HTTP/1.1", body: "small"},
		{name: "overflow", protocol: "HTTP/1.1", body: large, wantChunked: true},
		{name: "flushed", protocol: "HTTP/1.1", body: "small", flush: true, wantChunked: true},
		{name: "http/1.0 flushed", protocol: "HTTP/1.0", body: "small", flush: true, wantClose: true},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{serve: func(_ *Request, resp *Response) error {
				if _, err := resp.WriteString(testcase.body); err != nil {
					return err
				}
				if testcase.flush {
					return resp.Flush()
				}
				return nil
			}}
			proc := newTestProcessor(t, nil, adapter)
			transport := newScriptTransport("GET / " + testcase.protocol + "\r\nHost: x\r\n\r\n")
			proc.Dispatch(context.Background(), transport, StatusOpenRead)

			responses := readResponses(t, transport.output(), http.MethodGet)
			resp := responses[0]
			assert.Equal(t, testcase.body, bodyString(t, resp))
			if testcase.wantChunked {
				assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
			} else {
				assert.Empty(t, resp.TransferEncoding)
			}
			assert.Equal(t, testcase.wantClose, resp.Close)
		})
	}
}

func TestProcessor_ResponseTrailers(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{serve: func(_ *Request, resp *Response) error {
		resp.SetHeader("Trailer", "X-Checksum")
		if _, err := resp.WriteString("body"); err != nil {
			return err
		}
		if err := resp.Flush(); err != nil {
			return err
		}
		resp.Trailers().Set("X-Checksum", "abc")
		return nil
	}}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	proc.Dispatch(context.Background(), transport, StatusOpenRead)

	raw := transport.output()
	assert.True(t, strings.HasSuffix(raw, "0\r\nX-Checksum: abc\r\n\r\n"), raw)
}

func TestProcessor_ExpectContinue(t *testing.T) {
	t.Parallel()
	request := "POST /up HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n"
	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		adapter := &testAdapter{}
		proc := newTestProcessor(t, nil, adapter)
		transport := newScriptTransport(request, "hello")
		proc.Dispatch(context.Background(), transport, StatusOpenRead)

		raw := transport.output()
		require.True(t, strings.HasPrefix(raw, "HTTP/1.1 100 Continue\r\n\r\n"), raw)
		responses := readResponses(t, strings.TrimPrefix(raw, "HTTP/1.1 100 Continue\r\n\r\n"), http.MethodPost)
		assert.Equal(t, http.StatusOK, responses[0].StatusCode)
		assert.False(t, responses[0].Close)
		assert.Equal(t, "hello", adapter.requests()[0].Body)
	})
	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		adapter := &testAdapter{ignoreBody: true, serve: func(_ *Request, resp *Response) error {
			resp.SetStatus(http.StatusForbidden)
			return nil
		}}
		proc := newTestProcessor(t, nil, adapter)
		transport := newScriptTransport(request, "hello")
		state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
		assert.Equal(t, StateClosed, state)

		raw := transport.output()
		assert.NotContains(t, raw, "100 Continue")
		responses := readResponses(t, raw, http.MethodPost)
		assert.Equal(t, http.StatusForbidden, responses[0].StatusCode)
		assert.True(t, responses[0].Close)
	})
}

func TestProcessor_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		cfg        *Config
		request    string
		serve      func(*Request, *Response) error
		wantStatus int
		wantServed bool
	}{
		{
			name:       "unsupported protocol",
			request:    "GET / HTTP/2.0\r\nHost: x\r\n\r\n",
			wantStatus: http.StatusHTTPVersionNotSupported,
		},
		{
			name:       "unknown expectation",
			request:    "GET / HTTP/1.1\r\nHost: x\r\nExpect: magic\r\n\r\n",
			wantStatus: http.StatusExpectationFailed,
		},
		{
			name:       "missing host",
			request:    "GET / HTTP/1.1\r\n\r\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid host",
			request:    "GET / HTTP/1.1\r\nHost: a b\r\n\r\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid method",
			request:    "G@T / HTTP/1.1\r\nHost: x\r\n\r\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "conflicting content length",
			request:    "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported transfer coding",
			request:    "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: compress\r\n\r\n",
			wantStatus: http.StatusNotImplemented,
		},
		{
			name:       "chunked not last",
			request:    "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked, chunked\r\n\r\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "head too large",
			cfg:        &Config{MaxHeaderSize: 256},
			request:    "GET / HTTP/1.1\r\nHost: x\r\nX-Large: " + strings.Repeat("a", 300) + "\r\n\r\n",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:    "panic",
			request: "GET / HTTP/1.1\r\nHost: x\r\n\r\n",
			serve: func(*Request, *Response) error {
				panic("boom")
			},
			wantStatus: http.StatusInternalServerError,
			wantServed: true,
		},
		{
			name:    "error",
			request: "GET / HTTP/1.1\r\nHost: x\r\n\r\n",
			serve: func(_ *Request, resp *Response) error {
				_, _ = resp.WriteString("partial")
				return io.ErrClosedPipe
			},
			wantStatus: http.StatusInternalServerError,
			wantServed: true,
		},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{serve: testcase.serve}
			proc := newTestProcessor(t, testcase.cfg, adapter)
			transport := newScriptTransport(testcase.request, "GET /after HTTP/1.1\r\nHost: x\r\n\r\n")
			state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
			assert.Equal(t, StateClosed, state)

			responses := readResponses(t, transport.output(), http.MethodGet)
			assert.Equal(t, testcase.wantStatus, responses[0].StatusCode)
			assert.True(t, responses[0].Close)
			assert.Empty(t, bodyString(t, responses[0]))
			if testcase.wantServed {
				assert.Len(t, adapter.requests(), 1)
			} else {
				assert.Empty(t, adapter.requests())
			}
		})
	}
}

func TestProcessor_AbsoluteURI(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport("GET http://user@example.com:8080/p?q=1 HTTP/1.1\r\nHost: other\r\n\r\n")
	proc.Dispatch(context.Background(), transport, StatusOpenRead)

	want := []servedRequest{{
		Method:     "GET",
		URI:        "/p?q=1",
		Protocol:   "HTTP/1.1",
		Host:       "example.com:8080",
		ServerName: "example.com",
		ServerPort: 8080,
	}}
	assert.Empty(t, cmp.Diff(want, adapter.requests()))
}

func TestProcessor_HTTP09(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport("GET /old\r\n")
	state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, "ok /old", transport.output())
}

func TestProcessor_ResumableParsing(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport()
	transport.nonBlocking = true
	transport.script = [][]byte{[]byte("GET /a HT"), nil, []byte("TP/1.1\r\nHo"), nil, []byte("st: x\r\n\r\n")}
	ctx := context.Background()

	assert.Equal(t, StateLong, proc.Dispatch(ctx, transport, StatusOpenRead))
	assert.Equal(t, StateLong, proc.Dispatch(ctx, transport, StatusOpenRead))
	assert.Empty(t, adapter.requests())
	assert.Equal(t, StateOpen, proc.Dispatch(ctx, transport, StatusOpenRead))

	served := adapter.requests()
	require.Len(t, served, 1)
	assert.Equal(t, "/a", served[0].URI)
	assert.Equal(t, "x", served[0].Host)
	responses := readResponses(t, transport.output(), http.MethodGet)
	assert.Equal(t, "ok /a", bodyString(t, responses[0]))

	transport.feed("GET /b HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Equal(t, StateOpen, proc.Dispatch(ctx, transport, StatusOpenRead))
	assert.Len(t, adapter.requests(), 2)
}

func TestProcessor_ByteAtATime(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport(
		"POST /a HTTP/1.1\r\nHost: x\r\nX-Folded: one\r\n  two\r\nContent-Length: 3\r\n\r\nabc",
	)
	transport.maxRead = 1
	proc.Dispatch(context.Background(), transport, StatusOpenRead)

	served := adapter.requests()
	require.Len(t, served, 1)
	assert.Equal(t, "abc", served[0].Body)
	readResponses(t, transport.output(), http.MethodPost)
}

func TestProcessor_Compression(t *testing.T) {
	t.Parallel()
	body := strings.Repeat("compress me ", 400)
	tests := []struct {
		name           string
		acceptEncoding string
		userAgent      string
		contentType    string
		vary           string
		wantGzip       bool
		wantVary       []string
	}{
		{name: "gzip", acceptEncoding: "gzip, deflate", contentType: "text/plain", wantGzip: true, wantVary: []string{"Accept-Encoding"}},
		{name: "not accepted", contentType: "text/plain", wantVary: []string{"Accept-Encoding"}},
		{name: "not compressible", acceptEncoding: "gzip", contentType: "image/png"},
		{name: "excluded agent", acceptEncoding: "gzip", userAgent: "OldBrowser/1.0", contentType: "text/plain", wantVary: []string{"Accept-Encoding"}},
		{name: "vary merged", acceptEncoding: "gzip", contentType: "text/plain", vary: "Origin", wantGzip: true, wantVary: []string{"Origin, Accept-Encoding"}},
		{name: "vary already listed", acceptEncoding: "gzip", contentType: "text/plain", vary: "accept-encoding", wantGzip: true, wantVary: []string{"accept-encoding"}},
		{name: "vary star", contentType: "text/plain", vary: "*", wantVary: []string{"*"}},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			adapter := &testAdapter{serve: func(_ *Request, resp *Response) error {
				resp.SetContentType(testcase.contentType)
				if testcase.vary != "" {
					resp.SetHeader("Vary", testcase.vary)
				}
				_, err := resp.WriteString(body)
				return err
			}}
			cfg := &Config{
				Compression:             CompressionOn,
				NoCompressionUserAgents: regexpMust(t, "^OldBrowser"),
			}
			proc := newTestProcessor(t, cfg, adapter)
			var request strings.Builder
			request.WriteString("GET / HTTP/1.1\r\nHost: x\r\n")
			if testcase.acceptEncoding != "" {
				request.WriteString("Accept-Encoding: " + testcase.acceptEncoding + "\r\n")
			}
			if testcase.userAgent != "" {
				request.WriteString("User-Agent: " + testcase.userAgent + "\r\n")
			}
			request.WriteString("\r\n")
			transport := newScriptTransport(request.String())
			proc.Dispatch(context.Background(), transport, StatusOpenRead)

			resp := readResponses(t, transport.output(), http.MethodGet)[0]
			assert.Equal(t, testcase.wantVary, resp.Header.Values("Vary"))
			if !testcase.wantGzip {
				assert.Empty(t, resp.Header.Get("Content-Encoding"))
				assert.Equal(t, body, bodyString(t, resp))
				return
			}
			assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
			reader, err := gzip.NewReader(resp.Body)
			require.NoError(t, err)
			decoded, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, body, string(decoded))
		})
	}
}

func TestProcessor_Metrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	cfg := &Config{MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))}
	proc := newTestProcessor(t, cfg, &testAdapter{})
	transport := newScriptTransport(
		"POST /a HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabc",
		"GET /b HTTP/1.1\r\nHost: x\r\n\r\n",
	)
	proc.Dispatch(context.Background(), transport, StatusOpenRead)

	var collected metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &collected))
	sums := make(map[string]int64)
	for _, scope := range collected.ScopeMetrics {
		for _, m := range scope.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range data.DataPoints {
				sums[m.Name] += point.Value
			}
		}
	}
	assert.Equal(t, int64(2), sums["http11.server.requests"])
	assert.Equal(t, int64(3), sums["http11.server.request.body.size"])
	assert.Equal(t, int64(len("ok /a")+len("ok /b")), sums["http11.server.response.body.size"])
}

func TestProcessor_AsyncComplete(t *testing.T) {
	t.Parallel()
	var started *Response
	var startedReq *Request
	adapter := &testAdapter{serve: func(req *Request, resp *Response) error {
		startedReq, started = req, resp
		return req.Action(ActionAsyncStart{})
	}}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport("GET /async HTTP/1.1\r\nHost: x\r\n\r\n")
	ctx := context.Background()

	assert.Equal(t, StateLong, proc.Dispatch(ctx, transport, StatusOpenRead))
	assert.Equal(t, AsyncStarted, proc.Async().State())
	assert.Empty(t, transport.output())

	_, err := started.WriteString("done")
	require.NoError(t, err)
	require.NoError(t, startedReq.Action(ActionAsyncComplete{}))
	assert.Equal(t, []SocketStatus{StatusOpenRead}, transport.dispatched)

	assert.Equal(t, StateOpen, proc.Dispatch(ctx, transport, StatusOpenRead))
	assert.Equal(t, AsyncDispatched, proc.Async().State())
	responses := readResponses(t, transport.output(), http.MethodGet)
	assert.Equal(t, "done", bodyString(t, responses[0]))
}

func TestProcessor_StopWhileAsync(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{serve: func(req *Request, _ *Response) error {
		return req.Action(ActionAsyncStart{})
	}}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	ctx := context.Background()
	require.Equal(t, StateLong, proc.Dispatch(ctx, transport, StatusOpenRead))
	assert.Equal(t, StateClosed, proc.Dispatch(ctx, transport, StatusStop))
}

type recordingSendfiler struct {
	*scriptTransport
	data []SendfileData
}

func (s *recordingSendfiler) Sendfile(data *SendfileData) SendfileState {
	s.data = append(s.data, *data)
	return SendfilePending
}

func TestProcessor_Sendfile(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{serve: func(req *Request, resp *Response) error {
		if supported, _ := req.Attribute(AttrSendfileSupported); supported != true {
			return nil
		}
		resp.SetContentType("text/plain")
		req.SetAttribute(AttrSendfileFilename, "/srv/file.txt")
		req.SetAttribute(AttrSendfileStart, int64(10))
		req.SetAttribute(AttrSendfileEnd, int64(110))
		return nil
	}}
	proc := newTestProcessor(t, &Config{Sendfile: true}, adapter)
	transport := &recordingSendfiler{scriptTransport: newScriptTransport("GET /f HTTP/1.1\r\nHost: x\r\n\r\n")}
	state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
	assert.Equal(t, StateSendfile, state)

	want := []SendfileData{{Filename: "/srv/file.txt", Start: 10, End: 110, KeepAlive: true}}
	assert.Empty(t, cmp.Diff(want, transport.data))
	raw := transport.output()
	assert.Contains(t, raw, "Content-Length: 100\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n"))
}

type upgradeRecorder struct {
	leftover []byte
}

func (u *upgradeRecorder) Upgrade(_ Transport, leftover []byte) {
	u.leftover = leftover
}

func TestProcessor_Upgrade(t *testing.T) {
	t.Parallel()
	handler := &upgradeRecorder{}
	adapter := &testAdapter{serve: func(req *Request, resp *Response) error {
		resp.SetStatus(http.StatusSwitchingProtocols)
		resp.SetHeader("Upgrade", "echo")
		resp.SetHeader("Connection", "Upgrade")
		if err := req.Action(ActionUpgrade{Handler: handler}); err != nil {
			return err
		}
		return resp.Flush()
	}}
	proc := newTestProcessor(t, nil, adapter)
	transport := newScriptTransport("GET / HTTP/1.1\r\nHost: x\r\nUpgrade: echo\r\nConnection: Upgrade\r\n\r\nraw bytes")
	state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
	assert.Equal(t, StateUpgrading, state)
	assert.Equal(t, handler, proc.UpgradeHandler())
	assert.Equal(t, []byte("raw bytes"), proc.Leftover())
	assert.True(t, strings.HasPrefix(transport.output(), "HTTP/1.1 101 Switching Protocols\r\n"))
}

func TestProcessor_PausedEndpoint(t *testing.T) {
	t.Parallel()
	adapter := &testAdapter{}
	proc := newTestProcessor(t, nil, adapter)
	proc.SetPauser(pausedFlag(true))
	transport := newScriptTransport("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	state := proc.Dispatch(context.Background(), transport, StatusOpenRead)
	assert.Equal(t, StateClosed, state)
	assert.Empty(t, adapter.requests())
}

type pausedFlag bool

func (p pausedFlag) IsPaused() bool { return bool(p) }

func TestProcessor_RecycleResetsConnectionState(t *testing.T) {
	t.Parallel()
	pool := NewProcessorPool(1, func() *Processor {
		return newTestProcessor(t, &Config{MaxKeepAliveRequests: 2}, &testAdapter{})
	})
	proc := pool.Get()
	first := newScriptTransport(strings.Repeat("GET / HTTP/1.1\r\nHost: x\r\n\r\n", 2))
	proc.Dispatch(context.Background(), first, StatusOpenRead)
	pool.Put(proc)

	again := pool.Get()
	assert.Same(t, proc, again)
	second := newScriptTransport(strings.Repeat("GET / HTTP/1.1\r\nHost: x\r\n\r\n", 2))
	again.Dispatch(context.Background(), second, StatusOpenRead)
	responses := readResponses(t, second.output(), http.MethodGet, http.MethodGet)
	assert.False(t, responses[0].Close)
	assert.True(t, responses[1].Close)
	assert.True(t, bytes.Contains([]byte(first.output()), []byte("Connection: close")))
}
