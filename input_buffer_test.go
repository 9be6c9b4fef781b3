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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInputBuffer(t *testing.T, maxHeaderSize int, transport Transport) (*InputBuffer, *Request) {
	t.Helper()
	req := newRequest()
	buffer := NewInputBuffer(req, maxHeaderSize, nil)
	buffer.Init(transport)
	req.input = buffer
	t.Cleanup(buffer.Recycle)
	return buffer, req
}

func TestInputBuffer_RequestLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		input        string
		wantMethod   string
		wantURI      string
		wantPath     string
		wantQuery    string
		wantProtocol string
	}{
		{
			name:         "origin form",
			input:        "GET /index.html HTTP/1.1\r\n",
			wantMethod:   "GET",
			wantURI:      "/index.html",
			wantPath:     "/index.html",
			wantProtocol: "HTTP/1.1",
		},
		{
			name:         "query",
			input:        "POST /search?q=go&x=?y HTTP/1.0\r\n",
			wantMethod:   "POST",
			wantURI:      "/search?q=go&x=?y",
			wantPath:     "/search",
			wantQuery:    "q=go&x=?y",
			wantProtocol: "HTTP/1.0",
		},
		{
			name:         "leading blank lines",
			input:        "\r\n\r\nGET / HTTP/1.1\r\n",
			wantMethod:   "GET",
			wantURI:      "/",
			wantPath:     "/",
			wantProtocol: "HTTP/1.1",
		},
		{
			name:         "extra whitespace",
			input:        "GET \t /a   HTTP/1.1\r\n",
			wantMethod:   "GET",
			wantURI:      "/a",
			wantPath:     "/a",
			wantProtocol: "HTTP/1.1",
		},
		{
			name:         "bare line feed",
			input:        "DELETE /x HTTP/1.1\n",
			wantMethod:   "DELETE",
			wantURI:      "/x",
			wantPath:     "/x",
			wantProtocol: "HTTP/1.1",
		},
		{
			name:       "http/0.9",
			input:      "GET /old\r\n",
			wantMethod: "GET",
			wantURI:    "/old",
			wantPath:   "/old",
		},
		{
			name:         "asterisk form",
			input:        "OPTIONS * HTTP/1.1\r\n",
			wantMethod:   "OPTIONS",
			wantURI:      "*",
			wantPath:     "*",
			wantProtocol: "HTTP/1.1",
		},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			buffer, req := newTestInputBuffer(t, DefaultMaxHeaderSize, newScriptTransport(testcase.input))
			ok, err := buffer.ParseRequestLine(true)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, testcase.wantMethod, req.Method())
			assert.Equal(t, testcase.wantURI, req.RequestURI())
			assert.Equal(t, testcase.wantPath, req.Path())
			assert.Equal(t, testcase.wantQuery, req.Query())
			assert.Equal(t, testcase.wantProtocol, req.Protocol())
			assert.False(t, req.StartTime().IsZero())
		})
	}
}

func TestInputBuffer_InvalidRequestLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty method", input: " / HTTP/1.1\r\n"},
		{name: "separator in method", input: "GE(T / HTTP/1.1\r\n"},
		{name: "missing target", input: "GET \r\n"},
		{name: "control character in target", input: "GET /a\x01b HTTP/1.1\r\n"},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			buffer, _ := newTestInputBuffer(t, DefaultMaxHeaderSize, newScriptTransport(testcase.input))
			_, err := buffer.ParseRequestLine(true)
			var statusErr *statusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, 400, statusErr.code)
		})
	}
}

type headerEntry struct {
	Name, Value string
}

func collectHeaders(headers *HeaderSet) []headerEntry {
	var entries []headerEntry
	headers.Range(func(name, value string) bool {
		entries = append(entries, headerEntry{Name: name, Value: value})
		return true
	})
	return entries
}

func TestInputBuffer_Headers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  []headerEntry
	}{
		{
			name:  "simple",
			input: "Host: example.com\r\nAccept: */*\r\n\r\n",
			want:  []headerEntry{{"host", "example.com"}, {"accept", "*/*"}},
		},
		{
			name:  "names are lowercased and values trimmed",
			input: "X-Mixed-CASE:   spaced value  \t\r\n\r\n",
			want:  []headerEntry{{"x-mixed-case", "spaced value"}},
		},
		{
			name:  "folded value",
			input: "X-Folded: first\r\n   second\r\n\tthird\r\nX-Next: n\r\n\r\n",
			want:  []headerEntry{{"x-folded", "first second third"}, {"x-next", "n"}},
		},
		{
			name:  "empty value",
			input: "X-Empty:\r\nX-After: a\r\n\r\n",
			want:  []headerEntry{{"x-empty", ""}, {"x-after", "a"}},
		},
		{
			name:  "invalid header skipped",
			input: "Bad Header: x\r\n: nameless\r\nGood: y\r\n\r\n",
			want:  []headerEntry{{"good", "y"}},
		},
		{
			name:  "repeated header",
			input: "Via: a\r\nVia: b\r\n\r\n",
			want:  []headerEntry{{"via", "a"}, {"via", "b"}},
		},
		{
			name:  "bare line feeds",
			input: "Host: h\nX: y\n\n",
			want:  []headerEntry{{"host", "h"}, {"x", "y"}},
		},
	}
	for _, testcase := range tests {
		testcase := testcase
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			transport := newScriptTransport("GET / HTTP/1.1\r\n" + testcase.input)
			buffer, req := newTestInputBuffer(t, DefaultMaxHeaderSize, transport)
			ok, err := buffer.ParseRequestLine(true)
			require.NoError(t, err)
			require.True(t, ok)
			ok, err = buffer.ParseHeaders(true)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Empty(t, cmp.Diff(testcase.want, collectHeaders(req.Headers())))
		})
	}
}

func TestInputBuffer_ResumesAtEveryByte(t *testing.T) {
	t.Parallel()
	input := "PUT /p?q HTTP/1.1\r\nHost: h\r\nX-Folded: a\r\n b\r\nBad Header: z\r\n\r\nbody"
	transport := newScriptTransport()
	transport.nonBlocking = true
	for i := 0; i < len(input); i++ {
		transport.script = append(transport.script, []byte{input[i]}, nil)
	}
	buffer, req := newTestInputBuffer(t, DefaultMaxHeaderSize, transport)

	var (
		lineDone   bool
		headerDone bool
		attempts   int
	)
	for !headerDone {
		attempts++
		require.Less(t, attempts, 10*len(input))
		if !lineDone {
			ok, err := buffer.ParseRequestLine(false)
			require.NoError(t, err)
			lineDone = ok
			continue
		}
		ok, err := buffer.ParseHeaders(false)
		require.NoError(t, err)
		headerDone = ok
	}
	assert.Equal(t, "PUT", req.Method())
	assert.Equal(t, "/p", req.Path())
	assert.Equal(t, "q", req.Query())
	want := []headerEntry{{"host", "h"}, {"x-folded", "a b"}}
	assert.Empty(t, cmp.Diff(want, collectHeaders(req.Headers())))

	buffer.AddActiveFilter(&VoidInputFilter{})
	var chunk ByteChunk
	_, err := buffer.DoRead(&chunk)
	assert.ErrorIs(t, err, io.EOF)
}

func TestInputBuffer_HeaderTooLarge(t *testing.T) {
	t.Parallel()
	input := "GET / HTTP/1.1\r\nX-Large: "
	for len(input) < 200 {
		input += "aaaaaaaaaa"
	}
	buffer, _ := newTestInputBuffer(t, 128, newScriptTransport(input+"\r\n\r\n"))
	ok, err := buffer.ParseRequestLine(true)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = buffer.ParseHeaders(true)
	require.ErrorIs(t, err, ErrRequestHeaderTooLarge)
	var statusErr *statusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 400, statusErr.code)
}

func TestInputBuffer_EndOfStream(t *testing.T) {
	t.Parallel()
	t.Run("before request", func(t *testing.T) {
		t.Parallel()
		buffer, _ := newTestInputBuffer(t, DefaultMaxHeaderSize, newScriptTransport())
		_, err := buffer.ParseRequestLine(true)
		assert.ErrorIs(t, err, io.EOF)
		assert.False(t, buffer.ParsingRequestLineStarted())
	})
	t.Run("inside headers", func(t *testing.T) {
		t.Parallel()
		buffer, _ := newTestInputBuffer(t, DefaultMaxHeaderSize, newScriptTransport("GET / HTTP/1.1\r\nHost: "))
		ok, err := buffer.ParseRequestLine(true)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = buffer.ParseHeaders(true)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestInputBuffer_PipelinedBytesSurviveNextRequest(t *testing.T) {
	t.Parallel()
	transport := newScriptTransport("POST /a HTTP/1.1\r\nContent-Length: 3\r\n\r\nabcGET /b HTTP/1.1\r\n\r\n")
	buffer, req := newTestInputBuffer(t, DefaultMaxHeaderSize, transport)
	_, err := buffer.ParseRequestLine(true)
	require.NoError(t, err)
	_, err = buffer.ParseHeaders(true)
	require.NoError(t, err)

	req.SetContentLength(3)
	buffer.AddActiveFilter(NewIdentityInputFilter(DefaultMaxSwallowSize))
	body, err := io.ReadAll(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))
	require.NoError(t, buffer.EndRequest())
	assert.Equal(t, len("GET /b HTTP/1.1\r\n\r\n"), buffer.Buffered())

	buffer.NextRequest()
	ok, err := buffer.ParseRequestLine(true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/b", req.RequestURI())
}
