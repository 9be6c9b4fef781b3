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
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptTransport replays scripted input. A nil entry in the script makes
// one non-blocking Fill report that no data is available yet.
type scriptTransport struct {
	mu          sync.Mutex
	script      [][]byte
	nonBlocking bool
	maxRead     int
	out         bytes.Buffer
	lastAccess  time.Time
	timeouts    []time.Duration
	dispatched  []SocketStatus
	tlsState    *tls.ConnectionState
}

var _ Transport = (*scriptTransport)(nil)

func newScriptTransport(input ...string) *scriptTransport {
	t := &scriptTransport{lastAccess: time.Now()}
	for _, s := range input {
		t.script = append(t.script, []byte(s))
	}
	return t
}

func (t *scriptTransport) Fill(p []byte, block bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.script) > 0 {
		next := t.script[0]
		if next == nil {
			t.script = t.script[1:]
			if t.nonBlocking && !block {
				return 0, nil
			}
			continue
		}
		limit := len(p)
		if t.maxRead > 0 {
			limit = min(limit, t.maxRead)
		}
		n := copy(p[:limit], next)
		if n == len(next) {
			t.script = t.script[1:]
		} else {
			t.script[0] = next[n:]
		}
		return n, nil
	}
	if t.nonBlocking && !block {
		return 0, nil
	}
	return 0, io.EOF
}

func (t *scriptTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Write(p)
	return nil
}

func (t *scriptTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeouts = append(t.timeouts, d)
	return nil
}

func (t *scriptTransport) NonBlocking() bool { return t.nonBlocking }

func (t *scriptTransport) LastAccess() time.Time { return t.lastAccess }

func (t *scriptTransport) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func (t *scriptTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (t *scriptTransport) TLSState() *tls.ConnectionState { return t.tlsState }

func (t *scriptTransport) Dispatch(status SocketStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatched = append(t.dispatched, status)
}

func (t *scriptTransport) feed(input string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, []byte(input))
}

func (t *scriptTransport) output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.String()
}

// testAdapter records every request it serves and answers with serve.
type testAdapter struct {
	mu     sync.Mutex
	served []servedRequest
	logged []int
	// ignoreBody leaves the request body unread.
	ignoreBody bool
	serve      func(req *Request, resp *Response) error
}

type servedRequest struct {
	Method     string
	URI        string
	Protocol   string
	Host       string
	ServerName string
	ServerPort int
	Body       string
}

var _ Adapter = (*testAdapter)(nil)

func (a *testAdapter) Service(_ context.Context, req *Request, resp *Response) error {
	var body []byte
	if !a.ignoreBody {
		var err error
		if body, err = io.ReadAll(req); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.served = append(a.served, servedRequest{
		Method:     req.Method(),
		URI:        req.RequestURI(),
		Protocol:   req.Protocol(),
		Host:       req.Header("host"),
		ServerName: req.ServerName,
		ServerPort: req.ServerPort,
		Body:       string(body),
	})
	a.mu.Unlock()
	if a.serve != nil {
		return a.serve(req, resp)
	}
	resp.SetContentType("text/plain")
	_, err := resp.WriteString("ok " + req.RequestURI())
	return err
}

func (a *testAdapter) Event(context.Context, *Request, *Response, SocketStatus) (bool, error) {
	return true, nil
}

func (a *testAdapter) AsyncDispatch(context.Context, *Request, *Response, SocketStatus) (bool, error) {
	return true, nil
}

func (a *testAdapter) Log(_ *Request, resp *Response, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logged = append(a.logged, resp.Status())
}

func (a *testAdapter) requests() []servedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]servedRequest(nil), a.served...)
}

// readResponses parses every response in raw. method is the request method
// of each response in order; it matters for HEAD.
func readResponses(t *testing.T, raw string, methods ...string) []*http.Response {
	t.Helper()
	reader := bufio.NewReader(strings.NewReader(raw))
	responses := make([]*http.Response, 0, len(methods))
	for _, method := range methods {
		resp, err := http.ReadResponse(reader, &http.Request{Method: method})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		resp.Body = io.NopCloser(bytes.NewReader(body))
		responses = append(responses, resp)
	}
	_, err := reader.Peek(1)
	require.ErrorIs(t, err, io.EOF, "unexpected bytes after the last response")
	return responses
}

func bodyString(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func regexpMust(t *testing.T, expr string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(expr)
	require.NoError(t, err)
	return re
}
