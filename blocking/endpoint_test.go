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

package blocking

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"strings"
	"testing"
	"time"

	"connectrpc.com/http11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testConfig() *http11.Config {
	return &http11.Config{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		MeterProvider: sdkmetric.NewMeterProvider(),
		AsyncTimeout:  time.Second,
	}
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, r.Method+" "+r.URL.RequestURI()+" "+string(body))
	})
}

// serve runs ep on a loopback listener until the test ends.
func serve(t *testing.T, ep *Endpoint) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ep.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("endpoint did not shut down")
		}
	})
	return ln.Addr().String()
}

func TestEndpoint_Serve(t *testing.T) {
	t.Parallel()
	addr := serve(t, &Endpoint{
		Config:  testConfig(),
		Adapter: &http11.HandlerAdapter{Handler: echoHandler()},
	})
	client := &http.Client{Transport: &http.Transport{}}
	t.Cleanup(client.CloseIdleConnections)

	var reused []bool
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) { reused = append(reused, info.Reused) },
	}
	tests := []struct {
		method, target, body, want string
	}{
		{method: http.MethodGet, target: "/a?b=c", want: "GET /a?b=c "},
		{method: http.MethodPost, target: "/items", body: "payload", want: "POST /items payload"},
		{method: http.MethodPut, target: "/items/1", body: strings.Repeat("x", 20000), want: "PUT /items/1 " + strings.Repeat("x", 20000)},
	}
	for _, testcase := range tests {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		req, err := http.NewRequestWithContext(ctx, testcase.method, "http://"+addr+testcase.target, strings.NewReader(testcase.body))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, testcase.want, string(body))
	}
	assert.Equal(t, []bool{false, true, true}, reused)
}

func TestEndpoint_Async(t *testing.T) {
	t.Parallel()
	addr := serve(t, &Endpoint{
		Config:  testConfig(),
		Adapter: &asyncAdapter{},
	})
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		require.NoError(t, err)
		resp, err := http.ReadResponse(reader, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "completed", string(body))
		assert.False(t, resp.Close)
	}
}

func TestEndpoint_Pause(t *testing.T) {
	t.Parallel()
	ep := &Endpoint{
		Config:  testConfig(),
		Adapter: &http11.HandlerAdapter{Handler: echoHandler()},
	}
	addr := serve(t, ep)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = io.WriteString(conn, "GET /first HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ep.Pause()
	defer ep.Resume()
	assert.True(t, ep.IsPaused())
	_, err = io.WriteString(conn, "GET /second HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	resp, err = http.ReadResponse(reader, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestEndpoint_TLS(t *testing.T) {
	t.Parallel()
	// Borrow the test server's certificate and a client that trusts it.
	certServer := httptest.NewUnstartedServer(http.NotFoundHandler())
	certServer.StartTLS()
	tlsConfig := certServer.TLS.Clone()
	client := certServer.Client()
	certServer.Close()

	addr := serve(t, &Endpoint{
		Config:    testConfig(),
		Adapter:   &http11.HandlerAdapter{Handler: echoHandler()},
		TLSConfig: tlsConfig,
	})
	resp, err := client.Post("https://"+addr+"/secure", "text/plain", strings.NewReader("sealed"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "POST /secure sealed", string(body))
	require.NotNil(t, resp.TLS)
	assert.Equal(t, uint16(tls.VersionTLS13), resp.TLS.Version)
}

// asyncAdapter completes every request from another goroutine.
type asyncAdapter struct{}

func (a *asyncAdapter) Service(_ context.Context, req *http11.Request, resp *http11.Response) error {
	if err := req.Action(http11.ActionAsyncStart{}); err != nil {
		return err
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = resp.WriteString("completed")
		_ = req.Action(http11.ActionAsyncComplete{})
	}()
	return nil
}

func (a *asyncAdapter) Event(context.Context, *http11.Request, *http11.Response, http11.SocketStatus) (bool, error) {
	return false, nil
}

func (a *asyncAdapter) AsyncDispatch(context.Context, *http11.Request, *http11.Response, http11.SocketStatus) (bool, error) {
	return true, nil
}

func (a *asyncAdapter) Log(*http11.Request, *http11.Response, time.Duration) {}
