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

package http11dapp

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/http11"
	"connectrpc.com/http11/blocking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestListenPort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 8080, listenPort(":8080"))
	assert.Equal(t, 443, listenPort("127.0.0.1:443"))
	assert.Equal(t, 0, listenPort("localhost"))
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	logger, err := newLogger(&Config{LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	_, err = newLogger(&Config{LogLevel: "loud"})
	require.Error(t, err)

	logger, err = newLogger(&Config{OTelLogs: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestFileAdapter(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.txt"), []byte("hello from disk"), 0o600))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := &blocking.Endpoint{
		Config: &http11.Config{
			Logger:        logger,
			MeterProvider: sdkmetric.NewMeterProvider(),
			Sendfile:      true,
		},
		Adapter: newAdapter(root, logger),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ep.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("endpoint did not shut down")
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)
	tests := []struct {
		target     string
		wantStatus int
		wantBody   string
	}{
		{target: "/index.txt", wantStatus: http.StatusOK, wantBody: "hello from disk"},
		{target: "/missing.txt", wantStatus: http.StatusNotFound, wantBody: "404 page not found\n"},
	}
	for _, testcase := range tests {
		_, err = io.WriteString(conn, "GET "+testcase.target+" HTTP/1.1\r\nHost: x\r\n\r\n")
		require.NoError(t, err)
		resp, err := http.ReadResponse(reader, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, testcase.wantStatus, resp.StatusCode, testcase.target)
		assert.Equal(t, testcase.wantBody, string(body))
	}
}

func TestGreetingAdapter(t *testing.T) {
	t.Parallel()
	adapter := newAdapter("", nil)
	handler, ok := adapter.(*http11.HandlerAdapter)
	require.True(t, ok)
	recorder := httptest.NewRecorder()
	handler.Handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "Hello, World!\n", recorder.Body.String())
	assert.True(t, strings.HasPrefix(recorder.Header().Get("Content-Type"), "text/plain"))
}
