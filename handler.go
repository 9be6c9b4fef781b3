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
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HandlerAdapter serves requests with a net/http Handler. The handler sees
// an *http.Request built from the parsed head and writes through an
// http.ResponseWriter backed by the connector's Response.
type HandlerAdapter struct {
	Handler http.Handler
	// Logger receives one access log record per request. Nil disables
	// access logging.
	Logger *slog.Logger
}

var _ Adapter = (*HandlerAdapter)(nil)

func (a *HandlerAdapter) Service(ctx context.Context, req *Request, resp *Response) error {
	start := time.Now()
	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		resp.SetStatus(http.StatusBadRequest)
		a.Log(req, resp, time.Since(start))
		return nil
	}
	writer := &responseWriter{resp: resp, header: make(http.Header)}
	a.Handler.ServeHTTP(writer, httpReq)
	if !writer.wroteHeader {
		writer.WriteHeader(http.StatusOK)
	}
	a.Log(req, resp, time.Since(start))
	if errors.Is(writer.err, ErrResponseHeadersTooLarge) {
		return writer.err
	}
	// Connection failures were already recorded by the processor.
	return nil
}

// Event is not supported: net/http handlers have no comet model.
func (a *HandlerAdapter) Event(context.Context, *Request, *Response, SocketStatus) (bool, error) {
	return false, nil
}

// AsyncDispatch completes requests that were made asynchronous by the
// handler through the request's actions.
func (a *HandlerAdapter) AsyncDispatch(_ context.Context, req *Request, _ *Response, status SocketStatus) (bool, error) {
	if status == StatusTimeout {
		var accepted bool
		if err := req.Action(ActionAsyncTimeout{Result: &accepted}); err != nil {
			return false, err
		}
		if accepted {
			if err := req.Action(ActionAsyncComplete{}); err != nil {
				return false, err
			}
		}
	}
	return status != StatusError && status != StatusStop && status != StatusDisconnect, nil
}

func (a *HandlerAdapter) Log(req *Request, resp *Response, elapsed time.Duration) {
	if a.Logger == nil {
		return
	}
	a.Logger.Info("request",
		slog.String("method", req.Method()),
		slog.String("uri", req.RequestURI()),
		slog.String("protocol", req.Protocol()),
		slog.Int("status", resp.Status()),
		slog.Int64("bytes", resp.BytesWritten()),
		slog.Duration("elapsed", elapsed),
	)
}

func (a *HandlerAdapter) newRequest(ctx context.Context, req *Request) (*http.Request, error) {
	_ = req.Action(ActionReqHostAddr{})
	_ = req.Action(ActionReqRemotePort{})
	target := req.RequestURI()
	if target == "" {
		target = "/"
	}
	reqURL, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, err
	}
	proto := req.Protocol()
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		proto, major, minor = "HTTP/0.9", 0, 9
	}
	header := make(http.Header, req.Headers().Len())
	req.Headers().Range(func(name, value string) bool {
		header.Add(name, value)
		return true
	})
	host := req.Header("host")
	header.Del("Host")
	httpReq := &http.Request{
		Method:        req.Method(),
		URL:           reqURL,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        header,
		Body:          io.NopCloser(req),
		ContentLength: req.ContentLength(),
		Host:          host,
		RemoteAddr:    net.JoinHostPort(req.RemoteAddr, strconv.Itoa(req.RemotePort)),
		RequestURI:    target,
	}
	if te := header.Values("Transfer-Encoding"); len(te) > 0 {
		httpReq.TransferEncoding = te
		httpReq.ContentLength = -1
	}
	if req.Scheme == "https" {
		_ = req.Action(ActionReqSSLAttribute{})
	}
	return httpReq.WithContext(ctx), nil
}

// responseWriter adapts Response to http.ResponseWriter.
type responseWriter struct {
	resp        *Response
	header      http.Header
	wroteHeader bool
	err         error
}

var (
	_ http.ResponseWriter = (*responseWriter)(nil)
	_ http.Flusher        = (*responseWriter)(nil)
)

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.resp.SetStatus(statusCode)
	for name, values := range w.header {
		for _, value := range values {
			w.resp.AddHeader(name, value)
		}
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		if w.header.Get("Content-Type") == "" {
			w.header.Set("Content-Type", http.DetectContentType(p))
		}
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.resp.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *responseWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if err := w.resp.Flush(); err != nil && w.err == nil {
		w.err = err
	}
}
