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
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultMaxHeaderSize        = 8 * 1024
	DefaultMaxTrailerSize       = 8 * 1024
	DefaultMaxExtensionSize     = 8 * 1024
	DefaultMaxSwallowSize       = 2 * 1024 * 1024
	DefaultMaxSavePostSize      = 4 * 1024
	DefaultMaxKeepAliveRequests = 100
	DefaultConnectionTimeout    = 20 * time.Second
	DefaultUploadTimeout        = 5 * time.Minute
	DefaultAsyncTimeout         = 30 * time.Second
	DefaultSocketBufferSize     = 9000
	DefaultResponseBufferSize   = 8 * 1024
	DefaultCompressionMinSize   = 2048
)

// CompressionMode selects when response bodies are gzip encoded.
type CompressionMode int

const (
	// CompressionOff never compresses.
	CompressionOff CompressionMode = iota
	// CompressionOn compresses eligible responses for clients that accept gzip.
	CompressionOn
	// CompressionForce compresses eligible responses regardless of size.
	CompressionForce
)

// ParseCompressionMode accepts "off", "on", "force" or a positive number,
// which means "on" with that minimum size.
func ParseCompressionMode(s string) (CompressionMode, int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "false", "no":
		return CompressionOff, 0, nil
	case "on", "true", "yes":
		return CompressionOn, 0, nil
	case "force":
		return CompressionForce, 0, nil
	}
	n, err := parseDecimal([]byte(s))
	if err != nil || n <= 0 {
		return CompressionOff, 0, fmt.Errorf("invalid compression setting %q", s)
	}
	return CompressionOn, int(n), nil
}

// Config holds the protocol settings shared by every processor of an
// endpoint. The zero value is usable; unset fields take the defaults above.
//
// A Config must not be mutated once an endpoint is serving with it.
type Config struct {
	// MaxHeaderSize bounds the request line plus headers, and separately the
	// serialized response headers.
	MaxHeaderSize int
	// MaxTrailerSize bounds the trailer section of a chunked request body.
	MaxTrailerSize int
	// MaxExtensionSize bounds the total size of chunk extensions in a body.
	MaxExtensionSize int
	// MaxSwallowSize is the largest unread request body that is drained
	// to keep a connection alive. Larger bodies close the connection.
	// Negative means no limit.
	MaxSwallowSize int64
	// MaxSavePostSize bounds the body buffered while a client certificate is
	// requested.
	MaxSavePostSize int
	// MaxKeepAliveRequests is the number of requests served on one
	// connection. 1 disables keep-alive; zero or a negative value means
	// unlimited. DefaultMaxKeepAliveRequests is the usual deployment value.
	MaxKeepAliveRequests int
	// ConnectionTimeout is the read timeout while a request is in progress.
	ConnectionTimeout time.Duration
	// KeepAliveTimeout is how long an idle kept-alive connection waits for
	// the next request. Zero uses ConnectionTimeout; negative waits forever.
	KeepAliveTimeout time.Duration
	// DisableUploadTimeout keeps ConnectionTimeout while reading bodies.
	// When false, ConnectionUploadTimeout is used once the headers are read.
	DisableUploadTimeout    bool
	ConnectionUploadTimeout time.Duration
	// AsyncTimeout is the default timeout of an asynchronous request.
	AsyncTimeout time.Duration
	// SocketBufferSize is the size of the output aggregation buffer.
	SocketBufferSize int
	// ResponseBufferSize is how much response body is held before the
	// response is committed with an unknown length.
	ResponseBufferSize int

	// Compression enables gzip for responses whose MIME type is listed in
	// CompressibleMimeTypes and whose length is unknown or at least
	// CompressionMinSize.
	Compression           CompressionMode
	CompressionMinSize    int
	CompressibleMimeTypes []string
	// NoCompressionUserAgents excludes matching user agents from compression.
	NoCompressionUserAgents *regexp.Regexp
	// RestrictedUserAgents forces matching clients to HTTP/1.0 semantics
	// without keep-alive.
	RestrictedUserAgents *regexp.Regexp

	// Server, if set, is sent as the Server header unless the application
	// sets one.
	Server string
	// Port is the listener port reported when the request has no Host.
	Port int
	// Sendfile allows adapters to hand files to transports that support it.
	Sendfile bool

	// Logger receives connector logs. Defaults to slog.Default().
	Logger *slog.Logger
	// MeterProvider supplies the connector instruments. Defaults to the
	// global provider.
	MeterProvider metric.MeterProvider

	metrics *connectorMetrics
}

var defaultCompressibleMimeTypes = []string{ //nolint:gochecknoglobals
	"text/html", "text/xml", "text/plain", "text/css", "text/javascript",
	"application/javascript", "application/json", "application/xml",
}

// withDefaults returns a copy with every unset field resolved.
func (c *Config) withDefaults() *Config {
	var resolved Config
	if c != nil {
		resolved = *c
	}
	if resolved.MaxHeaderSize <= 0 {
		resolved.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if resolved.MaxTrailerSize <= 0 {
		resolved.MaxTrailerSize = DefaultMaxTrailerSize
	}
	if resolved.MaxExtensionSize <= 0 {
		resolved.MaxExtensionSize = DefaultMaxExtensionSize
	}
	if resolved.MaxSwallowSize == 0 {
		resolved.MaxSwallowSize = DefaultMaxSwallowSize
	}
	if resolved.MaxSavePostSize <= 0 {
		resolved.MaxSavePostSize = DefaultMaxSavePostSize
	}
	if resolved.ConnectionTimeout == 0 {
		resolved.ConnectionTimeout = DefaultConnectionTimeout
	}
	if resolved.KeepAliveTimeout == 0 {
		resolved.KeepAliveTimeout = resolved.ConnectionTimeout
	}
	if resolved.ConnectionUploadTimeout <= 0 {
		resolved.ConnectionUploadTimeout = DefaultUploadTimeout
	}
	if resolved.AsyncTimeout == 0 {
		resolved.AsyncTimeout = DefaultAsyncTimeout
	}
	if resolved.SocketBufferSize <= 0 {
		resolved.SocketBufferSize = DefaultSocketBufferSize
	}
	if resolved.ResponseBufferSize <= 0 {
		resolved.ResponseBufferSize = DefaultResponseBufferSize
	}
	if resolved.CompressionMinSize <= 0 {
		resolved.CompressionMinSize = DefaultCompressionMinSize
	}
	if resolved.CompressibleMimeTypes == nil {
		resolved.CompressibleMimeTypes = defaultCompressibleMimeTypes
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}
	if resolved.metrics == nil {
		metrics, err := newConnectorMetrics(resolved.MeterProvider)
		if err != nil {
			resolved.Logger.Warn("connector metrics disabled", slog.String("error", err.Error()))
		}
		resolved.metrics = metrics
	}
	return &resolved
}

// Resolved returns a copy of the configuration with defaults applied.
// Endpoints call it once and share the result between processors.
func (c *Config) Resolved() *Config {
	return c.withDefaults()
}
