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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"connectrpc.com/http11"
	"connectrpc.com/http11/blocking"
	"connectrpc.com/http11/native"
	"connectrpc.com/http11/nio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const instrumentationName = "connectrpc.com/http11/cmd/http11d"

// Run serves with config until ctx is done.
func Run(ctx context.Context, config *Config) error {
	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	connector := *config.Connector
	connector.Logger = logger
	if connector.Port == 0 {
		connector.Port = listenPort(config.Address)
	}
	adapter := newAdapter(config.Root, logger)

	switch config.Transport {
	case TransportNIO:
		ln, err := net.Listen("tcp", config.Address)
		if err != nil {
			return err
		}
		ep := &nio.Endpoint{
			Config:         &connector,
			Adapter:        adapter,
			MaxConnections: config.MaxConnections,
			Workers:        config.Workers,
		}
		return ep.Serve(ctx, ln)
	case TransportNative:
		ep := &native.Endpoint{
			Config:         &connector,
			Adapter:        adapter,
			MaxConnections: config.MaxConnections,
			Workers:        config.Workers,
		}
		if err := ep.Listen(config.Address); err != nil {
			return err
		}
		return ep.Serve(ctx)
	default:
		ln, err := net.Listen("tcp", config.Address)
		if err != nil {
			return err
		}
		ep := &blocking.Endpoint{
			Config:         &connector,
			Adapter:        adapter,
			MaxConnections: config.MaxConnections,
			TLSConfig:      config.TLSConfig,
		}
		return ep.Serve(ctx, ln)
	}
}

func newLogger(config *Config) (*slog.Logger, error) {
	if config.OTelLogs {
		return otelslog.NewLogger(instrumentationName), nil
	}
	var level slog.Level
	if config.LogLevel != "" {
		if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func listenPort(address string) int {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func newAdapter(root string, logger *slog.Logger) http11.Adapter {
	if root == "" {
		return &http11.HandlerAdapter{
			Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				_, _ = io.WriteString(w, "Hello, World!\n")
			}),
			Logger: logger,
		}
	}
	return newFileAdapter(root, logger)
}
