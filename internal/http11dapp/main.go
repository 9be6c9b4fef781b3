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

// Package http11dapp is the http11d daemon: it loads configuration, sets up
// logging and runs one endpoint until interrupted.
package http11dapp

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"connectrpc.com/http11"
)

func Main(arguments []string) error {
	flags := flag.NewFlagSet("http11d", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML configuration file")
	address := flags.String("address", ":8080", "address to listen on")
	transport := flags.String("transport", TransportBlocking, "endpoint: blocking, nio or native")
	root := flags.String("root", "", "directory to serve; empty serves a greeting")
	tlsCertName := flags.String("tls-cert", "", "path to tls certificate")
	tlsKeyName := flags.String("tls-key", "", "path to tls private key")
	otelLogs := flags.Bool("otel-logs", false, "send logs through the OpenTelemetry log bridge")
	logLevel := flags.String("log-level", "info", "debug, info, warn or error")
	compression := flags.String("compression", "off", "off, on, force or a minimum size in bytes")
	maxKeepAlive := flags.Int("max-keep-alive-requests", http11.DefaultMaxKeepAliveRequests,
		"requests served per connection; 1 disables keep-alive, 0 or less is unlimited")
	err := flags.Parse(arguments)
	if err != nil {
		return err
	}

	external := ExternalConfig{
		Address:     *address,
		Transport:   *transport,
		Root:        *root,
		TLSCert:     *tlsCertName,
		TLSKey:      *tlsKeyName,
		OTelLogs:    *otelLogs,
		LogLevel:    *logLevel,
		Compression: *compression,

		MaxKeepAliveRequests: *maxKeepAlive,
	}
	if *configPath != "" {
		if err := LoadExternalConfig(*configPath, &external); err != nil {
			return err
		}
		// Flags given explicitly win over the file.
		flags.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "address":
				external.Address = *address
			case "transport":
				external.Transport = *transport
			case "root":
				external.Root = *root
			case "tls-cert":
				external.TLSCert = *tlsCertName
			case "tls-key":
				external.TLSKey = *tlsKeyName
			case "otel-logs":
				external.OTelLogs = *otelLogs
			case "log-level":
				external.LogLevel = *logLevel
			case "compression":
				external.Compression = *compression
			case "max-keep-alive-requests":
				external.MaxKeepAliveRequests = *maxKeepAlive
			}
		})
	}

	config, err := NewConfig(external)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, config)
}
