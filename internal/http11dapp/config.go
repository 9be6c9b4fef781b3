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
	"crypto/tls"
	"fmt"
	"os"
	"regexp"
	"time"

	"connectrpc.com/http11"
	"gopkg.in/yaml.v3"
)

// Transport names accepted by the daemon.
const (
	TransportBlocking = "blocking"
	TransportNIO      = "nio"
	TransportNative   = "native"
)

// ExternalConfig is the daemon configuration as read from YAML and flags.
type ExternalConfig struct {
	Address   string `yaml:"address"`
	Transport string `yaml:"transport"`
	Root      string `yaml:"root"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	OTelLogs  bool   `yaml:"otel_logs"`
	LogLevel  string `yaml:"log_level"`

	MaxConnections       int64         `yaml:"max_connections"`
	Workers              int64         `yaml:"workers"`
	MaxHeaderSize        int           `yaml:"max_header_size"`
	MaxTrailerSize       int           `yaml:"max_trailer_size"`
	MaxSwallowSize       int64         `yaml:"max_swallow_size"`
	MaxKeepAliveRequests int           `yaml:"max_keep_alive_requests"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	KeepAliveTimeout     time.Duration `yaml:"keep_alive_timeout"`
	DisableUploadTimeout bool          `yaml:"disable_upload_timeout"`
	UploadTimeout        time.Duration `yaml:"upload_timeout"`
	Compression          string        `yaml:"compression"`
	CompressibleTypes    []string      `yaml:"compressible_mime_types"`
	NoCompressionAgents  string        `yaml:"no_compression_user_agents"`
	RestrictedAgents     string        `yaml:"restricted_user_agents"`
	Server               string        `yaml:"server"`
	Sendfile             bool          `yaml:"sendfile"`
}

// Config is the resolved daemon configuration.
type Config struct {
	Address        string
	Transport      string
	Root           string
	OTelLogs       bool
	LogLevel       string
	MaxConnections int64
	Workers        int64
	TLSConfig      *tls.Config
	Connector      *http11.Config
}

// LoadExternalConfig reads a YAML file into cfg. Fields absent from the
// file keep their current values.
func LoadExternalConfig(path string, cfg *ExternalConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func NewConfig(externalConfig ExternalConfig) (*Config, error) {
	config := &Config{
		Address:        externalConfig.Address,
		Transport:      externalConfig.Transport,
		Root:           externalConfig.Root,
		OTelLogs:       externalConfig.OTelLogs,
		LogLevel:       externalConfig.LogLevel,
		MaxConnections: externalConfig.MaxConnections,
		Workers:        externalConfig.Workers,
	}
	switch config.Transport {
	case "":
		config.Transport = TransportBlocking
	case TransportBlocking, TransportNIO, TransportNative:
	default:
		return nil, fmt.Errorf("unknown transport %q", config.Transport)
	}
	if externalConfig.TLSCert != "" && externalConfig.TLSKey != "" {
		if config.Transport != TransportBlocking {
			return nil, fmt.Errorf("tls requires the %s transport", TransportBlocking)
		}
		cert, err := os.ReadFile(externalConfig.TLSCert)
		if err != nil {
			return nil, err
		}
		key, err := os.ReadFile(externalConfig.TLSKey)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(cert, key)
		if err != nil {
			return nil, err
		}
		config.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{certificate},
			ClientAuth:   tls.RequestClientCert,
		}
	}
	connector, err := newConnectorConfig(externalConfig)
	if err != nil {
		return nil, err
	}
	config.Connector = connector
	return config, nil
}

func newConnectorConfig(ext ExternalConfig) (*http11.Config, error) {
	mode, minSize, err := http11.ParseCompressionMode(ext.Compression)
	if err != nil {
		return nil, err
	}
	connector := &http11.Config{
		MaxHeaderSize:           ext.MaxHeaderSize,
		MaxTrailerSize:          ext.MaxTrailerSize,
		MaxSwallowSize:          ext.MaxSwallowSize,
		MaxKeepAliveRequests:    ext.MaxKeepAliveRequests,
		ConnectionTimeout:       ext.ConnectionTimeout,
		KeepAliveTimeout:        ext.KeepAliveTimeout,
		DisableUploadTimeout:    ext.DisableUploadTimeout,
		ConnectionUploadTimeout: ext.UploadTimeout,
		Compression:             mode,
		CompressionMinSize:      minSize,
		CompressibleMimeTypes:   ext.CompressibleTypes,
		Server:                  ext.Server,
		Sendfile:                ext.Sendfile,
	}
	if ext.NoCompressionAgents != "" {
		re, err := regexp.Compile(ext.NoCompressionAgents)
		if err != nil {
			return nil, fmt.Errorf("no_compression_user_agents: %w", err)
		}
		connector.NoCompressionUserAgents = re
	}
	if ext.RestrictedAgents != "" {
		re, err := regexp.Compile(ext.RestrictedAgents)
		if err != nil {
			return nil, fmt.Errorf("restricted_user_agents: %w", err)
		}
		connector.RestrictedUserAgents = re
	}
	return connector, nil
}
