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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "connectrpc.com/http11"

// connectorMetrics are the instruments shared by the processors of one
// endpoint.
type connectorMetrics struct {
	requests           metric.Int64Counter
	requestBodySize    metric.Int64Counter
	responseBodySize   metric.Int64Counter
	keepAliveExhausted metric.Int64Counter
}

func newConnectorMetrics(provider metric.MeterProvider) (*connectorMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	var (
		metrics connectorMetrics
		err     error
	)
	metrics.requests, err = meter.Int64Counter("http11.server.requests",
		metric.WithDescription("The number of requests processed"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	metrics.requestBodySize, err = meter.Int64Counter("http11.server.request.body.size",
		metric.WithDescription("Request body bytes read by the application"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	metrics.responseBodySize, err = meter.Int64Counter("http11.server.response.body.size",
		metric.WithDescription("Response body bytes written by the application"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	metrics.keepAliveExhausted, err = meter.Int64Counter("http11.server.keepalive.exhausted",
		metric.WithDescription("Connections closed because they reached the keep-alive request limit"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}
	return &metrics, nil
}

func (m *connectorMetrics) recordRequest(ctx context.Context, req *Request, resp *Response) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", req.Method()),
		attribute.Int("http.response.status_code", resp.Status()),
		attribute.String("network.protocol.version", protocolVersion(req.Protocol())),
	)
	m.requests.Add(ctx, 1, attrs)
	m.requestBodySize.Add(ctx, req.BytesRead(), attrs)
	m.responseBodySize.Add(ctx, resp.BytesWritten(), attrs)
}

func (m *connectorMetrics) recordKeepAliveExhausted(ctx context.Context) {
	if m == nil {
		return
	}
	m.keepAliveExhausted.Add(ctx, 1)
}

func protocolVersion(protocol string) string {
	switch protocol {
	case "HTTP/1.1":
		return "1.1"
	case "HTTP/1.0":
		return "1.0"
	case "":
		return "0.9"
	default:
		return protocol
	}
}
