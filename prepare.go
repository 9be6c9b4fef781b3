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
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// AttrSendfileSupported is set on requests when the adapter may hand the
// response body to the transport as a file.
const AttrSendfileSupported = "http11.sendfile.supported"

const (
	protocolHTTP11 = "HTTP/1.1"
	protocolHTTP10 = "HTTP/1.0"
)

// prepareRequest interprets the parsed head: protocol version, connection
// management, expectations, message framing and the target host.
func (p *Processor) prepareRequest() {
	req := p.req
	p.http11 = true
	p.http09 = false
	contentDelimitation := false
	p.sendfileData = nil

	if p.transport.TLSState() != nil {
		req.Scheme = "https"
	}

	switch {
	case req.protocol.Equal(protocolHTTP11):
		p.http11 = true
	case req.protocol.Equal(protocolHTTP10):
		p.http11 = false
		p.keepAlive = false
	case req.protocol.Len() == 0:
		p.http09 = true
		p.http11 = false
		p.keepAlive = false
	default:
		p.resp.SetStatus(http.StatusHTTPVersionNotSupported)
		p.setErrorState(ErrorCloseClean, errProtocol("unsupported protocol %q", req.Protocol()))
	}

	headers := &req.headers
	if values := headers.Values("connection"); len(values) > 0 {
		if httpguts.HeaderValuesContainsToken(values, "close") {
			p.keepAlive = false
		} else if httpguts.HeaderValuesContainsToken(values, "keep-alive") {
			p.keepAlive = true
		}
	}

	if p.http11 {
		if expect, ok := headers.Get("expect"); ok {
			if strings.EqualFold(strings.TrimSpace(expect), "100-continue") {
				p.in.SetSwallowInput(false)
				req.expectation = true
			} else {
				p.resp.SetStatus(http.StatusExpectationFailed)
				p.setErrorState(ErrorCloseClean, nil)
			}
		}
	}

	if ua := p.cfg.RestrictedUserAgents; ua != nil && (p.http11 || p.keepAlive) {
		if agent, ok := headers.Get("user-agent"); ok && ua.MatchString(agent) {
			p.http11 = false
			p.keepAlive = false
		}
	}

	p.normalizeAbsoluteURI()

	if p.http11 {
		if values := headers.Values("transfer-encoding"); len(values) > 0 {
			// identity is a no-op wherever it appears.
			var codings []string
			for _, coding := range splitTokens(values) {
				if coding != EncodingIdentity {
					codings = append(codings, coding)
				}
			}
		codingLoop:
			for i, coding := range codings {
				switch coding {
				case EncodingChunked:
					if i != len(codings)-1 {
						p.badRequest(errProtocol("chunked is not the final transfer coding"))
						break codingLoop
					}
					p.in.AddActiveFilter(p.inputChunked)
					contentDelimitation = true
				default:
					p.resp.SetStatus(http.StatusNotImplemented)
					p.setErrorState(ErrorCloseClean, errProtocol("unsupported transfer coding %q", coding))
					break codingLoop
				}
			}
		}
	}

	if values := headers.Values("content-length"); len(values) > 0 {
		length, err := parseContentLength(values)
		switch {
		case err != nil:
			p.badRequest(err)
		case contentDelimitation:
			// Transfer-Encoding wins; a conflicting length is dropped.
			headers.Del("content-length")
			req.contentLength = -1
		default:
			req.contentLength = length
			p.in.AddActiveFilter(p.inputIdentity)
			contentDelimitation = true
		}
	}

	p.parseHost()

	if !contentDelimitation {
		p.in.AddActiveFilter(p.inputVoid)
	}

	if p.cfg.Sendfile {
		if _, ok := p.transport.(Sendfiler); ok {
			req.SetAttribute(AttrSendfileSupported, true)
		}
	}

	if p.errorState.IsError() {
		p.adapter.Log(req, p.resp, 0)
	}
}

func (p *Processor) badRequest(err error) {
	p.resp.SetStatus(http.StatusBadRequest)
	p.setErrorState(ErrorCloseClean, err)
}

// normalizeAbsoluteURI rewrites an absolute-form target to origin form and
// makes its authority the Host header.
func (p *Processor) normalizeAbsoluteURI() {
	uri := p.req.uri.String()
	if len(uri) < 7 || !strings.EqualFold(uri[:4], "http") {
		return
	}
	sep := strings.Index(uri, "://")
	if sep < 0 || strings.IndexByte(uri[:sep], '/') >= 0 {
		return
	}
	rest := uri[sep+3:]
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		end = len(rest)
	}
	authority := rest[:end]
	path := rest[end:]
	switch {
	case path == "":
		path = "/"
	case path[0] != '/':
		path = "/" + path
	}
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}
	p.req.SetRequestURI(path)
	p.req.headers.Set("host", authority)
}

// parseHost validates Host and fills in the server name and port.
func (p *Processor) parseHost() {
	req := p.req
	value, ok := req.headers.Get("host")
	if !ok {
		if p.http11 {
			p.badRequest(errProtocol("missing Host header"))
		}
		req.ServerPort = p.cfg.Port
		return
	}
	host, port, err := parseAuthority(value)
	if err != nil {
		p.badRequest(err)
		return
	}
	req.ServerName = host
	switch {
	case port >= 0:
		req.ServerPort = port
	case req.Scheme == "https":
		req.ServerPort = 443
	default:
		req.ServerPort = 80
	}
}

// prepareResponse picks the output filters and serializes the head.
func (p *Processor) prepareResponse() {
	req, resp, out := p.req, p.resp, p.out
	entityBody := true
	contentDelimitation := false
	status := resp.status

	if p.http09 {
		out.AddActiveFilter(p.outputIdentity)
		return
	}
	if p.errorState.IsError() {
		p.keepAlive = false
	}
	if req.expectation && !p.ackSent && (status < 200 || status > 299) {
		p.in.SetSwallowInput(false)
		p.keepAlive = false
	}

	headers := &resp.headers
	headers.Del("Transfer-Encoding")

	if !statusHasBody(status) {
		out.AddActiveFilter(p.outputVoid)
		entityBody = false
		contentDelimitation = true
	}
	isHead := req.method.Equal(http.MethodHead)
	if isHead {
		out.AddActiveFilter(p.outputVoid)
		contentDelimitation = true
	}

	if entityBody && !isHead && p.cfg.Sendfile {
		p.prepareSendfile()
		if p.sendfileData != nil {
			out.AddActiveFilter(p.outputVoid)
			contentDelimitation = true
		}
	}

	compress := false
	if entityBody && !isHead && p.sendfileData == nil && p.compressible() {
		addVary(headers, "Accept-Encoding")
		if p.useCompression() {
			compress = true
			headers.Set("Content-Encoding", EncodingGzip)
			resp.contentLength = -1
		}
	}

	sendLength := false
	if entityBody {
		if resp.contentLength >= 0 {
			sendLength = true
			if !contentDelimitation {
				out.AddActiveFilter(p.outputIdentity)
				contentDelimitation = true
			}
		} else if !contentDelimitation {
			if p.http11 && !connectionClose(headers) {
				out.AddActiveFilter(p.outputChunked)
				headers.Add("Transfer-Encoding", EncodingChunked)
			} else {
				out.AddActiveFilter(p.outputIdentity)
				p.keepAlive = false
			}
			contentDelimitation = true
		}
	}
	if compress {
		out.AddActiveFilter(p.outputGzip)
	}

	if !headers.Has("Date") {
		headers.AddBytes([]byte("Date"), serverDate.Value())
	}
	if p.cfg.Server != "" && !headers.Has("Server") {
		headers.Add("Server", p.cfg.Server)
	}

	p.keepAlive = p.keepAlive && !statusDropsConnection(status)
	if !p.keepAlive {
		if !connectionClose(headers) {
			headers.Add("Connection", "close")
		}
	} else if !p.http11 && !p.errorState.IsError() {
		headers.Add("Connection", "keep-alive")
	}

	out.SendStatus()
	if resp.contentType != "" && entityBody {
		out.SendHeader([]byte("Content-Type"), []byte(resp.contentType))
	}
	if sendLength {
		out.SendHeader([]byte("Content-Length"), strconv.AppendInt(nil, resp.contentLength, 10))
	}
	headers.rangeBytes(func(name, value []byte) bool {
		out.SendHeader(name, value)
		return true
	})
	out.EndHeaders()
}

// compressible reports whether the response body qualifies for gzip,
// independent of what the client accepts.
func (p *Processor) compressible() bool {
	if p.cfg.Compression == CompressionOff {
		return false
	}
	resp := p.resp
	if resp.headers.Has("Content-Encoding") {
		return false
	}
	if p.cfg.Compression == CompressionForce {
		return true
	}
	if resp.contentLength >= 0 && resp.contentLength < int64(p.cfg.CompressionMinSize) {
		return false
	}
	mediaType, _, _ := strings.Cut(resp.contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	for _, candidate := range p.cfg.CompressibleMimeTypes {
		if strings.EqualFold(candidate, mediaType) {
			return true
		}
	}
	return false
}

// useCompression reports whether this client gets a gzip body.
func (p *Processor) useCompression() bool {
	if !httpguts.HeaderValuesContainsToken(p.req.headers.Values("accept-encoding"), EncodingGzip) {
		return false
	}
	if p.cfg.Compression == CompressionForce {
		return true
	}
	if ua := p.cfg.NoCompressionUserAgents; ua != nil {
		if agent, ok := p.req.headers.Get("user-agent"); ok && ua.MatchString(agent) {
			return false
		}
	}
	return true
}

// prepareSendfile turns the sendfile request attributes into a pending
// transfer when the transport supports it.
func (p *Processor) prepareSendfile() {
	if _, ok := p.transport.(Sendfiler); !ok {
		return
	}
	name, ok := p.req.Attribute(AttrSendfileFilename)
	if !ok {
		return
	}
	filename, _ := name.(string)
	start, _ := p.req.Attribute(AttrSendfileStart)
	end, _ := p.req.Attribute(AttrSendfileEnd)
	startPos, _ := start.(int64)
	endPos, _ := end.(int64)
	if filename == "" || endPos < startPos {
		return
	}
	p.sendfileData = &SendfileData{Filename: filename, Start: startPos, End: endPos}
	p.resp.contentLength = endPos - startPos
}

// addVary merges token into the Vary header, leaving "Vary: *" and an
// existing mention of token alone.
func addVary(headers *HeaderSet, token string) {
	values := headers.Values("Vary")
	if len(values) == 0 {
		headers.Add("Vary", token)
		return
	}
	if httpguts.HeaderValuesContainsToken(values, "*") || httpguts.HeaderValuesContainsToken(values, token) {
		return
	}
	headers.Set("Vary", strings.Join(append(values, token), ", "))
}

func connectionClose(headers *HeaderSet) bool {
	return httpguts.HeaderValuesContainsToken(headers.Values("Connection"), "close")
}

// splitTokens returns the lowercased comma-separated tokens of values.
func splitTokens(values []string) []string {
	var tokens []string
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			token = strings.ToLower(strings.TrimSpace(token))
			if token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// parseContentLength accepts repeated Content-Length values only when they
// agree.
func parseContentLength(values []string) (int64, error) {
	length := int64(-1)
	for _, value := range splitTokens(values) {
		n, err := parseDecimal([]byte(value))
		if err != nil {
			return 0, errProtocol("invalid Content-Length %q", value)
		}
		if length >= 0 && n != length {
			return 0, errProtocol("conflicting Content-Length values")
		}
		length = n
	}
	if length < 0 {
		return 0, errProtocol("empty Content-Length")
	}
	return length, nil
}
