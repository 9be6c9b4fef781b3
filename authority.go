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
	"strings"

	"golang.org/x/net/http/httpguts"
)

// authorityScanner splits a Host header value into host and port.
type authorityScanner struct {
	input string // the string being scanned.
	start int    // start position of this token.
	pos   int    // current position in the input.
}

const eof = -1

func (s *authorityScanner) next() int {
	if s.pos >= len(s.input) {
		s.pos = len(s.input) + 1
		return eof
	}
	char := int(s.input[s.pos])
	s.pos++
	return char
}

func (s *authorityScanner) backup() {
	s.pos--
}

func (s *authorityScanner) captureRun(isValid func(c int) bool) string {
	for isValid(s.next()) {
		continue
	}
	s.backup()
	return s.capture()
}

func (s *authorityScanner) consume(expected int) bool {
	if s.next() == expected {
		s.discard()
		return true
	}
	s.backup()
	return false
}

func (s *authorityScanner) discard() {
	s.start = s.pos
}

func (s *authorityScanner) capture() string {
	value := s.input[s.start:s.pos]
	s.discard()
	return value
}

func isDigit(c int) bool {
	return c >= '0' && c <= '9'
}

// parseAuthority returns the host and port of a Host header value. The port
// is -1 when absent. Bracketed IPv6 literals keep their brackets.
func parseAuthority(value string) (host string, port int, err error) {
	value = strings.TrimSpace(value)
	if !httpguts.ValidHostHeader(value) {
		return "", 0, errProtocol("invalid host %q", value)
	}
	scanner := authorityScanner{input: value}
	if scanner.consume('[') {
		scanner.captureRun(func(c int) bool { return c != ']' && c != eof })
		if !scanner.consume(']') {
			return "", 0, errProtocol("unterminated IPv6 literal in host %q", value)
		}
		host = value[:scanner.pos]
	} else {
		host = scanner.captureRun(func(c int) bool { return c != ':' && c != eof })
	}
	port = -1
	if scanner.consume(':') {
		digits := scanner.captureRun(isDigit)
		if scanner.next() != eof {
			return "", 0, errProtocol("invalid port in host %q", value)
		}
		if digits != "" {
			n, perr := parseDecimal([]byte(digits))
			if perr != nil || n > 65535 {
				return "", 0, errProtocol("invalid port in host %q", value)
			}
			port = int(n)
		}
	} else if scanner.next() != eof {
		return "", 0, errProtocol("invalid host %q", value)
	}
	return host, port, nil
}
