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
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRequestHeaderTooLarge is returned when the request line and headers
	// do not fit in MaxHeaderSize.
	ErrRequestHeaderTooLarge = errors.New("http11: request header too large")
	// ErrResponseHeadersTooLarge is returned when the serialized response
	// headers do not fit in MaxHeaderSize. The response may still be reset
	// if it has not been committed.
	ErrResponseHeadersTooLarge = errors.New("http11: response headers too large")
	ErrChunkOverflow           = errors.New("http11: byte chunk limit exceeded")
	ErrInvalidChunk            = errors.New("http11: invalid chunk header")
	ErrTrailerTooLarge         = errors.New("http11: chunk trailer or extension too large")
	ErrBodyTooLarge            = errors.New("http11: request body too large to buffer")
	ErrSwallowTooLarge         = errors.New("http11: unread request body exceeds swallow limit")
	ErrCommitted               = errors.New("http11: response already committed")
	ErrUnexpectedEOF           = errors.New("http11: unexpected end of stream")
	ErrUnsupported             = errors.New("http11: action not supported by transport")
)

func errProtocol(msg string, args ...any) error {
	return fmt.Errorf("protocol error: "+msg, args...)
}

// statusError is a protocol failure that maps onto a response status.
type statusError struct {
	code  int
	cause error
}

func (e *statusError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d %s: %v", e.code, http.StatusText(e.code), e.cause)
	}
	return http.StatusText(e.code)
}

func (e *statusError) Unwrap() error { return e.cause }

func newStatusError(code int, cause error) *statusError {
	return &statusError{code: code, cause: cause}
}

// ErrorState is the processor's error classification. States only escalate
// within one request.
type ErrorState int

const (
	// ErrorNone means no error occurred.
	ErrorNone ErrorState = iota
	// ErrorCloseClean finishes the current exchange (a best-effort response
	// may still be written) and then closes the connection.
	ErrorCloseClean
	// ErrorCloseNow abandons the connection without further I/O.
	ErrorCloseNow
)

// IsError reports whether the connection must close.
func (s ErrorState) IsError() bool { return s != ErrorNone }

// IsIOAllowed reports whether reads and writes may still be attempted.
func (s ErrorState) IsIOAllowed() bool { return s != ErrorCloseNow }

func (s ErrorState) String() string {
	switch s {
	case ErrorNone:
		return "none"
	case ErrorCloseClean:
		return "close-clean"
	case ErrorCloseNow:
		return "close-now"
	default:
		return fmt.Sprintf("ErrorState(%d)", int(s))
	}
}
