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
)

// statusDropsConnection lists the final statuses after which the connection
// is closed regardless of what the client asked for.
func statusDropsConnection(status int) bool {
	switch status {
	case http.StatusBadRequest, // 400
		http.StatusRequestTimeout,        // 408
		http.StatusLengthRequired,        // 411
		http.StatusRequestEntityTooLarge, // 413
		http.StatusRequestURITooLong,     // 414
		http.StatusInternalServerError,   // 500
		http.StatusNotImplemented,        // 501
		http.StatusServiceUnavailable:    // 503
		return true
	default:
		return false
	}
}

// statusHasBody reports whether a response with this status may carry an
// entity body.
func statusHasBody(status int) bool {
	switch {
	case status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusResetContent, status == http.StatusNotModified:
		return false
	default:
		return true
	}
}

// statusLines holds the serialized status line of every registered code.
var statusLines = func() map[int][]byte { //nolint:gochecknoglobals
	lines := make(map[int][]byte)
	for code := 100; code < 600; code++ {
		if text := http.StatusText(code); text != "" {
			lines[code] = []byte("HTTP/1.1 " + strconv.Itoa(code) + " " + text + "\r\n")
		}
	}
	return lines
}()

// reasonPhrase returns the default reason phrase, falling back to a generic
// one for unregistered codes.
func reasonPhrase(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	switch {
	case status < 200:
		return "Informational"
	case status < 300:
		return "Success"
	case status < 400:
		return "Redirection"
	case status < 500:
		return "Client Error"
	default:
		return "Server Error"
	}
}
