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
	"time"
)

// Adapter is the application side of the connector. The processor calls it
// once the request head is parsed and prepared; the adapter reads the body
// and writes the response through the Request and Response it is given.
type Adapter interface {
	// Service handles a request. A returned error is treated like a panic:
	// the response becomes a 500 if nothing was committed yet and the
	// connection closes after it.
	Service(ctx context.Context, req *Request, resp *Response) error
	// Event delivers a comet event. Returning false closes the connection.
	Event(ctx context.Context, req *Request, resp *Response, status SocketStatus) (bool, error)
	// AsyncDispatch resumes an asynchronous request. Returning false closes
	// the connection.
	AsyncDispatch(ctx context.Context, req *Request, resp *Response, status SocketStatus) (bool, error)
	// Log records a request that never reached Service, such as a parse
	// failure.
	Log(req *Request, resp *Response, elapsed time.Duration)
}

// Executor runs asynchronous work on behalf of a connection. Transports
// that own a worker pool implement it; others get a new goroutine per call.
type Executor interface {
	Execute(fn func())
}
