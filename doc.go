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

// Package http11 implements the HTTP/1.1 wire protocol on the server side:
// an incremental request parser, the transfer-coding filter chains for
// request and response bodies, and the per-connection processor that runs
// the keep-alive loop and hands requests to an Adapter.
//
// The package does no socket I/O of its own. Endpoints supply a Transport
// for each connection; see the blocking, nio and native packages. The same
// parser and processor run on all of them.
//
// A minimal server looks like:
//
//	ep := &blocking.Endpoint{
//		Adapter: &http11.HandlerAdapter{Handler: mux},
//	}
//	ln, _ := net.Listen("tcp", ":8080")
//	_ = ep.Serve(ctx, ln)
package http11
