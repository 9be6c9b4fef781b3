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
//go:build !linux

package native

import (
	"context"
	"errors"
	"net"
)

type listener struct {
	addr net.Addr
}

// Listen is only implemented on Linux.
func (e *Endpoint) Listen(string) error {
	return errors.ErrUnsupported
}

// Serve is only implemented on Linux.
func (e *Endpoint) Serve(context.Context) error {
	return errors.ErrUnsupported
}
