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

package endpoint

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

const (
	acceptInitialInterval = 5 * time.Millisecond
	acceptMaxInterval     = time.Second
)

// Acceptor runs an accept loop: it waits for the gate, takes a connection
// slot, accepts, and hands the connection off. Failed accepts back off
// exponentially so a persistent error such as EMFILE does not spin.
type Acceptor[C any] struct {
	Gate   *Gate
	Slots  *semaphore.Weighted
	Logger *slog.Logger
	// Accept returns the next connection.
	Accept func() (C, error)
	// Handle owns c and must call release once the connection is closed.
	Handle func(c C, release func())
}

// Run accepts until ctx is done or Accept fails with net.ErrClosed.
func (a *Acceptor[C]) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = acceptInitialInterval
	retry.MaxInterval = acceptMaxInterval
	retry.MaxElapsedTime = 0
	for {
		if err := a.Gate.Wait(ctx); err != nil {
			return nil //nolint:nilerr // shutdown
		}
		if err := a.Slots.Acquire(ctx, 1); err != nil {
			return nil //nolint:nilerr // shutdown
		}
		conn, err := a.Accept()
		if err != nil {
			a.Slots.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			wait := retry.NextBackOff()
			a.Logger.Warn("accept failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		retry.Reset()
		var once sync.Once
		a.Handle(conn, func() {
			once.Do(func() { a.Slots.Release(1) })
		})
	}
}
