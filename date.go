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
	"sync/atomic"
	"time"
)

type cachedDate struct {
	second int64
	value  []byte
}

// dateCache formats the Date header at most once per second.
type dateCache struct {
	current atomic.Pointer[cachedDate]
	now     func() time.Time
}

func newDateCache(now func() time.Time) *dateCache {
	if now == nil {
		now = time.Now
	}
	return &dateCache{now: now}
}

// Value returns the IMF-fixdate for the current second. The returned slice
// must not be modified.
func (c *dateCache) Value() []byte {
	now := c.now()
	second := now.Unix()
	if cur := c.current.Load(); cur != nil && cur.second == second {
		return cur.value
	}
	next := &cachedDate{
		second: second,
		value:  now.UTC().AppendFormat(nil, http.TimeFormat),
	}
	c.current.Store(next)
	return next.value
}

var serverDate = newDateCache(nil) //nolint:gochecknoglobals
