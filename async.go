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
	"fmt"
	"sync"
	"time"
)

// AsyncState is the state of asynchronous request processing.
type AsyncState int

const (
	AsyncDispatched AsyncState = iota
	AsyncStarting
	AsyncStarted
	AsyncMustComplete
	AsyncCompleting
	AsyncTimingOut
	AsyncMustDispatch
	AsyncDispatching
	AsyncError
)

func (s AsyncState) String() string {
	switch s {
	case AsyncDispatched:
		return "DISPATCHED"
	case AsyncStarting:
		return "STARTING"
	case AsyncStarted:
		return "STARTED"
	case AsyncMustComplete:
		return "MUST_COMPLETE"
	case AsyncCompleting:
		return "COMPLETING"
	case AsyncTimingOut:
		return "TIMING_OUT"
	case AsyncMustDispatch:
		return "MUST_DISPATCH"
	case AsyncDispatching:
		return "DISPATCHING"
	case AsyncError:
		return "ERROR"
	default:
		return fmt.Sprintf("AsyncState(%d)", int(s))
	}
}

func (s AsyncState) isAsync() bool { return s != AsyncDispatched }

func (s AsyncState) isStarted() bool {
	switch s {
	case AsyncStarting, AsyncStarted, AsyncMustComplete, AsyncTimingOut, AsyncMustDispatch:
		return true
	default:
		return false
	}
}

func (s AsyncState) isDispatching() bool {
	switch s {
	case AsyncMustComplete, AsyncCompleting, AsyncMustDispatch, AsyncDispatching:
		return true
	default:
		return false
	}
}

// AsyncStateError reports an async action that is not valid in the current
// state.
type AsyncStateError struct {
	Action string
	State  AsyncState
}

func (e *AsyncStateError) Error() string {
	return fmt.Sprintf("http11: async %s not allowed in state %s", e.Action, e.State)
}

// AsyncStateMachine tracks asynchronous processing of one request. All
// methods are safe for concurrent use: the application may call them from
// any goroutine while the processor runs.
type AsyncStateMachine struct {
	mu         sync.Mutex
	state      AsyncState
	timeout    time.Duration
	lastActive time.Time
	// dispatch resumes the processor with the given status.
	dispatch func(SocketStatus)
}

func newAsyncStateMachine(dispatch func(SocketStatus)) *AsyncStateMachine {
	return &AsyncStateMachine{dispatch: dispatch}
}

// State returns the current state.
func (m *AsyncStateMachine) State() AsyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *AsyncStateMachine) IsAsync() bool       { return m.State().isAsync() }
func (m *AsyncStateMachine) IsAsyncStarted() bool { return m.State().isStarted() }
func (m *AsyncStateMachine) IsAsyncDispatching() bool {
	return m.State().isDispatching()
}
func (m *AsyncStateMachine) IsAsyncTimingOut() bool { return m.State() == AsyncTimingOut }
func (m *AsyncStateMachine) IsAsyncError() bool     { return m.State() == AsyncError }
func (m *AsyncStateMachine) IsCompleting() bool {
	state := m.State()
	return state == AsyncMustComplete || state == AsyncCompleting
}

// SetTimeout sets the async timeout. Zero or negative disables it.
func (m *AsyncStateMachine) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// Expired reports whether async processing has been idle past its timeout.
func (m *AsyncStateMachine) Expired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == AsyncStarted && m.timeout > 0 && now.Sub(m.lastActive) >= m.timeout
}

// Deadline is when the current async operation times out; the zero time
// means never.
func (m *AsyncStateMachine) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.isAsync() || m.timeout <= 0 {
		return time.Time{}
	}
	return m.lastActive.Add(m.timeout)
}

func (m *AsyncStateMachine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AsyncDispatched {
		return &AsyncStateError{Action: "start", State: m.state}
	}
	m.state = AsyncStarting
	m.lastActive = time.Now()
	return nil
}

// PostProcess runs after the adapter returns. It reports StateLong while
// async processing continues and stateAsyncEnd when it finished.
func (m *AsyncStateMachine) PostProcess() (SocketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AsyncStarting:
		m.state = AsyncStarted
		return StateLong, nil
	case AsyncStarted:
		return StateLong, nil
	case AsyncMustComplete, AsyncCompleting:
		m.state = AsyncDispatched
		return stateAsyncEnd, nil
	case AsyncMustDispatch:
		m.state = AsyncDispatching
		return stateAsyncEnd, nil
	case AsyncDispatching:
		m.state = AsyncDispatched
		return stateAsyncEnd, nil
	default:
		return StateClosed, &AsyncStateError{Action: "post process", State: m.state}
	}
}

func (m *AsyncStateMachine) Complete() error {
	doComplete, err := m.complete()
	if err != nil {
		return err
	}
	if doComplete && m.dispatch != nil {
		m.dispatch(StatusOpenRead)
	}
	return nil
}

func (m *AsyncStateMachine) complete() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AsyncStarting:
		m.state = AsyncMustComplete
		return false, nil
	case AsyncStarted:
		m.state = AsyncCompleting
		return true, nil
	case AsyncTimingOut, AsyncError:
		m.state = AsyncMustComplete
		return false, nil
	default:
		return false, &AsyncStateError{Action: "complete", State: m.state}
	}
}

// Timeout moves a started request to TIMING_OUT. It reports false when the
// request already completed or was dispatched.
func (m *AsyncStateMachine) Timeout() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AsyncStarted:
		m.state = AsyncTimingOut
		return true, nil
	case AsyncCompleting, AsyncDispatched, AsyncDispatching:
		return false, nil
	default:
		return false, &AsyncStateError{Action: "timeout", State: m.state}
	}
}

func (m *AsyncStateMachine) Dispatch() error {
	doDispatch, err := m.dispatchTransition()
	if err != nil {
		return err
	}
	if doDispatch && m.dispatch != nil {
		m.dispatch(StatusOpenRead)
	}
	return nil
}

func (m *AsyncStateMachine) dispatchTransition() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AsyncStarting:
		m.state = AsyncMustDispatch
		return false, nil
	case AsyncStarted, AsyncTimingOut, AsyncError:
		m.state = AsyncDispatching
		return true, nil
	default:
		return false, &AsyncStateError{Action: "dispatch", State: m.state}
	}
}

func (m *AsyncStateMachine) Dispatched() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != AsyncDispatching {
		return &AsyncStateError{Action: "dispatched", State: m.state}
	}
	m.state = AsyncDispatched
	return nil
}

func (m *AsyncStateMachine) Error() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case AsyncDispatched, AsyncTimingOut, AsyncStarted:
		m.state = AsyncError
		return nil
	default:
		return &AsyncStateError{Action: "error", State: m.state}
	}
}

// Run starts fn on a separate goroutine through execute while the request
// is async.
func (m *AsyncStateMachine) Run(fn func(), execute func(func())) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state != AsyncStarting && state != AsyncStarted {
		return &AsyncStateError{Action: "run", State: state}
	}
	execute(fn)
	return nil
}

// Touch records activity for timeout purposes.
func (m *AsyncStateMachine) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = time.Now()
}

// Recycle returns the machine to DISPATCHED.
func (m *AsyncStateMachine) Recycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = AsyncDispatched
	m.timeout = 0
	m.lastActive = time.Time{}
}
