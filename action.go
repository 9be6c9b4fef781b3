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

// Action is a side effect requested from the processor by the message
// objects, the buffers or the adapter. The set is closed: only the types in
// this file implement it.
type Action interface {
	isAction()
}

// ActionHook executes actions. The processor is the only implementation
// used by a live connection.
type ActionHook interface {
	Action(Action) error
}

type (
	// ActionCommit prepares and writes the response headers.
	ActionCommit struct{}
	// ActionAck sends the 100 Continue interim response if the client asked
	// for it and nothing was committed yet.
	ActionAck struct{}
	// ActionClientFlush commits and flushes buffered output to the client.
	ActionClientFlush struct{}
	// ActionReset discards uncommitted response state.
	ActionReset struct{}
	// ActionClose finishes the response.
	ActionClose struct{}
	// ActionCloseNow abandons the connection.
	ActionCloseNow struct{}
	// ActionDisableSwallowInput stops draining the request body and closes
	// the connection after the response.
	ActionDisableSwallowInput struct{}
	// ActionSetBodyReplay replaces the request body with Body.
	ActionSetBodyReplay struct{ Body []byte }

	ActionAsyncStart      struct{}
	ActionAsyncDispatch   struct{}
	ActionAsyncDispatched struct{}
	ActionAsyncComplete   struct{}
	ActionAsyncError      struct{}
	// ActionAsyncTimeout reports in Result whether the timeout was accepted.
	ActionAsyncTimeout struct{ Result *bool }
	// ActionAsyncRun runs Run on a goroutine owned by the endpoint.
	ActionAsyncRun struct{ Run func() }
	// ActionAsyncSetTimeout sets the async timeout in milliseconds. Zero or
	// negative disables it.
	ActionAsyncSetTimeout struct{ Millis int64 }

	ActionAsyncIsStarted     struct{ Result *bool }
	ActionAsyncIsDispatching struct{ Result *bool }
	ActionAsyncIsAsync       struct{ Result *bool }
	ActionAsyncIsTimingOut   struct{ Result *bool }
	ActionAsyncIsError       struct{ Result *bool }
	ActionAsyncIsCompleting  struct{ Result *bool }

	// ActionUpgrade hands the connection to Handler after the response.
	ActionUpgrade struct{ Handler UpgradeHandler }

	// The request attribute actions fill in fields of the request.
	ActionReqHostAddr   struct{}
	ActionReqHost       struct{}
	ActionReqLocalName  struct{}
	ActionReqLocalAddr  struct{}
	ActionReqLocalPort  struct{}
	ActionReqRemotePort struct{}
	// ActionReqSSLAttribute stores the negotiated TLS session attributes on
	// the request.
	ActionReqSSLAttribute struct{}
	// ActionReqSSLCertificate buffers the request body and stores the peer
	// certificate chain on the request.
	ActionReqSSLCertificate struct{}

	ActionCometBegin      struct{}
	ActionCometEnd        struct{}
	ActionCometClose      struct{}
	ActionCometSetTimeout struct{ Millis int64 }

	// ActionAvailable stores the number of body bytes readable without
	// blocking.
	ActionAvailable struct{ Result *int }
)

func (ActionCommit) isAction()              {}
func (ActionAck) isAction()                 {}
func (ActionClientFlush) isAction()         {}
func (ActionReset) isAction()               {}
func (ActionClose) isAction()               {}
func (ActionCloseNow) isAction()            {}
func (ActionDisableSwallowInput) isAction() {}
func (ActionSetBodyReplay) isAction()       {}
func (ActionAsyncStart) isAction()          {}
func (ActionAsyncDispatch) isAction()       {}
func (ActionAsyncDispatched) isAction()     {}
func (ActionAsyncComplete) isAction()       {}
func (ActionAsyncError) isAction()          {}
func (ActionAsyncTimeout) isAction()        {}
func (ActionAsyncRun) isAction()            {}
func (ActionAsyncSetTimeout) isAction()     {}
func (ActionAsyncIsStarted) isAction()      {}
func (ActionAsyncIsDispatching) isAction()  {}
func (ActionAsyncIsAsync) isAction()        {}
func (ActionAsyncIsTimingOut) isAction()    {}
func (ActionAsyncIsError) isAction()        {}
func (ActionAsyncIsCompleting) isAction()   {}
func (ActionUpgrade) isAction()             {}
func (ActionReqHostAddr) isAction()         {}
func (ActionReqHost) isAction()             {}
func (ActionReqLocalName) isAction()        {}
func (ActionReqLocalAddr) isAction()        {}
func (ActionReqLocalPort) isAction()        {}
func (ActionReqRemotePort) isAction()       {}
func (ActionReqSSLAttribute) isAction()     {}
func (ActionReqSSLCertificate) isAction()   {}
func (ActionCometBegin) isAction()          {}
func (ActionCometEnd) isAction()            {}
func (ActionCometClose) isAction()          {}
func (ActionCometSetTimeout) isAction()     {}
func (ActionAvailable) isAction()           {}
