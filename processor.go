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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Processor runs the HTTP/1.1 exchange loop of one connection at a time. It
// owns the request, the response and both buffers, and it is reused across
// connections through a ProcessorPool.
type Processor struct {
	cfg     *Config
	logger  *slog.Logger
	adapter Adapter
	metrics *connectorMetrics
	pauser  Pauser

	transport Transport
	req       *Request
	resp      *Response
	in        *InputBuffer
	out       *OutputBuffer
	async     *AsyncStateMachine

	inputIdentity  *IdentityInputFilter
	inputChunked   *ChunkedInputFilter
	inputVoid      *VoidInputFilter
	inputBuffered  *BufferedInputFilter
	outputIdentity *IdentityOutputFilter
	outputChunked  *ChunkedOutputFilter
	outputVoid     *VoidOutputFilter
	outputGzip     *GzipOutputFilter

	errorState   ErrorState
	keepAlive    bool
	openSocket   bool
	readComplete bool
	keptAlive    bool
	http11       bool
	http09       bool
	ackSent      bool
	comet        bool
	cometTimeout time.Duration

	// keepAliveLeft counts the requests still allowed on the bound
	// connection; it survives NextRequest and resets on a new connection.
	keepAliveLeft int

	upgradeHandler     UpgradeHandler
	sendfileData       *SendfileData
	sendfileInProgress bool

	stage      atomic.Int32
	checkedOut atomic.Bool
}

// NewProcessor returns a processor serving adapter with cfg. The Config is
// resolved if it was not already.
func NewProcessor(cfg *Config, adapter Adapter) *Processor {
	cfg = cfg.withDefaults()
	p := &Processor{
		cfg:     cfg,
		logger:  cfg.Logger,
		adapter: adapter,
		metrics: cfg.metrics,
		req:     newRequest(),
		resp:    newResponse(cfg.ResponseBufferSize),
	}
	p.in = NewInputBuffer(p.req, cfg.MaxHeaderSize, cfg.Logger)
	p.out = NewOutputBuffer(p.resp, cfg.MaxHeaderSize, cfg.SocketBufferSize)
	p.async = newAsyncStateMachine(p.dispatch)

	p.req.hook = p
	p.req.input = p.in
	p.resp.hook = p
	p.resp.out = p.out

	p.inputIdentity = NewIdentityInputFilter(cfg.MaxSwallowSize)
	p.inputChunked = NewChunkedInputFilter(cfg.MaxTrailerSize, cfg.MaxExtensionSize, cfg.MaxSwallowSize)
	p.inputVoid = &VoidInputFilter{}
	p.inputBuffered = NewBufferedInputFilter(cfg.MaxSavePostSize)
	p.in.AddFilter(p.inputIdentity)
	p.in.AddFilter(p.inputChunked)
	p.in.AddFilter(p.inputVoid)
	p.in.AddFilter(p.inputBuffered)

	p.outputIdentity = NewIdentityOutputFilter()
	p.outputChunked = NewChunkedOutputFilter()
	p.outputVoid = &VoidOutputFilter{}
	p.outputGzip = NewGzipOutputFilter()
	p.out.AddFilter(p.outputIdentity)
	p.out.AddFilter(p.outputChunked)
	p.out.AddFilter(p.outputVoid)
	p.out.AddFilter(p.outputGzip)
	return p
}

// SetPauser lets the processor see whether its endpoint is paused.
func (p *Processor) SetPauser(pauser Pauser) { p.pauser = pauser }

// Request returns the current request.
func (p *Processor) Request() *Request { return p.req }

// Response returns the current response.
func (p *Processor) Response() *Response { return p.resp }

// Async returns the async state machine of the current request.
func (p *Processor) Async() *AsyncStateMachine { return p.async }

// Stage reports where the processor is within the current exchange. It is
// safe to call from any goroutine.
func (p *Processor) Stage() Stage { return Stage(p.stage.Load()) }

func (p *Processor) setStage(s Stage) { p.stage.Store(int32(s)) }

// AsyncTimeout is the default timeout applied to asynchronous requests.
func (p *Processor) AsyncTimeout() time.Duration { return p.cfg.AsyncTimeout }

// ErrorState returns the error classification of the current request.
func (p *Processor) ErrorState() ErrorState { return p.errorState }

// IsComet reports whether the current request is a comet request.
func (p *Processor) IsComet() bool { return p.comet }

// CometTimeout is the timeout requested by a comet request, zero if none.
func (p *Processor) CometTimeout() time.Duration { return p.cometTimeout }

// UpgradeHandler returns the handler registered by an upgrade action.
func (p *Processor) UpgradeHandler() UpgradeHandler { return p.upgradeHandler }

// SendfileData returns the pending file transfer, if any.
func (p *Processor) SendfileData() *SendfileData { return p.sendfileData }

// Leftover returns bytes read past the last request, for an upgrade handler.
func (p *Processor) Leftover() []byte { return p.in.Leftover() }

// HasBufferedInput reports whether unparsed bytes are waiting in the input
// buffer, such as a pipelined request.
func (p *Processor) HasBufferedInput() bool { return p.in.Buffered() > 0 }

func (p *Processor) isAsync() bool { return p.async.IsAsync() }

func (p *Processor) paused() bool { return p.pauser != nil && p.pauser.IsPaused() }

func (p *Processor) setErrorState(state ErrorState, err error) {
	if state > p.errorState {
		p.errorState = state
	}
	if err != nil && p.logger.Enabled(context.Background(), slog.LevelDebug) {
		p.logger.Debug("connection error",
			slog.String("state", state.String()),
			slog.String("error", err.Error()))
	}
}

func (p *Processor) dispatch(status SocketStatus) {
	if t := p.transport; t != nil {
		t.Dispatch(status)
	}
}

func (p *Processor) bind(t Transport) {
	if p.transport != t {
		p.keepAliveLeft = p.cfg.MaxKeepAliveRequests
	}
	p.transport = t
	p.in.Init(t)
	p.out.Init(t)
}

// Dispatch is the entry point used by endpoints. It routes the status to
// the exchange loop, the async path or the comet path, and runs the async
// finishing sequence until the processor settles in a state the endpoint
// acts on.
func (p *Processor) Dispatch(ctx context.Context, t Transport, status SocketStatus) SocketState {
	p.bind(t)
	switch status {
	case StatusStop, StatusDisconnect, StatusError:
		p.setErrorState(ErrorCloseNow, nil)
		if !p.comet && !p.isAsync() {
			return StateClosed
		}
	}
	state := StateClosed
	first := true
	for {
		switch {
		case p.comet:
			state = p.Event(ctx, status)
		case p.isAsync() || state == stateAsyncEnd:
			state = p.AsyncDispatch(ctx, status)
		case first || (state == StateOpen && p.HasBufferedInput()):
			state = p.Process(ctx, t)
		}
		first = false
		if state != StateClosed && p.isAsync() {
			var err error
			state, err = p.async.PostProcess()
			if err != nil {
				p.logger.Error("async post processing failed", slog.String("error", err.Error()))
				p.setErrorState(ErrorCloseNow, err)
				return StateClosed
			}
		}
		if state == stateAsyncEnd {
			continue
		}
		if state == StateOpen && p.HasBufferedInput() && p.errorState == ErrorNone {
			continue
		}
		return state
	}
}

// Process runs the keep-alive loop: parse a request, prepare it, hand it to
// the adapter, finish it, and go again while the connection stays usable.
func (p *Processor) Process(ctx context.Context, t Transport) SocketState {
	p.bind(t)
	p.errorState = ErrorNone
	p.keepAlive = true
	p.comet = false
	p.openSocket = false
	p.sendfileInProgress = false
	p.readComplete = true
	p.keptAlive = false
	nonBlocking := t.NonBlocking()

	for !p.errorState.IsError() && p.keepAlive && !p.comet && !p.isAsync() &&
		p.upgradeHandler == nil && !p.paused() {
		p.http11, p.http09 = true, false
		p.setStage(StageParse)

		if !nonBlocking {
			if err := t.SetReadTimeout(p.firstReadTimeout()); err != nil {
				p.setErrorState(ErrorCloseNow, err)
				break
			}
		}
		ok, err := p.in.ParseRequestLine(!nonBlocking)
		if err != nil {
			if p.handleParseError(err) {
				break
			}
		} else if !ok {
			if p.handleIncompleteRequestLine() {
				break
			}
		}
		if !p.errorState.IsError() {
			if p.paused() {
				p.resp.SetStatus(http.StatusServiceUnavailable)
				p.setErrorState(ErrorCloseClean, nil)
			} else {
				p.keptAlive = true
				if !nonBlocking {
					if err := t.SetReadTimeout(p.cfg.ConnectionTimeout); err != nil {
						p.setErrorState(ErrorCloseNow, err)
						break
					}
				}
				ok, err := true, error(nil)
				if p.req.protocol.Len() == 0 {
					// HTTP/0.9 requests carry no headers.
					p.in.skipHeaders()
				} else {
					ok, err = p.in.ParseHeaders(!nonBlocking)
				}
				if err != nil {
					if p.handleParseError(err) {
						break
					}
				} else if !ok {
					p.openSocket = true
					p.readComplete = false
					break
				}
				if !p.errorState.IsError() && !p.cfg.DisableUploadTimeout && !nonBlocking {
					if err := t.SetReadTimeout(p.cfg.ConnectionUploadTimeout); err != nil {
						p.setErrorState(ErrorCloseNow, err)
						break
					}
				}
			}
		}

		if !p.errorState.IsError() {
			p.setStage(StagePrepare)
			p.prepareRequest()
		}
		if p.cfg.MaxKeepAliveRequests == 1 {
			p.keepAlive = false
		} else if p.cfg.MaxKeepAliveRequests > 0 {
			p.keepAliveLeft--
			if p.keepAliveLeft <= 0 {
				p.keepAlive = false
				p.metrics.recordKeepAliveExhausted(ctx)
			}
		}

		if !p.errorState.IsError() {
			p.setStage(StageService)
			p.service(ctx)
		}

		if !p.isAsync() && !p.comet {
			p.endRequest()
		}
		if !p.isAsync() && !p.comet {
			p.metrics.recordRequest(ctx, p.req, p.resp)
		}
		if (!p.isAsync() && !p.comet) || p.errorState.IsError() {
			p.in.NextRequest()
			p.out.NextRequest()
			p.ackSent = false
		}
		p.setStage(StageKeepAlive)
		if !nonBlocking && !p.cfg.DisableUploadTimeout && p.errorState.IsIOAllowed() {
			if err := t.SetReadTimeout(p.cfg.ConnectionTimeout); err != nil {
				p.setErrorState(ErrorCloseNow, err)
			}
		}
		if p.breakKeepAliveLoop() {
			break
		}
	}

	p.setStage(StageEnded)
	switch {
	case p.errorState.IsError() || p.paused():
		return StateClosed
	case p.isAsync() || p.comet:
		return StateLong
	case p.upgradeHandler != nil:
		return StateUpgrading
	case p.sendfileInProgress:
		return StateSendfile
	case p.openSocket:
		if p.readComplete {
			return StateOpen
		}
		return StateLong
	default:
		return StateClosed
	}
}

// firstReadTimeout is the read timeout for the request line. A kept-alive
// connection only waits for what is left of the keep-alive timeout.
func (p *Processor) firstReadTimeout() time.Duration {
	if !p.keptAlive {
		return p.cfg.ConnectionTimeout
	}
	if p.cfg.KeepAliveTimeout < 0 {
		return 0
	}
	remaining := p.cfg.KeepAliveTimeout - time.Since(p.transport.LastAccess())
	return max(remaining, time.Millisecond)
}

// handleIncompleteRequestLine runs when a non-blocking read ran out of data
// in the request line. It reports whether the loop should stop and wait for
// the transport to signal more input.
func (p *Processor) handleIncompleteRequestLine() bool {
	p.openSocket = true
	if p.in.ParsingRequestLineStarted() {
		if p.paused() {
			p.resp.SetStatus(http.StatusServiceUnavailable)
			p.setErrorState(ErrorCloseClean, nil)
			return false
		}
		p.readComplete = false
	}
	return true
}

// handleParseError classifies a failure to read the request head. It
// reports whether the connection is unusable and the loop must stop without
// writing a response.
func (p *Processor) handleParseError(err error) bool {
	var statusErr *statusError
	switch {
	case errors.As(err, &statusErr):
		p.logger.Debug("request parse failed", slog.String("error", err.Error()))
		p.resp.SetStatus(statusErr.code)
		p.setErrorState(ErrorCloseClean, err)
		p.adapter.Log(p.req, p.resp, 0)
		return false
	case errors.Is(err, io.EOF), errors.Is(err, ErrUnexpectedEOF):
		p.setErrorState(ErrorCloseNow, nil)
	default:
		p.setErrorState(ErrorCloseNow, err)
	}
	return true
}

func (p *Processor) service(ctx context.Context) {
	err := p.callService(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrResponseHeadersTooLarge):
		p.handleHeadersTooLarge(err)
	default:
		p.logger.Error("error processing request",
			slog.String("method", p.req.Method()),
			slog.String("uri", p.req.RequestURI()),
			slog.String("error", err.Error()))
		if !p.resp.committed {
			p.resetResponse()
			p.resp.SetStatus(http.StatusInternalServerError)
		}
		p.setErrorState(ErrorCloseClean, err)
		p.adapter.Log(p.req, p.resp, 0)
	}
	if p.keepAlive && !p.errorState.IsError() && !p.isAsync() && statusDropsConnection(p.resp.status) {
		p.setErrorState(ErrorCloseClean, nil)
	}
}

func (p *Processor) callService(ctx context.Context) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				retErr = fmt.Errorf("panic in adapter: %w", err)
			} else {
				retErr = fmt.Errorf("panic in adapter: %v", r)
			}
		}
	}()
	return p.adapter.Service(ctx, p.req, p.resp)
}

func (p *Processor) handleHeadersTooLarge(err error) {
	if p.resp.committed {
		p.setErrorState(ErrorCloseNow, err)
		return
	}
	p.resetResponse()
	p.resp.SetStatus(http.StatusInternalServerError)
	p.resp.contentLength = 0
	p.setErrorState(ErrorCloseClean, err)
}

func (p *Processor) resetResponse() {
	p.resp.resetState()
	_ = p.out.Reset()
	p.out.resetFilters()
}

// endRequest finishes both directions of the current exchange.
func (p *Processor) endRequest() {
	if p.errorState.IsError() {
		p.in.SetSwallowInput(false)
	} else {
		p.checkExpectationAndResponseStatus()
	}
	p.setStage(StageEndInput)
	if p.errorState.IsIOAllowed() {
		if err := p.in.EndRequest(); err != nil {
			// The request stream is unusable but the response can still go
			// out before the connection closes.
			if errors.Is(err, ErrSwallowTooLarge) || errors.Is(err, ErrInvalidChunk) ||
				errors.Is(err, ErrTrailerTooLarge) {
				p.setErrorState(ErrorCloseClean, err)
			} else {
				p.setErrorState(ErrorCloseNow, err)
			}
		}
	}
	if p.errorState.IsIOAllowed() {
		if err := p.resp.finishBody(); err != nil {
			if errors.Is(err, ErrResponseHeadersTooLarge) {
				p.handleHeadersTooLarge(err)
			} else {
				p.setErrorState(ErrorCloseNow, err)
			}
		}
	}
	p.setStage(StageEndOutput)
	if p.errorState.IsIOAllowed() {
		if err := p.out.EndRequest(); err != nil {
			if errors.Is(err, ErrResponseHeadersTooLarge) {
				p.handleHeadersTooLarge(err)
				err = p.out.EndRequest()
			}
			if err != nil {
				p.setErrorState(ErrorCloseNow, err)
			}
		}
	}
}

// checkExpectationAndResponseStatus closes the connection when the client
// was told to wait for 100 Continue but got a final error status instead:
// its body never arrives and cannot be drained.
func (p *Processor) checkExpectationAndResponseStatus() {
	if p.req.expectation && !p.ackSent && (p.resp.status < 200 || p.resp.status > 299) {
		p.in.SetSwallowInput(false)
		p.keepAlive = false
	}
}

func (p *Processor) breakKeepAliveLoop() bool {
	p.openSocket = p.keepAlive
	if p.sendfileData != nil && !p.errorState.IsError() {
		p.sendfileData.KeepAlive = p.keepAlive
		sendfiler, ok := p.transport.(Sendfiler)
		if !ok {
			p.setErrorState(ErrorCloseNow, ErrUnsupported)
			return true
		}
		switch sendfiler.Sendfile(p.sendfileData) {
		case SendfileDone:
			p.sendfileData = nil
			return false
		case SendfilePending:
			p.sendfileInProgress = true
			return true
		default:
			p.sendfileData = nil
			p.setErrorState(ErrorCloseNow, nil)
			return true
		}
	}
	return false
}

// AsyncDispatch resumes an asynchronous request.
func (p *Processor) AsyncDispatch(ctx context.Context, status SocketStatus) SocketState {
	ok, err := p.callAsyncDispatch(ctx, status)
	switch {
	case err != nil:
		p.logger.Error("error during async dispatch", slog.String("error", err.Error()))
		if !p.resp.committed {
			p.resetResponse()
			p.resp.SetStatus(http.StatusInternalServerError)
		}
		p.setErrorState(ErrorCloseNow, err)
		p.adapter.Log(p.req, p.resp, 0)
	case !ok:
		p.setErrorState(ErrorCloseNow, nil)
	}
	p.async.Touch()

	switch {
	case p.errorState.IsError():
		return StateClosed
	case p.isAsync():
		return StateLong
	case !p.keepAlive:
		p.endRequest()
		p.metrics.recordRequest(ctx, p.req, p.resp)
		return StateClosed
	default:
		p.endRequest()
		p.metrics.recordRequest(ctx, p.req, p.resp)
		p.in.NextRequest()
		p.out.NextRequest()
		p.ackSent = false
		if p.errorState.IsError() {
			return StateClosed
		}
		return StateOpen
	}
}

func (p *Processor) callAsyncDispatch(ctx context.Context, status SocketStatus) (ok bool, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			ok, retErr = false, fmt.Errorf("panic in adapter: %v", r)
		}
	}()
	return p.adapter.AsyncDispatch(ctx, p.req, p.resp, status)
}

// Event delivers a comet event to the adapter.
func (p *Processor) Event(ctx context.Context, status SocketStatus) SocketState {
	ok, err := p.adapter.Event(ctx, p.req, p.resp, status)
	switch {
	case err != nil:
		p.logger.Error("error during comet event", slog.String("error", err.Error()))
		p.setErrorState(ErrorCloseNow, err)
		p.adapter.Log(p.req, p.resp, 0)
	case !ok:
		p.setErrorState(ErrorCloseNow, nil)
	}
	switch {
	case p.errorState.IsError() || status == StatusStop:
		return StateClosed
	case !p.comet:
		if !p.keepAlive {
			return StateClosed
		}
		p.endRequest()
		p.in.NextRequest()
		p.out.NextRequest()
		if p.errorState.IsError() {
			return StateClosed
		}
		return StateOpen
	default:
		return StateLong
	}
}

// Recycle unbinds the processor from its connection.
func (p *Processor) Recycle() {
	p.in.Recycle()
	p.out.Recycle()
	p.async.Recycle()
	p.transport = nil
	p.errorState = ErrorNone
	p.keepAlive = true
	p.comet = false
	p.cometTimeout = 0
	p.ackSent = false
	p.upgradeHandler = nil
	p.sendfileData = nil
	p.sendfileInProgress = false
	p.keepAliveLeft = 0
	p.setStage(StageEnded)
}

// Action executes a side effect requested by the request, the response or
// the adapter.
func (p *Processor) Action(a Action) error {
	switch a := a.(type) {
	case ActionCommit:
		return p.commit()
	case ActionAck:
		if p.resp.committed || !p.req.expectation || p.ackSent {
			return nil
		}
		p.in.SetSwallowInput(true)
		p.ackSent = true
		if err := p.out.SendAck(); err != nil {
			p.setErrorState(ErrorCloseNow, err)
			return err
		}
		return nil
	case ActionClientFlush:
		if err := p.out.Flush(); err != nil {
			p.setErrorState(ErrorCloseNow, err)
			return err
		}
		return nil
	case ActionReset:
		p.resp.resetState()
		if err := p.out.Reset(); err != nil {
			return err
		}
		p.out.resetFilters()
		return nil
	case ActionClose:
		p.comet = false
		if err := p.resp.finishBody(); err != nil {
			p.setErrorState(ErrorCloseNow, err)
			return err
		}
		if err := p.out.EndRequest(); err != nil {
			p.setErrorState(ErrorCloseNow, err)
			return err
		}
		return nil
	case ActionCloseNow:
		p.in.SetSwallowInput(false)
		p.setErrorState(ErrorCloseNow, nil)
		return nil
	case ActionDisableSwallowInput:
		p.setErrorState(ErrorCloseClean, nil)
		p.in.SetSwallowInput(false)
		return nil
	case ActionSetBodyReplay:
		p.in.AddActiveFilter(NewSavedRequestInputFilter(a.Body))
		return nil
	case ActionAsyncStart:
		if err := p.async.Start(); err != nil {
			return err
		}
		if p.cfg.AsyncTimeout > 0 {
			p.async.SetTimeout(p.cfg.AsyncTimeout)
		}
		return nil
	case ActionAsyncDispatch:
		return p.async.Dispatch()
	case ActionAsyncDispatched:
		return p.async.Dispatched()
	case ActionAsyncComplete:
		return p.async.Complete()
	case ActionAsyncError:
		return p.async.Error()
	case ActionAsyncTimeout:
		accepted, err := p.async.Timeout()
		if a.Result != nil {
			*a.Result = accepted
		}
		return err
	case ActionAsyncRun:
		return p.async.Run(a.Run, p.execute)
	case ActionAsyncSetTimeout:
		p.async.SetTimeout(time.Duration(a.Millis) * time.Millisecond)
		return nil
	case ActionAsyncIsStarted:
		setResult(a.Result, p.async.IsAsyncStarted())
		return nil
	case ActionAsyncIsDispatching:
		setResult(a.Result, p.async.IsAsyncDispatching())
		return nil
	case ActionAsyncIsAsync:
		setResult(a.Result, p.async.IsAsync())
		return nil
	case ActionAsyncIsTimingOut:
		setResult(a.Result, p.async.IsAsyncTimingOut())
		return nil
	case ActionAsyncIsError:
		setResult(a.Result, p.async.IsAsyncError())
		return nil
	case ActionAsyncIsCompleting:
		setResult(a.Result, p.async.IsCompleting())
		return nil
	case ActionUpgrade:
		p.upgradeHandler = a.Handler
		return nil
	case ActionReqHostAddr:
		p.req.RemoteAddr, _ = splitAddr(p.transport.RemoteAddr())
		return nil
	case ActionReqHost:
		addr, _ := splitAddr(p.transport.RemoteAddr())
		p.req.RemoteAddr = addr
		p.req.RemoteHost = addr
		if names, err := net.DefaultResolver.LookupAddr(context.Background(), addr); err == nil && len(names) > 0 {
			p.req.RemoteHost = names[0]
		}
		return nil
	case ActionReqLocalName:
		p.req.LocalName, _ = splitAddr(p.transport.LocalAddr())
		return nil
	case ActionReqLocalAddr:
		p.req.LocalAddr, _ = splitAddr(p.transport.LocalAddr())
		return nil
	case ActionReqLocalPort:
		_, p.req.LocalPort = splitAddr(p.transport.LocalAddr())
		return nil
	case ActionReqRemotePort:
		_, p.req.RemotePort = splitAddr(p.transport.RemoteAddr())
		return nil
	case ActionReqSSLAttribute:
		setSSLAttributes(p.req, p.transport.TLSState())
		return nil
	case ActionReqSSLCertificate:
		state := p.transport.TLSState()
		if state == nil {
			return nil
		}
		p.inputBuffered.SetLimit(p.cfg.MaxSavePostSize)
		p.in.AddActiveFilter(p.inputBuffered)
		if err := p.inputBuffered.Capture(); err != nil {
			return err
		}
		if len(state.PeerCertificates) > 0 {
			p.req.SetAttribute(AttrPeerCertificates, state.PeerCertificates)
		}
		return nil
	case ActionCometBegin:
		if !p.transport.NonBlocking() {
			return ErrUnsupported
		}
		p.comet = true
		return nil
	case ActionCometEnd:
		p.comet = false
		return nil
	case ActionCometClose:
		p.dispatch(StatusOpenRead)
		return nil
	case ActionCometSetTimeout:
		p.cometTimeout = time.Duration(a.Millis) * time.Millisecond
		return nil
	case ActionAvailable:
		if a.Result != nil {
			*a.Result = p.in.Available()
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, a)
	}
}

func (p *Processor) execute(fn func()) {
	if executor, ok := p.transport.(Executor); ok {
		executor.Execute(fn)
		return
	}
	go fn()
}

func (p *Processor) commit() error {
	if p.resp.committed {
		return nil
	}
	p.prepareResponse()
	if err := p.out.Commit(); err != nil {
		if errors.Is(err, ErrResponseHeadersTooLarge) {
			_ = p.out.Reset()
			p.out.resetFilters()
		} else {
			p.setErrorState(ErrorCloseNow, err)
		}
		return err
	}
	return nil
}

func setResult(dst *bool, value bool) {
	if dst != nil {
		*dst = value
	}
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	n, _ := strconv.Atoi(port)
	return host, n
}
