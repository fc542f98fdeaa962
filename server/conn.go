// Copyright 2017-2026 The Shadow-Share Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"time"
)

type connState int

const (
	stateAwaitingHandshake connState = iota
	stateOpen
	stateClosingSent
	stateClosingReceived
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAwaitingHandshake:
		return "awaiting-handshake"
	case stateOpen:
		return "open"
	case stateClosingSent:
		return "closing-sent"
	case stateClosingReceived:
		return "closing-received"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// conn is one accepted TCP peer. It is created by accept, mutated only by
// the event-loop thread, and destroyed once it reaches stateClosed and its
// send queue has drained.
type conn struct {
	srv    *Server
	fd     int
	cid    string
	remote string

	state connState
	rb    readBuffer
	sendq [][]byte

	namespace  string
	asm        assembler
	handler    Handler
	controller Controller
	peer       *Peer

	parseOpts frameParseOpts

	// Set once a close frame has been queued; only one is ever sent.
	closeSent bool
	// Tear the connection down as soon as the send queue drains.
	closeAfterDrain bool
	// Close bookkeeping: peer status and who initiated.
	closeCode     int
	closeReason   string
	closedByPeer  bool
	onCloseFired  bool
	writeArmed    bool

	// Handshake deadline while awaiting the upgrade, then the idle
	// deadline. Zero means none.
	deadline time.Time
}

func newConn(s *Server, fd int, cid, remote string, now time.Time) *conn {
	c := &conn{
		srv:    s,
		fd:     fd,
		cid:    cid,
		remote: remote,
		state:  stateAwaitingHandshake,
		asm:    assembler{maxSize: s.opts.MaxMessageSize},
		parseOpts: frameParseOpts{
			requireMask:    true,
			lenientLengths: s.opts.LenientLengths,
			maxPayload:     s.opts.MaxMessageSize,
		},
	}
	if s.opts.HandshakeTimeout > 0 {
		c.deadline = now.Add(s.opts.HandshakeTimeout)
	}
	return c
}

// enqueue appends an outbound byte chunk to the send queue and asks the
// loop to arm write readiness. Chunks reach the peer in enqueue order.
func (c *conn) enqueue(p []byte) {
	if c.state == stateClosed {
		return
	}
	c.sendq = append(c.sendq, p)
	c.srv.armWrite(c)
}

// processData drives the per-connection parser for as many rounds as
// progress is made against the buffered bytes.
func (c *conn) processData(now time.Time) {
	for c.state != stateClosed && !c.closeAfterDrain {
		switch c.state {
		case stateAwaitingHandshake:
			if !c.processHandshake(now) {
				return
			}
		case stateOpen, stateClosingSent:
			f, err := parseFrame(&c.rb, c.parseOpts)
			if err != nil {
				c.failProtocol(asCloseError(err))
				return
			}
			if f == nil {
				return
			}
			if c.srv.opts.IdleTimeout > 0 {
				c.deadline = now.Add(c.srv.opts.IdleTimeout)
			}
			c.processFrame(f)
		default:
			// Closing handshake already complete from our side; drop
			// anything further.
			c.rb.Consume(c.rb.Len())
			return
		}
	}
}

// processHandshake attempts the HTTP upgrade. Returns false while more
// bytes are needed or the connection was rejected.
func (c *conn) processHandshake(now time.Time) bool {
	req, err := parseHTTPRequest(&c.rb)
	if err != nil {
		c.reject(err.(*httpError))
		return false
	}
	if req == nil {
		return false
	}
	u, he := verifyHandshake(c.srv.opts, req)
	if he != nil {
		c.reject(he)
		return false
	}
	hf, cf, rerr := c.srv.router.Resolve(u.namespace)
	if rerr != nil {
		c.reject(&httpError{status: 404, reason: "no handler registered for path"})
		return false
	}

	c.enqueue(u.acceptResponse())
	c.namespace = u.namespace
	c.peer = &Peer{
		id:        c.cid,
		namespace: u.namespace,
		remote:    c.remote,
		claims:    u.claims,
		registry:  c.srv.registry,
	}
	c.handler = hf(c.peer)
	c.controller = cf()
	c.state = stateOpen
	c.srv.registry.add(c)
	if c.srv.opts.IdleTimeout > 0 {
		c.deadline = now.Add(c.srv.opts.IdleTimeout)
	} else {
		c.deadline = time.Time{}
	}
	c.srv.log.Debugf("cid:%s - client %s upgraded on %s", c.cid, c.remote, c.namespace)

	res, panicked := c.callOnConnect()
	if panicked {
		c.failHandler(internalError("connect callback failed"))
		return false
	}
	c.applyResult(res)
	return true
}

// reject answers a failed or malformed handshake and schedules the socket
// for closing once the response drains.
func (c *conn) reject(he *httpError) {
	c.srv.log.Debugf("cid:%s - websocket handshake error: %s", c.cid, he.reason)
	c.enqueue(rejectResponse(he))
	c.closeAfterDrain = true
}

// processFrame routes one decoded frame: control frames are handled in
// place, data frames feed the assembler.
func (c *conn) processFrame(f *frame) {
	switch f.op {
	case opClose:
		c.handleCloseFrame(f)
	case opPing:
		if c.state == stateOpen && !c.closeSent {
			c.enqueue(encodeControlFrame(opPong, f.payload))
		}
	case opPong:
		// Observe only.
	default:
		if c.state != stateOpen {
			// Data arriving after we initiated close is read and
			// discarded until the peer's close shows up.
			return
		}
		msg, err := c.asm.push(f)
		if err != nil {
			c.failProtocol(asCloseError(err))
			return
		}
		if msg != nil {
			c.dispatchMessage(msg)
		}
	}
}

// dispatchMessage funnels a completed message through the controller and
// the handler, then applies whatever the callback returned.
func (c *conn) dispatchMessage(msg *wsMessage) {
	kind, payload, err := c.controller.Inbound(msg.kind, msg.payload)
	if err != nil {
		c.failHandler(protocolError("inbound message rejected: %v", err))
		return
	}
	res, panicked := c.callOnMessage(kind, payload)
	if panicked {
		c.failHandler(internalError("message callback failed"))
		return
	}
	c.applyResult(res)
}

func (c *conn) applyResult(res Result) {
	switch res.kind {
	case resultSilent:
	case resultReply:
		kind, payload, err := c.controller.Outbound(res.msgKind, res.payload)
		if err != nil {
			c.failHandler(internalError("outbound message rejected"))
			return
		}
		c.enqueue(encodeDataFrame(opCode(kind), payload))
	case resultClose:
		c.initiateClose(res.code, res.reason)
	}
}

// initiateClose starts a server-initiated closing handshake.
func (c *conn) initiateClose(code int, reason string) {
	if c.closeSent || c.state != stateOpen {
		return
	}
	c.closeCode = code
	c.closeReason = reason
	c.queueClose(code, reason)
	c.state = stateClosingSent
}

// handleCloseFrame processes a close frame from the peer, echoing it when
// we have not sent ours yet.
func (c *conn) handleCloseFrame(f *frame) {
	code, reason, err := parseClosePayload(f.payload)
	if err != nil {
		c.failProtocol(asCloseError(err))
		return
	}
	switch c.state {
	case stateOpen:
		c.closeCode = code
		c.closeReason = reason
		c.closedByPeer = true
		c.fireOnClose(code, reason)
		echo := code
		if echo == closeStatusNoStatusReceived {
			echo = closeStatusNormalClosure
		}
		c.queueClose(echo, "")
		c.state = stateClosingReceived
		c.scheduleTeardown()
	case stateClosingSent:
		// Peer acknowledged our close.
		c.fireOnClose(c.closeCode, c.closeReason)
		c.scheduleTeardown()
	}
}

// queueClose enqueues a close frame, at most once per connection.
func (c *conn) queueClose(code int, reason string) {
	if c.closeSent {
		return
	}
	c.closeSent = true
	c.enqueue(encodeControlFrame(opClose, encodeClosePayload(code, reason)))
}

// failProtocol fails the websocket connection over a wire violation: the
// error callback fires, a close frame with the mapped status is queued, and
// the socket goes down once it drains. No peer close is awaited.
func (c *conn) failProtocol(ce *closeError) {
	c.srv.log.Debugf("cid:%s - %v", c.cid, ce)
	c.asm.reset()
	c.fireOnError(ce.code, ce.reason)
	c.queueClose(ce.code, ce.reason)
	c.fireOnClose(ce.code, ce.reason)
	c.closeAfterDrain = true
	if c.state == stateOpen || c.state == stateClosingSent {
		c.state = stateClosingSent
	}
}

// failHandler reports an application callback failure: the close frame is
// queued and the closing handshake proceeds as server-initiated.
func (c *conn) failHandler(ce *closeError) {
	c.srv.log.Warnf("cid:%s - handler failure: %v", c.cid, ce)
	c.fireOnError(ce.code, ce.reason)
	if c.state == stateOpen {
		c.closeCode = ce.code
		c.closeReason = ce.reason
		c.queueClose(ce.code, ce.reason)
		c.state = stateClosingSent
	}
}

// socketFailure handles a read or write syscall failure: no close frame is
// sent, pending writes are discarded and the connection drops.
func (c *conn) socketFailure(err error) {
	if c.state == stateClosed {
		return
	}
	if err != nil {
		c.srv.log.Debugf("cid:%s - socket error: %v", c.cid, err)
		c.fireOnError(closeStatusAbnormalClosure, err.Error())
	}
	c.sendq = nil
	c.fireOnClose(closeStatusAbnormalClosure, "connection dropped")
	c.state = stateClosed
}

// expired is invoked by the loop when the handshake or idle deadline
// passes.
func (c *conn) expired(now time.Time) {
	switch c.state {
	case stateAwaitingHandshake:
		c.srv.log.Debugf("cid:%s - handshake timeout", c.cid)
		c.state = stateClosed
	case stateOpen:
		c.srv.log.Debugf("cid:%s - idle timeout", c.cid)
		c.fireOnClose(closeStatusGoingAway, "idle timeout")
		c.queueClose(closeStatusGoingAway, "idle timeout")
		c.closeAfterDrain = true
		c.state = stateClosingSent
		c.deadline = now.Add(c.srv.opts.GraceDeadline)
	default:
		// Drain stalled; force the teardown.
		c.state = stateClosed
	}
}

// drained is called when the send queue empties.
func (c *conn) drained() {
	if c.closeAfterDrain {
		c.state = stateClosed
	}
}

// scheduleTeardown marks the connection for teardown once the send queue
// drains; with nothing queued it is terminal right away.
func (c *conn) scheduleTeardown() {
	c.closeAfterDrain = true
	if len(c.sendq) == 0 {
		c.state = stateClosed
	}
}

// goingAway queues the 1001 shutdown close.
func (c *conn) goingAway(now time.Time) {
	switch c.state {
	case stateAwaitingHandshake:
		c.state = stateClosed
	case stateOpen, stateClosingSent:
		c.fireOnClose(closeStatusGoingAway, "server shutdown")
		c.queueClose(closeStatusGoingAway, "server shutdown")
		c.closeAfterDrain = true
		c.deadline = now.Add(c.srv.opts.GraceDeadline)
	}
}

// Callback shims. A panicking handler must not take the event loop down
// with it, so each invocation recovers and reports failure instead.

func (c *conn) callOnConnect() (res Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			c.srv.log.Errorf("cid:%s - panic in OnConnect: %v", c.cid, r)
			panicked = true
		}
	}()
	return c.handler.OnConnect(c.peer), false
}

func (c *conn) callOnMessage(kind MessageKind, payload []byte) (res Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			c.srv.log.Errorf("cid:%s - panic in OnMessage: %v", c.cid, r)
			panicked = true
		}
	}()
	return c.handler.OnMessage(kind, payload), false
}

func (c *conn) fireOnClose(code int, reason string) {
	if c.handler == nil || c.onCloseFired {
		return
	}
	c.onCloseFired = true
	defer func() {
		if r := recover(); r != nil {
			c.srv.log.Errorf("cid:%s - panic in OnClose: %v", c.cid, r)
		}
	}()
	c.handler.OnClose(code, reason)
}

func (c *conn) fireOnError(code int, reason string) {
	if c.handler == nil || c.onCloseFired {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.srv.log.Errorf("cid:%s - panic in OnError: %v", c.cid, r)
		}
	}()
	c.handler.OnError(code, reason)
}

func asCloseError(err error) *closeError {
	if ce, ok := err.(*closeError); ok {
		return ce
	}
	return internalError(err.Error())
}
