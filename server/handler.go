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
	"github.com/nats-io/jwt/v2"
)

// Handler is the application-side contract. One handler is created per
// connection when the handshake succeeds and lives until the connection
// reaches its terminal state. Callbacks execute inline on the event-loop
// thread and must not block.
type Handler interface {
	// OnConnect is called once, immediately after the 101 response is
	// queued and before any application message. The result may carry a
	// message to send.
	OnConnect(peer *Peer) Result

	// OnMessage is called once per completed application message.
	OnMessage(kind MessageKind, payload []byte) Result

	// OnClose is called once; after it returns no further callbacks fire
	// for this connection.
	OnClose(code int, reason string)

	// OnError is called on protocol or I/O failure. OnClose follows if
	// the connection is still alive.
	OnError(code int, reason string)
}

// HandlerFactory builds the handler for a freshly upgraded connection.
type HandlerFactory func(peer *Peer) Handler

// Controller shapes message payloads between the wire and the handler. The
// stock controller passes data through untouched; applications can register
// their own per route to impose an envelope on a namespace.
type Controller interface {
	// Inbound transforms a completed message before OnMessage sees it.
	Inbound(kind MessageKind, payload []byte) (MessageKind, []byte, error)
	// Outbound transforms a handler reply before it is framed.
	Outbound(kind MessageKind, payload []byte) (MessageKind, []byte, error)
}

// ControllerFactory builds the controller for a connection.
type ControllerFactory func() Controller

type plainController struct{}

func (plainController) Inbound(kind MessageKind, payload []byte) (MessageKind, []byte, error) {
	return kind, payload, nil
}

func (plainController) Outbound(kind MessageKind, payload []byte) (MessageKind, []byte, error) {
	return kind, payload, nil
}

// PlainController returns the pass-through controller used when a route
// registers none.
func PlainController() Controller { return plainController{} }

type resultKind int

const (
	resultSilent resultKind = iota
	resultReply
	resultClose
)

// Result is the tagged value a connect or message callback returns: a
// message to send back, silence, or a request to initiate close.
type Result struct {
	kind    resultKind
	msgKind MessageKind
	payload []byte
	code    int
	reason  string
}

// Silent sends nothing.
func Silent() Result {
	return Result{kind: resultSilent}
}

// Reply sends a data message back on the same connection.
func Reply(kind MessageKind, payload []byte) Result {
	return Result{kind: resultReply, msgKind: kind, payload: payload}
}

// ReplyText sends a text message back on the same connection.
func ReplyText(s string) Result {
	return Reply(TextMessage, []byte(s))
}

// CloseWith initiates the closing handshake with the given status code.
func CloseWith(code int, reason string) Result {
	return Result{kind: resultClose, code: code, reason: reason}
}

// Peer is the identity handle a handler keeps: it names the connection for
// broadcast purposes without owning the server or the handler. All methods
// must be called from the event-loop thread, i.e. from inside callbacks.
type Peer struct {
	id        string
	namespace string
	remote    string
	claims    *jwt.UserClaims
	registry  *registry
}

// ID is the server-assigned connection identity.
func (p *Peer) ID() string { return p.id }

// Namespace is the URL path selected at handshake.
func (p *Peer) Namespace() string { return p.namespace }

// RemoteAddr is the peer's address in host:port form.
func (p *Peer) RemoteAddr() string { return p.remote }

// Claims returns the JWT user claims captured at handshake, or nil when
// cookie authentication is not configured.
func (p *Peer) Claims() *jwt.UserClaims { return p.claims }

// Broadcast frames the message once and appends it to the send queue of
// every open connection in this peer's namespace, excluding the caller
// unless includeSelf is set. It returns the number of recipients.
func (p *Peer) Broadcast(kind MessageKind, payload []byte, includeSelf bool) int {
	exclude := p.id
	if includeSelf {
		exclude = ""
	}
	return p.registry.broadcast(p.namespace, kind, payload, exclude)
}
