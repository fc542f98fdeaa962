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
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

func require_True(t *testing.T, b bool) {
	t.Helper()
	if !b {
		t.Fatalf("require true, but got false")
	}
}

func require_NoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("require no error, but got: %v", err)
	}
}

func require_Error(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("require error, but got none")
	}
}

func require_Equal(t *testing.T, a, b interface{}) {
	t.Helper()
	if fmt.Sprintf("%v", a) != fmt.Sprintf("%v", b) {
		t.Fatalf("require equal, but got: %v != %v", a, b)
	}
}

// newTestServer builds a server that never starts its loop; unit tests
// drive connections directly through processData.
func newTestServer(t *testing.T, opts *Options) *Server {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("Error creating server: %v", err)
	}
	return s
}

// newTestConn attaches a loop-less connection to the server.
func newTestConn(s *Server) *conn {
	return newConn(s, -1, "testconn", "127.0.0.1:40000", time.Now())
}

// recordingHandler captures every callback for inspection.
type recordingHandler struct {
	peer      *Peer
	connects  int
	messages  []wsMessage
	closes    []string
	errs      []string
	onConnect func(*Peer) Result
	onMessage func(MessageKind, []byte) Result
}

func (h *recordingHandler) OnConnect(peer *Peer) Result {
	h.peer = peer
	h.connects++
	if h.onConnect != nil {
		return h.onConnect(peer)
	}
	return Silent()
}

func (h *recordingHandler) OnMessage(kind MessageKind, payload []byte) Result {
	h.messages = append(h.messages, wsMessage{kind: kind, payload: append([]byte(nil), payload...)})
	if h.onMessage != nil {
		return h.onMessage(kind, payload)
	}
	return Silent()
}

func (h *recordingHandler) OnClose(code int, reason string) {
	h.closes = append(h.closes, fmt.Sprintf("%d:%s", code, reason))
}

func (h *recordingHandler) OnError(code int, reason string) {
	h.errs = append(h.errs, fmt.Sprintf("%d:%s", code, reason))
}

// The RFC 6455 sample nonce and its accept token.
const (
	sampleKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

// upgradeRequest builds a well-formed opening handshake. Extra header
// lines, terminated by CRLF, are spliced in before the terminator.
func upgradeRequest(host, path string, extra ...string) []byte {
	var sb strings.Builder
	sb.WriteString("GET " + path + " HTTP/1.1\r\n")
	sb.WriteString("Host: " + host + "\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Key: " + sampleKey + "\r\n")
	sb.WriteString("Sec-WebSocket-Version: 13\r\n")
	for _, line := range extra {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// clientFrame serializes a masked client-to-server frame.
func clientFrame(t *testing.T, fin bool, op opCode, payload []byte) []byte {
	t.Helper()
	f := &frame{
		fin:     fin,
		op:      op,
		masked:  true,
		maskKey: [4]byte{0x37, 0xfa, 0x21, 0x3d},
		payload: append([]byte(nil), payload...),
	}
	buf, err := encodeFrame(f)
	if err != nil {
		t.Fatalf("Error encoding client frame: %v", err)
	}
	return buf
}

// feed appends client bytes and drives the parser.
func feed(c *conn, p []byte) {
	c.rb.Append(p)
	c.processData(time.Now())
}

// drainSendQ concatenates and clears everything queued for the wire.
func drainSendQ(c *conn) []byte {
	out := bytes.Join(c.sendq, nil)
	c.sendq = nil
	return out
}

// openTestConn runs the handshake against a conn wired to a recording
// handler and returns both with the 101 response already drained.
func openTestConn(t *testing.T, s *Server) (*conn, *recordingHandler) {
	t.Helper()
	h := &recordingHandler{}
	s.HandleDefault(func(peer *Peer) Handler { return h })
	c := newTestConn(s)
	feed(c, upgradeRequest("example.com", "/"))
	if c.state != stateOpen {
		t.Fatalf("Expected open state after handshake, got %v", c.state)
	}
	resp := string(drainSendQ(c))
	if !strings.Contains(resp, " 101 ") {
		t.Fatalf("Expected 101 response, got %q", resp)
	}
	return c, h
}
