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
	"testing"
	"time"
)

func openNamespaceConn(t *testing.T, s *Server, cid, namespace string) *conn {
	t.Helper()
	c := newConn(s, -1, cid, "127.0.0.1:40000", time.Now())
	c.state = stateOpen
	c.namespace = namespace
	s.registry.add(c)
	return c
}

func TestRegistryMembership(t *testing.T) {
	s := newTestServer(t, nil)
	a := openNamespaceConn(t, s, "a", "/chat")
	b := openNamespaceConn(t, s, "b", "/chat")
	openNamespaceConn(t, s, "c", "/news")

	require_Equal(t, s.registry.count("/chat"), 2)
	require_Equal(t, s.registry.count("/news"), 1)
	require_Equal(t, s.registry.count("/none"), 0)

	s.registry.remove(a)
	require_Equal(t, s.registry.count("/chat"), 1)
	s.registry.remove(b)
	require_Equal(t, s.registry.count("/chat"), 0)
}

func TestRegistryBroadcast(t *testing.T) {
	s := newTestServer(t, nil)
	a := openNamespaceConn(t, s, "a", "/chat")
	b := openNamespaceConn(t, s, "b", "/chat")
	other := openNamespaceConn(t, s, "c", "/news")

	n := s.registry.broadcast("/chat", TextMessage, []byte("hi"), "")
	require_Equal(t, n, 2)
	require_Equal(t, len(a.sendq), 1)
	require_Equal(t, len(b.sendq), 1)
	require_Equal(t, len(other.sendq), 0)

	frames := parseServerFrames(t, drainSendQ(a))
	require_Equal(t, frames[0].op, opText)
	require_Equal(t, string(frames[0].payload), "hi")
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	s := newTestServer(t, nil)
	a := openNamespaceConn(t, s, "a", "/chat")
	b := openNamespaceConn(t, s, "b", "/chat")

	peer := &Peer{id: "a", namespace: "/chat", registry: s.registry}
	n := peer.Broadcast(TextMessage, []byte("hi"), false)
	require_Equal(t, n, 1)
	require_Equal(t, len(a.sendq), 0)
	require_Equal(t, len(b.sendq), 1)

	n = peer.Broadcast(TextMessage, []byte("hi"), true)
	require_Equal(t, n, 2)
}

// Connections outside the OPEN state never receive broadcast frames.
func TestRegistryBroadcastSkipsClosing(t *testing.T) {
	s := newTestServer(t, nil)
	a := openNamespaceConn(t, s, "a", "/chat")
	b := openNamespaceConn(t, s, "b", "/chat")
	b.state = stateClosingSent

	n := s.registry.broadcast("/chat", TextMessage, []byte("hi"), "")
	require_Equal(t, n, 1)
	require_Equal(t, len(a.sendq), 1)
	require_Equal(t, len(b.sendq), 0)
}

// Per-recipient ordering matches the order of broadcast calls.
func TestRegistryBroadcastOrdering(t *testing.T) {
	s := newTestServer(t, nil)
	a := openNamespaceConn(t, s, "a", "/chat")

	s.registry.broadcast("/chat", TextMessage, []byte("first"), "")
	s.registry.broadcast("/chat", TextMessage, []byte("second"), "")
	s.registry.broadcast("/chat", TextMessage, []byte("third"), "")

	frames := parseServerFrames(t, drainSendQ(a))
	require_Equal(t, len(frames), 3)
	require_Equal(t, string(frames[0].payload), "first")
	require_Equal(t, string(frames[1].payload), "second")
	require_Equal(t, string(frames[2].payload), "third")
}
