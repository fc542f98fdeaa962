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

	"github.com/stretchr/testify/require"
)

func namedFactory(name string) HandlerFactory {
	return func(peer *Peer) Handler {
		return &recordingHandler{peer: &Peer{id: name}}
	}
}

func factoryName(t *testing.T, hf HandlerFactory) string {
	t.Helper()
	require.NotNil(t, hf)
	h := hf(nil).(*recordingHandler)
	return h.peer.id
}

func TestRouterExactMatch(t *testing.T) {
	r := NewRouter()
	r.Register("/chat", namedFactory("chat"))
	r.Register("/echo", namedFactory("echo"))

	hf, cf, err := r.Resolve("/chat")
	require.NoError(t, err)
	require.Equal(t, "chat", factoryName(t, hf))
	require.NotNil(t, cf)

	hf, _, err = r.Resolve("/echo")
	require.NoError(t, err)
	require.Equal(t, "echo", factoryName(t, hf))
}

func TestRouterDefaultFallback(t *testing.T) {
	r := NewRouter()
	r.Register("/chat", namedFactory("chat"))
	r.RegisterDefault(namedFactory("default"))

	hf, _, err := r.Resolve("/unknown")
	require.NoError(t, err)
	require.Equal(t, "default", factoryName(t, hf))
}

func TestRouterNoRoute(t *testing.T) {
	r := NewRouter()
	r.Register("/chat", namedFactory("chat"))
	_, _, err := r.Resolve("/unknown")
	require.Error(t, err)

	_, _, err = NewRouter().Resolve("/anything")
	require.Error(t, err)
}

// Leading slash is ensured and consecutive slashes collapse, both at
// registration and at resolution.
func TestRouterPathNormalization(t *testing.T) {
	require.Equal(t, "/", normalizePath("/"))
	require.Equal(t, "/chat", normalizePath("chat"))
	require.Equal(t, "/chat/room", normalizePath("/chat//room"))
	require.Equal(t, "/a/b/", normalizePath("//a///b//"))

	r := NewRouter()
	r.Register("chat//room", namedFactory("chat"))
	hf, _, err := r.Resolve("/chat/room")
	require.NoError(t, err)
	require.Equal(t, "chat", factoryName(t, hf))
}

// Matching beyond normalization is byte-wise and case-sensitive.
func TestRouterCaseSensitive(t *testing.T) {
	r := NewRouter()
	r.Register("/Chat", namedFactory("upper"))
	_, _, err := r.Resolve("/chat")
	require.Error(t, err)
}

type envelopeController struct{}

func (envelopeController) Inbound(kind MessageKind, payload []byte) (MessageKind, []byte, error) {
	return kind, append([]byte("in:"), payload...), nil
}

func (envelopeController) Outbound(kind MessageKind, payload []byte) (MessageKind, []byte, error) {
	return kind, append([]byte("out:"), payload...), nil
}

func TestRouterControllerResolution(t *testing.T) {
	r := NewRouter()
	r.Register("/chat", namedFactory("chat"))
	r.RegisterController("/chat", func() Controller { return envelopeController{} })

	_, cf, err := r.Resolve("/chat")
	require.NoError(t, err)
	_, payload, cerr := cf().Inbound(TextMessage, []byte("x"))
	require.NoError(t, cerr)
	require.Equal(t, "in:x", string(payload))

	// A route without a controller falls back to pass-through.
	r.Register("/plain", namedFactory("plain"))
	_, cf, err = r.Resolve("/plain")
	require.NoError(t, err)
	_, payload, cerr = cf().Inbound(TextMessage, []byte("x"))
	require.NoError(t, cerr)
	require.Equal(t, "x", string(payload))
}
