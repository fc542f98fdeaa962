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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shadow-share/websocket/server"
)

func main() {
	opts := &server.Options{}

	var trustedKeys string
	flag.StringVar(&opts.Host, "host", "127.0.0.1", "Bind address")
	flag.IntVar(&opts.Port, "port", server.DefaultPort, "Listen port")
	flag.StringVar(&opts.ServerName, "server_name", "", "Expected Host authority (empty disables the check)")
	flag.StringVar(&opts.OriginPolicy, "origin", "", `Allowed Origin, or "same-origin" (empty disables the check)`)
	flag.Int64Var(&opts.MaxMessageSize, "max_message_size", 0, "Cap on assembled message payload bytes (0 = unlimited)")
	flag.DurationVar(&opts.HandshakeTimeout, "handshake_timeout", 10*time.Second, "Max time in the handshake state")
	flag.DurationVar(&opts.IdleTimeout, "idle_timeout", 0, "Max time with no inbound frames (0 = unlimited)")
	flag.IntVar(&opts.ListenBacklog, "backlog", server.DefaultListenBacklog, "TCP listen depth")
	flag.StringVar(&opts.JWTCookie, "jwt_cookie", "", "Cookie carrying a user JWT (empty disables authentication)")
	flag.StringVar(&trustedKeys, "trusted_keys", "", "Comma-separated public account keys trusted to issue user JWTs")
	flag.StringVar(&opts.LogLevel, "log_level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.Debug, "debug", false, "Log to stderr at debug level")
	flag.Parse()

	if trustedKeys != "" {
		opts.TrustedKeys = strings.Split(trustedKeys, ",")
	}

	s, err := server.NewServer(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsd: %v\n", err)
		os.Exit(1)
	}

	// Stock application: echo everywhere, a broadcast room on /chat.
	s.HandleDefault(func(peer *server.Peer) server.Handler {
		return &echoHandler{}
	})
	s.Handle("/chat", func(peer *server.Peer) server.Handler {
		return &chatHandler{peer: peer}
	})

	if err := s.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "wsd: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		s.Shutdown()
	}()

	if err := s.WaitForShutdown(); err != nil {
		os.Exit(1)
	}
}

// echoHandler replies to every message with its own payload.
type echoHandler struct{}

func (h *echoHandler) OnConnect(peer *server.Peer) server.Result {
	return server.Silent()
}

func (h *echoHandler) OnMessage(kind server.MessageKind, payload []byte) server.Result {
	return server.Reply(kind, payload)
}

func (h *echoHandler) OnClose(code int, reason string) {}

func (h *echoHandler) OnError(code int, reason string) {}

// chatHandler relays every message to the other members of its namespace.
type chatHandler struct {
	peer *server.Peer
}

func (h *chatHandler) OnConnect(peer *server.Peer) server.Result {
	peer.Broadcast(server.TextMessage, []byte("* "+peer.ID()+" joined"), false)
	return server.Silent()
}

func (h *chatHandler) OnMessage(kind server.MessageKind, payload []byte) server.Result {
	h.peer.Broadcast(kind, payload, false)
	return server.Silent()
}

func (h *chatHandler) OnClose(code int, reason string) {
	h.peer.Broadcast(server.TextMessage, []byte("* "+h.peer.ID()+" left"), false)
}

func (h *chatHandler) OnError(code int, reason string) {}
