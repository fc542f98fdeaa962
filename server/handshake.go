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
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/pkg/errors"
)

// From https://tools.ietf.org/html/rfc6455#section-1.3
var wsGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// upgrade is the outcome of a successful handshake verification.
type upgrade struct {
	// URL path of the request target, normalized; becomes the broadcast
	// namespace.
	namespace string
	// Computed Sec-WebSocket-Accept token.
	acceptKey string
	// User claims from the JWT cookie, when configured.
	claims *jwt.UserClaims
}

// verifyHandshake runs the opening-handshake checks of RFC 6455 section
// 4.2.1 in order against a parsed request. A failure maps to the HTTP
// status the server responds with before closing the socket.
func verifyHandshake(opts *Options, req *httpRequest) (*upgrade, *httpError) {
	// Point 1.
	if req.method != "GET" {
		return nil, &httpError{status: 400, reason: "request method must be GET"}
	}
	if req.proto != "HTTP/1.1" {
		return nil, &httpError{status: 400, reason: "request must be HTTP/1.1"}
	}
	// Point 2.
	host := req.header.Get("Host")
	if host == "" {
		return nil, &httpError{status: 400, reason: "'Host' missing in request"}
	}
	if opts.ServerName != "" && !authorityEqual(host, opts.ServerName) {
		return nil, &httpError{status: 400, reason: "'Host' does not match server authority"}
	}
	// Point 3.
	if !headerContains(&req.header, "Upgrade", "websocket") {
		return nil, &httpError{status: 400, reason: "invalid value for header 'Upgrade'"}
	}
	// Point 4.
	if !headerContains(&req.header, "Connection", "Upgrade") {
		return nil, &httpError{status: 400, reason: "invalid value for header 'Connection'"}
	}
	// Point 5.
	key := req.header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, &httpError{status: 400, reason: "key missing"}
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return nil, &httpError{status: 400, reason: "key must decode to 16 bytes"}
	}
	// Point 6.
	if !headerContains(&req.header, "Sec-WebSocket-Version", "13") {
		return nil, &httpError{
			status: 426,
			reason: "invalid version",
			header: []headerField{{key: "Sec-WebSocket-Version", value: "13"}},
		}
	}
	// Point 7.
	if err := checkOrigin(opts, req, host); err != nil {
		return nil, &httpError{status: 403, reason: fmt.Sprintf("origin not allowed: %v", err)}
	}
	// Points 8 and 9: sub-protocols and extensions are not negotiated.

	claims, err := authenticateJWTCookie(opts, req)
	if err != nil {
		return nil, &httpError{status: 403, reason: fmt.Sprintf("authentication failed: %v", err)}
	}

	return &upgrade{
		namespace: normalizePath(requestPath(req.target)),
		acceptKey: wsAcceptKey(key),
		claims:    claims,
	}, nil
}

// acceptResponse builds the 101 Switching Protocols response.
func (u *upgrade) acceptResponse() []byte {
	resp := newHTTPResponse(101)
	resp.header.Add("Upgrade", "websocket")
	resp.header.Add("Connection", "Upgrade")
	resp.header.Add("Sec-WebSocket-Accept", u.acceptKey)
	return resp.marshal()
}

// rejectResponse serializes the error response for a failed handshake.
func rejectResponse(he *httpError) []byte {
	resp := newHTTPResponse(he.status)
	for _, f := range he.header {
		resp.header.Add(f.key, f.value)
	}
	return resp.marshal()
}

// headerContains reports whether the header named name contains the token
// value in any of its comma-separated entries, ASCII case-insensitively.
func headerContains(h *httpHeader, name, value string) bool {
	for _, s := range h.Values(name) {
		for _, t := range strings.Split(s, ",") {
			if strings.EqualFold(strings.Trim(t, " \t"), value) {
				return true
			}
		}
	}
	return false
}

// requestPath strips the query and fragment from a request target.
func requestPath(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	return target
}

// checkOrigin enforces the configured origin policy. With no policy, the
// Origin header is not even required. The same-origin policy compares the
// Origin against the request authority; an exact policy compares scheme,
// host and port with default-port normalization.
func checkOrigin(opts *Options, req *httpRequest, reqHost string) error {
	if opts.OriginPolicy == "" {
		return nil
	}
	origin := req.header.Get("Origin")
	if origin == "" {
		origin = req.header.Get("Sec-WebSocket-Origin")
	}
	if origin == "" {
		return errors.New("origin not provided")
	}
	oscheme, ohostport, err := splitOrigin(origin)
	if err != nil {
		return err
	}
	oh, op := hostPortWithDefault(ohostport, oscheme == "https" || oscheme == "wss")
	if opts.OriginPolicy == OriginSame {
		rh, rp := hostPortWithDefault(reqHost, false)
		if oh != rh || op != rp {
			return errors.New("not same origin")
		}
		return nil
	}
	ascheme, ahostport, err := splitOrigin(opts.OriginPolicy)
	if err != nil {
		return err
	}
	ah, ap := hostPortWithDefault(ahostport, ascheme == "https" || ascheme == "wss")
	if oscheme != ascheme || oh != ah || op != ap {
		return errors.New("not in the allowed list")
	}
	return nil
}

// splitOrigin decomposes "scheme://host[:port]".
func splitOrigin(origin string) (scheme, hostport string, err error) {
	i := strings.Index(origin, "://")
	if i <= 0 || i+3 >= len(origin) {
		return "", "", errors.Errorf("malformed origin %q", origin)
	}
	return strings.ToLower(origin[:i]), origin[i+3:], nil
}

// hostPortWithDefault splits host:port, substituting the scheme's default
// port when none is present. The host comes back lowercased.
func hostPortWithDefault(hostport string, tls bool) (string, string) {
	host, port := hostport, ""
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 && strings.IndexByte(hostport[i:], ']') < 0 {
		host, port = hostport[:i], hostport[i+1:]
	}
	if port == "" {
		if tls {
			port = "443"
		} else {
			port = "80"
		}
	}
	return strings.ToLower(host), port
}

// authorityEqual compares two authorities with default-port normalization.
func authorityEqual(a, b string) bool {
	ah, ap := hostPortWithDefault(a, false)
	bh, bp := hostPortWithDefault(b, false)
	return ah == bh && ap == bp
}

// wsAcceptKey concatenates the client key with the protocol GUID, computes
// the SHA-1 digest and returns it base64 encoded.
func wsAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write(wsGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// authenticateJWTCookie validates the user JWT carried in the configured
// cookie: it must decode, must not be expired, and must be issued by one of
// the trusted keys.
func authenticateJWTCookie(opts *Options, req *httpRequest) (*jwt.UserClaims, error) {
	if opts.JWTCookie == "" {
		return nil, nil
	}
	token := cookieValue(req, opts.JWTCookie)
	if token == "" {
		return nil, errors.Errorf("missing JWT cookie %q", opts.JWTCookie)
	}
	uc, err := jwt.DecodeUserClaims(token)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user JWT")
	}
	if exp := uc.Claims().Expires; exp > 0 && exp < time.Now().Unix() {
		return nil, errors.New("user JWT is expired")
	}
	issuer := uc.Claims().Issuer
	for _, k := range opts.TrustedKeys {
		if issuer == k {
			return uc, nil
		}
	}
	return nil, errors.Errorf("user JWT issuer %q is not trusted", issuer)
}
