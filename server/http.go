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
	"strconv"
	"strings"
)

const crlf = "\r\n"

var headerTerminator = []byte("\r\n\r\n")

// Refuse to buffer unbounded garbage from a peer that never terminates its
// request head.
const maxRequestHeadSize = 16 * 1024

type headerField struct {
	key   string
	value string
}

// httpHeader preserves insertion order and original casing for emission and
// keeps a lowercased index for lookup.
type httpHeader struct {
	fields []headerField
	index  map[string][]int
}

func (h *httpHeader) Add(key, value string) {
	if h.index == nil {
		h.index = make(map[string][]int)
	}
	h.fields = append(h.fields, headerField{key: key, value: value})
	lk := strings.ToLower(key)
	h.index[lk] = append(h.index[lk], len(h.fields)-1)
}

// Values returns every value recorded for key, in insertion order.
func (h *httpHeader) Values(key string) []string {
	idxs := h.index[strings.ToLower(key)]
	if len(idxs) == 0 {
		return nil
	}
	vals := make([]string, 0, len(idxs))
	for _, i := range idxs {
		vals = append(vals, h.fields[i].value)
	}
	return vals
}

// Get returns the first value for key. Duplicate Cookie headers are joined
// with "; " and duplicate Set-Cookie headers with ", ", everything else
// returns the first occurrence.
func (h *httpHeader) Get(key string) string {
	vals := h.Values(key)
	if len(vals) == 0 {
		return ""
	}
	if len(vals) > 1 {
		switch strings.ToLower(key) {
		case "cookie":
			return strings.Join(vals, "; ")
		case "set-cookie":
			return strings.Join(vals, ", ")
		}
	}
	return vals[0]
}

func (h *httpHeader) Has(key string) bool {
	return len(h.index[strings.ToLower(key)]) > 0
}

// httpRequest is a parsed HTTP/1.x request head.
type httpRequest struct {
	method string
	target string
	proto  string // "HTTP/1.0" or "HTTP/1.1"
	header httpHeader
}

// httpResponse carries a numeric status and reason phrase plus headers, and
// serializes in insertion order.
type httpResponse struct {
	status int
	reason string
	header httpHeader
}

// Reason phrases for the statuses the core emits.
var statusReasons = map[int]string{
	101: "Switching Protocols",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	426: "Upgrade Required",
	500: "Internal Server Error",
}

func newHTTPResponse(status int) *httpResponse {
	return &httpResponse{status: status, reason: statusReasons[status]}
}

// parseHTTPRequest attempts to parse one request head from the front of rb.
// It returns (nil, nil) while the header terminator has not arrived, and a
// *httpError for malformed syntax. On success the head (terminator
// included) has been consumed.
func parseHTTPRequest(rb *readBuffer) (*httpRequest, error) {
	idx := rb.Find(headerTerminator)
	if idx < 0 {
		if rb.Len() > maxRequestHeadSize {
			return nil, malformedHTTPError("request head too large")
		}
		return nil, nil
	}
	head := string(rb.Consume(idx + len(headerTerminator)))
	head = head[:idx] // drop the terminator

	lines := strings.Split(head, crlf)
	req := &httpRequest{}
	if err := parseRequestLine(lines[0], req); err != nil {
		return nil, err
	}
	for _, line := range lines[1:] {
		key, value, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		req.header.Add(key, value)
	}
	return req, nil
}

// Request line: METHOD SP TARGET SP "HTTP/" ("1.0"|"1.1").
func parseRequestLine(line string, req *httpRequest) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return malformedHTTPError("malformed request line")
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if method == "" || !isToken(method) {
		return malformedHTTPError("invalid request method")
	}
	if target == "" {
		return malformedHTTPError("empty request target")
	}
	if proto != "HTTP/1.1" && proto != "HTTP/1.0" {
		return malformedHTTPError("unsupported protocol version")
	}
	req.method = method
	req.target = target
	req.proto = proto
	return nil
}

// Header line: KEY ":" OWS VALUE OWS. The key is a token, matched ASCII
// case-insensitively by the lookup map.
func parseHeaderLine(line string) (string, string, error) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", malformedHTTPError("malformed header line")
	}
	key := line[:colon]
	if !isToken(key) {
		return "", "", malformedHTTPError("invalid header field name")
	}
	value := strings.Trim(line[colon+1:], " \t")
	return key, value, nil
}

// RFC 7230 token characters.
func isToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return len(s) > 0
}

// marshal serializes the response head, headers in insertion order, with a
// final CRLF.
func (r *httpResponse) marshal() []byte {
	reason := r.reason
	if reason == "" {
		reason = statusReasons[r.status]
	}
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 ")
	sb.WriteString(strconv.Itoa(r.status))
	sb.WriteByte(' ')
	sb.WriteString(reason)
	sb.WriteString(crlf)
	for _, f := range r.header.fields {
		sb.WriteString(f.key)
		sb.WriteString(": ")
		sb.WriteString(f.value)
		sb.WriteString(crlf)
	}
	sb.WriteString(crlf)
	return []byte(sb.String())
}

// cookieValue extracts a single cookie from the request's Cookie header.
func cookieValue(req *httpRequest, name string) string {
	raw := req.header.Get("Cookie")
	if raw == "" {
		return ""
	}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if eq := strings.IndexByte(part, '='); eq > 0 {
			if part[:eq] == name {
				return strings.Trim(part[eq+1:], `"`)
			}
		}
	}
	return ""
}
