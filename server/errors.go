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

import "fmt"

// closeError is the tagged result of frame or message processing that must
// terminate the websocket session. It carries the close status code that the
// server will put on the wire. Per-connection errors never propagate to the
// event loop; the connection state machine consumes them.
type closeError struct {
	code   int
	reason string
}

func (e *closeError) Error() string {
	return fmt.Sprintf("websocket close %d: %s", e.code, e.reason)
}

func protocolError(format string, args ...interface{}) *closeError {
	return &closeError{code: closeStatusProtocolError, reason: fmt.Sprintf(format, args...)}
}

func invalidPayloadError(reason string) *closeError {
	return &closeError{code: closeStatusInvalidPayloadData, reason: reason}
}

func messageTooBigError(size, limit int64) *closeError {
	return &closeError{
		code:   closeStatusMessageTooBig,
		reason: fmt.Sprintf("message size %d exceeds limit %d", size, limit),
	}
}

func internalError(reason string) *closeError {
	return &closeError{code: closeStatusInternalSrvError, reason: reason}
}

// httpError rejects a connection before the upgrade completes. The response
// is written and the socket closed; no close frame is involved.
type httpError struct {
	status int
	reason string
	// Extra response headers, e.g. Sec-WebSocket-Version on a 426.
	header []headerField
}

func (e *httpError) Error() string {
	return fmt.Sprintf("handshake rejected %d: %s", e.status, e.reason)
}

func malformedHTTPError(reason string) *httpError {
	return &httpError{status: 400, reason: reason}
}
