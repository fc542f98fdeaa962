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

import "unicode/utf8"

// MessageKind identifies the data opcode a message was carried with.
type MessageKind byte

const (
	TextMessage   = MessageKind(opText)
	BinaryMessage = MessageKind(opBinary)
)

func (k MessageKind) String() string {
	switch k {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	}
	return "unknown"
}

// wsMessage is a complete application message assembled from one or more
// data frames.
type wsMessage struct {
	kind    MessageKind
	payload []byte
}

// assembler reassembles fragmented data messages. A connection holds at
// most one in-progress message at any time; control frames never reach the
// assembler.
type assembler struct {
	inProgress bool
	kind       MessageKind
	buf        []byte
	// Cap on the assembled payload size; zero means unlimited.
	maxSize int64
}

// push feeds one data or continuation frame. It returns the completed
// message once the final fragment arrives, or nil while the message is
// still in progress. Invalid fragmentation sequences and oversized or
// non-UTF-8 messages yield a *closeError.
func (a *assembler) push(f *frame) (*wsMessage, error) {
	switch f.op {
	case opText, opBinary:
		if a.inProgress {
			return nil, protocolError("new message started before final frame for previous message was received")
		}
		if f.fin {
			// Unfragmented fast path.
			return a.complete(MessageKind(f.op), f.payload)
		}
		a.inProgress = true
		a.kind = MessageKind(f.op)
		a.buf = append(a.buf[:0], f.payload...)
		return nil, a.checkSize()
	case opContinuation:
		if !a.inProgress {
			return nil, protocolError("continuation frame with no message in progress")
		}
		a.buf = append(a.buf, f.payload...)
		if err := a.checkSize(); err != nil {
			return nil, err
		}
		if !f.fin {
			return nil, nil
		}
		kind, payload := a.kind, a.buf
		a.inProgress = false
		a.buf = nil
		return a.complete(kind, payload)
	}
	return nil, internalError("non-data frame fed to assembler")
}

func (a *assembler) complete(kind MessageKind, payload []byte) (*wsMessage, error) {
	if a.maxSize > 0 && int64(len(payload)) > a.maxSize {
		return nil, messageTooBigError(int64(len(payload)), a.maxSize)
	}
	// UTF-8 is enforced on completion, not per fragment, since a code
	// point may straddle a fragment boundary.
	if kind == TextMessage && !utf8.Valid(payload) {
		return nil, invalidPayloadError("text message payload is not valid utf8")
	}
	return &wsMessage{kind: kind, payload: payload}, nil
}

func (a *assembler) checkSize() error {
	if size := int64(len(a.buf)); a.maxSize > 0 && size > a.maxSize {
		a.reset()
		return messageTooBigError(size, a.maxSize)
	}
	return nil
}

func (a *assembler) reset() {
	a.inProgress = false
	a.buf = nil
}
