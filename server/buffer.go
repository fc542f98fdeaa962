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

import "bytes"

// Compact the buffer once this many consumed bytes sit in front of it.
const bufCompactThreshold = 4096

// readBuffer is the sole owner of inbound bytes between read() calls and
// parser invocations. Consumed bytes stay in the backing array until the
// next compaction, so slices returned by Consume remain valid until then.
// Single-owner per connection, not safe for concurrent use.
type readBuffer struct {
	buf []byte
	off int
}

// Append adds bytes read from the socket to the end of the buffer.
func (rb *readBuffer) Append(p []byte) {
	if rb.off > bufCompactThreshold && rb.off > len(rb.buf)/2 {
		rb.compact()
	}
	rb.buf = append(rb.buf, p...)
}

// Peek returns up to n bytes from the front without consuming them.
func (rb *readBuffer) Peek(n int) []byte {
	if avail := rb.Len(); n > avail {
		n = avail
	}
	return rb.buf[rb.off : rb.off+n]
}

// Find returns the index of the first occurrence of needle, relative to the
// front of the buffer, or -1 if absent. The returned index points at the
// start of the needle.
func (rb *readBuffer) Find(needle []byte) int {
	return bytes.Index(rb.buf[rb.off:], needle)
}

// Consume removes and returns the first n bytes. If fewer than n bytes are
// buffered, everything available is returned.
func (rb *readBuffer) Consume(n int) []byte {
	if avail := rb.Len(); n > avail {
		n = avail
	}
	p := rb.buf[rb.off : rb.off+n]
	rb.off += n
	return p
}

// Len reports the number of unconsumed bytes.
func (rb *readBuffer) Len() int {
	return len(rb.buf) - rb.off
}

func (rb *readBuffer) compact() {
	n := copy(rb.buf, rb.buf[rb.off:])
	rb.buf = rb.buf[:n]
	rb.off = 0
}
