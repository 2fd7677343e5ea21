// The MIT License (MIT)
//
// Copyright (c) 2024 tinykernel contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package ringbuf implements the fixed-capacity byte queue that backs every
// pipe. It is not safe for concurrent use on its own: callers (package pipe)
// only ever touch it while holding the kernel's big lock.
package ringbuf

import "github.com/xtaci/tinykernel/kdefs"

// Ring is a cyclic byte queue of capacity kdefs.PipeBufferSize. The empty
// state is the sentinel r == -1 (in which case w is meaningless); this is
// the one representation that distinguishes "empty" from "full" without
// wasting a slot, at the cost of never being able to tell "size" directly
// from r and w without a wraparound computation.
type Ring struct {
	buf [kdefs.PipeBufferSize]byte
	r   int // next byte to read; -1 means empty
	w   int // last byte written; meaningless when r == -1
}

// New returns an empty ring buffer.
func New() *Ring {
	return &Ring{r: -1}
}

// IsEmpty reports whether the ring holds no bytes.
func (rb *Ring) IsEmpty() bool {
	return rb.r == -1
}

// IsFull reports whether the ring cannot accept another byte.
func (rb *Ring) IsFull() bool {
	if rb.r == -1 {
		return false
	}
	return rb.r == (rb.w+1)%kdefs.PipeBufferSize
}

// size returns the number of buffered bytes; only meaningful when non-empty.
func (rb *Ring) size() int {
	if rb.r == -1 {
		return 0
	}
	if rb.w >= rb.r {
		return rb.w - rb.r + 1
	}
	return kdefs.PipeBufferSize - rb.r + rb.w + 1
}

// FreeSpace returns the number of bytes that can still be enqueued.
func (rb *Ring) FreeSpace() int {
	if rb.IsEmpty() {
		return kdefs.PipeBufferSize
	}
	return kdefs.PipeBufferSize - rb.size()
}

// Enqueue appends one byte. It is a silent no-op when the ring is full;
// callers gate on IsFull/FreeSpace first.
func (rb *Ring) Enqueue(b byte) {
	if rb.IsFull() {
		return
	}
	if rb.r == -1 {
		rb.r = 0
		rb.w = 0
		rb.buf[0] = b
		return
	}
	rb.w = (rb.w + 1) % kdefs.PipeBufferSize
	rb.buf[rb.w] = b
}

// Dequeue removes and returns the oldest byte. It returns a zero byte when
// the ring is empty; callers gate on IsEmpty first.
func (rb *Ring) Dequeue() byte {
	if rb.IsEmpty() {
		return 0
	}
	b := rb.buf[rb.r]
	if rb.r == rb.w {
		rb.r, rb.w = -1, -1
	} else {
		rb.r = (rb.r + 1) % kdefs.PipeBufferSize
	}
	return b
}

// Write copies up to len(p) bytes from p into the ring, stopping early when
// the ring fills, and returns the number of bytes actually copied.
func (rb *Ring) Write(p []byte) int {
	n := 0
	for n < len(p) && !rb.IsFull() {
		rb.Enqueue(p[n])
		n++
	}
	return n
}

// Read copies up to len(p) bytes out of the ring into p, stopping early when
// the ring drains, and returns the number of bytes actually copied.
func (rb *Ring) Read(p []byte) int {
	n := 0
	for n < len(p) && !rb.IsEmpty() {
		p[n] = rb.Dequeue()
		n++
	}
	return n
}
