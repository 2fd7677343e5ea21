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

// Package trace keeps a bounded in-memory history of kernel events (socket
// opened/closed, thread exited, connect timed out, FCB refcount transitions)
// for post-mortem debugging, the way a real kernel's dmesg ring does.
//
// This is deliberately not the same data structure as package ringbuf:
// ringbuf.Ring's r == -1 empty sentinel is mandated bit-for-bit by the core
// spec (it backs pipes, whose byte-FIFO invariants are a tested property).
// The trace ring carries no such constraint, so it is built on a real
// third-party byte ring buffer instead of another bespoke one.
package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

const defaultCapacity = 64 * 1024

// Log is a bounded, line-oriented event history.
type Log struct {
	mu  sync.Mutex
	buf *ringbuffer.RingBuffer
}

// global is the process-wide trace log used by the package-level helpers;
// every Kernel shares it, matching dmesg's single-ring-per-machine model.
var global = New(defaultCapacity)

// New returns a trace log backed by a ring of the given byte capacity. Once
// full, Logf discards the oldest bytes to make room for each new line.
func New(capacity int) *Log {
	return &Log{buf: ringbuffer.New(capacity)}
}

// Logf appends a formatted, timestamped line to the log. Overflowing the
// backing ring drops the oldest bytes; Logf itself never blocks or errors.
func (l *Log) Logf(format string, args ...any) {
	line := []byte(fmt.Sprintf("%s "+format+"\n", append([]any{time.Now().Format(time.RFC3339Nano)}, args...)...))
	l.mu.Lock()
	defer l.mu.Unlock()

	// Make room for the new line by discarding the oldest bytes first: a
	// trace buffer should always accept the newest event, never reject it
	// for being full.
	if len(line) > l.buf.Capacity() {
		line = line[len(line)-l.buf.Capacity():]
	}
	for l.buf.Free() < len(line) {
		discard := make([]byte, len(line)-l.buf.Free())
		n, _ := l.buf.Read(discard)
		if n == 0 {
			break
		}
	}
	_, _ = l.buf.Write(line)
}

// Dump returns the currently buffered trace text.
func (l *Log) Dump() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.buf.Bytes())
}

// Logf appends to the package-wide trace log.
func Logf(format string, args ...any) {
	global.Logf(format, args...)
}

// Dump returns the package-wide trace log's buffered text.
func Dump() string {
	return global.Dump()
}
