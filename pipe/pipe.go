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

// Package pipe implements the anonymous, unidirectional byte pipe: one
// ringbuf.Ring shared by a read end and a write end, with blocking governed
// by two condition variables bound to the kernel's big lock (package sched).
//
// The monitor discipline follows the classic bounded-buffer shape: a writer
// blocked on hasSpace and a reader blocked on hasData, each rechecking its
// predicate in a loop after every wakeup, never trusting the wakeup alone.
package pipe

import (
	"io"

	"github.com/xtaci/tinykernel/kerrors"
	"github.com/xtaci/tinykernel/ringbuf"
	"github.com/xtaci/tinykernel/sched"
	"github.com/xtaci/tinykernel/trace"
)

// Pipe is the shared state of one pipe's two ends. It is not safe for
// concurrent use on its own; every method expects l to already be held,
// exactly like the rest of this module's sched-backed types.
type Pipe struct {
	l   *sched.Lock
	buf *ringbuf.Ring

	hasSpace *sched.Cond // guards: !buf.IsFull() || readerClosed
	hasData  *sched.Cond // guards: !buf.IsEmpty() || writerClosed || readerClosed

	readerClosed bool
	writerClosed bool
}

// New returns a fresh pipe backed by l, the kernel's big lock. Both ends
// share this one lock: the read end and the write end of a pipe are never
// independently lockable, mirroring the source kernel's single mutex.
func New(l *sched.Lock) *Pipe {
	p := &Pipe{l: l, buf: ringbuf.New()}
	p.hasSpace = sched.NewCond(l)
	p.hasData = sched.NewCond(l)
	return p
}

// Reader is the read end of a pipe, installed behind an FCB.
type Reader struct{ p *Pipe }

// Writer is the write end of a pipe, installed behind an FCB.
type Writer struct{ p *Pipe }

// Ends returns the two stream objects to install in a process's FIDT,
// matching sys_Pipe's contract: fid[0] is the read end, fid[1] the write end.
func (p *Pipe) Ends() (*Reader, *Writer) {
	return &Reader{p: p}, &Writer{p: p}
}

// Read blocks until at least one byte is available or the write end has
// closed with the buffer drained, in which case it returns io.EOF. It never
// blocks once any data is available: a short read is always legal.
func (r *Reader) Read(p []byte) (int, error) {
	pp := r.p
	if pp.readerClosed {
		return 0, kerrors.ErrProtocolViolation
	}
	for pp.buf.IsEmpty() && !pp.writerClosed && !pp.readerClosed {
		pp.hasData.Wait()
	}
	if pp.readerClosed {
		return 0, kerrors.ErrProtocolViolation
	}
	if pp.buf.IsEmpty() {
		// writer closed and nothing left to drain
		return 0, io.EOF
	}
	n := pp.buf.Read(p)
	if n > 0 {
		pp.hasSpace.Broadcast()
	}
	return n, nil
}

// Write always fails: the read end of a pipe is not writable. It exists so
// *Reader satisfies fcb.StreamOps, the same uniform op-table sockets use.
func (r *Reader) Write(p []byte) (int, error) {
	return 0, kerrors.ErrBadArgument
}

// Close marks the read end closed. Any writer blocked on buffer-full wakes
// and fails immediately, matching the spec's "write to closed-reader pipe
// fails" contract; a Read blocked on this end wakes and fails too. A second
// Close returns kerrors.ErrProtocolViolation.
func (r *Reader) Close() error {
	pp := r.p
	if pp.readerClosed {
		return kerrors.ErrProtocolViolation
	}
	pp.readerClosed = true
	pp.hasSpace.Broadcast()
	pp.hasData.Broadcast()
	trace.Logf("pipe: reader closed")
	return nil
}

// Write blocks until at least one byte of space is free, writes as much of p
// as fits, and returns the number of bytes actually written. It returns
// kerrors.ErrRemoteGone immediately, writing nothing, once the read end has
// closed — the spec's "write to a pipe whose reader is gone must fail" rule
// (spec.md §7: "Remote gone — ... Writers see -1").
func (w *Writer) Write(p []byte) (int, error) {
	pp := w.p
	if pp.writerClosed {
		return 0, kerrors.ErrProtocolViolation
	}
	if pp.readerClosed {
		return 0, kerrors.ErrRemoteGone
	}
	if len(p) == 0 {
		return 0, nil
	}
	for pp.buf.IsFull() && !pp.readerClosed {
		pp.hasSpace.Wait()
	}
	if pp.readerClosed {
		return 0, kerrors.ErrRemoteGone
	}
	n := pp.buf.Write(p)
	if n > 0 {
		pp.hasData.Broadcast()
	}
	return n, nil
}

// Read always fails: the write end of a pipe is not readable. It exists so
// *Writer satisfies fcb.StreamOps, the same uniform op-table sockets use.
func (w *Writer) Read(p []byte) (int, error) {
	return 0, kerrors.ErrBadArgument
}

// Close marks the write end closed and wakes any blocked reader so it can
// observe end-of-stream once the buffer drains. A second Close returns
// kerrors.ErrProtocolViolation.
func (w *Writer) Close() error {
	pp := w.p
	if pp.writerClosed {
		return kerrors.ErrProtocolViolation
	}
	pp.writerClosed = true
	pp.hasData.Broadcast()
	trace.Logf("pipe: writer closed")
	return nil
}
