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

// Package fcb implements the uniform file control block: a refcounted handle
// wrapping any stream object that can Read, Write and Close. Pipes and
// sockets are both installed behind this one abstraction, and a process's
// file-id table (Table) maps small integers onto FCBs exactly the way the
// source kernel's FIDT does.
//
// Every method here assumes the caller already holds the kernel's big lock
// (package sched); fcb does not lock anything itself.
package fcb

import (
	"github.com/pkg/errors"
	"github.com/xtaci/tinykernel/kdefs"
	"github.com/xtaci/tinykernel/trace"
)

// StreamOps is the virtual op-table every stream object behind an FCB must
// implement: Read, Write, Close. This is the polymorphic trait the design
// notes call for in place of the source kernel's {Read,Write,Close}
// function-pointer struct.
type StreamOps interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// FCB is a uniform, refcounted stream handle.
type FCB struct {
	refcount int
	stream   StreamOps
}

// New wraps stream in a fresh FCB with refcount 1.
func New(stream StreamOps) *FCB {
	return &FCB{refcount: 1, stream: stream}
}

// Stream returns the wrapped stream object.
func (f *FCB) Stream() StreamOps { return f.stream }

// Incref bumps the reference count, for a holder that shares this FCB with
// the fid that owns it. Accept and Connect do not call it: they count
// themselves on the socket control block instead.
func (f *FCB) Incref() {
	f.refcount++
	trace.Logf("fcb: incref -> %d", f.refcount)
}

// Decref drops the reference count by one. On the transition to zero it
// calls Close on the wrapped stream and returns its result; otherwise it
// returns nil without touching the stream.
func (f *FCB) Decref() error {
	f.refcount--
	trace.Logf("fcb: decref -> %d", f.refcount)
	if f.refcount > 0 {
		return nil
	}
	if f.refcount < 0 {
		panic("fcb: decref below zero")
	}
	return f.stream.Close()
}

// Refcount reports the current reference count, for tests and tracing.
func (f *FCB) Refcount() int { return f.refcount }

// Table is a process's file-id table, FIDT[0, kdefs.MaxFileID).
type Table struct {
	slots [kdefs.MaxFileID]*FCB
}

// NewTable returns an empty file-id table.
func NewTable() *Table {
	return &Table{}
}

// Reserve atomically allocates n fresh file-ids, each bound to a new FCB
// wrapping the corresponding entry of streams. It is all-or-nothing: if
// fewer than n free slots exist, no id is allocated and ok is false.
func (t *Table) Reserve(streams []StreamOps) (ids []int, fcbs []*FCB, ok bool) {
	n := len(streams)
	ids = make([]int, 0, n)
	for i := 0; i < kdefs.MaxFileID && len(ids) < n; i++ {
		if t.slots[i] == nil {
			ids = append(ids, i)
		}
	}
	if len(ids) < n {
		return nil, nil, false
	}
	fcbs = make([]*FCB, n)
	for i, id := range ids {
		f := New(streams[i])
		t.slots[id] = f
		fcbs[i] = f
	}
	return ids, fcbs, true
}

// Unreserve returns previously reserved ids to the free pool without
// invoking Close on their streams. Kernel.Close uses it to clear a fid's
// slot after dropping that fid's reference with Decref.
func (t *Table) Unreserve(ids []int) {
	for _, id := range ids {
		t.slots[id] = nil
	}
}

// Get resolves a file-id to its currently bound FCB, or nil if the id is out
// of range or unbound.
func (t *Table) Get(fid int) *FCB {
	if fid < 0 || fid >= kdefs.MaxFileID {
		return nil
	}
	return t.slots[fid]
}

// Close decrefs and nils out every installed entry, as process teardown
// requires: "decref every installed FCB in FIDT, nulling each entry."
func (t *Table) Close() []error {
	var errs []error
	for i := range t.slots {
		if t.slots[i] == nil {
			continue
		}
		if err := t.slots[i].Decref(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing fid %d", i))
			trace.Logf("fcb: decref fid %d on teardown: %v", i, err)
		}
		t.slots[i] = nil
	}
	return errs
}
