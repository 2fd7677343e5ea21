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

// Package kernel wires the five subsystem packages (sched, fcb, pipe,
// socket, process) behind the syscall-shaped surface spec.md §6 names:
// sys_Pipe, sys_Socket, sys_Listen, sys_Accept, sys_Connect, sys_ShutDown,
// sys_CreateThread, sys_ThreadSelf, sys_ThreadJoin, sys_ThreadDetach,
// sys_ThreadExit. Every method here takes the calling process explicitly
// (there is no CURPROC global): callers are expected to be ktest-style
// harnesses, not real user processes, since the scheduler and syscall
// dispatch layer are out of scope (spec.md §1).
package kernel

import (
	"sync/atomic"
	"time"

	"github.com/xtaci/tinykernel/fcb"
	"github.com/xtaci/tinykernel/kdefs"
	"github.com/xtaci/tinykernel/kerrors"
	"github.com/xtaci/tinykernel/pipe"
	"github.com/xtaci/tinykernel/process"
	"github.com/xtaci/tinykernel/sched"
	"github.com/xtaci/tinykernel/socket"
	"github.com/xtaci/tinykernel/stats"
	"github.com/xtaci/tinykernel/trace"
)

// Kernel is one instance of the IPC/threading core: a single big lock, a
// process table rooted at PID 1, and the socket subsystem's shared port
// map. One process of this kind fully owns its Kernel; ktest runs all of
// its scenarios on the one Kernel it creates at startup.
type Kernel struct {
	Lock      *sched.Lock
	Processes *process.Table
	Sockets   *socket.Manager
	Init      *process.PCB

	Counters *stats.Counters
}

// New boots a fresh kernel instance: the big lock, PID 1's PCB, and an
// empty port map.
func New() *Kernel {
	l := sched.NewLock()
	counters := &stats.Counters{}
	procs := process.NewTable(l, counters)
	init := procs.NewProcess(nil)
	return &Kernel{
		Lock:      l,
		Processes: procs,
		Sockets:   socket.NewManager(l),
		Init:      init,
		Counters:  counters,
	}
}

// Spawn allocates a fresh process, parented to init unless parent is
// given, and is the harness-level stand-in for the out-of-scope process
// creation plumbing (spec.md §1: "Process creation/exit plumbing except as
// it interacts with thread lifecycle").
func (k *Kernel) Spawn(parent *process.PCB) *process.PCB {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	if parent == nil {
		parent = k.Init
	}
	return k.Processes.NewProcess(parent)
}

// Pipe implements sys_Pipe: reserve two fids in proc's FIDT for the read
// and write ends of a fresh pipe.
func (k *Kernel) Pipe(proc *process.PCB) (readFid, writeFid int, err error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	p := pipe.New(k.Lock)
	r, w := p.Ends()
	ids, _, ok := proc.FIDT().Reserve([]fcb.StreamOps{r, w})
	if !ok {
		return kdefs.NoFile, kdefs.NoFile, kerrors.ErrResourceExhausted
	}
	atomic.AddInt64(&k.Counters.PipesOpen, 1)
	trace.Logf("kernel: pid %d opened pipe (fids %d, %d)", proc.PID(), ids[0], ids[1])
	return ids[0], ids[1], nil
}

// Socket implements sys_Socket(port).
func (k *Kernel) Socket(proc *process.PCB, port int) (int, error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	fid, err := k.Sockets.Socket(proc.FIDT(), port)
	if err == nil {
		atomic.AddInt64(&k.Counters.SocketsOpen, 1)
	}
	return fid, err
}

// Listen implements sys_Listen(fid).
func (k *Kernel) Listen(proc *process.PCB, fid int) error {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	err := k.Sockets.Listen(proc.FIDT(), fid)
	if err == nil {
		atomic.AddInt64(&k.Counters.ListenersOpen, 1)
	}
	return err
}

// Accept implements sys_Accept(lfid). Like sys_Accept itself, this blocks
// (releasing the big lock internally via the wait) until a connection
// arrives or the listener is withdrawn.
func (k *Kernel) Accept(proc *process.PCB, lfid int) (int, error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return k.Sockets.Accept(proc.FIDT(), lfid)
}

// Connect implements sys_Connect(fid, port, timeout).
func (k *Kernel) Connect(proc *process.PCB, fid, port int, timeout time.Duration) error {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return k.Sockets.Connect(proc.FIDT(), fid, port, timeout)
}

// ShutDown implements sys_ShutDown(fid, how).
func (k *Kernel) ShutDown(proc *process.PCB, fid int, how socket.ShutdownHow) error {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return k.Sockets.ShutDown(proc.FIDT(), fid, how)
}

// Read dispatches to the fid's installed stream, socket_read/pipe_read's
// unified entry point. Like pipe_read/socket_read, this blocks inside the
// stream's own Read until data is available.
func (k *Kernel) Read(proc *process.PCB, fid int, p []byte) (int, error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	f := proc.FIDT().Get(fid)
	if f == nil {
		return 0, kerrors.ErrBadArgument
	}
	return f.Stream().Read(p)
}

// Write dispatches to the fid's installed stream, socket_write/pipe_write's
// unified entry point.
func (k *Kernel) Write(proc *process.PCB, fid int, p []byte) (int, error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	f := proc.FIDT().Get(fid)
	if f == nil {
		return 0, kerrors.ErrBadArgument
	}
	n, err := f.Stream().Write(p)
	if n > 0 {
		atomic.AddInt64(&k.Counters.BytesMoved, int64(n))
	}
	return n, err
}

// Close drops one reference to fid's FCB, invoking Close on the stream if
// this was the last one.
func (k *Kernel) Close(proc *process.PCB, fid int) error {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	f := proc.FIDT().Get(fid)
	if f == nil {
		return kerrors.ErrBadArgument
	}
	err := f.Decref()
	proc.FIDT().Unreserve([]int{fid})
	return err
}

// CreateThread implements sys_CreateThread(task, argl, args).
func (k *Kernel) CreateThread(proc *process.PCB, task process.Task, argl int, args any) *process.PTCB {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return proc.CreateThread(task, argl, args)
}

// ThreadJoin implements sys_ThreadJoin(tid, &out).
func (k *Kernel) ThreadJoin(proc *process.PCB, self, target *process.PTCB) (int, error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return proc.ThreadJoin(self, target)
}

// ThreadDetach implements sys_ThreadDetach(tid).
func (k *Kernel) ThreadDetach(proc *process.PCB, target *process.PTCB) error {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return proc.ThreadDetach(target)
}

// ThreadExit implements sys_ThreadExit(exitval).
func (k *Kernel) ThreadExit(proc *process.PCB, self *process.PTCB, exitval int) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	proc.Exit(self, exitval)
}

// WaitChild implements the supplemental sys_WaitChild (SPEC_FULL.md §10).
func (k *Kernel) WaitChild(proc *process.PCB, pid process.PID, block bool) (process.PID, int, error) {
	k.Lock.Lock()
	defer k.Lock.Unlock()
	return proc.WaitChild(pid, block)
}
