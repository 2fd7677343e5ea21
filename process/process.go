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

// Package process implements per-process multi-threading: the PTCB
// (process-visible thread control block) lifecycle of sys_CreateThread,
// sys_ThreadSelf, sys_ThreadJoin, sys_ThreadDetach and sys_ThreadExit, and
// the process-teardown glue the last ThreadExit of a PCB triggers.
//
// A goroutine stands in for the source kernel's low-level TCB: spawn_thread,
// wakeup and kernel_sleep are the Go runtime's job, not this package's (see
// SPEC_FULL.md §6.1). What this package owns is the bookkeeping the source
// kernel layers on top of that scheduler primitive — join/detach semantics,
// refcounting, and the cascade of reparenting and FCB release that a
// process's last thread exiting sets off.
//
// There is no goroutine-local "current thread" lookup in Go the way
// cur_thread() works in the source kernel, so every method that needs to
// know "who is calling" takes an explicit self *PTCB handle instead.
package process

import (
	"sync/atomic"

	"github.com/xtaci/tinykernel/fcb"
	"github.com/xtaci/tinykernel/kerrors"
	"github.com/xtaci/tinykernel/sched"
	"github.com/xtaci/tinykernel/stats"
	"github.com/xtaci/tinykernel/trace"
)

// PID identifies a process. PID 1 is the kernel's init process and plays a
// special role in reparenting (see teardown).
type PID int

// InitPID is the reparenting target for every orphaned process.
const InitPID = 1

// State is a PCB's lifecycle stage.
type State int

const (
	Free State = iota
	Alive
	Zombie
)

// Task is a thread's entry point, matching sys_CreateThread's contract:
// task(argl, args) runs, and its return value becomes the thread's exitval
// unless ThreadExit is called explicitly first.
type Task func(argl int, args any) int

// PTCB is a process-visible thread control block.
type PTCB struct {
	proc *PCB

	task Task
	argl int
	args any

	exited   bool
	detached bool
	exitval  int
	refcount int

	exitCV *sched.Cond

	done chan struct{} // closed once the goroutine backing this thread returns
}

// PCB is a process control block: parent/children bookkeeping, the file-id
// table, and the list of threads belonging to this process.
type PCB struct {
	l     *sched.Lock
	owner *Table

	pid    PID
	parent *PCB

	children       map[PID]*PCB
	exitedChildren map[PID]*PCB
	childExit      *sched.Cond

	fidt *fcb.Table

	threads     map[*PTCB]struct{}
	threadCount int

	state   State
	exitval int

	mainThread *PTCB
	args       any
}

// Table is the process table: PID allocation and lookup, shared by every
// PCB so reparenting can find PID 1.
type Table struct {
	l *sched.Lock

	procs  map[PID]*PCB
	nextID PID

	counters *stats.Counters
}

// NewTable returns an empty process table bound to l, the kernel's big
// lock. Every PCB and PTCB created through this table shares that one lock,
// and every thread/zombie transition is reflected into counters (ThreadsLive,
// ProcsZombie) for the stats sink (SPEC_FULL.md §6.4).
func NewTable(l *sched.Lock, counters *stats.Counters) *Table {
	return &Table{l: l, procs: make(map[PID]*PCB), counters: counters}
}

// NewProcess allocates a fresh PCB under parent (nil for PID 1 itself) and
// registers it in the table. Mirrors the source kernel's process creation
// just enough to exercise thread lifecycle and teardown; full process
// creation (program loading, address spaces) is out of scope (see
// spec.md §1's Non-goals).
func (t *Table) NewProcess(parent *PCB) *PCB {
	t.nextID++
	p := &PCB{
		l:              t.l,
		owner:          t,
		pid:            t.nextID,
		parent:         parent,
		children:       make(map[PID]*PCB),
		exitedChildren: make(map[PID]*PCB),
		fidt:           fcb.NewTable(),
		threads:        make(map[*PTCB]struct{}),
		state:          Alive,
	}
	p.childExit = sched.NewCond(t.l)
	if parent != nil {
		parent.children[p.pid] = p
	}
	t.procs[p.pid] = p
	return p
}

// Get resolves a PID to its PCB, or nil if unknown.
func (t *Table) Get(pid PID) *PCB {
	return t.procs[pid]
}

// PID returns the process's identifier.
func (p *PCB) PID() PID { return p.pid }

// State reports the process's current lifecycle stage.
func (p *PCB) State() State { return p.state }

// FIDT returns the process's file-id table, for syscalls (pipe, socket)
// that need to reserve or resolve fids on this process's behalf.
func (p *PCB) FIDT() *fcb.Table { return p.fidt }

// CreateThread implements sys_CreateThread(task, argl, args): spawn a
// goroutine whose body calls task(argl, args) and then an implicit
// ThreadExit, link a fresh PTCB into this PCB, and return it as the new
// thread's Tid.
//
// The caller must hold the PCB's lock on entry. task itself runs outside
// the lock, exactly like user code in the source kernel runs outside the
// kernel monitor between syscalls; only the bookkeeping around entry and
// exit is serialized by it.
func (p *PCB) CreateThread(task Task, argl int, args any) *PTCB {
	t := &PTCB{
		proc:     p,
		task:     task,
		argl:     argl,
		args:     args,
		refcount: 1, // implicit self-reference while not exited
		done:     make(chan struct{}),
	}
	t.exitCV = sched.NewCond(p.l)
	p.threads[t] = struct{}{}
	p.threadCount++
	if p.mainThread == nil {
		p.mainThread = t
	}
	atomic.AddInt64(&p.owner.counters.ThreadsLive, 1)

	go func() {
		rc := task(argl, args)
		p.l.Lock()
		t.exit(rc)
		p.l.Unlock()
		close(t.done)
	}()

	return t
}

// ThreadSelf implements sys_ThreadSelf: trivial in this model since Go has
// no implicit "current thread", callers simply keep the *PTCB CreateThread
// handed back.
func (t *PTCB) ThreadSelf() *PTCB { return t }

// ThreadJoin implements sys_ThreadJoin(tid, &out). self must not be target,
// and target must belong to the same PCB as self.
func (p *PCB) ThreadJoin(self, target *PTCB) (exitval int, err error) {
	if target == nil || target == self {
		return 0, kerrors.ErrBadArgument
	}
	if _, ok := p.threads[target]; !ok {
		return 0, kerrors.ErrBadArgument
	}
	if target.detached {
		return 0, kerrors.ErrProtocolViolation
	}

	target.refcount++
	for !target.exited && !target.detached {
		target.exitCV.Wait()
	}
	target.refcount--

	if target.detached {
		return 0, kerrors.ErrProtocolViolation
	}
	exitval = target.exitval
	if target.refcount == 0 {
		delete(p.threads, target)
	}
	return exitval, nil
}

// ThreadDetach implements sys_ThreadDetach(tid): reject if target already
// exited, else mark it detached and wake any joiners so they observe the
// flag and fail.
func (p *PCB) ThreadDetach(target *PTCB) error {
	if _, ok := p.threads[target]; !ok {
		return kerrors.ErrBadArgument
	}
	if target.exited {
		return kerrors.ErrProtocolViolation
	}
	target.detached = true
	target.exitCV.Broadcast()
	return nil
}

// exit records exitval, flips the exited flag, drops the thread's implicit
// self-reference, and wakes joiners. Called with the PCB lock held, either
// by the thread itself (via ThreadExit) or by its wrapper goroutine once
// task returns.
func (t *PTCB) exit(exitval int) {
	if t.exited {
		return
	}
	t.exitval = exitval
	t.exited = true
	t.refcount-- // the "while not exited" self-reference goes away
	t.proc.threadCount--
	t.exitCV.Broadcast()
	atomic.AddInt64(&t.proc.owner.counters.ThreadsLive, -1)

	// A detached thread has no joiner coming to free it; an exited,
	// undetached thread with refcount 0 stays in the list as a joinable
	// zombie until ThreadJoin claims and frees it.
	if t.detached && t.refcount <= 0 {
		delete(t.proc.threads, t)
	}

	if t.proc.threadCount == 0 {
		t.proc.exitval = exitval
		t.proc.teardown()
	}
}

// ThreadExit implements sys_ThreadExit(exitval): record the exit value,
// wake joiners, and trigger process teardown if this was the last thread.
// Unlike the source kernel, there is no "sleep forever in EXITED state"
// step to model explicitly — the goroutine simply returns after this call.
func (p *PCB) ThreadExit(self *PTCB, exitval int) {
	self.exit(exitval)
}

// teardown implements §4.F: invoked with the PCB lock held, from the last
// ThreadExit of this PCB's threads.
func (p *PCB) teardown() {
	if p.owner != nil && p.pid != InitPID {
		initProc := p.owner.Get(InitPID)
		if initProc != nil {
			for cpid, c := range p.children {
				c.parent = initProc
				initProc.children[cpid] = c
				delete(p.children, cpid)
			}
			for cpid, c := range p.exitedChildren {
				initProc.exitedChildren[cpid] = c
				delete(p.exitedChildren, cpid)
			}
			initProc.childExit.Broadcast()
		}
		if p.parent != nil {
			delete(p.parent.children, p.pid)
			p.parent.exitedChildren[p.pid] = p
			p.parent.childExit.Broadcast()
		}
	}

	p.args = nil
	if errs := p.fidt.Close(); len(errs) > 0 {
		trace.Logf("process: pid %d teardown saw %d fcb close error(s)", p.pid, len(errs))
	}
	for t := range p.threads {
		delete(p.threads, t)
	}
	p.mainThread = nil
	p.state = Zombie
	atomic.AddInt64(&p.owner.counters.ProcsZombie, 1)
}

// NoProc is the wildcard PID sys_WaitChild(NOPROC, ...) uses to mean "any
// child", matching kernel_proc.c's NOPROC.
const NoProc PID = 0

// WaitChild implements the supplemental sys_WaitChild(cpid, &status) the
// core spec only alludes to via PID 1's teardown loop (spec.md §4.F):
// reap a specific exited child, or with pid == NoProc, any exited child.
// If block is false, WaitChild returns immediately with NoProc and a nil
// error when no child is ready yet, instead of sleeping — kernel_proc.c's
// sys_WaitChild has no such nowait mode, but PID 1's drain loop
// ("while(sys_WaitChild(NOPROC,NULL)!=NOPROC)") only needs the blocking
// form, so nowait is this module's addition for non-init callers that
// want to poll.
func (p *PCB) WaitChild(pid PID, block bool) (PID, int, error) {
	if pid != NoProc {
		if _, ok := p.children[pid]; !ok {
			if c, ok := p.exitedChildren[pid]; ok {
				delete(p.exitedChildren, pid)
				return pid, c.exitval, nil
			}
			return NoProc, 0, kerrors.ErrBadArgument
		}
		for {
			if c, ok := p.exitedChildren[pid]; ok {
				delete(p.exitedChildren, pid)
				return pid, c.exitval, nil
			}
			if !block {
				return NoProc, 0, nil
			}
			p.childExit.Wait()
		}
	}

	for {
		for cpid, c := range p.exitedChildren {
			delete(p.exitedChildren, cpid)
			return cpid, c.exitval, nil
		}
		if len(p.children) == 0 {
			return NoProc, 0, kerrors.ErrBadArgument
		}
		if !block {
			return NoProc, 0, nil
		}
		p.childExit.Wait()
	}
}

// Exit implements the process-level wrapper around the last ThreadExit:
// PID 1 must drain every child before it is allowed to exit itself
// (spec.md §4.F: "PID 1 is special: it must, before exiting, loop-wait for
// all children to exit").
func (p *PCB) Exit(self *PTCB, exitval int) {
	if p.pid == InitPID {
		for {
			cpid, _, err := p.WaitChild(NoProc, true)
			if err != nil || cpid == NoProc {
				break
			}
		}
	}
	p.ThreadExit(self, exitval)
}
