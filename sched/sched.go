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

// Package sched stands in for the out-of-scope CPU scheduler: a single big
// lock plus Mesa-style condition variables. Every other package in this
// module treats a *sched.Lock as the one thing serializing its state, and a
// *sched.Cond as kernel_wait/kernel_broadcast/kernel_signal/kernel_timedwait.
//
// The discipline is the classic one: a wakeup is never a guarantee, only an
// invitation to re-check the predicate the condition variable guards. Every
// Wait/WaitUntil call in this codebase sits inside a "for !predicate()" loop.
package sched

import (
	"sync"
	"time"
)

// Lock is the kernel's single big lock. spawn_thread, wakeup and friends are
// not modeled here (they are plain goroutines, see package process) but
// every piece of shared state pipes, sockets and threads touch is guarded by
// exactly one of these per Kernel instance.
type Lock struct {
	mu sync.Mutex
}

// NewLock returns a fresh, unlocked big lock.
func NewLock() *Lock { return &Lock{} }

// Lock acquires the big lock.
func (l *Lock) Lock() { l.mu.Lock() }

// Unlock releases the big lock.
func (l *Lock) Unlock() { l.mu.Unlock() }

// Cond is a condition variable bound to a Lock, exactly as kernel_wait's cv
// parameter is bound to the single process-wide mutex in the source kernel.
type Cond struct {
	cond *sync.Cond
}

// NewCond binds a fresh condition variable to l. Document, next to each
// NewCond call site, which fields make up the predicate it guards — that
// predicate is the only thing a caller may trust after waking up.
func NewCond(l *Lock) *Cond {
	return &Cond{cond: sync.NewCond(&l.mu)}
}

// Wait sleeps until Broadcast or Signal. The caller must hold the bound
// Lock, and must re-check its predicate in a loop after Wait returns: this
// is kernel_wait, not a single-shot event.
func (c *Cond) Wait() {
	c.cond.Wait()
}

// Broadcast wakes every waiter. Used throughout this module in place of
// Signal even where only one waiter is typically expected, because a pipe or
// socket handle can be shared by more than one process (kernel_broadcast).
func (c *Cond) Broadcast() {
	c.cond.Broadcast()
}

// Signal wakes at most one waiter. Reserved for the few call sites where the
// spec explicitly only needs one (kernel_signal); Broadcast is the default.
func (c *Cond) Signal() {
	c.cond.Signal()
}

// WaitUntil sleeps until Broadcast/Signal or deadline, whichever comes
// first, mirroring kernel_timedwait. It reports whether the wakeup happened
// strictly before the deadline; the caller must still re-check its predicate
// either way, since a spurious or unrelated broadcast can race the deadline.
//
// sync.Cond has no native deadline, so this arranges one: a watchdog timer
// fires a broadcast of its own once the deadline passes. The caller holds
// the Lock on entry, exactly like Wait's contract, and holds it again on
// return.
func (c *Cond) WaitUntil(l *Lock, deadline time.Time) (wokeBeforeDeadline bool) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.AfterFunc(remaining, func() {
		l.Lock()
		c.Broadcast()
		l.Unlock()
	})
	defer timer.Stop()
	c.Wait()
	return !time.Now().After(deadline)
}
