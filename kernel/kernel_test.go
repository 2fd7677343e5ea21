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

// Scenario-level tests matching spec.md §8's seven end-to-end scenarios,
// each run against a fresh Kernel the way the spec assumes.
package kernel

import (
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func TestScenarioPipeBasic(t *testing.T) {
	k := New()
	proc := k.Spawn(nil)

	rfid, wfid, err := k.Pipe(proc)
	if err != nil {
		t.Fatalf("Pipe() = %v", err)
	}
	if n, err := k.Write(proc, wfid, []byte("HELLO")); err != nil || n != 5 {
		t.Fatalf("Write() = %d, %v, want 5, nil", n, err)
	}
	buf := make([]byte, 5)
	if n, err := k.Read(proc, rfid, buf); err != nil || n != 5 || string(buf) != "HELLO" {
		t.Fatalf("Read() = %q, %v, want HELLO, nil", buf[:n], err)
	}
	if err := k.Close(proc, wfid); err != nil {
		t.Fatalf("Close(writer) = %v", err)
	}
	if _, err := k.Read(proc, rfid, buf); err != io.EOF {
		t.Fatalf("Read after writer close = %v, want io.EOF", err)
	}
}

func TestScenarioPipeBlocking(t *testing.T) {
	k := New()
	proc := k.Spawn(nil)
	rfid, wfid, _ := k.Pipe(proc)

	readDone := make(chan struct{})
	var n1 int
	buf := make([]byte, 10)
	go func() {
		n1, _ = k.Read(proc, rfid, buf)
		close(readDone)
	}()

	time.Sleep(20 * time.Millisecond)
	k.Write(proc, wfid, []byte("abc"))

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("blocked Read did not wake on Write")
	}
	if n1 != 3 || string(buf[:n1]) != "abc" {
		t.Fatalf("first Read = %q, want abc", buf[:n1])
	}

	readDone2 := make(chan struct{})
	var n2 int
	var err2 error
	go func() {
		n2, err2 = k.Read(proc, rfid, buf)
		close(readDone2)
	}()
	time.Sleep(20 * time.Millisecond)
	k.Close(proc, wfid)

	select {
	case <-readDone2:
	case <-time.After(time.Second):
		t.Fatal("second blocked Read did not wake on writer Close")
	}
	if n2 != 0 || err2 != io.EOF {
		t.Fatalf("second Read = %d, %v, want 0, io.EOF", n2, err2)
	}
}

func TestScenarioPipeFull(t *testing.T) {
	k := New()
	proc := k.Spawn(nil)
	rfid, wfid, _ := k.Pipe(proc)

	filler := make([]byte, 8192)
	if n, err := k.Write(proc, wfid, filler); err != nil || n != 8192 {
		t.Fatalf("fill Write() = %d, %v, want 8192, nil", n, err)
	}

	writeDone := make(chan struct{})
	var wn int
	go func() {
		wn, _ = k.Write(proc, wfid, make([]byte, 100))
		close(writeDone)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-writeDone:
		t.Fatal("Write on a full pipe should block")
	default:
	}

	drained := make([]byte, 50)
	n, err := k.Read(proc, rfid, drained)
	if err != nil || n != 50 {
		t.Fatalf("Read() = %d, %v, want 50, nil", n, err)
	}

	select {
	case <-writeDone:
	case <-time.After(time.Second):
		t.Fatal("Write did not wake after Read freed space")
	}
	if wn != 50 {
		t.Fatalf("blocked Write wrote %d bytes, want 50", wn)
	}
}

func TestScenarioSocketConnect(t *testing.T) {
	k := New()
	a := k.Spawn(nil)
	b := k.Spawn(nil)

	aFid, err := k.Socket(a, 7)
	if err != nil {
		t.Fatalf("A Socket() = %v", err)
	}
	if err := k.Listen(a, aFid); err != nil {
		t.Fatalf("Listen() = %v", err)
	}

	acceptDone := make(chan int, 1)
	go func() {
		fid, _ := k.Accept(a, aFid)
		acceptDone <- fid
	}()
	time.Sleep(20 * time.Millisecond)

	bFid, _ := k.Socket(b, 0)
	if err := k.Connect(b, bFid, 7, time.Second); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	peerFid := <-acceptDone
	if n, err := k.Write(b, bFid, []byte("ping")); err != nil || n != 4 {
		t.Fatalf("B Write() = %d, %v", n, err)
	}
	buf := make([]byte, 4)
	if n, err := k.Read(a, peerFid, buf); err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("A Read() = %q, %v, want ping", buf[:n], err)
	}
	k.Write(a, peerFid, []byte("pong"))
	if n, err := k.Read(b, bFid, buf); err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("B Read() = %q, %v, want pong", buf[:n], err)
	}
}

func TestScenarioConnectTimeoutThenAcceptDoesNotCrash(t *testing.T) {
	k := New()
	a := k.Spawn(nil)
	b := k.Spawn(nil)

	aFid, _ := k.Socket(a, 11)
	k.Listen(a, aFid)

	bFid, _ := k.Socket(b, 0)
	start := time.Now()
	err := k.Connect(b, bFid, 11, 10*time.Millisecond)
	if err == nil || time.Since(start) < 8*time.Millisecond {
		t.Fatalf("Connect() = %v after %v, want a timeout error after ~10ms", err, time.Since(start))
	}

	// Listener still accepts the now-timed-out request without crashing.
	if _, err := k.Accept(a, aFid); err != nil {
		t.Fatalf("Accept() after client timeout = %v, want nil (just a stale admission)", err)
	}
}

func TestScenarioThreadJoin(t *testing.T) {
	k := New()
	proc := k.Spawn(nil)

	worker := k.CreateThread(proc, func(int, any) int {
		time.Sleep(10 * time.Millisecond)
		return 42
	}, 0, nil)
	main := k.CreateThread(proc, func(int, any) int { return 0 }, 0, nil)

	v, err := k.ThreadJoin(proc, main, worker)
	if err != nil || v != 42 {
		t.Fatalf("ThreadJoin() = %d, %v, want 42, nil", v, err)
	}

	if _, err := k.ThreadJoin(proc, main, worker); err == nil {
		t.Fatal("second Join on an already-freed PTCB should fail")
	}
}

func TestCountersReflectKernelActivity(t *testing.T) {
	k := New()
	proc := k.Spawn(nil)

	if _, _, err := k.Pipe(proc); err != nil {
		t.Fatalf("Pipe() = %v", err)
	}
	fid, err := k.Socket(proc, 50)
	if err != nil {
		t.Fatalf("Socket() = %v", err)
	}
	if err := k.Listen(proc, fid); err != nil {
		t.Fatalf("Listen() = %v", err)
	}

	hold := make(chan struct{})
	defer close(hold)
	main := k.CreateThread(proc, func(int, any) int { <-hold; return 0 }, 0, nil)
	worker := k.CreateThread(proc, func(int, any) int { return 0 }, 0, nil)
	if _, err := k.ThreadJoin(proc, main, worker); err != nil {
		t.Fatalf("ThreadJoin() = %v", err)
	}

	if got := atomic.LoadInt64(&k.Counters.PipesOpen); got != 1 {
		t.Fatalf("PipesOpen = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&k.Counters.SocketsOpen); got != 1 {
		t.Fatalf("SocketsOpen = %d, want 1", got)
	}
	if got := atomic.LoadInt64(&k.Counters.ListenersOpen); got != 1 {
		t.Fatalf("ListenersOpen = %d, want 1", got)
	}
	// worker already exited (task returns immediately and ThreadJoin
	// freed it); main is still alive and counted.
	if got := atomic.LoadInt64(&k.Counters.ThreadsLive); got != 1 {
		t.Fatalf("ThreadsLive = %d, want 1 (main still alive)", got)
	}

	k.ThreadExit(proc, main, 0)
	if got := atomic.LoadInt64(&k.Counters.ThreadsLive); got != 0 {
		t.Fatalf("ThreadsLive after last thread exits = %d, want 0", got)
	}
	if got := atomic.LoadInt64(&k.Counters.ProcsZombie); got != 1 {
		t.Fatalf("ProcsZombie = %d, want 1", got)
	}
}

func TestScenarioDetachRacesJoin(t *testing.T) {
	k := New()
	proc := k.Spawn(nil)

	block := make(chan struct{})
	t2 := k.CreateThread(proc, func(int, any) int {
		<-block
		return 1
	}, 0, nil)
	t1 := k.CreateThread(proc, func(int, any) int { return 0 }, 0, nil)
	t3 := k.CreateThread(proc, func(int, any) int { return 0 }, 0, nil)

	joinDone := make(chan error, 1)
	go func() {
		_, err := k.ThreadJoin(proc, t1, t2)
		joinDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := k.ThreadDetach(proc, t3); err == nil {
		t.Fatal("detaching t3, which has already exited, should fail")
	}
	if err := k.ThreadDetach(proc, t2); err != nil {
		t.Fatalf("ThreadDetach(t2) = %v", err)
	}

	select {
	case err := <-joinDone:
		if err == nil {
			t.Fatal("t1's Join on t2 should fail once t2 is detached")
		}
	case <-time.After(time.Second):
		t.Fatal("t1's Join did not wake after Detach")
	}
	close(block)
}
