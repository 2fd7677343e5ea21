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

package socket

import (
	"testing"
	"time"

	"github.com/xtaci/tinykernel/fcb"
	"github.com/xtaci/tinykernel/kdefs"
	"github.com/xtaci/tinykernel/kerrors"
	"github.com/xtaci/tinykernel/sched"
)

func newHarness() (*sched.Lock, *Manager, *fcb.Table, *fcb.Table) {
	l := sched.NewLock()
	m := NewManager(l)
	return l, m, fcb.NewTable(), fcb.NewTable()
}

func TestListenAcceptConnectRoundTrip(t *testing.T) {
	l, m, serverTbl, clientTbl := newHarness()

	l.Lock()
	lfid, err := m.Socket(serverTbl, 42)
	if err != nil {
		t.Fatalf("Socket() = %v", err)
	}
	if err := m.Listen(serverTbl, lfid); err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	l.Unlock()

	acceptDone := make(chan struct{})
	var serverFid int
	var acceptErr error
	go func() {
		l.Lock()
		serverFid, acceptErr = m.Accept(serverTbl, lfid)
		l.Unlock()
		close(acceptDone)
	}()

	// give Accept a chance to block on the empty queue
	time.Sleep(20 * time.Millisecond)

	l.Lock()
	cfid, err := m.Socket(clientTbl, kdefs.NoPort)
	if err != nil {
		t.Fatalf("client Socket() = %v", err)
	}
	connectErr := m.Connect(clientTbl, cfid, 42, time.Second)
	l.Unlock()
	if connectErr != nil {
		t.Fatalf("Connect() = %v", connectErr)
	}

	select {
	case <-acceptDone:
	case <-time.After(time.Second):
		t.Fatal("Accept did not return after Connect")
	}
	if acceptErr != nil {
		t.Fatalf("Accept() = %v", acceptErr)
	}

	// client -> server
	l.Lock()
	clientFCB := clientTbl.Get(cfid)
	serverFCB := serverTbl.Get(serverFid)
	n, err := clientFCB.Stream().Write([]byte("ping"))
	l.Unlock()
	if err != nil || n != 4 {
		t.Fatalf("client write = %d, %v", n, err)
	}

	buf := make([]byte, 4)
	l.Lock()
	n, err = serverFCB.Stream().Read(buf)
	l.Unlock()
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("server read = %q, %v, want ping", buf[:n], err)
	}

	// server -> client
	l.Lock()
	n, err = serverFCB.Stream().Write([]byte("pong"))
	l.Unlock()
	if err != nil || n != 4 {
		t.Fatalf("server write = %d, %v", n, err)
	}
	l.Lock()
	n, err = clientFCB.Stream().Read(buf)
	l.Unlock()
	if err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("client read = %q, %v, want pong", buf[:n], err)
	}
}

func TestConnectToNonListenerFails(t *testing.T) {
	l, m, tbl, _ := newHarness()
	l.Lock()
	fid, _ := m.Socket(tbl, kdefs.NoPort)
	err := m.Connect(tbl, fid, 7, time.Millisecond)
	l.Unlock()
	if err != kerrors.ErrProtocolViolation {
		t.Fatalf("Connect to unbound port = %v, want ErrProtocolViolation", err)
	}
}

func TestConnectTimesOutWithoutAccept(t *testing.T) {
	l, m, serverTbl, clientTbl := newHarness()
	l.Lock()
	lfid, _ := m.Socket(serverTbl, 9)
	m.Listen(serverTbl, lfid)
	cfid, _ := m.Socket(clientTbl, kdefs.NoPort)
	start := time.Now()
	err := m.Connect(clientTbl, cfid, 9, 30*time.Millisecond)
	elapsed := time.Since(start)
	l.Unlock()
	if err != kerrors.ErrTimeout {
		t.Fatalf("Connect() = %v, want ErrTimeout", err)
	}
	if elapsed < 25*time.Millisecond {
		t.Fatalf("Connect returned too early: %v", elapsed)
	}
}

func TestOnlyOneListenerPerPort(t *testing.T) {
	l, m, tbl1, tbl2 := newHarness()
	l.Lock()
	fid1, _ := m.Socket(tbl1, 100)
	if err := m.Listen(tbl1, fid1); err != nil {
		t.Fatalf("first Listen() = %v", err)
	}
	fid2, _ := m.Socket(tbl2, 100)
	err := m.Listen(tbl2, fid2)
	l.Unlock()
	if err != kerrors.ErrProtocolViolation {
		t.Fatalf("second Listen() on same port = %v, want ErrProtocolViolation", err)
	}
}

func TestWriteOnNonPeerFails(t *testing.T) {
	l, m, tbl, _ := newHarness()
	l.Lock()
	fid, _ := m.Socket(tbl, kdefs.NoPort)
	f := tbl.Get(fid)
	_, err := f.Stream().Write([]byte("x"))
	l.Unlock()
	if err != kerrors.ErrProtocolViolation {
		t.Fatalf("write on UNBOUND socket = %v, want ErrProtocolViolation", err)
	}
}

func TestHalfCloseReadSeesEOFWriteFails(t *testing.T) {
	l, m, serverTbl, clientTbl := newHarness()
	l.Lock()
	lfid, _ := m.Socket(serverTbl, 55)
	m.Listen(serverTbl, lfid)
	l.Unlock()

	acceptDone := make(chan int)
	go func() {
		l.Lock()
		fid, _ := m.Accept(serverTbl, lfid)
		l.Unlock()
		acceptDone <- fid
	}()
	time.Sleep(10 * time.Millisecond)

	l.Lock()
	cfid, _ := m.Socket(clientTbl, kdefs.NoPort)
	m.Connect(clientTbl, cfid, 55, time.Second)
	l.Unlock()
	serverFid := <-acceptDone

	l.Lock()
	err := m.ShutDown(clientTbl, cfid, ShutdownWrite)
	l.Unlock()
	if err != nil {
		t.Fatalf("ShutDown(write) = %v", err)
	}

	buf := make([]byte, 1)
	l.Lock()
	serverFCB := serverTbl.Get(serverFid)
	n, rerr := serverFCB.Stream().Read(buf)
	l.Unlock()
	if n != 0 || rerr == nil {
		t.Fatalf("server read after client write-shutdown: n=%d err=%v, want n=0, io.EOF", n, rerr)
	}

	l.Lock()
	clientFCB := clientTbl.Get(cfid)
	_, werr := clientFCB.Stream().Write([]byte("x"))
	l.Unlock()
	if werr == nil {
		t.Fatal("write after own write-shutdown should fail")
	}
}
