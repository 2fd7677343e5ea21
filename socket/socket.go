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

// Package socket implements stream sockets and their rendezvous protocol:
// sys_Socket, sys_Listen, sys_Connect, sys_Accept, sys_ShutDown, and the
// socket_read/socket_write/socket_close dispatch an installed FCB drives.
//
// The design mirrors the two-sided handshake of a stream multiplexer — a
// listener's request queue, a Connect that blocks until admitted, an Accept
// that wires up the payload and signals admission — the same shape as
// smux's Session.OpenStream/AcceptStream rendezvous, adapted here to an
// in-process pair of pipes instead of a framed wire protocol: this kernel
// has no persisted state and no wire format (see SPEC_FULL.md §6).
package socket

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/tinykernel/fcb"
	"github.com/xtaci/tinykernel/kdefs"
	"github.com/xtaci/tinykernel/kerrors"
	"github.com/xtaci/tinykernel/pipe"
	"github.com/xtaci/tinykernel/sched"
	"github.com/xtaci/tinykernel/trace"
)

// Type is a socket's role.
type Type int

const (
	Unbound Type = iota
	Listener
	Peer
)

// ShutdownHow selects which half of a peer socket to shut down.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// socket is the control block backing one fid's worth of socket state. Only
// one of the listener/peer payloads is meaningful, selected by typ.
type socket struct {
	typ      Type
	port     int
	refcount int

	// LISTENER payload
	queue        []*ConnReq
	reqAvailable *sched.Cond

	// PEER payload
	reader *pipe.Reader
	writer *pipe.Writer
}

// ConnReq is the client-allocated rendezvous object bridging Connect and
// Accept, queued on the listener the client is dialing.
type ConnReq struct {
	admitted    bool
	client      *socket
	connectedCV *sched.Cond
}

// PortMap is the process-wide PORT_MAP[1..MAX_PORT], shared by every
// Manager operation under the same big lock.
type PortMap struct {
	slots [kdefs.MaxPort + 1]*socket
}

// Manager is the socket subsystem for one kernel instance: the shared big
// lock, the port map, and the glue between fcb.Table entries and socket
// control blocks. All of its methods assume the caller's process FIDT
// (passed in as *fcb.Table) belongs to the process making the call.
type Manager struct {
	l  *sched.Lock
	pm *PortMap
}

// NewManager returns a socket subsystem bound to l, the kernel's big lock.
func NewManager(l *sched.Lock) *Manager {
	return &Manager{l: l, pm: &PortMap{}}
}

// streamOps adapts a *socket to fcb.StreamOps, so FCB.Decref's
// transition-to-zero dispatches straight into socket_close.
type streamOps struct {
	s  *socket
	m  *Manager
}

func (so *streamOps) Read(p []byte) (int, error) {
	if so.s.typ != Peer || so.s.reader == nil {
		return 0, kerrors.ErrProtocolViolation
	}
	return so.s.reader.Read(p)
}

func (so *streamOps) Write(p []byte) (int, error) {
	if so.s.typ != Peer || so.s.writer == nil {
		return 0, kerrors.ErrProtocolViolation
	}
	return so.s.writer.Write(p)
}

// Close implements socket_close, dispatched by FCB refcount reaching zero.
func (so *streamOps) Close() error {
	s := so.s
	switch s.typ {
	case Unbound:
		// nothing to do beyond free
	case Listener:
		if so.m.pm.slots[s.port] == s {
			so.m.pm.slots[s.port] = nil
		}
		s.reqAvailable.Broadcast()
		trace.Logf("socket: listener on port %d torn down", s.port)
	case Peer:
		if s.writer != nil {
			s.writer.Close()
		}
		if s.reader != nil {
			s.reader.Close()
		}
		s.writer = nil
		s.reader = nil
	default:
		return errors.Errorf("socket: close on socket with unknown type %d", s.typ)
	}
	return nil
}

// resolve looks up fid in tbl and returns its socket control block, or an
// error if fid is unbound or not a socket at all.
func (m *Manager) resolve(tbl *fcb.Table, fid int) (*socket, error) {
	f := tbl.Get(fid)
	if f == nil {
		return nil, kerrors.ErrBadArgument
	}
	so, ok := f.Stream().(*streamOps)
	if !ok {
		return nil, kerrors.ErrBadArgument
	}
	return so.s, nil
}

// Socket implements sys_Socket(port): reserve one FCB, allocate an UNBOUND
// socket bound to port, install socket-ops, return its fid.
func (m *Manager) Socket(tbl *fcb.Table, port int) (int, error) {
	if port < kdefs.NoPort || port > kdefs.MaxPort {
		return kdefs.NoFile, kerrors.ErrBadArgument
	}
	s := &socket{typ: Unbound, port: port}
	ids, _, ok := tbl.Reserve([]fcb.StreamOps{&streamOps{s: s, m: m}})
	if !ok {
		return kdefs.NoFile, kerrors.ErrResourceExhausted
	}
	return ids[0], nil
}

// Listen implements sys_Listen(fid): UNBOUND -> LISTENER, publish into the
// port map. Only one listener may ever own a given port at a time.
func (m *Manager) Listen(tbl *fcb.Table, fid int) error {
	s, err := m.resolve(tbl, fid)
	if err != nil {
		return err
	}
	if s.typ != Unbound || s.port == kdefs.NoPort {
		return kerrors.ErrProtocolViolation
	}
	if m.pm.slots[s.port] != nil {
		return kerrors.ErrProtocolViolation
	}
	s.typ = Listener
	s.reqAvailable = sched.NewCond(m.l)
	m.pm.slots[s.port] = s
	trace.Logf("socket: listening on port %d", s.port)
	return nil
}

// Connect implements sys_Connect(fid, port, timeout): enqueue a ConnReq on
// the target listener and block until admitted or the deadline passes.
func (m *Manager) Connect(tbl *fcb.Table, fid int, port int, timeout time.Duration) error {
	self, err := m.resolve(tbl, fid)
	if err != nil {
		return err
	}
	if self.typ != Unbound {
		return kerrors.ErrProtocolViolation
	}
	if port < kdefs.NoPort || port > kdefs.MaxPort {
		return kerrors.ErrBadArgument
	}
	listener := m.pm.slots[port]
	if listener == nil || listener.typ != Listener {
		return kerrors.ErrProtocolViolation
	}

	// Count this in-flight Connect as a holder of self for the duration of
	// the sleep below. Nothing in this package reads the count back: Close
	// does not consult it, and the control block's memory is reclaimed by
	// the garbage collector once unreachable.
	self.refcount++
	defer func() { self.refcount-- }()

	req := &ConnReq{client: self, connectedCV: sched.NewCond(m.l)}
	listener.queue = append(listener.queue, req)
	listener.reqAvailable.Broadcast()

	deadline := time.Now().Add(timeout)
	for !req.admitted {
		if !req.connectedCV.WaitUntil(m.l, deadline) && !req.admitted {
			return kerrors.ErrTimeout
		}
	}
	return nil
}

// Accept implements sys_Accept(lfid): pop one queued ConnReq, allocate a
// fresh peer socket, wire two pipes between client and server, and admit
// the request under the same lock that publishes the wiring.
func (m *Manager) Accept(tbl *fcb.Table, lfid int) (int, error) {
	listener, err := m.resolve(tbl, lfid)
	if err != nil {
		return kdefs.NoFile, err
	}
	if listener.typ != Listener {
		return kdefs.NoFile, kerrors.ErrProtocolViolation
	}
	listener.refcount++
	defer func() { listener.refcount-- }()

	for len(listener.queue) == 0 && m.pm.slots[listener.port] == listener {
		listener.reqAvailable.Wait()
	}
	if m.pm.slots[listener.port] != listener {
		return kdefs.NoFile, kerrors.ErrProtocolViolation
	}

	req := listener.queue[0]
	listener.queue = listener.queue[1:]

	serverSock := &socket{typ: Peer, port: listener.port}
	ids, _, ok := tbl.Reserve([]fcb.StreamOps{&streamOps{s: serverSock, m: m}})
	if !ok {
		return kdefs.NoFile, kerrors.ErrResourceExhausted
	}
	serverFid := ids[0]

	req.client.typ = Peer

	p1 := pipe.New(m.l) // client -> server
	p2 := pipe.New(m.l) // server -> client
	r1, w1 := p1.Ends()
	r2, w2 := p2.Ends()

	req.client.writer = w1
	serverSock.reader = r1
	serverSock.writer = w2
	req.client.reader = r2

	req.admitted = true
	// Signal, not Broadcast: connectedCV is allocated fresh per ConnReq
	// (see Connect), so at most one goroutine is ever waiting on it —
	// the one spec.md §4.D step 8 calls "signal connected_cv".
	req.connectedCV.Signal()

	trace.Logf("socket: accepted connection on port %d", listener.port)
	return serverFid, nil
}

// ShutDown implements sys_ShutDown(fid, how): on a PEER socket only, close
// the selected half (or both), nulling the respective pipe pointer.
func (m *Manager) ShutDown(tbl *fcb.Table, fid int, how ShutdownHow) error {
	s, err := m.resolve(tbl, fid)
	if err != nil {
		return err
	}
	if s.typ != Peer {
		return kerrors.ErrProtocolViolation
	}
	if how == ShutdownRead || how == ShutdownBoth {
		if s.reader != nil {
			s.reader.Close()
			s.reader = nil
		}
	}
	if how == ShutdownWrite || how == ShutdownBoth {
		if s.writer != nil {
			s.writer.Close()
			s.writer = nil
		}
	}
	return nil
}
