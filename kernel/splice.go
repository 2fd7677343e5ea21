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

package kernel

import (
	"io"
	"sync"

	"github.com/xtaci/tinykernel/process"
)

// fidStream adapts one (proc, fid) pair to io.ReadWriteCloser so Splice can
// treat a pipe end and a socket peer identically, the same way kcptun's
// handleClient treats a raw net.Conn and a smux.Stream identically once
// both satisfy io.ReadWriteCloser.
type fidStream struct {
	k    *Kernel
	proc *process.PCB
	fid  int
}

func (s *fidStream) Read(p []byte) (int, error)  { return s.k.Read(s.proc, s.fid, p) }
func (s *fidStream) Write(p []byte) (int, error) { return s.k.Write(s.proc, s.fid, p) }
func (s *fidStream) Close() error                { return s.k.Close(s.proc, s.fid) }

// Splice relays bytes bidirectionally between two installed fids until
// either direction hits EOF or an error, then closes both ends exactly once,
// which ends the other direction's relay as well. Adapted
// from std/copy.go's Pipe helper (kcptun's "glue the local listener socket
// to the mux stream" splice), generalized here to glue any two fids -
// typically two accepted peer sockets a simple relay/proxy thread wants to
// join.
func (k *Kernel) Splice(proc1 *process.PCB, fid1 int, proc2 *process.PCB, fid2 int) (err1, err2 error) {
	alice := &fidStream{k: k, proc: proc1, fid: fid1}
	bob := &fidStream{k: k, proc: proc2, fid: fid2}

	var closeOnce sync.Once
	var wg sync.WaitGroup
	wg.Add(2)

	relay := func(dst io.Writer, src io.Reader, out *error) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					*out = werr
					break
				}
			}
			if rerr != nil {
				if rerr != io.EOF {
					*out = rerr
				}
				break
			}
		}
		closeOnce.Do(func() {
			alice.Close()
			bob.Close()
		})
	}

	go relay(bob, alice, &err1)
	go relay(alice, bob, &err2)
	wg.Wait()
	return
}
