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

// Package kdefs holds the handful of compile-time limits and sentinel values
// that every IPC/threading package needs, so none of them has to import the
// others just to see a constant.
package kdefs

const (
	// PipeBufferSize is the capacity of every pipe's ring buffer, in bytes.
	PipeBufferSize = 8192

	// MaxPort is the highest valid port number; PORT_MAP is sized [1, MaxPort].
	MaxPort = 1024

	// MaxFileID bounds a process's file-id table, FIDT[0, MaxFileID).
	MaxFileID = 128

	// MaxProc bounds the number of live processes the kernel will track.
	MaxProc = 4096

	// NoPort is the sentinel "not bound to any port" value.
	NoPort = 0

	// NoFile is the sentinel failure return for file-id-returning syscalls.
	NoFile = -1

	// NoProc is the sentinel "no such process" / "any child" value used by
	// WaitChild, mirroring the original kernel's NOPROC.
	NoProc = 0
)
