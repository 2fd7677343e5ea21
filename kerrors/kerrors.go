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

// Package kerrors holds the sentinel errors (built with github.com/pkg/errors)
// that every syscall-shaped method in this module returns as-is, unwrapped,
// instead of the source kernel's -1/NOFILE integer codes; callers compare
// them with ==. Callers that need the old numeric
// contract (ktest's scenarios, in particular) translate these back with
// ToErrno.
package kerrors

import "github.com/pkg/errors"

var (
	// ErrBadArgument covers an invalid fid, a port out of range, or a
	// negative size — surfaced without mutating any state.
	ErrBadArgument = errors.New("kernel: bad argument")

	// ErrResourceExhausted covers an empty FCB/fid pool; never a partial
	// reservation.
	ErrResourceExhausted = errors.New("kernel: resource exhausted")

	// ErrProtocolViolation covers close-on-closed, listen-on-bound-port,
	// connect-to-non-listener, accept-on-non-listener, and similar
	// sequencing errors.
	ErrProtocolViolation = errors.New("kernel: protocol violation")

	// ErrRemoteGone covers a write to a side whose peer already closed.
	ErrRemoteGone = errors.New("kernel: remote gone")

	// ErrTimeout covers only sys_Connect's timed wait expiring before
	// admission.
	ErrTimeout = errors.New("kernel: timeout")
)

// ToErrno maps a kernel error to the source kernel's integer contract: 0 for
// nil, -1 for anything else. Components that need NOFILE (-1) specifically
// for resource exhaustion do that mapping themselves, since NOFILE and the
// generic failure code share the same numeric value in the original kernel.
func ToErrno(err error) int {
	if err == nil {
		return 0
	}
	return -1
}
