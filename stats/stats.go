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

// Package stats periodically dumps kernel-wide counters to a rotating CSV
// file, the same shape std/snmp.go uses for KCP's SNMP counters: a ticker,
// a strftime-style filename split out of the configured path, and a header
// written once per file.
package stats

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Counters are the kernel-wide numbers worth watching: pipes, sockets and
// listeners opened over the kernel's lifetime, the live and zombie
// thread/process gauges, and bytes moved. Every field is updated with
// atomic ops so callers never need the big lock just to bump a counter.
type Counters struct {
	PipesOpen     int64
	SocketsOpen   int64
	ListenersOpen int64
	ThreadsLive   int64
	ProcsZombie   int64
	BytesMoved    int64
}

func (c *Counters) header() []string {
	return []string{"pipes_open", "sockets_open", "listeners_open", "threads_live", "procs_zombie", "bytes_moved"}
}

func (c *Counters) row() []string {
	return []string{
		fmt.Sprint(atomic.LoadInt64(&c.PipesOpen)),
		fmt.Sprint(atomic.LoadInt64(&c.SocketsOpen)),
		fmt.Sprint(atomic.LoadInt64(&c.ListenersOpen)),
		fmt.Sprint(atomic.LoadInt64(&c.ThreadsLive)),
		fmt.Sprint(atomic.LoadInt64(&c.ProcsZombie)),
		fmt.Sprint(atomic.LoadInt64(&c.BytesMoved)),
	}
}

// global is a process-wide counter set. A Kernel bumps it only when its
// Counters field is pointed at it, as ktest and ktop do.
var global Counters

// Global returns the process-wide counter set.
func Global() *Counters { return &global }

// Logger periodically appends a CSV row of the current counters to a
// rotating file. Create one with NewLogger (a zero Logger has no stop
// channel, so Stop on it panics); call Run to start it.
type Logger struct {
	Path     string
	Interval time.Duration
	Counters *Counters

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLogger returns a Logger dumping c to path every interval.
func NewLogger(path string, interval time.Duration, c *Counters) *Logger {
	return &Logger{Path: path, Interval: interval, Counters: c, stop: make(chan struct{})}
}

// Run blocks, writing a row every interval, until Stop is called. Mirrors
// SnmpLogger's ticker loop; an empty path or non-positive interval disables
// it immediately, matching SnmpLogger's own early return.
func (l *Logger) Run() {
	if l.Path == "" || l.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.writeRow()
		}
	}
}

// Stop ends a running Logger's loop. Safe to call more than once.
func (l *Logger) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Logger) writeRow() {
	logdir, logfile := filepath.Split(l.Path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Println(err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"unix"}, l.Counters.header()...)); err != nil {
			log.Println(err)
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, l.Counters.row()...)); err != nil {
		log.Println(err)
	}
	w.Flush()
}
