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

package stats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel-stats.csv")

	c := &Counters{}
	c.PipesOpen = 3
	l := NewLogger(path, time.Millisecond, c)

	go l.Run()
	time.Sleep(30 * time.Millisecond)
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stats file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected a header line plus at least one data row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "unix,pipes_open") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	headerCount := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "unix,pipes_open") {
			headerCount++
		}
	}
	if headerCount != 1 {
		t.Fatalf("header written %d times, want 1", headerCount)
	}
}

func TestLoggerDisabledWithoutPath(t *testing.T) {
	done := make(chan struct{})
	l := NewLogger("", time.Millisecond, &Counters{})
	go func() {
		l.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with empty path should return immediately")
	}
}
