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

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/tinykernel/config"
	"github.com/xtaci/tinykernel/kernel"
	"github.com/xtaci/tinykernel/kerrors"
	"github.com/xtaci/tinykernel/stats"
	"github.com/xtaci/tinykernel/trace"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "ktest"
	myApp.Usage = "exercises the tinykernel IPC/threading core against its own documented scenarios"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "scenario",
			Value: "all",
			Usage: "one of: pipe-basic, pipe-blocking, pipe-full, socket-connect, connect-timeout, thread-join, thread-detach, all",
		},
		cli.StringFlag{
			Name:  "preopen",
			Value: "",
			Usage: `pre-Listen a span of ports before running, eg "100-110"`,
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect kernel counters to file, aware of timeformat in golang, like: ./kstats-20060102.csv",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress scenario narration",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Printf("%+v", err)
		// Scenario failures bubble up as plain errors wrapping the kernel's
		// own sentinels; translate back to the source kernel's integer
		// contract for the process exit code, the same way a real caller
		// of these syscalls would interpret a -1 return.
		os.Exit(-kerrors.ToErrno(err))
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Scenario = c.String("scenario")
	cfg.StatsLog = c.String("statslog")
	cfg.StatsEvery = c.Int("statsperiod")
	cfg.Log = c.String("log")
	cfg.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		if err := config.LoadJSON(cfg, c.String("c")); err != nil {
			return err
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("scenario:", cfg.Scenario)
	log.Println("statslog:", cfg.StatsLog)
	log.Println("quiet:", cfg.Quiet)

	k := kernel.New()
	if cfg.StatsLog != "" {
		k.Counters = stats.Global()
	}

	if spec := c.String("preopen"); spec != "" {
		rng, err := config.ParsePortRange(spec)
		if err != nil {
			color.Red("bad -preopen range: %v", err)
			return err
		}
		proc := k.Spawn(nil)
		for port := rng.Min; port <= rng.Max; port++ {
			fid, err := k.Socket(proc, port)
			if err != nil {
				color.Red("preopen: Socket(%d): %v", port, err)
				continue
			}
			if err := k.Listen(proc, fid); err != nil {
				color.Red("preopen: Listen(%d): %v", port, err)
			}
		}
		log.Println("preopened listeners on:", rng.Min, "-", rng.Max)
	}

	var statsLogger *stats.Logger
	if cfg.StatsLog != "" {
		statsLogger = stats.NewLogger(cfg.StatsLog, time.Duration(cfg.StatsEvery)*time.Second, k.Counters)
		go statsLogger.Run()
		defer statsLogger.Stop()
	}

	logln := func(v ...any) {
		if !cfg.Quiet {
			log.Println(v...)
		}
	}

	scenarios := map[string]func(*kernel.Kernel) error{
		"pipe-basic":      scenarioPipeBasic,
		"pipe-blocking":   scenarioPipeBlocking,
		"pipe-full":       scenarioPipeFull,
		"socket-connect":  scenarioSocketConnect,
		"connect-timeout": scenarioConnectTimeout,
		"thread-join":     scenarioThreadJoin,
		"thread-detach":   scenarioThreadDetach,
	}

	runScenario := func(name string) error {
		fn, ok := scenarios[name]
		if !ok {
			return fmt.Errorf("unknown scenario %q", name)
		}
		logln("scenario:", name, "starting")
		if err := fn(k); err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		logln("scenario:", name, "passed")
		return nil
	}

	defer func() {
		if !cfg.Quiet {
			log.Println("trace:\n" + trace.Dump())
		}
	}()

	if cfg.Scenario == "all" {
		order := []string{"pipe-basic", "pipe-blocking", "pipe-full", "socket-connect", "connect-timeout", "thread-join", "thread-detach"}
		for _, name := range order {
			if err := runScenario(name); err != nil {
				return err
			}
		}
		return nil
	}
	return runScenario(cfg.Scenario)
}

func checkf(cond bool, format string, args ...any) error {
	if !cond {
		return fmt.Errorf(format, args...)
	}
	return nil
}

func scenarioPipeBasic(k *kernel.Kernel) error {
	proc := k.Spawn(nil)
	r, w, err := k.Pipe(proc)
	if err != nil {
		return err
	}
	if _, err := k.Write(proc, w, []byte("HELLO")); err != nil {
		return err
	}
	buf := make([]byte, 5)
	n, err := k.Read(proc, r, buf)
	if err != nil {
		return err
	}
	if err := checkf(string(buf[:n]) == "HELLO", "pipe round-trip got %q", buf[:n]); err != nil {
		return err
	}
	k.Close(proc, w)
	n, err = k.Read(proc, r, buf)
	return checkf(n == 0 && err != nil, "expected EOF after writer close, got n=%d err=%v", n, err)
}

func scenarioPipeBlocking(k *kernel.Kernel) error {
	proc := k.Spawn(nil)
	r, w, err := k.Pipe(proc)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 3)
		n, err := k.Read(proc, r, buf)
		if err != nil {
			done <- err
			return
		}
		done <- checkf(string(buf[:n]) == "xyz", "blocking read got %q", buf[:n])
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := k.Write(proc, w, []byte("xyz")); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		return fmt.Errorf("blocked reader never woke")
	}
}

func scenarioPipeFull(k *kernel.Kernel) error {
	proc := k.Spawn(nil)
	r, w, err := k.Pipe(proc)
	if err != nil {
		return err
	}
	if _, err := k.Write(proc, w, make([]byte, 8192)); err != nil {
		return err
	}
	writeDone := make(chan error, 1)
	go func() {
		_, err := k.Write(proc, w, make([]byte, 10))
		writeDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-writeDone:
		return fmt.Errorf("write on a full pipe returned without blocking")
	default:
	}
	if _, err := k.Read(proc, r, make([]byte, 10)); err != nil {
		return err
	}
	select {
	case err := <-writeDone:
		return err
	case <-time.After(time.Second):
		return fmt.Errorf("writer never woke once space freed")
	}
}

func scenarioSocketConnect(k *kernel.Kernel) error {
	server := k.Spawn(nil)
	client := k.Spawn(nil)
	lfid, err := k.Socket(server, 1000)
	if err != nil {
		return err
	}
	if err := k.Listen(server, lfid); err != nil {
		return err
	}
	accepted := make(chan int, 1)
	go func() {
		fid, _ := k.Accept(server, lfid)
		accepted <- fid
	}()
	time.Sleep(20 * time.Millisecond)
	cfid, _ := k.Socket(client, 0)
	if err := k.Connect(client, cfid, 1000, time.Second); err != nil {
		return err
	}
	peer := <-accepted
	if _, err := k.Write(client, cfid, []byte("ping")); err != nil {
		return err
	}
	buf := make([]byte, 4)
	n, err := k.Read(server, peer, buf)
	if err != nil {
		return err
	}
	return checkf(string(buf[:n]) == "ping", "server saw %q, want ping", buf[:n])
}

func scenarioConnectTimeout(k *kernel.Kernel) error {
	server := k.Spawn(nil)
	client := k.Spawn(nil)
	lfid, _ := k.Socket(server, 1001)
	if err := k.Listen(server, lfid); err != nil {
		return err
	}
	cfid, _ := k.Socket(client, 0)
	if err := k.Connect(client, cfid, 1001, 10*time.Millisecond); err == nil {
		return fmt.Errorf("Connect with no Accept should time out")
	}
	// spec.md §9 flags this as an open question: a later Accept still
	// admits the abandoned request. We only assert it doesn't panic.
	if _, err := k.Accept(server, lfid); err != nil {
		return err
	}
	return nil
}

func scenarioThreadJoin(k *kernel.Kernel) error {
	proc := k.Spawn(nil)
	worker := k.CreateThread(proc, func(int, any) int {
		time.Sleep(10 * time.Millisecond)
		return 7
	}, 0, nil)
	self := k.CreateThread(proc, func(int, any) int { return 0 }, 0, nil)
	v, err := k.ThreadJoin(proc, self, worker)
	if err != nil {
		return err
	}
	return checkf(v == 7, "joined exit value %d, want 7", v)
}

func scenarioThreadDetach(k *kernel.Kernel) error {
	proc := k.Spawn(nil)
	block := make(chan struct{})
	target := k.CreateThread(proc, func(int, any) int {
		<-block
		return 0
	}, 0, nil)
	self := k.CreateThread(proc, func(int, any) int { return 0 }, 0, nil)

	joinErr := make(chan error, 1)
	go func() {
		_, err := k.ThreadJoin(proc, self, target)
		joinErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := k.ThreadDetach(proc, target); err != nil {
		return err
	}
	close(block)
	select {
	case err := <-joinErr:
		return checkf(err != nil, "join on a detached thread should fail")
	case <-time.After(time.Second):
		return fmt.Errorf("join never woke after detach")
	}
}
