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

// ktop is a long-running monitor process: it boots a kernel instance,
// pre-opens a span of listener ports, and keeps dumping counters to a CSV
// file until killed. It is the harness-side stand-in for server/main.go's
// "stay up and serve forever" role, minus any actual network transport —
// this kernel has no wire format to listen on (SPEC_FULL.md §6).
package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/xtaci/tinykernel/config"
	"github.com/xtaci/tinykernel/kernel"
	"github.com/xtaci/tinykernel/stats"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "ktop"
	myApp.Usage = "boots a tinykernel instance and watches it, dumping counters periodically and on SIGUSR1"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "preopen",
			Value: "1-16",
			Usage: `span of ports to pre-Listen on at boot, eg "1-16"`,
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "./kstats-20060102.csv",
			Usage: "collect kernel counters to file, aware of timeformat in golang",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 5,
			Usage: "stats collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.StatsLog = c.String("statslog")
	cfg.StatsEvery = c.Int("statsperiod")
	cfg.Log = c.String("log")

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
	log.Println("statslog:", cfg.StatsLog, "every", cfg.StatsEvery, "s")

	k := kernel.New()
	k.Counters = stats.Global()

	rng, err := config.ParsePortRange(c.String("preopen"))
	if err != nil {
		return err
	}
	proc := k.Spawn(nil)
	opened := 0
	for port := rng.Min; port <= rng.Max; port++ {
		fid, err := k.Socket(proc, port)
		if err != nil {
			log.Println("preopen Socket:", port, err)
			continue
		}
		if err := k.Listen(proc, fid); err != nil {
			log.Println("preopen Listen:", port, err)
			continue
		}
		opened++
	}
	log.Println("preopened", opened, "listener(s) on", rng.Min, "-", rng.Max)

	logger := stats.NewLogger(cfg.StatsLog, time.Duration(cfg.StatsEvery)*time.Second, k.Counters)
	logger.Run()
	return nil
}
