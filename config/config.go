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

// Package config holds the kernel harness's tunables: the same
// flags-then-JSON-override shape server/config.go uses, generalized from one
// tunnel endpoint to the handful of size limits this kernel core cares
// about.
package config

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xtaci/tinykernel/kdefs"
)

// Config collects every tunable of a running kernel instance. CLI flags
// populate it first; an optional JSON file (-c) then overrides whatever it
// sets, exactly like server/config.go's parseJSONConfig.
type Config struct {
	MaxPort    int    `json:"maxport"`
	MaxFileID  int    `json:"maxfileid"`
	MaxProc    int    `json:"maxproc"`
	PipeBuffer int    `json:"pipebuffer"`
	Log        string `json:"log"`
	StatsLog   string `json:"statslog"`
	StatsEvery int    `json:"statsperiod"`
	Scenario   string `json:"scenario"`
	Quiet      bool   `json:"quiet"`
}

// Default returns a Config seeded from the spec's own constants.
func Default() *Config {
	return &Config{
		MaxPort:    kdefs.MaxPort,
		MaxFileID:  kdefs.MaxFileID,
		MaxProc:    kdefs.MaxProc,
		PipeBuffer: kdefs.PipeBufferSize,
		StatsEvery: 60,
	}
}

// LoadJSON overrides cfg's fields from the JSON document at path, the same
// one-shot decode server/config.go's parseJSONConfig performs.
func LoadJSON(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening config file %q", path)
	}
	defer file.Close()
	return errors.Wrap(json.NewDecoder(file).Decode(cfg), "decoding config file")
}

// PortRange is an inclusive span of ports, e.g. for a -preopen flag that
// pre-binds a run of listener ports before the scenario harness starts.
type PortRange struct {
	Min, Max int
}

var portRangeMatcher = regexp.MustCompile(`^([0-9]{1,5})-?([0-9]{1,5})?$`)

// ParsePortRange parses "N" or "N-M" into a PortRange, adapting
// std/multiport.go's ParseMultiPort: the host part of that format doesn't
// apply here (this kernel has no network listener), so only the port span
// survives.
func ParsePortRange(spec string) (*PortRange, error) {
	m := portRangeMatcher.FindStringSubmatch(spec)
	if m == nil {
		return nil, errors.Errorf("malformed port range: %q", spec)
	}
	min, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, errors.Wrapf(err, "parsing port range %q", spec)
	}
	max := min
	if m[2] != "" {
		max, err = strconv.Atoi(m[2])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing port range %q", spec)
		}
	}
	if min > max || min < kdefs.NoPort || max > kdefs.MaxPort {
		return nil, errors.Errorf("invalid port range %q: min=%d max=%d, bounds [%d, %d]", spec, min, max, kdefs.NoPort, kdefs.MaxPort)
	}
	return &PortRange{Min: min, Max: max}, nil
}
