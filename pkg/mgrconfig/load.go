// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/binfuzz/binfuzz/pkg/config"
	"github.com/binfuzz/binfuzz/pkg/osutil"
)

// ErrMapSize is returned when a worker's coverage map size differs from the campaign's.
var ErrMapSize = errors.New("coverage map size mismatch")

const (
	MinMapSize = 64
	MaxMapSize = 1 << 24
	// Tracing doubles the cost of an iteration, keep it a minority.
	MaxTraceProb = 0.5
)

func LoadData(data []byte) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultValues() *Config {
	return &Config{
		RPC:          "127.0.0.1:0",
		Procs:        1,
		MapSize:      1 << 16,
		CoverageMode: "edges",
		Timeout:      config.Duration(time.Second),
		TraceProb:    0.1,
		MaxInputSize: 64 << 10,
		HaltOnError:  true,
		CacheSize:    4096,
		Heartbeat:    config.Duration(time.Second),
		BusSize:      1024,
	}
}

// DefaultValues returns a config with all defaults filled in and no required fields set.
// Used by tests and tools that construct configs programmatically.
func DefaultValues() *Config {
	return defaultValues()
}

func Complete(cfg *Config) error {
	if cfg.Workdir == "" {
		return fmt.Errorf("config param workdir is empty")
	}
	cfg.Workdir = osutil.Abs(cfg.Workdir)
	if cfg.Target == "" {
		return fmt.Errorf("config param target is empty")
	}
	if err := completeBinaries(cfg); err != nil {
		return err
	}
	if cfg.Procs < 1 || cfg.Procs > 64 {
		return fmt.Errorf("bad config param procs: '%v', want [1, 64]", cfg.Procs)
	}
	if cfg.MapSize < MinMapSize || cfg.MapSize > MaxMapSize {
		return fmt.Errorf("bad config param map_size: %v, want [%v, %v]",
			cfg.MapSize, MinMapSize, MaxMapSize)
	}
	switch cfg.CoverageMode {
	case "edges", "blocks":
	default:
		return fmt.Errorf("config param coverage_mode must be one of edges/blocks")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("bad config param timeout: %v", cfg.Timeout.Duration())
	}
	if cfg.TraceProb < 0 || cfg.TraceProb > MaxTraceProb {
		return fmt.Errorf("bad config param trace_prob: %v, want [0, %v]", cfg.TraceProb, MaxTraceProb)
	}
	if cfg.MaxInputSize < 1 {
		return fmt.Errorf("bad config param max_input_size: %v", cfg.MaxInputSize)
	}
	if cfg.CacheSize < 1 {
		return fmt.Errorf("bad config param cache_size: %v", cfg.CacheSize)
	}
	if cfg.Heartbeat <= 0 {
		return fmt.Errorf("bad config param heartbeat: %v", cfg.Heartbeat.Duration())
	}
	if cfg.BusSize < 1 {
		return fmt.Errorf("bad config param bus_size: %v", cfg.BusSize)
	}
	for _, file := range []*string{&cfg.Dict, &cfg.Seeds, &cfg.TargetBinary} {
		if *file == "" {
			continue
		}
		*file = osutil.Abs(*file)
		if !osutil.IsExist(*file) {
			return fmt.Errorf("%v does not exist", *file)
		}
	}
	for _, pat := range cfg.Exclude {
		if _, err := filepath.Match(pat, ""); err != nil {
			return fmt.Errorf("bad exclude pattern %q: %w", pat, err)
		}
	}
	return nil
}

func completeBinaries(cfg *Config) error {
	if cfg.FuzzerBin == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate bf-fuzzer: %w", err)
		}
		cfg.FuzzerBin = filepath.Join(filepath.Dir(exe), "bf-fuzzer")
	}
	cfg.FuzzerBin = osutil.Abs(cfg.FuzzerBin)
	return nil
}

// CheckMapSize verifies that a worker's map size matches the campaign.
func (cfg *Config) CheckMapSize(size int) error {
	if size != cfg.MapSize {
		return fmt.Errorf("%w: worker has %v counters, campaign has %v", ErrMapSize, size, cfg.MapSize)
	}
	return nil
}
