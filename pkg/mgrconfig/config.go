// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"path/filepath"

	"github.com/binfuzz/binfuzz/pkg/config"
)

type Config struct {
	// Campaign name (used in logs and on the http page).
	Name string `json:"name"`
	// Name of the harness linked into fuzzer_bin (see pkg/targets).
	Target string `json:"target"`
	// Optional path to the target binary on disk. Its ELF symbol table is used
	// to resolve exclude patterns into address ranges.
	TargetBinary string `json:"target_binary,omitempty"`
	// URL that will display information about the running bf-manager process (e.g. "localhost:50000").
	HTTP string `json:"http"`
	// TCP address to serve RPC for fuzzer processes (optional).
	RPC string `json:"rpc,omitempty"`
	// Location of a working directory for the bf-manager process. Outputs here include:
	// - <workdir>/corpus/*: accepted inputs and their .meta sidecars
	// - <workdir>/crashes/*: one dir per unique crash
	// - <workdir>/events.log: campaign event log
	Workdir string `json:"workdir"`
	// Path to the bf-fuzzer binary (defaults to bf-fuzzer next to bf-manager).
	FuzzerBin string `json:"fuzzer_bin,omitempty"`
	// Number of worker processes.
	Procs int `json:"procs"`
	// Directory with seed inputs. Files added to it while the campaign runs are
	// picked up and triaged by workers.
	Seeds string `json:"seeds,omitempty"`

	// Number of coverage counters. Fixed for the campaign and identical across workers.
	MapSize int `json:"map_size"`
	// "edges" hashes consecutive blocks into a counter index, "blocks" uses the block id.
	CoverageMode string `json:"coverage_mode"`
	// Per-execution timeout.
	Timeout config.Duration `json:"timeout"`
	// Probability that an iteration traces the parent's comparisons and uses
	// input-to-state mutation instead of havoc.
	TraceProb float64 `json:"trace_prob"`
	// AFL-format dictionary file (optional).
	Dict string `json:"dict,omitempty"`
	// Inputs are truncated to this size.
	MaxInputSize int `json:"max_input_size"`
	// Glob patterns of symbols that are executed uninstrumented.
	Exclude []string `json:"exclude,omitempty"`
	// Abort execution on the first memory-safety violation.
	// If false, violations are collected and the run continues.
	HaltOnError bool `json:"halt_on_error"`
	// Back the coverage map with a memfd shared mapping instead of private memory,
	// so that an out-of-process instrumentation engine can write into it.
	SharedMap bool `json:"shared_map,omitempty"`
	// Number of corpus entries kept in the in-memory cache.
	CacheSize int `json:"cache_size"`
	// Worker heartbeat period. A worker that is silent for 3 periods is killed.
	Heartbeat config.Duration `json:"heartbeat"`
	// Capacity of the broker event bus.
	BusSize int `json:"bus_size"`
	// Base random seed (0 means time-based).
	Seed int64 `json:"seed,omitempty"`
}

func (cfg *Config) CorpusDir() string {
	return filepath.Join(cfg.Workdir, "corpus")
}

func (cfg *Config) CrashDir() string {
	return filepath.Join(cfg.Workdir, "crashes")
}

func (cfg *Config) EventLog() string {
	return filepath.Join(cfg.Workdir, "events.log")
}
