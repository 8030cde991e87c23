// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"fmt"
	"sync/atomic"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
	"github.com/binfuzz/binfuzz/pkg/cover"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
)

type CoverageMode int

const (
	// ModeEdges hashes (previous block, current block) pairs into a counter index.
	ModeEdges CoverageMode = iota
	// ModeBlocks uses the block address modulo the map size.
	ModeBlocks
)

func ParseMode(s string) (CoverageMode, error) {
	switch s {
	case "", "edges":
		return ModeEdges, nil
	case "blocks":
		return ModeBlocks, nil
	}
	return 0, fmt.Errorf("unknown coverage mode %q", s)
}

type Options struct {
	Mode CoverageMode
	// HaltOnError unwinds the execution at the first memory-safety violation.
	HaltOnError bool
	// Symbols resolves exclusion patterns. May be nil if nothing is excluded.
	Symbols *symbolizer.Table
}

// Engine is the in-process instrumentation backend. The target is a Go
// harness that calls the Probe at the points where a binary instrumentation
// engine would inject callbacks: block entries, comparisons, heap operations
// and memory accesses.
type Engine struct {
	opts     Options
	excluded map[string]bool
	probe    Probe
}

var _ Helper = (*Engine)(nil)

func NewEngine(opts Options) *Engine {
	e := &Engine{
		opts:     opts,
		excluded: make(map[string]bool),
	}
	e.probe.mode = opts.Mode
	e.probe.halt = opts.HaltOnError
	return e
}

func (e *Engine) Capabilities() Capability {
	return CapAll
}

func (e *Engine) Installed() Capability {
	var caps Capability
	if e.probe.cov != nil {
		caps |= CapCoverage
	}
	if e.probe.sink != nil {
		caps |= CapFaults
	}
	if e.probe.cmps != nil {
		caps |= CapComparisons
	}
	return caps
}

func (e *Engine) InstallCoverage(m *cover.Map) error {
	if m == nil {
		return fmt.Errorf("nil coverage map")
	}
	e.probe.cov = m
	return nil
}

func (e *Engine) InstallFaultHooks(sink FaultSink) error {
	if sink == nil {
		return fmt.Errorf("nil fault sink")
	}
	if e.probe.heap == nil {
		e.probe.heap = newHeap()
	}
	e.probe.sink = sink
	return nil
}

func (e *Engine) InstallCmpHooks(log *cmplog.Log) error {
	if log == nil {
		return fmt.Errorf("nil comparison log")
	}
	e.probe.cmps = log
	return nil
}

func (e *Engine) Exclude(patterns []string) error {
	var fresh []string
	for _, pat := range patterns {
		if !e.excluded[pat] {
			fresh = append(fresh, pat)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if e.opts.Symbols == nil {
		return fmt.Errorf("can't exclude %q: no symbol table", fresh)
	}
	ranges, err := e.opts.Symbols.Match(fresh)
	if err != nil {
		return err
	}
	for _, pat := range fresh {
		e.excluded[pat] = true
	}
	e.probe.excl = append(e.probe.excl, ranges...).Normalize()
	return nil
}

// Excluded returns the normalized excluded address ranges.
func (e *Engine) Excluded() symbolizer.Ranges {
	return e.probe.excl
}

func (e *Engine) Uninstall() {
	e.probe.cov = nil
	e.probe.sink = nil
	e.probe.cmps = nil
	e.probe.heap = nil
	e.probe.excl = nil
	clear(e.excluded)
}

// Probe returns the callback object passed to the target.
func (e *Engine) Probe() *Probe {
	return &e.probe
}

// Arm resets per-execution state before a run.
func (e *Engine) Arm() {
	p := &e.probe
	p.prev = 0
	p.last = 0
	p.abort.Store(nil)
	if p.heap != nil {
		p.heap.reset()
	}
}

// Interrupt makes the next probe callback unwind the running execution.
// Safe to call from another goroutine.
func (e *Engine) Interrupt(err error) {
	e.probe.abort.CompareAndSwap(nil, &Abort{Err: err})
}

// LastPC returns the last instrumented block executed in the current run.
func (e *Engine) LastPC() uint64 {
	return atomic.LoadUint64(&e.probe.last)
}

// Symbols returns the symbol table used by the engine (may be nil).
func (e *Engine) Symbols() *symbolizer.Table {
	return e.opts.Symbols
}
