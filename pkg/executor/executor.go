// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package executor runs a single input against an instrumented target and classifies the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
	"github.com/binfuzz/binfuzz/pkg/cover"
	"github.com/binfuzz/binfuzz/pkg/instrument"
	"github.com/binfuzz/binfuzz/pkg/signal"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
)

// Harness feeds one input to the target. The target reports execution events to the probe.
type Harness func(p *instrument.Probe, data []byte)

type Kind int

const (
	Normal Kind = iota
	Timeout
	Crash
	InstrumentedFault
)

func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Timeout:
		return "timeout"
	case Crash:
		return "crash"
	case InstrumentedFault:
		return "fault"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type State int32

const (
	Idle State = iota
	Running
	Completed
	TimedOut
	Faulted
)

var (
	ErrTimeout = errors.New("execution timed out")
	// ErrHung means the target did not return after the deadline; the process must be restarted.
	ErrHung = errors.New("executor is hung")
)

// DefaultGrace is how long the executor waits for the target to unwind after an interrupt.
const DefaultGrace = 2 * time.Second

// Outcome of one execution.
type Outcome struct {
	Kind    Kind
	Elapsed time.Duration
	// Signal is the coverage snapshot (coverage variant only).
	Signal signal.Signal
	// Fault is the first instrumentation-detected violation.
	Fault *instrument.Fault
	// Faults holds all violations (more than one only without halt on error).
	Faults []instrument.Fault
	// Output is the panic message with the goroutine stack for crashes.
	Output []byte
	// Cmps is the comparison log (tracing variant only).
	Cmps *cmplog.Log
	// LastPC is the last instrumented block executed.
	LastPC uint64
	// Aborted is set if the run was cancelled through the context.
	Aborted bool
}

type Executor interface {
	Run(ctx context.Context, data []byte, timeout time.Duration) (*Outcome, error)
}

type Config struct {
	Harness     Harness
	MapSize     int
	Mode        instrument.CoverageMode
	HaltOnError bool
	Symbols     *symbolizer.Table
	Exclude     []string
	// Grace defaults to DefaultGrace.
	Grace time.Duration
	// SharedMap backs the coverage map with a memfd mapping.
	SharedMap bool
}

// Env is one executor variant with its own instrumentation engine.
// Env is not safe for concurrent Runs.
type Env struct {
	cfg    Config
	engine *instrument.Engine
	cov    *cover.Map
	cmps   *cmplog.Log
	faults instrument.Faults
	state  atomic.Int32
	hung   atomic.Bool
	execs  atomic.Uint64
}

var _ Executor = (*Env)(nil)

// NewCoverage creates the variant used for every child execution: coverage and fault hooks.
func NewCoverage(cfg Config) (*Env, error) {
	return newEnv(cfg, instrument.CapCoverage|instrument.CapFaults)
}

// NewTracing creates the variant used for secondary tracing runs: comparison and fault hooks.
func NewTracing(cfg Config) (*Env, error) {
	return newEnv(cfg, instrument.CapComparisons|instrument.CapFaults)
}

func newEnv(cfg Config, caps instrument.Capability) (*Env, error) {
	if cfg.Harness == nil {
		return nil, fmt.Errorf("no harness")
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	env := &Env{
		cfg: cfg,
		engine: instrument.NewEngine(instrument.Options{
			Mode:        cfg.Mode,
			HaltOnError: cfg.HaltOnError,
			Symbols:     cfg.Symbols,
		}),
	}
	if caps&instrument.CapCoverage != 0 {
		var err error
		if cfg.SharedMap {
			env.cov, err = cover.NewShared(cfg.MapSize)
		} else {
			env.cov = cover.New(cfg.MapSize)
		}
		if err != nil {
			return nil, err
		}
	}
	if caps&instrument.CapComparisons != 0 {
		env.cmps = cmplog.New()
	}
	if err := instrument.Install(env.engine, caps, env.cov, &env.faults, env.cmps); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.engine.Exclude(cfg.Exclude); err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to exclude symbols: %w", err)
	}
	return env, nil
}

func (env *Env) Close() error {
	env.engine.Uninstall()
	if env.cov != nil {
		return env.cov.Close()
	}
	return nil
}

func (env *Env) State() State {
	return State(env.state.Load())
}

// Hung reports whether a previous run never returned from the target.
func (env *Env) Hung() bool {
	return env.hung.Load()
}

func (env *Env) Execs() uint64 {
	return env.execs.Load()
}

// CoverageMap returns the map written by the coverage hooks, nil for the tracing variant.
func (env *Env) CoverageMap() *cover.Map {
	return env.cov
}

func (env *Env) Engine() *instrument.Engine {
	return env.engine
}

type callResult struct {
	abort  *instrument.Abort
	halt   *instrument.Halt
	output []byte
}

// Run executes data once. Coverage is reset before every run, nothing else is carried over.
// A non-nil error means the executor can't be used anymore.
func (env *Env) Run(ctx context.Context, data []byte, timeout time.Duration) (*Outcome, error) {
	if env.hung.Load() {
		return nil, ErrHung
	}
	prev := env.state.Load()
	if State(prev) == Running || !env.state.CompareAndSwap(prev, int32(Running)) {
		panic("concurrent executor runs")
	}
	env.execs.Add(1)
	if env.cov != nil {
		env.cov.Reset()
	}
	if env.cmps != nil {
		env.cmps.Reset()
	}
	env.faults.Reset()
	env.engine.Arm()
	input := append(make([]byte, 0, len(data)), data...)

	done := make(chan callResult, 1)
	start := time.Now()
	go func() {
		done <- env.call(input)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var res callResult
	aborted, timedOut := false, false
	select {
	case res = <-done:
	case <-timer.C:
		timedOut = true
		env.engine.Interrupt(ErrTimeout)
	case <-ctx.Done():
		aborted = true
		env.engine.Interrupt(ctx.Err())
	}
	if timedOut || aborted {
		grace := time.NewTimer(env.cfg.Grace)
		select {
		case res = <-done:
			grace.Stop()
		case <-grace.C:
			env.hung.Store(true)
		}
	}
	out := &Outcome{
		Elapsed: time.Since(start),
		LastPC:  env.engine.LastPC(),
		Aborted: aborted,
	}
	if env.hung.Load() {
		out.Kind = Timeout
		env.state.Store(int32(TimedOut))
		return out, nil
	}
	out.Faults = append(out.Faults, env.faults.List()...)
	switch {
	case res.halt != nil:
		out.Kind = InstrumentedFault
		fault := res.halt.Fault
		out.Fault = &fault
	case len(out.Faults) != 0:
		out.Kind = InstrumentedFault
		out.Fault = &out.Faults[0]
		out.Output = res.output
	case res.output != nil:
		out.Kind = Crash
		out.Output = res.output
	case res.abort != nil && errors.Is(res.abort, ErrTimeout), timedOut && !aborted:
		out.Kind = Timeout
	}
	if env.cov != nil {
		out.Signal = env.cov.Snapshot()
	}
	if env.cmps != nil {
		out.Cmps = env.cmps.Clone()
	}
	switch out.Kind {
	case Timeout:
		env.state.Store(int32(TimedOut))
	case Crash, InstrumentedFault:
		env.state.Store(int32(Faulted))
	default:
		env.state.Store(int32(Completed))
	}
	return out, nil
}

func (env *Env) call(data []byte) (res callResult) {
	defer func() {
		if err := recover(); err != nil {
			switch v := err.(type) {
			case *instrument.Abort:
				res.abort = v
			case *instrument.Halt:
				res.halt = v
			default:
				res.output = []byte(fmt.Sprintf("panic: %v\n\n%s", err, debug.Stack()))
			}
		}
	}()
	env.cfg.Harness(env.engine.Probe(), data[:len(data):len(data)])
	return
}
