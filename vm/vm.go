// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package vm launches and supervises bf-fuzzer workers.
// Package wraps vmimpl package interface with output collection
// and a higher-level interface.
package vm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/vm/vmimpl"

	// Import all launcher implementations, so that users only need to import vm.
	_ "github.com/binfuzz/binfuzz/vm/inproc"
	_ "github.com/binfuzz/binfuzz/vm/local"
)

// Amount of worker output kept for crash parsing.
const beforeContext = 256 << 10

type Pool struct {
	impl    vmimpl.Pool
	workdir string
}

type Instance struct {
	impl    vmimpl.Instance
	workdir string
	index   int

	done    chan struct{}
	exit    *Exit
	mu      sync.Mutex
	output  []byte
	started time.Time
}

// Exit describes how a worker terminated.
type Exit struct {
	// Code is the process exit code, -1 if the worker was killed.
	Code int
	Err  error
	// Output is the tail of the worker output.
	Output   []byte
	Duration time.Duration
}

// Create creates a launcher pool of the given type ("local" or "inproc").
func Create(typ string, cfg *mgrconfig.Config, debug bool) (*Pool, error) {
	ctor := vmimpl.Types[typ]
	if ctor == nil {
		return nil, fmt.Errorf("unknown launcher type %q, known: %v", typ, vmimpl.TypeNames())
	}
	env := &vmimpl.Env{
		Name:    cfg.Name,
		Workdir: cfg.Workdir,
		Bin:     cfg.FuzzerBin,
		Debug:   debug,
	}
	impl, err := ctor(env)
	if err != nil {
		return nil, err
	}
	return &Pool{
		impl:    impl,
		workdir: filepath.Join(cfg.Workdir, "workers"),
	}, nil
}

// WorkerDir returns the per-worker directory, it survives worker restarts.
func (pool *Pool) WorkerDir(index int) string {
	return filepath.Join(pool.workdir, fmt.Sprint(index))
}

// Run creates and starts a worker. Output lines are appended to tee (if not nil).
func (pool *Pool) Run(index int, args []string, tee io.Writer) (*Instance, error) {
	workdir := pool.WorkerDir(index)
	if err := osutil.MkdirAll(workdir); err != nil {
		return nil, fmt.Errorf("failed to create worker dir: %w", err)
	}
	impl, err := pool.impl.Create(workdir, index)
	if err != nil {
		return nil, err
	}
	r, err := impl.Start(args)
	if err != nil {
		return nil, fmt.Errorf("failed to start worker %v: %w", index, err)
	}
	inst := &Instance{
		impl:    impl,
		workdir: workdir,
		index:   index,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	merger := vmimpl.NewOutputMerger(tee)
	merger.Add("output", r)
	go inst.collect(merger)
	return inst, nil
}

func (inst *Instance) collect(merger *vmimpl.OutputMerger) {
	drained := make(chan struct{})
	go func() {
		for out := range merger.Output {
			inst.mu.Lock()
			inst.output = append(inst.output, out...)
			if len(inst.output) > 2*beforeContext {
				n := copy(inst.output, inst.output[len(inst.output)-beforeContext:])
				inst.output = inst.output[:n]
			}
			inst.mu.Unlock()
		}
		close(drained)
	}()
	code, err := inst.impl.Wait()
	merger.Wait()
	<-drained
	inst.mu.Lock()
	output := inst.output
	if len(output) > beforeContext {
		output = output[len(output)-beforeContext:]
	}
	inst.mu.Unlock()
	inst.exit = &Exit{
		Code:     code,
		Err:      err,
		Output:   output,
		Duration: time.Since(inst.started),
	}
	log.Logf(1, "worker %v: exited with code %v after %v", inst.index, code, inst.exit.Duration)
	close(inst.done)
}

func (inst *Instance) Index() int {
	return inst.index
}

func (inst *Instance) PID() int {
	return inst.impl.PID()
}

func (inst *Instance) Workdir() string {
	return inst.workdir
}

// Done is closed when the worker exited and its output is collected.
func (inst *Instance) Done() <-chan struct{} {
	return inst.done
}

// Wait blocks until the worker exits.
func (inst *Instance) Wait() *Exit {
	<-inst.done
	return inst.exit
}

// Kill terminates the worker and waits for it to exit.
func (inst *Instance) Kill() *Exit {
	inst.impl.Kill()
	return inst.Wait()
}

// Cleanup removes the worker dir of a worker that will not be relaunched.
func (inst *Instance) Cleanup() {
	os.RemoveAll(inst.workdir)
}
