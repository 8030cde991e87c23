// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package inproc runs workers as goroutines of the manager process.
// The worker binary name selects an entry point registered with Register.
// Used by tests that need real worker loops without building bf-fuzzer.
package inproc

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/binfuzz/binfuzz/vm/vmimpl"
)

// Main is a worker entry point. It must return when ctx is cancelled.
type Main func(ctx context.Context, args []string, output io.Writer) int

var (
	mu      sync.Mutex
	entries = make(map[string]Main)
)

func init() {
	vmimpl.Register("inproc", ctor)
}

// Register makes fn available as the worker binary name.
func Register(name string, fn Main) {
	mu.Lock()
	defer mu.Unlock()
	entries[name] = fn
}

type pool struct {
	main Main
}

func ctor(env *vmimpl.Env) (vmimpl.Pool, error) {
	name := filepath.Base(env.Bin)
	mu.Lock()
	fn := entries[name]
	mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no in-process worker %q", name)
	}
	return &pool{main: fn}, nil
}

func (pool *pool) Create(workdir string, index int) (vmimpl.Instance, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &instance{
		main:   pool.main,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

type instance struct {
	main    Main
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	code    int
}

func (inst *instance) Start(args []string) (io.ReadCloser, error) {
	if inst.started {
		return nil, fmt.Errorf("instance is already started")
	}
	inst.started = true
	r, w := io.Pipe()
	go func() {
		defer close(inst.done)
		defer w.Close()
		inst.code = inst.main(inst.ctx, args, w)
	}()
	return r, nil
}

func (inst *instance) PID() int {
	return 0
}

func (inst *instance) Wait() (int, error) {
	if !inst.started {
		return -1, vmimpl.ErrNotStarted
	}
	<-inst.done
	if inst.ctx.Err() != nil {
		return -1, nil
	}
	return inst.code, nil
}

func (inst *instance) Kill() {
	inst.cancel()
}
