// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package local runs workers as child processes of the manager.
package local

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/vm/vmimpl"
	"golang.org/x/sys/unix"
)

func init() {
	vmimpl.Register("local", ctor)
}

type Pool struct {
	env *vmimpl.Env
}

type instance struct {
	env     *vmimpl.Env
	workdir string
	index   int

	mu     sync.Mutex
	cmd    *exec.Cmd
	killed bool
}

func ctor(env *vmimpl.Env) (vmimpl.Pool, error) {
	if !osutil.IsExist(env.Bin) {
		return nil, fmt.Errorf("worker binary %v does not exist", env.Bin)
	}
	// Don't write core files, workers are expected to crash a lot.
	unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{})
	return &Pool{env: env}, nil
}

func (pool *Pool) Create(workdir string, index int) (vmimpl.Instance, error) {
	return &instance{
		env:     pool.env,
		workdir: workdir,
		index:   index,
	}, nil
}

func (inst *instance) Start(args []string) (io.ReadCloser, error) {
	rpipe, wpipe, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd := osutil.Command(inst.env.Bin, args...)
	cmd.Dir = inst.workdir
	cmd.Stdout = wpipe
	cmd.Stderr = wpipe
	if inst.env.Debug {
		cmd.Stderr = io.MultiWriter(wpipe, os.Stderr)
	}
	if err := cmd.Start(); err != nil {
		rpipe.Close()
		wpipe.Close()
		return nil, err
	}
	wpipe.Close()
	inst.mu.Lock()
	inst.cmd = cmd
	inst.mu.Unlock()
	return rpipe, nil
}

func (inst *instance) PID() int {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.cmd == nil || inst.cmd.Process == nil {
		return 0
	}
	return inst.cmd.Process.Pid
}

func (inst *instance) Wait() (int, error) {
	inst.mu.Lock()
	cmd := inst.cmd
	inst.mu.Unlock()
	if cmd == nil {
		return -1, vmimpl.ErrNotStarted
	}
	err := cmd.Wait()
	// Reap whatever the worker left in its process group.
	osutil.Kill(cmd)
	code := osutil.ExitCode(err)
	inst.mu.Lock()
	killed := inst.killed
	inst.mu.Unlock()
	if killed {
		code = -1
	}
	if code != 0 && code != -1 {
		// A non-zero exit status is the result, not a launcher failure.
		err = nil
	}
	return code, err
}

func (inst *instance) Kill() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.cmd == nil {
		return
	}
	inst.killed = true
	osutil.Kill(inst.cmd)
}
