// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package vmimpl defines the interface of worker launchers.
// A launcher starts bf-fuzzer instances (as local processes, in-process
// goroutines for tests, etc) and lets the manager supervise them.
package vmimpl

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Pool creates worker instances of a particular type.
type Pool interface {
	// Create prepares (but does not start) the worker with the given index.
	// workdir is the per-worker directory, it outlives the instance.
	Create(workdir string, index int) (Instance, error)
}

// Instance is a single run of a worker.
type Instance interface {
	// Start launches the worker with the given arguments.
	// The returned reader yields combined stdout/stderr and returns EOF after the worker exits.
	Start(args []string) (io.ReadCloser, error)

	// PID returns the OS process id, or 0 if the worker is not a process.
	PID() int

	// Wait blocks until the worker exits and returns its exit code.
	// The code is -1 if the worker was killed.
	Wait() (int, error)

	// Kill terminates the worker and everything it started.
	// Safe to call multiple times and after the worker exited.
	Kill()
}

// Env contains parameters common for all instances of a pool.
type Env struct {
	Name    string
	Workdir string
	// Bin is the worker binary (or the registered entry point for in-process pools).
	Bin   string
	Debug bool
}

var ErrNotStarted = errors.New("instance is not started")

type ctorFunc func(env *Env) (Pool, error)

var Types = make(map[string]ctorFunc)

// Register registers a new launcher type within the package.
func Register(typ string, ctor ctorFunc) {
	if Types[typ] != nil {
		panic(fmt.Sprintf("launcher %q is already registered", typ))
	}
	Types[typ] = ctor
}

func TypeNames() []string {
	var names []string
	for name := range Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
