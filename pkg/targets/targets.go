// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package targets is the registry of fuzz targets linked into bf-fuzzer.
// A target is a harness that reports its control flow, comparisons and heap
// accesses to the instrumentation probe, plus an optional symbol table that
// maps the harness block addresses to function names.
package targets

import (
	"fmt"
	"sort"
	"sync"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
)

type Target struct {
	Name        string
	Description string
	Harness     executor.Harness
	// Symbols describes the address ranges of the harness functions.
	// It is used for exclusion patterns and crash locations when the
	// campaign has no target_binary.
	Symbols *symbolizer.Table
	// Seeds are used when the campaign has no seeds dir and an empty corpus.
	Seeds [][]byte
	// Tokens are added to the mutation dictionary.
	Tokens [][]byte
}

var (
	mu   sync.Mutex
	list = make(map[string]*Target)
)

// Register adds a target, it is expected to be called from init functions.
func Register(t *Target) {
	mu.Lock()
	defer mu.Unlock()
	if t.Name == "" || t.Harness == nil {
		panic(fmt.Sprintf("bad target %+v", t))
	}
	if list[t.Name] != nil {
		panic(fmt.Sprintf("target %v is already registered", t.Name))
	}
	list[t.Name] = t
}

func Get(name string) (*Target, error) {
	mu.Lock()
	defer mu.Unlock()
	t := list[name]
	if t == nil {
		return nil, fmt.Errorf("unknown target %q, known targets: %v", name, namesLocked())
	}
	return t, nil
}

func List() []*Target {
	mu.Lock()
	defer mu.Unlock()
	var res []*Target
	for _, t := range list {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func namesLocked() []string {
	var names []string
	for name := range list {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
