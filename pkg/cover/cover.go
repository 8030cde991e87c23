// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover implements the per-execution coverage map: a fixed-size array
// of saturating 8-bit counters written by instrumentation callbacks.
package cover

import (
	"fmt"
	"os"

	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/pkg/signal"
)

type Map struct {
	counters []byte
	shm      *os.File
}

// New allocates a map with size counters in private memory.
func New(size int) *Map {
	if size <= 0 {
		panic(fmt.Sprintf("bad coverage map size %v", size))
	}
	return &Map{counters: make([]byte, size)}
}

// NewShared allocates a map backed by a shared memory file,
// so that an out-of-process instrumentation engine can write into it.
func NewShared(size int) (*Map, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bad coverage map size %v", size)
	}
	f, mem, err := osutil.CreateMemMappedFile(size)
	if err != nil {
		return nil, err
	}
	return &Map{counters: mem, shm: f}, nil
}

// File returns the shared memory file backing the map (nil for private maps).
func (m *Map) File() *os.File {
	return m.shm
}

func (m *Map) Close() error {
	if m.shm == nil {
		return nil
	}
	err := osutil.CloseMemMappedFile(m.shm, m.counters)
	m.shm = nil
	m.counters = nil
	return err
}

func (m *Map) Size() int {
	return len(m.counters)
}

// Record increments the counter at idx (modulo the map size), saturating at 255.
func (m *Map) Record(idx uint32) {
	idx %= uint32(len(m.counters))
	if m.counters[idx] != 0xff {
		m.counters[idx]++
	}
}

// Count returns the raw counter at idx.
func (m *Map) Count(idx int) uint8 {
	return m.counters[idx]
}

func (m *Map) Reset() {
	clear(m.counters)
}

// Snapshot returns an immutable bucketed copy of the current counters.
func (m *Map) Snapshot() signal.Signal {
	return signal.FromCounters(m.counters)
}

// Raw returns a copy of the raw counters.
func (m *Map) Raw() []byte {
	return append([]byte(nil), m.counters...)
}
