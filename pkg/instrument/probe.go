// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"sync/atomic"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
	"github.com/binfuzz/binfuzz/pkg/cover"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
)

// Probe receives instrumentation callbacks from the target.
// Callbacks never modify target data and return normally unless the
// execution must be unwound (interrupt or halting fault).
type Probe struct {
	mode  CoverageMode
	halt  bool
	cov   *cover.Map
	cmps  *cmplog.Log
	sink  FaultSink
	heap  *heap
	excl  symbolizer.Ranges
	prev  uint64
	last  uint64
	abort atomic.Pointer[Abort]
}

func (p *Probe) check() {
	if a := p.abort.Load(); a != nil {
		panic(a)
	}
}

func (p *Probe) skip(pc uint64) bool {
	return len(p.excl) != 0 && p.excl.Contains(pc)
}

// Block is called on entry to every basic block.
func (p *Probe) Block(pc uint64) {
	p.check()
	if p.skip(pc) {
		return
	}
	atomic.StoreUint64(&p.last, pc)
	if p.cov == nil {
		return
	}
	switch p.mode {
	case ModeBlocks:
		p.cov.Record(uint32(pc % uint64(p.cov.Size())))
	default:
		cur := mix(pc)
		p.cov.Record(uint32((cur ^ p.prev) % uint64(p.cov.Size())))
		p.prev = cur >> 1
	}
}

// Cmp is called before an integer comparison of size bytes.
func (p *Probe) Cmp(pc, arg1, arg2 uint64, size int) {
	p.check()
	if p.cmps == nil || p.skip(pc) {
		return
	}
	p.cmps.AddComp(size, arg1, arg2)
}

// CmpBytes is called before a memcmp/strcmp-like comparison.
func (p *Probe) CmpBytes(pc uint64, arg1, arg2 []byte) {
	p.check()
	if p.cmps == nil || p.skip(pc) {
		return
	}
	p.cmps.AddBytes(arg1, arg2)
}

// Switch is called before a switch on val; it is traced as a series of
// comparisons against every case.
func (p *Probe) Switch(pc, val uint64, size int, cases []uint64) {
	p.check()
	if p.cmps == nil || p.skip(pc) {
		return
	}
	for _, c := range cases {
		p.cmps.AddComp(size, val, c)
	}
}

// Malloc returns the address of a new heap chunk of the given size.
func (p *Probe) Malloc(pc, size uint64) uint64 {
	p.check()
	if p.heap == nil {
		p.heap = newHeap()
	}
	return p.heap.malloc(pc, size)
}

// Free releases a chunk returned by Malloc.
func (p *Probe) Free(pc, addr uint64) {
	p.check()
	if p.sink == nil || p.skip(pc) {
		if p.heap != nil {
			p.heap.free(pc, addr)
		}
		return
	}
	if f := p.heap.free(pc, addr); f != nil {
		p.report(*f)
	}
}

// Access is called before a load (write=false) or store of size bytes at addr.
func (p *Probe) Access(pc, addr uint64, size int, write bool) {
	p.check()
	if p.sink == nil || p.heap == nil || p.skip(pc) {
		return
	}
	if f := p.heap.access(pc, addr, size, write); f != nil {
		p.report(*f)
	}
}

func (p *Probe) report(f Fault) {
	p.sink.ReportFault(f)
	if p.halt {
		panic(&Halt{Fault: f})
	}
}

// mix is the splitmix64 finalizer, it spreads block addresses over the map.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
