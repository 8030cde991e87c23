// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"sort"
)

const (
	heapBase  = 0x10000000
	redzone   = 32
	heapAlign = 16
)

type chunk struct {
	addr    uint64
	size    uint64
	freed   bool
	allocPC uint64
	freePC  uint64
}

func (c *chunk) lo() uint64 { return c.addr - redzone }
func (c *chunk) hi() uint64 { return c.addr + alignUp(c.size) + redzone }

// heap is a shadow model of the target heap. Every allocation is surrounded
// by redzones, freed chunks are never reused within an execution,
// so stale pointers are always detected.
type heap struct {
	next   uint64
	chunks []*chunk
	live   map[uint64]*chunk
}

func newHeap() *heap {
	h := &heap{live: make(map[uint64]*chunk)}
	h.reset()
	return h
}

func (h *heap) reset() {
	h.next = heapBase
	h.chunks = h.chunks[:0]
	clear(h.live)
}

func (h *heap) malloc(pc, size uint64) uint64 {
	c := &chunk{
		addr:    h.next + redzone,
		size:    size,
		allocPC: pc,
	}
	h.next = c.hi()
	h.chunks = append(h.chunks, c)
	h.live[c.addr] = c
	return c.addr
}

func (h *heap) free(pc, addr uint64) *Fault {
	if addr == 0 {
		return nil
	}
	if c := h.live[addr]; c != nil {
		c.freed = true
		c.freePC = pc
		delete(h.live, addr)
		return nil
	}
	if c := h.find(addr); c != nil && c.addr == addr && c.freed {
		return &Fault{Kind: DoubleFree, PC: pc, Addr: addr, AllocPC: c.allocPC, FreePC: c.freePC}
	}
	return &Fault{Kind: InvalidFree, PC: pc, Addr: addr}
}

func (h *heap) access(pc, addr uint64, size int, write bool) *Fault {
	if addr < heapBase || addr >= h.next || size <= 0 {
		// Not a heap address, nothing to check.
		return nil
	}
	c := h.find(addr)
	if c == nil {
		return nil
	}
	f := &Fault{PC: pc, Addr: addr, Size: size, Write: write, AllocPC: c.allocPC, FreePC: c.freePC}
	switch {
	case c.freed:
		f.Kind = UseAfterFree
	case addr < c.addr:
		f.Kind = HeapUnderflow
	case addr+uint64(size) > c.addr+c.size:
		f.Kind = HeapOverflow
	default:
		return nil
	}
	return f
}

// find returns the chunk whose region (including redzones) contains addr.
func (h *heap) find(addr uint64) *chunk {
	idx := sort.Search(len(h.chunks), func(i int) bool {
		return h.chunks[i].hi() > addr
	})
	if idx < len(h.chunks) && h.chunks[idx].lo() <= addr {
		return h.chunks[idx]
	}
	return nil
}

func alignUp(v uint64) uint64 {
	return (v + heapAlign - 1) &^ (heapAlign - 1)
}
