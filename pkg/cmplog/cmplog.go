// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cmplog stores comparison operands observed during a tracing execution.
// Operands are later matched against the input bytes to produce input-to-state replacements.
package cmplog

import (
	"bytes"
)

const (
	// MaxComps bounds the number of integer comparisons kept per execution.
	MaxComps = 4096
	// MaxBytes bounds the number of byte-sequence comparisons kept per execution.
	MaxBytes = 256
	// MaxBytesLen bounds the length of a recorded byte-sequence operand.
	MaxBytesLen = 32
)

// Comp is an integer comparison of Size bytes (1, 2, 4 or 8).
type Comp struct {
	Size int
	Arg1 uint64
	Arg2 uint64
}

// BytesComp is a comparison of two byte sequences (memcmp/strcmp-like).
type BytesComp struct {
	Arg1 []byte
	Arg2 []byte
}

// Log is not safe for concurrent use; one execution writes it at a time.
type Log struct {
	comps  []Comp
	seen   map[Comp]bool
	bytes  []BytesComp
	seenBs map[string]bool
}

func New() *Log {
	return &Log{
		seen:   make(map[Comp]bool),
		seenBs: make(map[string]bool),
	}
}

// AddComp records one integer comparison. Equal operands carry no information
// and are dropped, as are duplicates.
func (l *Log) AddComp(size int, arg1, arg2 uint64) {
	switch size {
	case 1, 2, 4, 8:
	default:
		return
	}
	mask := onesMask(size)
	arg1 &= mask
	arg2 &= mask
	if arg1 == arg2 || len(l.comps) >= MaxComps {
		return
	}
	c := Comp{Size: size, Arg1: arg1, Arg2: arg2}
	if l.seen[c] {
		return
	}
	l.seen[c] = true
	l.comps = append(l.comps, c)
}

// AddBytes records a byte-sequence comparison (operands are copied and truncated).
func (l *Log) AddBytes(arg1, arg2 []byte) {
	n := min(len(arg1), len(arg2), MaxBytesLen)
	if n == 0 || bytes.Equal(arg1[:n], arg2[:n]) || len(l.bytes) >= MaxBytes {
		return
	}
	a1 := append([]byte(nil), arg1[:n]...)
	a2 := append([]byte(nil), arg2[:n]...)
	key := string(a1) + "\x00" + string(a2)
	if l.seenBs[key] {
		return
	}
	l.seenBs[key] = true
	l.bytes = append(l.bytes, BytesComp{Arg1: a1, Arg2: a2})
}

func (l *Log) Comps() []Comp {
	return l.comps
}

func (l *Log) Bytes() []BytesComp {
	return l.bytes
}

func (l *Log) Len() int {
	return len(l.comps) + len(l.bytes)
}

func (l *Log) Reset() {
	l.comps = l.comps[:0]
	l.bytes = l.bytes[:0]
	clear(l.seen)
	clear(l.seenBs)
}

// Clone returns an independent copy.
func (l *Log) Clone() *Log {
	c := New()
	for _, cmp := range l.comps {
		c.AddComp(cmp.Size, cmp.Arg1, cmp.Arg2)
	}
	for _, bc := range l.bytes {
		c.AddBytes(bc.Arg1, bc.Arg2)
	}
	return c
}

// Intersect keeps only comparisons present in both logs.
// Operands that change between runs of the same input (pointers, timestamps)
// are not useful for replacement.
func (l *Log) Intersect(other *Log) *Log {
	res := New()
	for _, c := range l.comps {
		if other.seen[c] {
			res.AddComp(c.Size, c.Arg1, c.Arg2)
		}
	}
	for _, bc := range l.bytes {
		if other.seenBs[string(bc.Arg1)+"\x00"+string(bc.Arg2)] {
			res.AddBytes(bc.Arg1, bc.Arg2)
		}
	}
	return res
}

// Tokens returns byte-sequence operands that are worth adding to a mutation dictionary.
func (l *Log) Tokens() [][]byte {
	var res [][]byte
	for _, bc := range l.bytes {
		res = append(res, bc.Arg1, bc.Arg2)
	}
	return res
}

func onesMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(size)) - 1
}
