// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Input-to-state replacement: a tracing run of the parent records comparison operands,
// operands that appear verbatim in the parent are likely copied from the input,
// so replacing them with the other operand of the comparison is likely to flip it.

package mutator

import (
	"bytes"
	"math/rand"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
)

const maxReplacements = 512

// InputToState returns mutants of data where an operand of a logged comparison
// found in data is replaced with the counterpart operand or a +-1 variant of it.
// Mutants are returned in a deterministic order without duplicates.
func InputToState(data []byte, log *cmplog.Log, maxSize int) [][]byte {
	g := &replacer{
		data:    data,
		maxSize: maxSize,
		seen:    map[string]bool{string(data): true},
	}
	for _, c := range log.Comps() {
		g.comp(c.Size, c.Arg1, c.Arg2)
		g.comp(c.Size, c.Arg2, c.Arg1)
	}
	for _, bc := range log.Bytes() {
		g.bytes(bc.Arg1, bc.Arg2)
		g.bytes(bc.Arg2, bc.Arg1)
	}
	return g.res
}

// MutateI2S picks one input-to-state mutant of parent, or falls back to havoc
// if the log gives no replacement.
func (m *Mutator) MutateI2S(parent []byte, log *cmplog.Log, r *rand.Rand) []byte {
	for _, tok := range log.Tokens() {
		m.dict.Add(tok)
	}
	mutants := InputToState(parent, log, m.maxSize)
	if len(mutants) == 0 {
		return m.MutateRand(parent, r)
	}
	return mutants[r.Intn(len(mutants))]
}

type replacer struct {
	data    []byte
	maxSize int
	seen    map[string]bool
	res     [][]byte
}

func (g *replacer) comp(size int, val, other uint64) {
	for _, width := range []int{1, 2, 4, 8} {
		if width > size || !fits(val, width, size) {
			continue
		}
		// A 1-byte pattern of a wider comparison matches almost anywhere.
		if width == 1 && size != 1 {
			continue
		}
		mask := onesMask(width)
		pat := val & mask
		for _, rep := range []uint64{other, other + 1, other - 1} {
			rep &= mask
			if rep == pat {
				continue
			}
			for _, be := range []bool{false, true} {
				if be && width == 1 {
					continue
				}
				patBytes := make([]byte, width)
				repBytes := make([]byte, width)
				storeInt(patBytes, pat, width, be)
				storeInt(repBytes, rep, width, be)
				g.replaceAll(patBytes, repBytes)
			}
		}
	}
}

func (g *replacer) bytes(pat, rep []byte) {
	if len(pat) == 0 {
		return
	}
	g.replaceAll(pat, rep)
}

func (g *replacer) replaceAll(pat, rep []byte) {
	for off := 0; off+len(pat) <= len(g.data); {
		idx := bytes.Index(g.data[off:], pat)
		if idx < 0 {
			return
		}
		pos := off + idx
		off = pos + 1
		if len(g.res) >= maxReplacements {
			return
		}
		mutant := make([]byte, 0, len(g.data)-len(pat)+len(rep))
		mutant = append(mutant, g.data[:pos]...)
		mutant = append(mutant, rep...)
		mutant = append(mutant, g.data[pos+len(pat):]...)
		if len(mutant) > g.maxSize {
			mutant = mutant[:g.maxSize]
		}
		if g.seen[string(mutant)] {
			continue
		}
		g.seen[string(mutant)] = true
		g.res = append(g.res, mutant)
	}
}

// fits says if a size-byte value survives truncation to width bytes,
// i.e. the dropped bytes are a zero or sign extension.
func fits(v uint64, width, size int) bool {
	if width >= size {
		return true
	}
	hi := v &^ onesMask(width) & onesMask(size)
	if hi == 0 {
		return true
	}
	signBit := uint64(1) << (8*uint(width) - 1)
	return hi == onesMask(size)&^onesMask(width) && v&signBit != 0
}

func onesMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(size)) - 1
}
