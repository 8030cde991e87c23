// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator produces child inputs from a parent input.
// All mutations are deterministic for a given random source.
package mutator

import (
	"encoding/binary"
	"math/rand"
)

const (
	maxInc      = 35
	maxStackPow = 6
	maxBlock    = 128
)

var (
	interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

type Mutator struct {
	maxSize int
	dict    *Dict
	splice  func(r *rand.Rand) []byte
}

// New returns a mutator that never produces inputs longer than maxSize.
// dict may be nil.
func New(maxSize int, dict *Dict) *Mutator {
	if dict == nil {
		dict = NewDict()
	}
	return &Mutator{
		maxSize: maxSize,
		dict:    dict,
	}
}

func (m *Mutator) Dict() *Dict {
	return m.dict
}

// SetSpliceSource sets the function that returns another corpus entry for splicing.
// The function must be deterministic for a given random source.
func (m *Mutator) SetSpliceSource(src func(r *rand.Rand) []byte) {
	m.splice = src
}

// Mutate returns a havoc mutation of parent. The result depends only on parent, seed,
// the dictionary and the splice source.
func (m *Mutator) Mutate(parent []byte, seed int64) []byte {
	return m.MutateRand(parent, rand.New(rand.NewSource(seed)))
}

// MutateRand stacks 1..2^k random transforms on a copy of parent.
func (m *Mutator) MutateRand(parent []byte, r *rand.Rand) []byte {
	data := append(make([]byte, 0, len(parent)+maxBlock), parent...)
	if len(data) > m.maxSize {
		data = data[:m.maxSize]
	}
	stack := 1 << uint(r.Intn(maxStackPow+1))
	for i, tries := 0, 0; i < stack && tries < 4*stack; tries++ {
		var ok bool
		data, ok = havoc[r.Intn(len(havoc))](m, r, data)
		if ok {
			i++
		}
	}
	if len(data) > m.maxSize {
		data = data[:m.maxSize]
	}
	return data
}

var havoc = [...]func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool){
	// Flip bit in byte.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		data[r.Intn(len(data))] ^= 1 << uint(r.Intn(8))
		return data, true
	},
	// Flip whole byte.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		data[r.Intn(len(data))] ^= 0xff
		return data, true
	},
	// Set int8/int16/int32 to an interesting value.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		width := 1 << uint(r.Intn(3))
		if len(data) < width {
			return data, false
		}
		var v uint64
		switch width {
		case 1:
			v = uint64(interesting8[r.Intn(len(interesting8))])
		case 2:
			v = uint64(interesting16[r.Intn(len(interesting16))])
		case 4:
			v = uint64(interesting32[r.Intn(len(interesting32))])
		}
		storeInt(data[r.Intn(len(data)-width+1):], v, width, r.Intn(2) == 0)
		return data, true
	},
	// Add/subtract from an int8/int16/int32.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		width := 1 << uint(r.Intn(3))
		if len(data) < width {
			return data, false
		}
		pos := r.Intn(len(data) - width + 1)
		be := r.Intn(2) == 0
		delta := uint64(r.Intn(2*maxInc+1) - maxInc)
		if delta == 0 {
			delta = 1
		}
		storeInt(data[pos:], loadInt(data[pos:], width, be)+delta, width, be)
		return data, true
	},
	// Set a random byte to a different random value.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		data[r.Intn(len(data))] ^= byte(r.Intn(255) + 1)
		return data, true
	},
	// Delete a block.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		if len(data) < 2 {
			return data, false
		}
		n := blockLen(r, len(data)-1)
		pos := r.Intn(len(data) - n + 1)
		return append(data[:pos], data[pos+n:]...), true
	},
	// Insert a block of random bytes or of one repeated byte.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		room := m.maxSize - len(data)
		if room <= 0 {
			return data, false
		}
		block := make([]byte, blockLen(r, min(room, maxBlock)))
		if r.Intn(2) == 0 {
			r.Read(block)
		} else {
			v := byte(r.Intn(256))
			for i := range block {
				block[i] = v
			}
		}
		return insert(data, r.Intn(len(data)+1), block), true
	},
	// Duplicate a block.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		room := m.maxSize - len(data)
		if len(data) == 0 || room <= 0 {
			return data, false
		}
		n := blockLen(r, min(room, len(data)))
		from := r.Intn(len(data) - n + 1)
		block := append([]byte{}, data[from:from+n]...)
		return insert(data, r.Intn(len(data)+1), block), true
	},
	// Overwrite a block with a copy of another block.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		if len(data) < 2 {
			return data, false
		}
		n := blockLen(r, len(data)-1)
		from := r.Intn(len(data) - n + 1)
		to := r.Intn(len(data) - n + 1)
		if from == to {
			return data, false
		}
		copy(data[to:to+n], data[from:from+n])
		return data, true
	},
	// Insert a dictionary token.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		tok := m.dict.choose(r)
		if tok == nil || len(data)+len(tok) > m.maxSize {
			return data, false
		}
		return insert(data, r.Intn(len(data)+1), tok), true
	},
	// Overwrite with a dictionary token.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		tok := m.dict.choose(r)
		if tok == nil || len(tok) > len(data) {
			return data, false
		}
		copy(data[r.Intn(len(data)-len(tok)+1):], tok)
		return data, true
	},
	// Splice with another corpus entry.
	func(m *Mutator, r *rand.Rand, data []byte) ([]byte, bool) {
		if m.splice == nil || len(data) < 2 {
			return data, false
		}
		other := m.splice(r)
		if len(other) < 2 {
			return data, false
		}
		cut := 1 + r.Intn(len(data)-1)
		from := r.Intn(len(other))
		tail := other[from:]
		if room := m.maxSize - cut; len(tail) > room {
			tail = tail[:room]
		}
		return append(data[:cut], tail...), true
	},
}

// blockLen returns a random length in [1, limit], biased to short blocks.
func blockLen(r *rand.Rand, limit int) int {
	if limit <= 1 {
		return 1
	}
	switch r.Intn(3) {
	case 0:
		return 1 + r.Intn(min(limit, 8))
	case 1:
		return 1 + r.Intn(min(limit, 32))
	default:
		return 1 + r.Intn(limit)
	}
}

func insert(data []byte, pos int, block []byte) []byte {
	data = append(data, block...)
	copy(data[pos+len(block):], data[pos:len(data)-len(block)])
	copy(data[pos:], block)
	return data
}

func loadInt(data []byte, size int, be bool) uint64 {
	switch size {
	case 1:
		return uint64(data[0])
	case 2:
		if be {
			return uint64(binary.BigEndian.Uint16(data))
		}
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		if be {
			return uint64(binary.BigEndian.Uint32(data))
		}
		return uint64(binary.LittleEndian.Uint32(data))
	case 8:
		if be {
			return binary.BigEndian.Uint64(data)
		}
		return binary.LittleEndian.Uint64(data)
	}
	panic("loadInt: bad size")
}

func storeInt(data []byte, v uint64, size int, be bool) {
	switch size {
	case 1:
		data[0] = byte(v)
	case 2:
		if be {
			binary.BigEndian.PutUint16(data, uint16(v))
		} else {
			binary.LittleEndian.PutUint16(data, uint16(v))
		}
	case 4:
		if be {
			binary.BigEndian.PutUint32(data, uint32(v))
		} else {
			binary.LittleEndian.PutUint32(data, uint32(v))
		}
	case 8:
		if be {
			binary.BigEndian.PutUint64(data, v)
		} else {
			binary.LittleEndian.PutUint64(data, v)
		}
	default:
		panic("storeInt: bad size")
	}
}
