// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package builtin registers the harnesses shipped with bf-fuzzer.
// Block addresses of every harness live in a private range described by
// its symbol table, so that crash locations and exclusion patterns work
// the same way as for a binary target.
package builtin

import (
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
	"github.com/binfuzz/binfuzz/pkg/targets"
)

func init() {
	targets.Register(&targets.Target{
		Name:        "magic",
		Description: "sets one extra counter when the first byte is 0x41",
		Harness:     magic,
		Symbols:     symbols("magic", magicBase, "Fuzz"),
		Seeds:       [][]byte{{}},
	})
	targets.Register(&targets.Target{
		Name:        "tlv",
		Description: "type-length-value parser with a heap overflow and an out-of-range lookup",
		Harness:     tlv,
		Symbols:     symbols("tlv", tlvBase, "Fuzz", "record", "copyValue", "lookup", "checksum"),
		Seeds:       [][]byte{[]byte("BFTL\x01\x03abc")},
		Tokens:      [][]byte{[]byte(tlvMagic)},
	})
	targets.Register(&targets.Target{
		Name:        "hang",
		Description: "loops forever on LOOP and blocks in uninstrumented code on STUCK",
		Harness:     hang,
		Symbols:     symbols("hang", hangBase, "Fuzz", "spin"),
		Seeds:       [][]byte{[]byte("LOO")},
	})
	targets.Register(&targets.Target{
		Name:        "heap",
		Description: "interprets the input as heap operations",
		Harness:     heapOps,
		Symbols:     symbols("heap", heapBase, "Fuzz", "alloc", "free", "read", "write"),
		Seeds:       [][]byte{[]byte("a\x08w\x00\x01r\x00\x01f\x00")},
	})
	targets.Register(&targets.Target{
		Name:        "racy",
		Description: "writes a map from two goroutines on RACE, the Go runtime kills the process",
		Harness:     racy,
		Symbols:     symbols("racy", racyBase, "Fuzz"),
		Seeds:       [][]byte{[]byte("RAC")},
	})
}

const funcSize = 0x40

// symbols lays out consecutive functions of funcSize bytes starting at base.
func symbols(pkg string, base uint64, funcs ...string) *symbolizer.Table {
	var syms []symbolizer.Symbol
	for i, fn := range funcs {
		syms = append(syms, symbolizer.Symbol{
			Name: pkg + "." + fn,
			Addr: base + uint64(i)*funcSize,
			Size: funcSize,
		})
	}
	return symbolizer.NewTable(syms)
}

const (
	magicBase = 0x0
	tlvBase   = 0x1000
	hangBase  = 0x2000
	heapBase  = 0x3000
	racyBase  = 0x4000
)

// fn returns the address of block off inside the idx-th function at base.
func fn(base uint64, idx int, off uint64) uint64 {
	return base + uint64(idx)*funcSize + off
}
