// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbolizer

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/ianlancetaylor/demangle"
)

// ReadELF reads function symbols of a binary, with C++/Rust names demangled.
func ReadELF(bin string) (*Table, error) {
	ef, err := elf.Open(bin)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary %v: %w", bin, err)
	}
	defer ef.Close()
	syms, err := ef.Symbols()
	if err != nil {
		// Stripped binaries still have the dynamic symbol table.
		syms, err = ef.DynamicSymbols()
		if err != nil {
			return nil, fmt.Errorf("failed to read symbols of %v: %w", bin, err)
		}
	}
	var funcs []elf.Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
			continue
		}
		funcs = append(funcs, s)
	}
	sort.Slice(funcs, func(i, j int) bool {
		return funcs[i].Value < funcs[j].Value
	})
	var symbols []Symbol
	for i, s := range funcs {
		size := s.Size
		if size == 0 {
			// Assembly symbols don't have a size, assume they extend to the next symbol.
			if i+1 < len(funcs) {
				size = funcs[i+1].Value - s.Value
			} else {
				size = 1
			}
		}
		if size == 0 {
			continue
		}
		symbols = append(symbols, Symbol{
			Name:    demangle.Filter(s.Name, demangle.NoParams),
			Mangled: s.Name,
			Addr:    s.Value,
			Size:    size,
		})
	}
	return NewTable(symbols), nil
}
