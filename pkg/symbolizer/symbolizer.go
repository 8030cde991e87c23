// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package symbolizer maps code addresses to function symbols and resolves
// symbol name patterns into address ranges (used for instrumentation exclusion).
package symbolizer

import (
	"fmt"
	"path/filepath"
	"sort"
)

type Symbol struct {
	Name    string
	Mangled string
	Addr    uint64
	Size    uint64
}

func (s Symbol) End() uint64 {
	return s.Addr + s.Size
}

// Table is a set of symbols sorted by address.
type Table struct {
	syms []Symbol
}

func NewTable(syms []Symbol) *Table {
	sorted := append([]Symbol(nil), syms...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Addr < sorted[j].Addr
	})
	return &Table{syms: sorted}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.syms)
}

func (t *Table) Symbols() []Symbol {
	return t.syms
}

// Lookup returns the symbol containing pc. A nil table knows no symbols.
func (t *Table) Lookup(pc uint64) (Symbol, bool) {
	if t == nil {
		return Symbol{}, false
	}
	idx := sort.Search(len(t.syms), func(i int) bool {
		return t.syms[i].Addr > pc
	})
	if idx == 0 {
		return Symbol{}, false
	}
	s := t.syms[idx-1]
	if pc >= s.End() {
		return Symbol{}, false
	}
	return s, true
}

// Describe formats pc as "func+0xoff" or as a bare address if unknown.
func (t *Table) Describe(pc uint64) string {
	if s, ok := t.Lookup(pc); ok {
		return fmt.Sprintf("%v+0x%x", s.Name, pc-s.Addr)
	}
	return fmt.Sprintf("0x%x", pc)
}

// Match returns address ranges of all symbols whose demangled or raw name
// matches one of the glob patterns.
func (t *Table) Match(patterns []string) (Ranges, error) {
	var res Ranges
	for _, pat := range patterns {
		if _, err := filepath.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("bad symbol pattern %q: %w", pat, err)
		}
	}
	for _, s := range t.syms {
		for _, pat := range patterns {
			m1, _ := filepath.Match(pat, s.Name)
			m2, _ := filepath.Match(pat, s.Mangled)
			if m1 || m2 {
				res = append(res, Range{Start: s.Addr, End: s.End()})
				break
			}
		}
	}
	return res.Normalize(), nil
}

// Range is a half-open address interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

type Ranges []Range

// Normalize sorts ranges and merges overlapping and adjacent ones.
func (rs Ranges) Normalize() Ranges {
	if len(rs) == 0 {
		return nil
	}
	sorted := append(Ranges(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	res := Ranges{sorted[0]}
	for _, r := range sorted[1:] {
		last := &res[len(res)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		res = append(res, r)
	}
	return res
}

// Contains expects normalized ranges.
func (rs Ranges) Contains(pc uint64) bool {
	idx := sort.Search(len(rs), func(i int) bool {
		return rs[i].End > pc
	})
	return idx < len(rs) && rs[idx].Start <= pc
}
