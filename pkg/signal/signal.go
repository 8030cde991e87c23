// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal provides types for working with feedback signal.
// A signal is a sparse map from coverage counter index to the hitcount bucket
// observed at that index. Buckets are ordered, so a larger bucket is a "stronger" signal.
package signal

import (
	"encoding/binary"
	"sort"

	"github.com/binfuzz/binfuzz/pkg/hash"
)

type (
	elemType uint32
	prioType int8
)

type Signal map[elemType]prioType

// Serial is a stable, transferable form of a signal (sorted by element).
type Serial struct {
	Elems []uint32 `json:"elems,omitempty"`
	Prios []int8   `json:"prios,omitempty"`
}

// Bucket maps a raw hit counter to its bucket: 0 (not hit), 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+.
// Exact counts beyond the bucket are insignificant jitter.
func Bucket(count uint8) int8 {
	switch {
	case count == 0:
		return 0
	case count <= 3:
		return int8(count)
	case count <= 7:
		return 4
	case count <= 15:
		return 5
	case count <= 31:
		return 6
	case count <= 127:
		return 7
	default:
		return 8
	}
}

// FromCounters builds a bucketed signal from a dense counter array.
func FromCounters(counters []byte) Signal {
	var s Signal
	for i, c := range counters {
		if c == 0 {
			continue
		}
		if s == nil {
			s = make(Signal)
		}
		s[elemType(i)] = prioType(Bucket(c))
	}
	return s
}

func FromRaw(raw []uint32, prio int8) Signal {
	if len(raw) == 0 {
		return nil
	}
	s := make(Signal, len(raw))
	for _, e := range raw {
		s[elemType(e)] = prioType(prio)
	}
	return s
}

func (s Signal) Len() int {
	return len(s)
}

func (s Signal) Empty() bool {
	return len(s) == 0
}

func (s Signal) Copy() Signal {
	c := make(Signal, len(s))
	for e, p := range s {
		c[e] = p
	}
	return c
}

// Get returns the bucket at index e (0 if absent).
func (s Signal) Get(e uint32) int8 {
	return int8(s[elemType(e)])
}

// Elems returns sorted indices present in the signal.
func (s Signal) Elems() []uint32 {
	res := make([]uint32, 0, len(s))
	for e := range s {
		res = append(res, uint32(e))
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func (s Signal) Serialize() Serial {
	if s.Empty() {
		return Serial{}
	}
	res := Serial{
		Elems: s.Elems(),
		Prios: make([]int8, len(s)),
	}
	for i, e := range res.Elems {
		res.Prios[i] = int8(s[elemType(e)])
	}
	return res
}

func (ser Serial) Deserialize() Signal {
	if len(ser.Elems) != len(ser.Prios) {
		panic("corrupted Serial")
	}
	if len(ser.Elems) == 0 {
		return nil
	}
	s := make(Signal, len(ser.Elems))
	for i, e := range ser.Elems {
		s[elemType(e)] = prioType(ser.Prios[i])
	}
	return s
}

// Valid says if the serial form is consistent (used to detect corrupted sidecars).
func (ser Serial) Valid() bool {
	return len(ser.Elems) == len(ser.Prios)
}

// Hash returns a content hash of the signal that does not depend on map iteration order.
func (s Signal) Hash() uint64 {
	ser := s.Serialize()
	buf := make([]byte, 0, len(ser.Elems)*5)
	for i, e := range ser.Elems {
		buf = binary.LittleEndian.AppendUint32(buf, e)
		buf = append(buf, byte(ser.Prios[i]))
	}
	return hash.Fast(buf)
}

// Diff returns the part of s1 that is not covered by s.
// If s is the seen-map, a non-empty result means s1 is novel.
func (s Signal) Diff(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	var res Signal
	for e, p1 := range s1 {
		if p, ok := s[e]; ok && p >= p1 {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[e] = p1
	}
	return res
}

// Novel says if s1 has an index whose bucket is higher than anything seen in s.
func (s Signal) Novel(s1 Signal) bool {
	for e, p1 := range s1 {
		if p, ok := s[e]; !ok || p < p1 {
			return true
		}
	}
	return false
}

// SubsetOf says if every index of s is present in s1.
func (s Signal) SubsetOf(s1 Signal) bool {
	for e := range s {
		if _, ok := s1[e]; !ok {
			return false
		}
	}
	return true
}

// Merge folds s1 into s keeping the maximum bucket per index.
// The operation is associative and commutative, and s never shrinks.
func (s *Signal) Merge(s1 Signal) {
	if s1.Empty() {
		return
	}
	s0 := *s
	if s0 == nil {
		s0 = make(Signal, len(s1))
		*s = s0
	}
	for e, p1 := range s1 {
		if p, ok := s0[e]; !ok || p < p1 {
			s0[e] = p1
		}
	}
}

type Context struct {
	Signal  Signal
	Context interface{}
}

// Minimize returns a subset of contexts that covers the same signal:
// for every index the context with the highest bucket is kept,
// on ties the earliest context in the list wins.
func Minimize(corpus []Context) []interface{} {
	type ContextPrio struct {
		prio prioType
		idx  int
	}
	covered := make(map[elemType]ContextPrio)
	for i, inp := range corpus {
		for e, p := range inp.Signal {
			if prev, ok := covered[e]; !ok || p > prev.prio {
				covered[e] = ContextPrio{
					prio: p,
					idx:  i,
				}
			}
		}
	}
	indices := make([]bool, len(corpus))
	for _, cp := range covered {
		indices[cp.idx] = true
	}
	var result []interface{}
	for idx, keep := range indices {
		if keep {
			result = append(result, corpus[idx].Context)
		}
	}
	return result
}
