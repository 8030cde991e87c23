// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/binfuzz/binfuzz/pkg/signal"
)

var ErrEmpty = errors.New("corpus is empty")

// Scheduler picks the next entry to mutate.
//
// The favored set is a greedy minimizing cull over coverage indices:
// entries whose signal is a strict subset of another entry's signal are never favored;
// entries that are the only cover of some index are taken first;
// then every still uncovered index takes its top-rated entry,
// i.e. the one with the smallest ExecTime*Size (the earliest one on ties).
// Favored entries are then picked by smooth weighted round-robin,
// weight is the number of indices an entry explains divided by its exec time.
type Scheduler struct {
	mu      sync.Mutex
	entries []*schedEntry
	byID    map[string]*schedEntry
	dirty   bool
	active  []*schedEntry
	total   float64
}

type schedEntry struct {
	id       string
	seq      uint64
	sig      signal.Signal
	exec     float64
	score    float64
	favored  bool
	weight   float64
	current  float64
	explains int
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		byID: make(map[string]*schedEntry),
	}
}

// Add registers an entry. Re-adding a known id is a no-op.
func (s *Scheduler) Add(meta Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[meta.ID] != nil {
		return
	}
	exec := meta.ExecTime
	if exec < time.Microsecond {
		exec = time.Microsecond
	}
	size := meta.Size
	if size == 0 {
		size = 1
	}
	e := &schedEntry{
		id:    meta.ID,
		seq:   meta.Seq,
		sig:   meta.Signal.Deserialize(),
		exec:  exec.Seconds(),
		score: exec.Seconds() * float64(size),
	}
	s.entries = append(s.entries, e)
	s.byID[e.id] = e
	s.dirty = true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Favored returns the current favored set.
func (s *Scheduler) Favored() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cull()
	res := make(map[string]bool)
	for _, e := range s.entries {
		if e.favored {
			res[e.id] = true
		}
	}
	return res
}

// Next returns id of the entry to mutate next.
func (s *Scheduler) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "", ErrEmpty
	}
	s.cull()
	var best *schedEntry
	for _, e := range s.active {
		e.current += e.weight
		if best == nil || e.current > best.current {
			best = e
		}
	}
	best.current -= s.total
	return best.id, nil
}

func (s *Scheduler) cull() {
	if !s.dirty {
		return
	}
	s.dirty = false
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].seq < s.entries[j].seq
	})
	covers := make(map[uint32][]*schedEntry)
	for _, e := range s.entries {
		e.favored = false
		e.explains = 0
		e.current = 0
		for _, idx := range e.sig.Elems() {
			covers[idx] = append(covers[idx], e)
		}
	}
	eligible := make(map[*schedEntry]bool)
	for _, e := range s.entries {
		if !e.sig.Empty() && !strictSubset(e, covers) {
			eligible[e] = true
		}
	}
	indices := make([]uint32, 0, len(covers))
	for idx := range covers {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	covered := make(map[uint32]bool)
	take := func(e *schedEntry) {
		e.favored = true
		for _, idx := range e.sig.Elems() {
			if !covered[idx] {
				covered[idx] = true
				e.explains++
			}
		}
	}
	for _, idx := range indices {
		var sole *schedEntry
		n := 0
		for _, e := range covers[idx] {
			if eligible[e] {
				sole = e
				n++
			}
		}
		if n == 1 && !sole.favored {
			take(sole)
		}
	}
	for _, idx := range indices {
		if covered[idx] {
			continue
		}
		var top *schedEntry
		for _, e := range covers[idx] {
			if eligible[e] && (top == nil || e.score < top.score) {
				top = e
			}
		}
		if top != nil {
			take(top)
		}
	}

	s.active = s.active[:0]
	s.total = 0
	for _, e := range s.entries {
		if e.favored {
			s.active = append(s.active, e)
		}
	}
	if len(s.active) == 0 {
		s.active = append(s.active, s.entries...)
	}
	for _, e := range s.active {
		e.weight = 1 / e.exec
		if e.explains != 0 {
			e.weight *= float64(e.explains)
		}
		s.total += e.weight
	}
}

// strictSubset says if there is another entry that covers every index of e and something else.
func strictSubset(e *schedEntry, covers map[uint32][]*schedEntry) bool {
	elems := e.sig.Elems()
	for _, other := range covers[elems[0]] {
		if other != e && other.sig.Len() > e.sig.Len() && e.sig.SubsetOf(other.sig) {
			return true
		}
	}
	return false
}
