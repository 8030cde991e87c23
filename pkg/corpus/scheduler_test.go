// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schedMeta(seq uint64, exec time.Duration, size int, elems ...uint32) Meta {
	return Meta{
		ID:       fmt.Sprintf("e%v", seq),
		Seq:      seq,
		Size:     size,
		ExecTime: exec,
		Signal:   signal.FromRaw(elems, 1).Serialize(),
	}
}

func TestSchedulerEmpty(t *testing.T) {
	s := NewScheduler()
	_, err := s.Next()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, s.Favored())
}

func TestSchedulerMinimize(t *testing.T) {
	s := NewScheduler()
	// Strict subset of e2, even though it is faster.
	s.Add(schedMeta(1, time.Millisecond, 1, 1, 2))
	s.Add(schedMeta(2, 10*time.Millisecond, 10, 1, 2, 3))
	// The only cover of 4.
	s.Add(schedMeta(3, time.Second, 100, 4, 5))
	// Covers 5 cheaper than e3, but e3 is taken anyway for 4.
	s.Add(schedMeta(4, time.Millisecond, 1, 5, 6))
	s.Add(schedMeta(5, time.Second, 1, 5, 6))
	// Nothing useful.
	s.Add(schedMeta(6, time.Millisecond, 1))
	assert.Equal(t, 6, s.Len())
	assert.Equal(t, map[string]bool{"e2": true, "e3": true, "e4": true}, s.Favored())

	// Re-adding is a no-op.
	s.Add(schedMeta(1, time.Nanosecond, 1, 1, 2, 3, 4, 5, 6))
	assert.Equal(t, 6, s.Len())
}

func TestSchedulerTieBreak(t *testing.T) {
	s := NewScheduler()
	s.Add(schedMeta(2, time.Millisecond, 1, 1, 2))
	s.Add(schedMeta(1, time.Millisecond, 1, 1, 2))
	assert.Equal(t, map[string]bool{"e1": true}, s.Favored())
	id, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "e1", id)
}

func TestSchedulerWeights(t *testing.T) {
	s := NewScheduler()
	s.Add(schedMeta(1, time.Millisecond, 1, 1, 2))
	s.Add(schedMeta(2, time.Millisecond, 1, 3))
	s.Add(schedMeta(3, 2*time.Millisecond, 1, 4, 5))
	counts := make(map[string]int)
	const rounds = 400
	for i := 0; i < rounds; i++ {
		id, err := s.Next()
		require.NoError(t, err)
		counts[id]++
	}
	// Weights are 2/1ms, 1/1ms and 2/2ms.
	assert.InDelta(t, rounds/2, counts["e1"], 1)
	assert.InDelta(t, rounds/4, counts["e2"], 1)
	assert.InDelta(t, rounds/4, counts["e3"], 1)

	// Equal weights go round-robin starting from the earliest entry.
	s = NewScheduler()
	s.Add(schedMeta(1, time.Millisecond, 1, 1))
	s.Add(schedMeta(2, time.Millisecond, 1, 2))
	var order []string
	for i := 0; i < 4; i++ {
		id, _ := s.Next()
		order = append(order, id)
	}
	assert.Equal(t, []string{"e1", "e2", "e1", "e2"}, order)
}

func TestSchedulerFallback(t *testing.T) {
	// Seeds that produce no coverage are still scheduled.
	s := NewScheduler()
	s.Add(schedMeta(1, time.Millisecond, 1))
	s.Add(schedMeta(2, time.Millisecond, 1))
	assert.Empty(t, s.Favored())
	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		id, err := s.Next()
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Len(t, seen, 2)
}
