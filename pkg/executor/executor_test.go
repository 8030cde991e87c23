// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/instrument"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHarness(p *instrument.Probe, data []byte) {
	p.Block(1)
	if len(data) == 0 {
		return
	}
	p.Cmp(2, uint64(data[0]), 'X', 1)
	switch data[0] {
	case 'X':
		p.Block(3)
	case 'P':
		p.Block(4)
		panic("boom")
	case 'L':
		for i := uint64(0); ; i++ {
			p.Block(5 + i%2)
		}
	case 'H':
		select {}
	case 'O':
		buf := p.Malloc(7, 4)
		for i := uint64(0); i < uint64(len(data)); i++ {
			p.Access(8, buf+i, 1, true)
		}
		p.Free(9, buf)
		p.Block(10)
	case 'W':
		data[0] = 0
	}
}

func testConfig() Config {
	return Config{
		Harness:     testHarness,
		MapSize:     64,
		Mode:        instrument.ModeBlocks,
		HaltOnError: true,
		Grace:       100 * time.Millisecond,
	}
}

func TestNormal(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, Idle, env.State())

	out, err := env.Run(context.Background(), []byte("X"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Normal, out.Kind)
	assert.Equal(t, []uint32{1, 3}, out.Signal.Elems())
	assert.Nil(t, out.Cmps)
	assert.Equal(t, uint64(3), out.LastPC)
	assert.Equal(t, Completed, env.State())

	// Coverage is not carried over between runs.
	out, err = env.Run(context.Background(), []byte("a"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, out.Signal.Elems())
	assert.Equal(t, uint64(2), env.Execs())
}

func TestInputNotModified(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	data := []byte("W")
	_, err = env.Run(context.Background(), data, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("W"), data)
}

func TestCrash(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	out, err := env.Run(context.Background(), []byte("P"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Crash, out.Kind)
	assert.Contains(t, string(out.Output), "panic: boom")
	assert.Contains(t, string(out.Output), "testHarness")
	assert.Equal(t, []uint32{1, 4}, out.Signal.Elems())
	assert.Equal(t, Faulted, env.State())

	out, err = env.Run(context.Background(), []byte("X"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Normal, out.Kind)
}

func TestTimeout(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	out, err := env.Run(context.Background(), []byte("L"), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Timeout, out.Kind)
	assert.False(t, env.Hung())
	assert.Contains(t, []uint64{5, 6}, out.LastPC)
	assert.Equal(t, TimedOut, env.State())

	out, err = env.Run(context.Background(), []byte("X"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Normal, out.Kind)
}

func TestHung(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	out, err := env.Run(context.Background(), []byte("H"), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Timeout, out.Kind)
	assert.True(t, env.Hung())
	_, err = env.Run(context.Background(), []byte("X"), time.Second)
	assert.ErrorIs(t, err, ErrHung)
}

func TestCancel(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	out, err := env.Run(ctx, []byte("L"), time.Hour)
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, Normal, out.Kind)
}

func TestInstrumentedFault(t *testing.T) {
	env, err := NewCoverage(testConfig())
	require.NoError(t, err)
	out, err := env.Run(context.Background(), []byte("OK"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Normal, out.Kind)

	out, err = env.Run(context.Background(), []byte("OVERFLOW"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, InstrumentedFault, out.Kind)
	require.NotNil(t, out.Fault)
	assert.Equal(t, instrument.HeapOverflow, out.Fault.Kind)
	assert.Equal(t, uint64(8), out.Fault.PC)
	// Execution stopped at the first violation.
	assert.Len(t, out.Faults, 1)
	assert.NotContains(t, out.Signal.Elems(), uint32(10))
}

func TestFaultNoHalt(t *testing.T) {
	cfg := testConfig()
	cfg.HaltOnError = false
	env, err := NewCoverage(cfg)
	require.NoError(t, err)
	out, err := env.Run(context.Background(), []byte("OVERFLOW"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, InstrumentedFault, out.Kind)
	assert.Len(t, out.Faults, 4)
	assert.Equal(t, out.Faults[0], *out.Fault)
	assert.Contains(t, out.Signal.Elems(), uint32(10))
}

func TestTracing(t *testing.T) {
	env, err := NewTracing(testConfig())
	require.NoError(t, err)
	out, err := env.Run(context.Background(), []byte("a"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Normal, out.Kind)
	assert.Nil(t, out.Signal)
	require.NotNil(t, out.Cmps)
	require.Len(t, out.Cmps.Comps(), 1)
	assert.Equal(t, uint64('a'), out.Cmps.Comps()[0].Arg1)
	assert.Equal(t, uint64('X'), out.Cmps.Comps()[0].Arg2)

	// The returned log is not reused by the next run.
	_, err = env.Run(context.Background(), []byte("X"), time.Second)
	require.NoError(t, err)
	assert.Len(t, out.Cmps.Comps(), 1)
}

func TestBadConfig(t *testing.T) {
	_, err := NewCoverage(Config{MapSize: 64})
	assert.Error(t, err)
	cfg := testConfig()
	cfg.Exclude = []string{"main.*"}
	_, err = NewCoverage(cfg)
	assert.Error(t, err)
}
