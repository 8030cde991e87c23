// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"testing"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrashRequestsRestart(t *testing.T) {
	fuzzer, broker := newTestFuzzer(t, "tlv", testCampaign(), "BFTL\x03\x09aaaaaaaaa")
	var executed []byte
	fuzzer.cfg.OnExec = func(data []byte) { executed = data }
	rec, err := fuzzer.Step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, executor.InstrumentedFault, rec.Kind)
	assert.Equal(t, []byte("BFTL\x03\x09aaaaaaaaa"), executed)
	require.Len(t, broker.crashes, 1)
	assert.Equal(t, report.ChannelMemory, broker.crashes[0].Channel)
	// Crashing seeds are not added to the corpus.
	assert.Equal(t, 0, broker.store.Len())
}

func TestLoopReturnsRestart(t *testing.T) {
	fuzzer, _ := newTestFuzzer(t, "tlv", testCampaign(), "BFTL\x04\x01\x09")
	err := fuzzer.Loop(context.Background())
	assert.ErrorIs(t, err, ErrRestart)
}

func TestTimeoutRequestsRestart(t *testing.T) {
	fuzzer, broker := newTestFuzzer(t, "hang", testCampaign(), "LOOP", "B")
	rec, err := fuzzer.Step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, executor.Timeout, rec.Kind)
	assert.Equal(t, report.ChannelTimeout, rec.Channel)
	require.Len(t, broker.crashes, 1)
	assert.Equal(t, executor.Timeout, broker.crashes[0].Kind)
	// The run unwound in time, still the worker does not continue.
	assert.False(t, fuzzer.cov.Hung())
	assert.Equal(t, 0, broker.store.Len())

	fuzzer, _ = newTestFuzzer(t, "hang", testCampaign(), "LOOP")
	assert.ErrorIs(t, fuzzer.Loop(context.Background()), ErrRestart)
}

func TestCmpLogIsCached(t *testing.T) {
	campaign := testCampaign()
	campaign.TraceProb = 0.5
	fuzzer, _ := newTestFuzzer(t, "magic", campaign)
	_, _, err := fuzzer.cfg.Store.Insert([]byte("B"), corpus.Meta{})
	require.ErrorIs(t, err, corpus.ErrReadOnly)

	fuzzer, broker := newTestFuzzer(t, "magic", campaign)
	id, _, err := broker.store.Insert([]byte("B"), corpus.Meta{})
	require.NoError(t, err)
	require.NoError(t, fuzzer.poll())
	parent, err := fuzzer.cfg.Store.Get(id)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := fuzzer.runI2S(context.Background(), parent)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), fuzzer.trace.Execs())
	stats := fuzzer.GrabStats()
	assert.Equal(t, uint64(2), stats[StatCmpCached])
	assert.Equal(t, uint64(3), stats[StatI2S])
}
