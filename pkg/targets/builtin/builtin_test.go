// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/instrument"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/targets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTarget(t *testing.T, name string, input []byte) (*executor.Outcome, *report.CrashRecord) {
	target, err := targets.Get(name)
	require.NoError(t, err)
	env, err := executor.NewCoverage(executor.Config{
		Harness:     target.Harness,
		MapSize:     64,
		Mode:        instrument.ModeBlocks,
		HaltOnError: true,
		Symbols:     target.Symbols,
		Grace:       100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer env.Close()
	out, err := env.Run(context.Background(), input, 200*time.Millisecond)
	require.NoError(t, err)
	if string(input) == "STUCK" {
		assert.True(t, env.Hung())
	}
	return out, report.Classify(out, input, 0, target.Symbols)
}

func TestMagic(t *testing.T) {
	out, rec := runTarget(t, "magic", []byte("B"))
	assert.Nil(t, rec)
	assert.Zero(t, out.Signal.Get(5))
	out, rec = runTarget(t, "magic", []byte("A"))
	assert.Nil(t, rec)
	assert.NotZero(t, out.Signal.Get(5))
	out, _ = runTarget(t, "magic", nil)
	assert.Zero(t, out.Signal.Get(5))
}

func TestTLV(t *testing.T) {
	tests := []struct {
		input    string
		kind     executor.Kind
		title    string
		location string
	}{
		{"BFTL\x01\x03abc", executor.Normal, "", ""},
		{"BFTL\x03\x08aaaaaaaa", executor.Normal, "", ""},
		{"BFTL\x03\x09aaaaaaaaa", executor.InstrumentedFault,
			"heap-buffer-overflow in tlv.copyValue", "heap-buffer-overflow at tlv.copyValue+0x2"},
		{"BFTL\x04\x01\x03", executor.Normal, "", ""},
		{"BFTL\x04\x01\x04", executor.Crash, "panic: runtime error: index out of range [4] with length 4", ""},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			out, rec := runTarget(t, "tlv", []byte(test.input))
			assert.Equal(t, test.kind, out.Kind)
			if test.kind == executor.Normal {
				assert.Nil(t, rec)
				return
			}
			require.NotNil(t, rec)
			assert.Contains(t, rec.Title, test.title)
			if test.location != "" {
				assert.Equal(t, test.location, rec.Location)
			}
		})
	}
}

func TestHang(t *testing.T) {
	out, rec := runTarget(t, "hang", []byte("LOOP"))
	assert.Equal(t, executor.Timeout, out.Kind)
	require.NotNil(t, rec)
	assert.Equal(t, report.ChannelTimeout, rec.Channel)
	assert.Contains(t, rec.Title, "timeout in hang.spin")

	out, _ = runTarget(t, "hang", []byte("STUCK"))
	assert.Equal(t, executor.Timeout, out.Kind)
}

func TestHeap(t *testing.T) {
	tests := []struct {
		input string
		fault instrument.FaultKind
	}{
		{"a\x08w\x00\x07f\x00", 0},
		{"a\x08w\x00\x08", instrument.HeapOverflow},
		{"a\x08f\x00r\x00\x01", instrument.UseAfterFree},
		{"a\x08f\x00f\x00", instrument.DoubleFree},
	}
	for _, test := range tests {
		out, rec := runTarget(t, "heap", []byte(test.input))
		if test.fault == 0 {
			assert.Equal(t, executor.Normal, out.Kind, "input %q", test.input)
			continue
		}
		assert.Equal(t, executor.InstrumentedFault, out.Kind, "input %q", test.input)
		require.NotNil(t, rec)
		assert.Equal(t, test.fault, out.Fault.Kind)
		assert.Equal(t, report.ChannelMemory, rec.Channel)
	}
}

func TestRegistry(t *testing.T) {
	var names []string
	for _, target := range targets.List() {
		names = append(names, target.Name)
		assert.NotEmpty(t, target.Seeds, target.Name)
	}
	assert.Equal(t, []string{"hang", "heap", "magic", "racy", "tlv"}, names)
	_, err := targets.Get("nope")
	assert.Error(t, err)
}
