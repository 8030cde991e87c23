// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadData([]byte(`{
		# campaign against the tlv harness
		"workdir": "` + dir + `",
		"target": "tlv",
		"procs": 4
	}`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Procs)
	assert.Equal(t, 1<<16, cfg.MapSize)
	assert.Equal(t, time.Second, cfg.Timeout.Duration())
	assert.True(t, cfg.HaltOnError)
	assert.Equal(t, "edges", cfg.CoverageMode)
	assert.Equal(t, filepath.Join(dir, "corpus"), cfg.CorpusDir())
	assert.Equal(t, filepath.Join(dir, "crashes"), cfg.CrashDir())
	assert.NotEmpty(t, cfg.FuzzerBin)
	assert.False(t, cfg.SharedMap)
}

func TestLoadSharedMap(t *testing.T) {
	cfg, err := LoadData([]byte(`{
		"workdir": "` + t.TempDir() + `",
		"target": "magic",
		"shared_map": true
	}`))
	require.NoError(t, err)
	assert.True(t, cfg.SharedMap)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		`{"target": "tlv"}`:          "workdir is empty",
		`{"workdir": "` + dir + `"}`: "target is empty",
		`{"workdir": "` + dir + `", "target": "t", "map_size": 8}`:            "map_size",
		`{"workdir": "` + dir + `", "target": "t", "coverage_mode": "paths"}`: "coverage_mode",
		`{"workdir": "` + dir + `", "target": "t", "trace_prob": 0.9}`:        "trace_prob",
		`{"workdir": "` + dir + `", "target": "t", "procs": 0}`:               "procs",
		`{"workdir": "` + dir + `", "target": "t", "dict": "/nonexistent/d"}`: "does not exist",
		`{"workdir": "` + dir + `", "target": "t", "exclude": ["[x"]}`:        "bad exclude pattern",
		`{"workdir": "` + dir + `", "target": "t", "unknown_param": 1}`:       "unknown field",
		`{"workdir": "` + dir + `", "target": "t", "timeout": "0s"}`:          "timeout",
	}
	for data, want := range tests {
		_, err := LoadData([]byte(data))
		require.Error(t, err, data)
		assert.Contains(t, err.Error(), want, data)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "campaign.yaml")
	data := "workdir: " + dir + "\ntarget: magic\nmap_size: 64\ncoverage_mode: blocks\ntimeout: 100ms\n"
	require.NoError(t, osutil.WriteFile(file, []byte(data)))
	cfg, err := LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.MapSize)
	assert.Equal(t, "blocks", cfg.CoverageMode)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeout.Duration())
}

func TestCheckMapSize(t *testing.T) {
	cfg := DefaultValues()
	assert.NoError(t, cfg.CheckMapSize(cfg.MapSize))
	err := cfg.CheckMapSize(128)
	assert.True(t, errors.Is(err, ErrMapSize))
}
