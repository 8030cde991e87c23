// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/db"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeedsConfig(t *testing.T) (*mgrconfig.Config, *corpus.Store) {
	cfg := mgrconfig.DefaultValues()
	cfg.Workdir = t.TempDir()
	cfg.MaxInputSize = 8
	store, err := corpus.Open(cfg.CorpusDir(), 16, false)
	require.NoError(t, err)
	return cfg, store
}

func TestLoadSeedsDir(t *testing.T) {
	cfg, store := testSeedsConfig(t)
	cfg.Seeds = t.TempDir()
	for name, data := range map[string]string{
		"a":      "AAAA",
		"b":      "0123456789abcdef",
		"c":      "AAAA",
		".hide":  "hidden",
		"known":  "KNOWN",
		"backup": "old~",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Seeds, name), []byte(data), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(cfg.Seeds, "subdir"), 0755))
	_, _, err := store.Insert([]byte("KNOWN"), corpus.Meta{})
	require.NoError(t, err)

	seeds, err := LoadSeeds(cfg, store, [][]byte{[]byte("builtin")})
	require.NoError(t, err)
	var data []string
	for _, cand := range seeds.Candidates {
		data = append(data, string(cand.Data))
	}
	assert.Equal(t, []string{"builtin", "AAAA", "01234567", "old~"}, data)
	assert.Equal(t, 1, seeds.Known)
	assert.Equal(t, 1, seeds.Truncated)
	assert.Equal(t, "target/0", seeds.Candidates[0].Path)
}

func TestLoadSeedsPack(t *testing.T) {
	cfg, store := testSeedsConfig(t)
	cfg.Seeds = filepath.Join(t.TempDir(), "seeds"+PackSuffix)
	require.NoError(t, db.Create(cfg.Seeds, 1, []db.Record{
		{Val: []byte("one")},
		{Val: []byte("two")},
	}))
	seeds, err := LoadSeeds(cfg, store, nil)
	require.NoError(t, err)
	assert.Len(t, seeds.Candidates, 2)
}

func TestLoadSeedsEmpty(t *testing.T) {
	cfg, store := testSeedsConfig(t)
	_, err := LoadSeeds(cfg, store, nil)
	assert.Error(t, err)

	// A non-empty corpus can run without seeds.
	_, _, err = store.Insert([]byte("X"), corpus.Meta{})
	require.NoError(t, err)
	seeds, err := LoadSeeds(cfg, store, nil)
	require.NoError(t, err)
	assert.Empty(t, seeds.Candidates)
}

func TestSeedWatcher(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewSeedWatcher(dir, 4)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	found := make(chan rpctype.Candidate, 4)
	done := make(chan error)
	go func() {
		done <- sw.Run(ctx, func(cand rpctype.Candidate) { found <- cand })
	}()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new"), []byte("abcdefgh"), 0644))
	select {
	case cand := <-found:
		assert.Equal(t, []byte("abcd"), cand.Data)
		assert.Equal(t, filepath.Join(dir, "new"), cand.Path)
	case <-time.After(10 * time.Second):
		t.Fatal("new seed was not reported")
	}
	cancel()
	assert.NoError(t, <-done)
}
