// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/db"
	"github.com/binfuzz/binfuzz/pkg/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackMerge(t *testing.T) {
	src := filepath.Join(t.TempDir(), "corpus")
	store, err := corpus.Open(src, 4, false)
	require.NoError(t, err)
	inputs := []string{"first", "second", "third"}
	for _, data := range inputs {
		_, _, err := store.Insert([]byte(data), corpus.Meta{Worker: 1})
		require.NoError(t, err)
	}

	file := filepath.Join(t.TempDir(), "corpus.db")
	require.NoError(t, run([]string{"pack", src, file}))
	packed, err := db.ReadInputs(file)
	require.NoError(t, err)
	var got []string
	for _, data := range packed {
		got = append(got, string(data))
	}
	sort.Strings(got)
	assert.Equal(t, []string{"first", "second", "third"}, got)

	out := t.TempDir()
	require.NoError(t, run([]string{"unpack", file, out}))
	data, err := os.ReadFile(filepath.Join(out, hash.String([]byte("second"))+"-2"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	dst := filepath.Join(t.TempDir(), "corpus")
	require.NoError(t, run([]string{"merge", dst, file}))
	merged, err := corpus.Open(dst, 4, true)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Len())
	meta, ok := merged.Meta(hash.String([]byte("third")))
	require.True(t, ok)
	assert.Equal(t, 1, meta.Worker)
	assert.Equal(t, uint64(3), meta.Seq)

	require.NoError(t, run([]string{"merge", dst, file}))
	merged, err = corpus.Open(dst, 4, true)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Len())
	require.NoError(t, run([]string{"list", file}))
}

func TestPackRaw(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-2"), []byte("later"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-1"), []byte("earlier"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c"), []byte("unordered"), 0644))
	file := filepath.Join(t.TempDir(), "raw.db")
	require.NoError(t, run([]string{"pack-raw", dir, file}))

	dst := filepath.Join(t.TempDir(), "corpus")
	require.NoError(t, run([]string{"merge", dst, file}))
	store, err := corpus.Open(dst, 4, true)
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())
	ids := store.IDs()
	assert.Equal(t, hash.String([]byte("unordered")), ids[0])
	assert.Equal(t, hash.String([]byte("earlier")), ids[1])
	assert.Equal(t, hash.String([]byte("later")), ids[2])
}

func TestBadArgs(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"pack"},
		{"pack", "dir"},
		{"unpack", "a", "b", "c"},
		{"frobnicate", "a", "b"},
	} {
		assert.ErrorIs(t, run(args), errUsage, "%q", args)
	}
}
