// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"path/filepath"
	"testing"

	"github.com/binfuzz/binfuzz/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackImport(t *testing.T) {
	src, err := Open(t.TempDir(), 4, false)
	require.NoError(t, err)
	for i, data := range []string{"first", "second", "third"} {
		_, _, err := src.Insert([]byte(data), testMeta(uint32(i), 7))
		require.NoError(t, err)
	}
	pack := filepath.Join(t.TempDir(), "corpus.db")
	require.NoError(t, src.Pack(pack))

	inputs, err := db.ReadInputs(pack)
	require.NoError(t, err)
	assert.Len(t, inputs, 3)

	dst, err := Open(t.TempDir(), 4, false)
	require.NoError(t, err)
	known, _, err := dst.Insert([]byte("second"), testMeta(1))
	require.NoError(t, err)
	added, err := dst.Import(pack)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, dst.Len())
	for _, meta := range src.Metas() {
		got, ok := dst.Meta(meta.ID)
		require.True(t, ok)
		if meta.ID == known {
			continue
		}
		assert.Equal(t, meta.Signal.Deserialize(), got.Signal.Deserialize(), "signal of %v", meta.ID)
		assert.Equal(t, meta.ExecTime, got.ExecTime)
	}
}
