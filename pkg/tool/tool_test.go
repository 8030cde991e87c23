// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiling(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "mem.prof")
	done := installProfiling(cpu, mem)
	sum := 0
	for i := 0; i < 1000; i++ {
		sum += i
	}
	done()
	assert.Equal(t, 499500, sum)
	for _, file := range []string{cpu, mem} {
		st, err := os.Stat(file)
		require.NoError(t, err)
		assert.NotZero(t, st.Size(), file)
	}
}

func TestNoProfiling(t *testing.T) {
	done := installProfiling("", "")
	done()
}
