// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package inproc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/binfuzz/binfuzz/vm/vmimpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Register("echo", func(ctx context.Context, args []string, output io.Writer) int {
		fmt.Fprintf(output, "%v\n", strings.Join(args, " "))
		return len(args)
	})
	Register("block", func(ctx context.Context, args []string, output io.Writer) int {
		<-ctx.Done()
		return 0
	})
}

func TestRun(t *testing.T) {
	pool, err := ctor(&vmimpl.Env{Bin: "/bin/echo"})
	require.NoError(t, err)
	inst, err := pool.Create(t.TempDir(), 0)
	require.NoError(t, err)
	r, err := inst.Start([]string{"a", "b"})
	require.NoError(t, err)
	_, err = inst.Start(nil)
	assert.Error(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a b\n", string(out))
	code, err := inst.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, code)
}

func TestKill(t *testing.T) {
	pool, err := ctor(&vmimpl.Env{Bin: "block"})
	require.NoError(t, err)
	inst, err := pool.Create(t.TempDir(), 0)
	require.NoError(t, err)
	r, err := inst.Start(nil)
	require.NoError(t, err)
	go io.Copy(io.Discard, r)
	inst.Kill()
	code, err := inst.Wait()
	require.NoError(t, err)
	assert.Equal(t, -1, code)
}

func TestUnknown(t *testing.T) {
	_, err := ctor(&vmimpl.Env{Bin: "no-such-entry"})
	assert.Error(t, err)
}
