// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/vm/inproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	inproc.Register("vm-test-chatty", func(ctx context.Context, args []string, output io.Writer) int {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(output, "line %v\n", i)
		}
		fmt.Fprintf(output, "no newline")
		return 3
	})
	inproc.Register("vm-test-huge", func(ctx context.Context, args []string, output io.Writer) int {
		line := strings.Repeat("x", 1023) + "\n"
		for i := 0; i < 2*beforeContext/len(line)+10; i++ {
			io.WriteString(output, line)
		}
		io.WriteString(output, "the end\n")
		return 0
	})
	inproc.Register("vm-test-hang", func(ctx context.Context, args []string, output io.Writer) int {
		fmt.Fprintf(output, "started %v\n", args)
		<-ctx.Done()
		return 0
	})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testPool(t *testing.T, bin string) *Pool {
	cfg := mgrconfig.DefaultValues()
	cfg.Workdir = t.TempDir()
	cfg.FuzzerBin = bin
	pool, err := Create("inproc", cfg, false)
	require.NoError(t, err)
	return pool
}

func TestExit(t *testing.T) {
	pool := testPool(t, "vm-test-chatty")
	tee := new(syncBuffer)
	inst, err := pool.Run(1, nil, tee)
	require.NoError(t, err)
	exit := inst.Wait()
	assert.Equal(t, 3, exit.Code)
	assert.NoError(t, exit.Err)
	assert.True(t, strings.HasPrefix(string(exit.Output), "line 0\n"))
	assert.True(t, strings.HasSuffix(string(exit.Output), "line 9\nno newline\n"))
	assert.Equal(t, string(exit.Output), tee.String())
	assert.Equal(t, pool.WorkerDir(1), inst.Workdir())
}

func TestOutputTail(t *testing.T) {
	pool := testPool(t, "vm-test-huge")
	exit := func() *Exit {
		inst, err := pool.Run(0, nil, nil)
		require.NoError(t, err)
		return inst.Wait()
	}()
	assert.Equal(t, 0, exit.Code)
	assert.LessOrEqual(t, len(exit.Output), beforeContext)
	assert.True(t, strings.HasSuffix(string(exit.Output), "the end\n"))
}

func TestKill(t *testing.T) {
	pool := testPool(t, "vm-test-hang")
	tee := new(syncBuffer)
	inst, err := pool.Run(2, []string{"-worker", "2"}, tee)
	require.NoError(t, err)
	select {
	case <-inst.Done():
		t.Fatal("worker exited early")
	case <-time.After(20 * time.Millisecond):
	}
	exit := inst.Kill()
	assert.Equal(t, -1, exit.Code)
	assert.Contains(t, string(exit.Output), "started [-worker 2]")
}

func TestUnknownType(t *testing.T) {
	cfg := mgrconfig.DefaultValues()
	cfg.Workdir = t.TempDir()
	_, err := Create("qemu", cfg, false)
	assert.Error(t, err)
}
