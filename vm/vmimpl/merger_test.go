// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vmimpl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerger(t *testing.T) {
	tee := new(bytes.Buffer)
	merger := NewOutputMerger(tee)

	rp1, wp1, err := os.Pipe()
	require.NoError(t, err)
	defer wp1.Close()
	merger.Add("pipe1", rp1)

	rp2, wp2, err := os.Pipe()
	require.NoError(t, err)
	defer wp2.Close()
	merger.Add("pipe2", rp2)

	wp1.Write([]byte("111"))
	select {
	case <-merger.Output:
		t.Fatalf("merger produced incomplete line")
	case <-time.After(10 * time.Millisecond):
	}

	wp2.Write([]byte("222"))
	select {
	case <-merger.Output:
		t.Fatalf("merger produced incomplete line")
	case <-time.After(10 * time.Millisecond):
	}

	wp1.Write([]byte("333\n444"))
	assert.Equal(t, "111333\n", string(<-merger.Output))

	wp2.Write([]byte("555\r\n666\n777"))
	assert.Equal(t, "222555\n666\n", string(<-merger.Output))

	errc := merger.Errors(context.Background())
	wp1.Close()
	assert.Equal(t, "444\n", string(<-merger.Output))

	err = <-errc
	var merr MergerError
	require.True(t, errors.As(err, &merr), "got %v", err)
	assert.Equal(t, "pipe1", merr.Name)
	assert.Equal(t, io.EOF, merr.Err)

	wp2.Close()
	assert.Equal(t, "777\n", string(<-merger.Output))

	merger.Wait()
	assert.Equal(t, "111333\n222555\n666\n444\n777\n", tee.String())
}
