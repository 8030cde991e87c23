// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	errIO := errors.New("disk is full")
	calls := 0
	err := Retry(context.Background(), "write", func() error {
		calls++
		if calls < 3 {
			return errIO
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), "write", func() error {
		calls++
		return errIO
	})
	assert.ErrorIs(t, err, errIO)
	assert.Equal(t, 3, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = Retry(ctx, "write", func() error {
		calls++
		return errIO
	})
	assert.ErrorIs(t, err, errIO)
	assert.Equal(t, 1, calls)
}
