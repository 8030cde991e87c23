// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishNeverDrops(t *testing.T) {
	b := New(2, 10*time.Millisecond)
	const n = 100
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := b.Publish(context.Background(), &rpctype.Event{Worker: i}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	// Slow consumer: the producer must block, not drop.
	for i := 0; i < n; i++ {
		if i%10 == 0 {
			time.Sleep(15 * time.Millisecond)
		}
		ev := <-b.Events()
		assert.Equal(t, i, ev.Worker)
	}
	require.NoError(t, <-done)
	assert.Equal(t, uint64(n), b.Published())
	assert.NotZero(t, b.Blocked())
	assert.Equal(t, 0, b.Len())
}

func TestPublishCancel(t *testing.T) {
	b := New(1, time.Hour)
	require.NoError(t, b.Publish(context.Background(), &rpctype.Event{}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, &rpctype.Event{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.Cap())
}
