// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package bus implements the bounded event queue between the manager RPC handlers
// (many producers) and the broker loop (single consumer).
// Publish never drops an event: when the queue is full it blocks, and logs
// a lag warning every warn interval while it keeps waiting.
package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
)

const DefaultWarnInterval = 5 * time.Second

type Bus struct {
	ch   chan *rpctype.Event
	warn time.Duration

	published atomic.Uint64
	blocked   atomic.Uint64
	lagging   atomic.Int64
}

func New(size int, warn time.Duration) *Bus {
	if size < 1 {
		size = 1
	}
	if warn <= 0 {
		warn = DefaultWarnInterval
	}
	return &Bus{
		ch:   make(chan *rpctype.Event, size),
		warn: warn,
	}
}

// Publish enqueues ev, blocking while the bus is full.
// Returns ctx.Err() if ctx is cancelled before the event is accepted.
func (b *Bus) Publish(ctx context.Context, ev *rpctype.Event) error {
	select {
	case b.ch <- ev:
		b.published.Add(1)
		return nil
	default:
	}
	b.blocked.Add(1)
	b.lagging.Add(1)
	defer b.lagging.Add(-1)
	start := time.Now()
	ticker := time.NewTicker(b.warn)
	defer ticker.Stop()
	for {
		select {
		case b.ch <- ev:
			b.published.Add(1)
			return nil
		case <-ticker.C:
			log.Logf(0, "bus: %v event from worker %v is waiting for %v (queue %v/%v, %v blocked producers)",
				ev.Kind, ev.Worker, time.Since(start).Round(time.Millisecond), len(b.ch), cap(b.ch),
				b.lagging.Load())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Events returns the consumer side of the bus.
func (b *Bus) Events() <-chan *rpctype.Event {
	return b.ch
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	return len(b.ch)
}

func (b *Bus) Cap() int {
	return cap(b.ch)
}

// Published returns the total number of accepted events.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Blocked returns how many Publish calls found the bus full.
func (b *Bus) Blocked() uint64 {
	return b.blocked.Load()
}
