// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/manager"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
)

// favoredPeriod bounds how often the favored flags are rewritten on disk.
const favoredPeriod = 5 * time.Second

// broker is the only consumer of the bus. It owns the seen-map, corpus writes
// and the crash store. It returns after stop is cancelled and the bus is drained,
// or on a persistent durable write failure. Durable writes are always retried
// in full, an event taken off the bus is not given up because of shutdown.
func (mgr *Manager) broker(stop context.Context) error {
	ctx := context.WithoutCancel(stop)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	events := mgr.bus.Events()
	for {
		select {
		case ev := <-events:
			if err := mgr.handle(ctx, ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := mgr.flush(ctx, false); err != nil {
				return err
			}
		case <-stop.Done():
			for {
				select {
				case ev := <-events:
					if err := mgr.handle(ctx, ev); err != nil {
						return err
					}
				default:
					return mgr.flush(ctx, true)
				}
			}
		}
	}
}

func (mgr *Manager) handle(ctx context.Context, ev *rpctype.Event) error {
	mgr.stats.events.Add(1)
	if err := mgr.eventLog.Write(ev); err != nil {
		log.Errorf("failed to write event log: %v", err)
	}
	switch ev.Kind {
	case rpctype.EventNewCoverage:
		return mgr.newInput(ctx, ev)
	case rpctype.EventNewCrash:
		return mgr.newCrash(ctx, ev)
	case rpctype.EventStats:
		mgr.stats.addWorkerStats(ev.Stats)
	case rpctype.EventHeartbeat:
	default:
		log.Errorf("unknown event %v from worker %v", ev.Kind, ev.Worker)
	}
	return nil
}

// newInput commits an input if it extends the seen-map. Seeds are committed
// regardless of novelty, duplicates of stored content are dropped.
func (mgr *Manager) newInput(ctx context.Context, ev *rpctype.Event) error {
	inp := ev.Input
	if inp == nil {
		return nil
	}
	sig := inp.Signal.Deserialize()
	if !inp.Seed && !mgr.seen.Novel(sig) {
		log.Logf(2, "input from worker %v is already covered", ev.Worker)
		return nil
	}
	var id string
	var existed bool
	err := manager.Retry(ctx, "corpus insert", func() error {
		var err error
		id, existed, err = mgr.store.Insert(inp.Data, corpus.Meta{
			Signal:     inp.Signal,
			ExecTime:   inp.ExecTime,
			Generation: ev.Generation,
			Worker:     ev.Worker,
			Added:      ev.Time,
		})
		return err
	})
	if err != nil {
		return err
	}
	mgr.seen.Merge(sig)
	if existed {
		return nil
	}
	meta, _ := mgr.store.Meta(id)
	mgr.sched.Add(meta)
	mgr.favoredDirty = true
	mgr.stats.newInputs.Add(1)
	what := "new input"
	if inp.Seed {
		what = "seed " + inp.Path
	}
	log.Logf(1, "%v %v from worker %v: %v bytes, signal %v", what, id, ev.Worker, len(inp.Data), sig.Len())
	return nil
}

func (mgr *Manager) newCrash(ctx context.Context, ev *rpctype.Event) error {
	rec := ev.Crash
	if rec == nil {
		return nil
	}
	var first bool
	err := manager.Retry(ctx, "crash save", func() error {
		var err error
		first, err = mgr.crashes.SaveCrash(rec)
		return err
	})
	if err != nil {
		return err
	}
	mgr.stats.crashes.Add(1)
	if first {
		mgr.stats.crashTypes.Add(1)
		log.Logf(0, "worker %v: new crash: %v [%v]", ev.Worker, rec.Title, rec.Channel)
	} else {
		log.Logf(1, "worker %v: crash: %v [%v]", ev.Worker, rec.Title, rec.Channel)
	}
	return nil
}

// flush rewrites favored flags and the event log buffer.
func (mgr *Manager) flush(ctx context.Context, force bool) error {
	if err := mgr.eventLog.Flush(); err != nil {
		log.Errorf("failed to flush event log: %v", err)
	}
	if !mgr.favoredDirty || !force && time.Since(mgr.favoredUpdate) < favoredPeriod {
		return nil
	}
	favored := mgr.sched.Favored()
	err := manager.Retry(ctx, "favored update", func() error {
		return mgr.store.SetFavored(favored)
	})
	if err != nil {
		return fmt.Errorf("failed to update corpus: %w", err)
	}
	mgr.favoredDirty = false
	mgr.favoredUpdate = time.Now()
	log.Logf(1, "favored set: %v of %v inputs", len(favored), mgr.store.Len())
	return nil
}
