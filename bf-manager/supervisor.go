// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/fuzzer"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/manager"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/binfuzz/binfuzz/vm"
)

const (
	slotIdle     = "idle"
	slotStarting = "starting"
	slotRunning  = "running"
	slotStopping = "stopping"
	slotBackoff  = "backoff"

	// A worker that misses this many heartbeat periods is killed.
	missedHeartbeats = 3
	restartBackoff   = 100 * time.Millisecond
	maxBackoff       = 10 * time.Second
	// Workers that lived at least this long reset the backoff.
	stableUptime = 10 * time.Second
)

// slot is a worker position. Workers come and go, the slot persists.
type slot struct {
	id int

	mu         sync.Mutex
	state      string
	since      time.Time
	generation string
	restarts   int
	pid        int
	lastBeat   time.Time
}

func (s *slot) launch(generation string, restarts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = slotStarting
	s.since = time.Now()
	s.generation = generation
	s.restarts = restarts
	s.pid = 0
	s.lastBeat = time.Now()
}

func (s *slot) connected() rpctype.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = slotRunning
	s.since = time.Now()
	s.lastBeat = time.Now()
	return rpctype.WorkerState{
		ID:         s.id,
		Generation: s.generation,
		Restarts:   s.restarts,
	}
}

// alive records a heartbeat if generation is the current one.
func (s *slot) alive(generation string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return false
	}
	s.lastBeat = time.Now()
	return true
}

func (s *slot) beat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBeat = time.Now()
}

func (s *slot) silence() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastBeat)
}

func (s *slot) setState(state string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.since = time.Now()
	if pid != 0 {
		s.pid = pid
	}
}

func (s *slot) snapshot() manager.UIWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return manager.UIWorker{
		ID:         s.id,
		Generation: s.generation,
		State:      s.state,
		Since:      time.Since(s.since),
		Restarts:   s.restarts,
		PID:        s.pid,
	}
}

func (mgr *Manager) uiWorkers() []manager.UIWorker {
	var res []manager.UIWorker
	for _, s := range mgr.slots {
		res = append(res, s.snapshot())
	}
	return res
}

// errSetup is returned by supervise when a worker exits with a setup failure.
type errSetup struct {
	worker int
	output []byte
}

func (err *errSetup) Error() string {
	return fmt.Sprintf("worker %v failed to start:\n%s", err.worker, err.output)
}

// supervise keeps a worker running in the slot until ctx is cancelled.
func (mgr *Manager) supervise(ctx context.Context, s *slot) error {
	backoff := restartBackoff
	for restarts := 0; ; restarts++ {
		if ctx.Err() != nil {
			s.setState(slotIdle, 0)
			return nil
		}
		generation := fmt.Sprintf("%v-%v", mgr.campaignID, restarts)
		s.launch(generation, restarts)
		if restarts != 0 {
			mgr.stats.restarts.Add(1)
		}
		args := &fuzzer.WorkerArgs{
			Manager:    mgr.rpc.Addr().String(),
			Worker:     s.id,
			Workdir:    mgr.pool.WorkerDir(s.id),
			RPCTimeout: rpcTimeout(mgr.cfg.Heartbeat.Duration()),
			Verbosity:  log.Verbosity(),
		}
		var tee io.Writer
		if mgr.opts.debug {
			tee = &workerLog{id: s.id}
		}
		// A worker that dies before its first execution must not report the previous input.
		os.Remove(filepath.Join(args.Workdir, fuzzer.InputFileName))
		inst, err := mgr.pool.Run(s.id, args.CommandLine(), tee)
		if err != nil {
			return fmt.Errorf("failed to launch worker %v: %w", s.id, err)
		}
		s.setState(slotStarting, inst.PID())
		exit, hung := mgr.watch(ctx, s, inst)
		log.Logf(1, "worker %v (generation %v) exited: code %v, hung %v, err %v",
			s.id, generation, exit.Code, hung, exit.Err)
		if exit.Code == fuzzer.ExitSetup && !report.ContainsCrash(exit.Output) {
			return &errSetup{s.id, exit.Output}
		}
		if ctx.Err() != nil && !hung {
			s.setState(slotIdle, 0)
			return nil
		}
		if exit.Code != fuzzer.ExitOK && exit.Code != fuzzer.ExitRestart || hung {
			mgr.workerDied(s, inst, exit, hung)
		}
		if exit.Duration >= stableUptime {
			backoff = restartBackoff
		}
		s.setState(slotBackoff, 0)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxBackoff)
	}
}

// watch waits for the worker to exit. A worker that stops sending heartbeats is killed.
// When ctx is cancelled the worker is asked to stop and killed if it does not.
func (mgr *Manager) watch(ctx context.Context, s *slot, inst *vm.Instance) (*vm.Exit, bool) {
	period := mgr.cfg.Heartbeat.Duration()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-inst.Done():
			return inst.Wait(), false
		case <-ticker.C:
			if silence := s.silence(); silence > missedHeartbeats*period {
				log.Logf(0, "worker %v: no heartbeat for %v, killing", s.id, silence.Round(time.Millisecond))
				mgr.stats.heartbeatKO.Add(1)
				return inst.Kill(), true
			}
		case <-ctx.Done():
			mgr.stop()
			s.setState(slotStopping, 0)
			grace := missedHeartbeats*period + mgr.cfg.Timeout.Duration()
			select {
			case <-inst.Done():
				return inst.Wait(), false
			case <-time.After(grace):
				log.Logf(0, "worker %v did not stop in %v, killing", s.id, grace)
				return inst.Kill(), false
			}
		}
	}
}

// workerDied reports the input the worker was executing when it died.
// Faults that the worker reported itself are already on the bus.
func (mgr *Manager) workerDied(s *slot, inst *vm.Instance, exit *vm.Exit, hung bool) {
	input, err := fuzzer.ReadInputFile(filepath.Join(inst.Workdir(), fuzzer.InputFileName))
	if err != nil {
		log.Logf(0, "worker %v died (code %v), no input: %v", s.id, exit.Code, err)
		return
	}
	rec := report.Parse(exit.Output, s.id)
	switch {
	case rec != nil:
	case hung:
		rec = lostWorker(executor.Timeout, report.ChannelTimeout, "worker hang", s.id, exit.Output)
	default:
		rec = lostWorker(executor.Crash, report.ChannelCrash,
			fmt.Sprintf("worker exited with code %v", exit.Code), s.id, exit.Output)
	}
	rec.Input = input
	ev := &rpctype.Event{
		Kind:   rpctype.EventNewCrash,
		Worker: s.id,
		Time:   time.Now(),
		Crash:  rec,
	}
	if err := mgr.bus.Publish(mgr.pubCtx, ev); err != nil {
		log.Errorf("failed to report crash of worker %v: %v", s.id, err)
	}
}

func lostWorker(kind executor.Kind, channel report.Channel, title string, worker int, output []byte) *report.CrashRecord {
	rec := &report.CrashRecord{
		Kind:     kind,
		Channel:  channel,
		Title:    title,
		Location: title,
		Key:      report.Key(channel, title),
		Worker:   worker,
		Output:   output,
	}
	rec.Report = []byte(fmt.Sprintf("%v\nworker: %v\n\n%s", title, worker, output))
	return rec
}

// rpcTimeout must cover a worker Event call blocked on a full bus.
func rpcTimeout(heartbeat time.Duration) time.Duration {
	return max(time.Minute, 10*heartbeat)
}

// workerLog prints worker output in debug mode.
type workerLog struct {
	id int
}

func (wl *workerLog) Write(data []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte{'\n'}) {
		log.Logf(0, "worker %v: %s", wl.id, line)
	}
	return len(data), nil
}
