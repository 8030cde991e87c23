// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
)

// Connect is called by a worker once it has started.
func (mgr *Manager) Connect(args *rpctype.ConnectArgs, res *rpctype.ConnectRes) error {
	s, err := mgr.slot(args.Worker)
	if err != nil {
		return err
	}
	log.Logf(1, "worker %v connected (pid %v)", args.Worker, args.PID)
	if args.MapSize != 0 && args.MapSize != mgr.cfg.MapSize {
		// The worker checks the size itself and exits with a setup failure.
		log.Errorf("worker %v has map size %v, campaign has %v", args.Worker, args.MapSize, mgr.cfg.MapSize)
	}
	cfg := *mgr.cfg
	res.Config = &cfg
	res.CampaignID = mgr.campaignID
	res.State = s.connected()
	res.Candidates = mgr.takeCandidates()
	res.Seq = mgr.store.Seq()
	return nil
}

// Event puts a worker event on the bus. It blocks while the bus is full.
func (mgr *Manager) Event(ev *rpctype.Event, res *rpctype.EventRes) error {
	s, err := mgr.slot(ev.Worker)
	if err != nil {
		return err
	}
	if !s.alive(ev.Generation) {
		return fmt.Errorf("stale event from worker %v generation %v", ev.Worker, ev.Generation)
	}
	return mgr.bus.Publish(mgr.pubCtx, ev)
}

// Poll hands out seeds and tells the worker the latest corpus sequence number.
func (mgr *Manager) Poll(args *rpctype.PollArgs, res *rpctype.PollRes) error {
	s, err := mgr.slot(args.Worker)
	if err != nil {
		return err
	}
	s.beat()
	mgr.mu.Lock()
	stopping := mgr.stopping
	mgr.mu.Unlock()
	if stopping {
		res.Stop = true
		return nil
	}
	res.Candidates = mgr.takeCandidates()
	res.Seq = mgr.store.Seq()
	return nil
}

func (mgr *Manager) slot(id int) (*slot, error) {
	if id < 0 || id >= len(mgr.slots) {
		return nil, fmt.Errorf("unknown worker %v", id)
	}
	return mgr.slots[id], nil
}

func (mgr *Manager) runningWorkers() int {
	n := 0
	for _, s := range mgr.slots {
		if s.snapshot().State == slotRunning {
			n++
		}
	}
	return n
}

func (mgr *Manager) stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if !mgr.stopping {
		log.Logf(0, "stopping workers...")
	}
	mgr.stopping = true
}
