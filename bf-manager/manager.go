// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/binfuzz/binfuzz/pkg/bus"
	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/hash"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/manager"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/binfuzz/binfuzz/pkg/signal"
	"github.com/binfuzz/binfuzz/pkg/stat"
	"github.com/binfuzz/binfuzz/pkg/targets"
	"github.com/binfuzz/binfuzz/vm"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type options struct {
	launcher string
	debug    bool
}

type Manager struct {
	cfg        *mgrconfig.Config
	opts       *options
	campaignID string
	startTime  time.Time
	target     *targets.Target
	unlock     func()

	store    *corpus.Store
	sched    *corpus.Scheduler
	crashes  *manager.CrashStore
	bus      *bus.Bus
	pool     *vm.Pool
	rpc      *rpctype.RPCServer
	http     *manager.HTTPServer
	stats    *Stats
	eventLog *eventLog

	// Cancelled after the broker exits, unblocks producers waiting on a full bus.
	pubCtx context.Context

	mu         sync.Mutex
	candidates []rpctype.Candidate
	slots      []*slot
	stopping   bool

	// Owned by the broker goroutine.
	seen          signal.Signal
	favoredDirty  bool
	favoredUpdate time.Time
}

// newManager performs campaign setup: locks the workdir, opens the corpus,
// rebuilds the seen-map from sidecars and loads seeds.
func newManager(cfg *mgrconfig.Config, opts *options) (*Manager, error) {
	target, err := targets.Get(cfg.Target)
	if err != nil {
		return nil, err
	}
	if err := osutil.MkdirAll(cfg.Workdir); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}
	unlock, err := osutil.LockDir(cfg.Workdir)
	if err != nil {
		return nil, err
	}
	mgr := &Manager{
		cfg:        cfg,
		opts:       opts,
		campaignID: uuid.NewString(),
		startTime:  time.Now(),
		target:     target,
		unlock:     unlock,
		sched:      corpus.NewScheduler(),
		crashes:    manager.NewCrashStore(cfg),
		bus:        bus.New(cfg.BusSize, 0),
	}
	if err := mgr.init(); err != nil {
		unlock()
		return nil, err
	}
	return mgr, nil
}

func (mgr *Manager) init() error {
	cfg := mgr.cfg
	log.Logf(0, "campaign %v: loading corpus...", mgr.campaignID)
	store, err := corpus.Open(cfg.CorpusDir(), cfg.CacheSize, false)
	if err != nil {
		return err
	}
	mgr.store = store
	for _, meta := range store.Metas() {
		mgr.seen.Merge(meta.Signal.Deserialize())
		mgr.sched.Add(meta)
	}
	seeds, err := manager.LoadSeeds(cfg, store, mgr.target.Seeds)
	if err != nil {
		return err
	}
	mgr.candidates = seeds.Candidates
	log.Logf(0, "corpus: %v entries, %v signal, %v seeds to triage",
		store.Len(), mgr.seen.Len(), len(mgr.candidates))
	mgr.pool, err = vm.Create(mgr.opts.launcher, cfg, mgr.opts.debug)
	if err != nil {
		return err
	}
	mgr.eventLog, err = openEventLog(cfg.EventLog())
	if err != nil {
		return err
	}
	mgr.stats = newStats(mgr)
	for i := 0; i < cfg.Procs; i++ {
		mgr.slots = append(mgr.slots, &slot{id: i, state: slotIdle, since: time.Now()})
	}
	mgr.rpc, err = rpctype.NewRPCServer(cfg.RPC, "Manager", mgr)
	if err != nil {
		mgr.eventLog.Close()
		return err
	}
	log.Logf(0, "serving rpc on tcp://%v", mgr.rpc.Addr())
	mgr.http = &manager.HTTPServer{
		Cfg:        cfg,
		CampaignID: mgr.campaignID,
		StartTime:  mgr.startTime,
		CrashStore: mgr.crashes,
		Stats:      mgr.stats.set,
		Workers:    mgr.uiWorkers,
	}
	mgr.http.Corpus.Store(store)
	return nil
}

// run runs the campaign until ctx is cancelled or a fatal error happens.
func (mgr *Manager) run(ctx context.Context) error {
	defer mgr.unlock()
	g, gctx := errgroup.WithContext(ctx)
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	defer stopBroker()
	pubCtx, pubCancel := context.WithCancel(context.Background())
	mgr.pubCtx = pubCtx
	go mgr.rpc.Serve()

	g.Go(func() error {
		defer pubCancel()
		return mgr.broker(brokerCtx)
	})
	g.Go(func() error {
		workers, wctx := errgroup.WithContext(gctx)
		for _, s := range mgr.slots {
			s := s
			workers.Go(func() error {
				return mgr.supervise(wctx, s)
			})
		}
		err := workers.Wait()
		mgr.rpc.Close()
		stopBroker()
		return err
	})
	if mgr.cfg.HTTP != "" {
		g.Go(func() error {
			return mgr.http.Serve(gctx)
		})
	}
	if mgr.cfg.Seeds != "" && !strings.HasSuffix(mgr.cfg.Seeds, manager.PackSuffix) {
		watcher, err := manager.NewSeedWatcher(mgr.cfg.Seeds, mgr.cfg.MaxInputSize)
		if err != nil {
			log.Errorf("not watching seeds: %v", err)
		} else {
			g.Go(func() error {
				return watcher.Run(gctx, mgr.addCandidate)
			})
		}
	}
	g.Go(func() error {
		mgr.logStats(gctx)
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	if closeErr := mgr.eventLog.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (mgr *Manager) addCandidate(cand rpctype.Candidate) {
	if mgr.store.Has(hash.String(cand.Data)) {
		return
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.candidates = append(mgr.candidates, cand)
}

// candidatesPerPoll bounds how many seeds a worker takes at once,
// so that triage is spread over all workers.
const candidatesPerPoll = 10

func (mgr *Manager) takeCandidates() []rpctype.Candidate {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	n := min(candidatesPerPoll, len(mgr.candidates))
	res := mgr.candidates[:n:n]
	mgr.candidates = mgr.candidates[n:]
	return res
}

func (mgr *Manager) pendingCandidates() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.candidates)
}

func (mgr *Manager) logStats(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var parts []string
		for _, st := range mgr.stats.set.Collect(stat.Console) {
			parts = append(parts, fmt.Sprintf("%v: %v", st.Name, st.Value))
		}
		log.Logf(0, "%v", strings.Join(parts, ", "))
	}
}
