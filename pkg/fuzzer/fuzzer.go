// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the worker loop: select a corpus entry, mutate it,
// execute the child under coverage, classify the outcome and report novel
// inputs and crashes to the manager.
package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/instrument"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/mutator"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/binfuzz/binfuzz/pkg/stat"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrRestart is returned by Loop after a fault was reported.
// The worker process must exit and be relaunched with fresh instrumentation.
var ErrRestart = errors.New("fault reported, worker restart requested")

// errStopped is returned by poll when the manager asks the worker to exit.
var errStopped = errors.New("stop requested by manager")

// Reporter is the worker side of the event bus.
type Reporter interface {
	Event(ev *rpctype.Event) error
	Poll(args *rpctype.PollArgs) (*rpctype.PollRes, error)
}

type Config struct {
	Worker     int
	Generation string
	Campaign   *mgrconfig.Config
	Harness    executor.Harness
	// Symbols resolve exclusion patterns and crash locations.
	Symbols *symbolizer.Table
	// Store is the worker's read-only view of the corpus.
	Store    *corpus.Store
	Reporter Reporter
	// Tokens are added to the dictionary (target tokens).
	Tokens [][]byte
	// Candidates are seeds to execute before fuzzing.
	Candidates []rpctype.Candidate
	// Seq is the corpus sequence the worker is in sync with.
	Seq uint64
	// OnExec is called with every input right before it is executed.
	OnExec func(data []byte)
	Rand   *rand.Rand
}

// cmpCacheSize bounds the number of cached comparison logs.
const cmpCacheSize = 256

type Fuzzer struct {
	Seen *Seen

	cfg       *Config
	campaign  *mgrconfig.Config
	rnd       *rand.Rand
	cov       *executor.Env
	trace     *executor.Env
	mut       *mutator.Mutator
	sched     *corpus.Scheduler
	cmpCache  *lru.Cache[string, *cmplog.Log]
	counters  stat.Counters
	seq       uint64
	lastBeat  time.Time
	candidate []rpctype.Candidate
}

func NewFuzzer(cfg *Config) (*Fuzzer, error) {
	campaign := cfg.Campaign
	mode, err := instrument.ParseMode(campaign.CoverageMode)
	if err != nil {
		return nil, err
	}
	envCfg := executor.Config{
		Harness:     cfg.Harness,
		MapSize:     campaign.MapSize,
		Mode:        mode,
		HaltOnError: campaign.HaltOnError,
		Symbols:     cfg.Symbols,
		Exclude:     campaign.Exclude,
		SharedMap:   campaign.SharedMap,
	}
	cov, err := executor.NewCoverage(envCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create coverage executor: %w", err)
	}
	trace, err := executor.NewTracing(envCfg)
	if err != nil {
		cov.Close()
		return nil, fmt.Errorf("failed to create tracing executor: %w", err)
	}
	dict := mutator.NewDict()
	if campaign.Dict != "" {
		if dict, err = mutator.LoadDict(campaign.Dict); err != nil {
			cov.Close()
			trace.Close()
			return nil, err
		}
	}
	for _, tok := range cfg.Tokens {
		dict.Add(tok)
	}
	cmpCache, err := lru.New[string, *cmplog.Log](cmpCacheSize)
	if err != nil {
		return nil, err
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.Worker)))
	}
	fuzzer := &Fuzzer{
		Seen:      new(Seen),
		cfg:       cfg,
		campaign:  campaign,
		rnd:       rnd,
		cov:       cov,
		trace:     trace,
		mut:       mutator.New(campaign.MaxInputSize, dict),
		sched:     corpus.NewScheduler(),
		cmpCache:  cmpCache,
		seq:       cfg.Seq,
		candidate: append([]rpctype.Candidate{}, cfg.Candidates...),
	}
	fuzzer.mut.SetSpliceSource(fuzzer.spliceSource)
	for _, meta := range cfg.Store.Metas() {
		fuzzer.addEntry(meta)
	}
	log.Logf(0, "worker %v: corpus %v, candidates %v, dict %v tokens",
		cfg.Worker, fuzzer.sched.Len(), len(fuzzer.candidate), dict.Len())
	return fuzzer, nil
}

func (fuzzer *Fuzzer) Close() {
	fuzzer.cov.Close()
	fuzzer.trace.Close()
}

// Execs returns the number of executions of both executor variants.
func (fuzzer *Fuzzer) Execs() uint64 {
	return fuzzer.cov.Execs() + fuzzer.trace.Execs()
}

// Loop runs the worker until ctx is cancelled (returns nil),
// a fault is reported (returns ErrRestart) or the bus fails.
func (fuzzer *Fuzzer) Loop(ctx context.Context) error {
	for ctx.Err() == nil {
		rec, err := fuzzer.Step(ctx)
		if errors.Is(err, errStopped) {
			break
		}
		if err != nil {
			return err
		}
		if rec != nil {
			return ErrRestart
		}
	}
	fuzzer.heartbeat(true)
	return nil
}

// Step runs one iteration of the loop.
// Returns the crash that was reported, after which the worker must restart.
func (fuzzer *Fuzzer) Step(ctx context.Context) (*report.CrashRecord, error) {
	if err := fuzzer.heartbeat(false); err != nil {
		return nil, err
	}
	if len(fuzzer.candidate) != 0 {
		cand := fuzzer.candidate[0]
		fuzzer.candidate = fuzzer.candidate[1:]
		return fuzzer.runCandidate(ctx, cand)
	}
	id, err := fuzzer.sched.Next()
	if errors.Is(err, corpus.ErrEmpty) {
		// Nothing to fuzz yet, the seeds are being triaged by other workers.
		if err := fuzzer.poll(); err != nil {
			return nil, err
		}
		if fuzzer.sched.Len() == 0 && len(fuzzer.candidate) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(fuzzer.campaign.Heartbeat.Duration() / 4):
			}
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parent, err := fuzzer.cfg.Store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus entry: %w", err)
	}
	if fuzzer.rnd.Float64() < fuzzer.campaign.TraceProb {
		return fuzzer.runI2S(ctx, parent)
	}
	return fuzzer.runHavoc(ctx, parent)
}

func (fuzzer *Fuzzer) heartbeat(force bool) error {
	period := fuzzer.campaign.Heartbeat.Duration()
	now := time.Now()
	if !force && now.Sub(fuzzer.lastBeat) < period {
		return nil
	}
	fuzzer.lastBeat = now
	if err := fuzzer.send(&rpctype.Event{Kind: rpctype.EventHeartbeat}); err != nil {
		return err
	}
	if stats := fuzzer.GrabStats(); len(stats) != 0 {
		if err := fuzzer.send(&rpctype.Event{Kind: rpctype.EventStats, Stats: stats}); err != nil {
			return err
		}
	}
	if force {
		return nil
	}
	return fuzzer.poll()
}

func (fuzzer *Fuzzer) poll() error {
	res, err := fuzzer.cfg.Reporter.Poll(&rpctype.PollArgs{
		Worker: fuzzer.cfg.Worker,
		Seq:    fuzzer.seq,
	})
	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}
	if res.Stop {
		return errStopped
	}
	fuzzer.candidate = append(fuzzer.candidate, res.Candidates...)
	if res.Seq == fuzzer.seq {
		return nil
	}
	ids, err := fuzzer.cfg.Store.Rescan()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if meta, ok := fuzzer.cfg.Store.Meta(id); ok {
			fuzzer.addEntry(meta)
		}
	}
	fuzzer.seq = res.Seq
	log.Logf(2, "worker %v: synced corpus to seq %v, %v new entries", fuzzer.cfg.Worker, res.Seq, len(ids))
	return nil
}

func (fuzzer *Fuzzer) addEntry(meta corpus.Meta) {
	fuzzer.sched.Add(meta)
	fuzzer.Seen.Merge(meta.Signal.Deserialize())
}

func (fuzzer *Fuzzer) spliceSource(r *rand.Rand) []byte {
	ids := fuzzer.cfg.Store.IDs()
	if len(ids) == 0 {
		return nil
	}
	item, err := fuzzer.cfg.Store.Get(ids[r.Intn(len(ids))])
	if err != nil {
		return nil
	}
	return item.Data
}

func (fuzzer *Fuzzer) send(ev *rpctype.Event) error {
	ev.Worker = fuzzer.cfg.Worker
	ev.Generation = fuzzer.cfg.Generation
	ev.Time = time.Now()
	if err := fuzzer.cfg.Reporter.Event(ev); err != nil {
		return fmt.Errorf("failed to send %v event: %w", ev.Kind, err)
	}
	return nil
}
