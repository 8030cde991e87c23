// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
)

// runCandidate executes a seed. Seeds are always proposed to the manager,
// which keeps them unless the same content is already stored.
func (fuzzer *Fuzzer) runCandidate(ctx context.Context, cand rpctype.Candidate) (*report.CrashRecord, error) {
	data := cand.Data
	if len(data) > fuzzer.campaign.MaxInputSize {
		data = data[:fuzzer.campaign.MaxInputSize]
	}
	out, rec, err := fuzzer.execute(ctx, fuzzer.cov, data, StatSeed)
	if err != nil || rec != nil || out.Aborted {
		return rec, err
	}
	fuzzer.Seen.add(out.Signal)
	log.Logf(2, "worker %v: executed seed %v", fuzzer.cfg.Worker, cand.Path)
	return nil, fuzzer.send(&rpctype.Event{
		Kind: rpctype.EventNewCoverage,
		Input: &rpctype.Input{
			Data:     data,
			Signal:   out.Signal.Serialize(),
			ExecTime: out.Elapsed,
			Seed:     true,
			Path:     cand.Path,
		},
	})
}

func (fuzzer *Fuzzer) runHavoc(ctx context.Context, parent *corpus.Item) (*report.CrashRecord, error) {
	child := fuzzer.mut.MutateRand(parent.Data, fuzzer.rnd)
	return fuzzer.runChild(ctx, child, StatFuzz)
}

// runI2S is the tracing stage: trace the parent's comparisons (or reuse
// the cached log) and patch operands found in the input with their counterparts.
func (fuzzer *Fuzzer) runI2S(ctx context.Context, parent *corpus.Item) (*report.CrashRecord, error) {
	cmps, ok := fuzzer.cmpCache.Get(parent.Meta.ID)
	if ok {
		fuzzer.counters.Add(StatCmpCached, 1)
	} else {
		out, rec, err := fuzzer.execute(ctx, fuzzer.trace, parent.Data, StatTrace)
		if err != nil || rec != nil || out.Aborted {
			return rec, err
		}
		cmps = out.Cmps
		if cmps == nil {
			cmps = cmplog.New()
		}
		fuzzer.cmpCache.Add(parent.Meta.ID, cmps)
	}
	child := fuzzer.mut.MutateI2S(parent.Data, cmps, fuzzer.rnd)
	return fuzzer.runChild(ctx, child, StatI2S)
}

// runChild executes a mutant under coverage and proposes it if it is novel.
func (fuzzer *Fuzzer) runChild(ctx context.Context, data []byte, statName string) (*report.CrashRecord, error) {
	out, rec, err := fuzzer.execute(ctx, fuzzer.cov, data, statName)
	if err != nil || rec != nil || out.Aborted {
		return rec, err
	}
	diff := fuzzer.Seen.add(out.Signal)
	if diff.Empty() {
		return nil, nil
	}
	fuzzer.counters.Add(StatNewInputs, 1)
	log.Logf(1, "worker %v: new input, %v new signal, %v bytes", fuzzer.cfg.Worker, diff.Len(), len(data))
	return nil, fuzzer.send(&rpctype.Event{
		Kind: rpctype.EventNewCoverage,
		Input: &rpctype.Input{
			Data:     data,
			Signal:   out.Signal.Serialize(),
			ExecTime: out.Elapsed,
		},
	})
}

// execute runs data and reports a crash if the outcome is one.
// Every reported crash, timeouts included, is returned so that the worker restarts.
func (fuzzer *Fuzzer) execute(ctx context.Context, env *executor.Env, data []byte, statName string) (
	*executor.Outcome, *report.CrashRecord, error) {
	if fuzzer.cfg.OnExec != nil {
		fuzzer.cfg.OnExec(data)
	}
	out, err := env.Run(ctx, data, fuzzer.campaign.Timeout.Duration())
	if err != nil {
		return nil, nil, err
	}
	fuzzer.counters.Add(statName, 1)
	fuzzer.counters.Add(StatExecTotal, 1)
	fuzzer.counters.Add(StatExecTime, uint64(out.Elapsed))
	rec := report.Classify(out, data, fuzzer.cfg.Worker, fuzzer.cfg.Symbols)
	if rec == nil {
		return out, nil, nil
	}
	if rec.Kind == executor.Timeout {
		fuzzer.counters.Add(StatTimeouts, 1)
	} else {
		fuzzer.counters.Add(StatCrashes, 1)
	}
	log.Logf(0, "worker %v: %v: %v", fuzzer.cfg.Worker, rec.Kind, rec.Title)
	if err := fuzzer.send(&rpctype.Event{Kind: rpctype.EventNewCrash, Crash: rec}); err != nil {
		return nil, nil, err
	}
	return out, rec, nil
}
