// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/binfuzz/binfuzz/pkg/fuzzer"
	"github.com/binfuzz/binfuzz/pkg/stat"
)

type Stats struct {
	set *stat.Set

	execTotal   *stat.Val
	execTime    *stat.Val
	newInputs   *stat.Val
	seeds       *stat.Val
	crashes     *stat.Val
	crashTypes  *stat.Val
	timeouts    *stat.Val
	restarts    *stat.Val
	heartbeatKO *stat.Val
	events      *stat.Val
	// Running mean over all stats reports of the campaign run.
	execAvg stat.AverageValue[time.Duration]

	// Counters reported by workers that have no dedicated stat.
	worker map[string]*stat.Val
}

func newStats(mgr *Manager) *Stats {
	set := stat.NewSet(true)
	s := &Stats{
		set: set,
		execTotal: set.New(fuzzer.StatExecTotal, "Total executions by all workers",
			stat.Console, stat.Rate{}, stat.Prometheus("bf_exec_total")),
		execTime: set.New("exec time", "Mean execution time, us",
			stat.Distribution{}, func(v int, period time.Duration) string {
				return (time.Duration(v) * time.Microsecond).String()
			}),
		newInputs: set.New("new inputs", "Inputs accepted into the corpus during this run",
			stat.Simple, stat.Prometheus("bf_new_inputs")),
		seeds: set.New("seeds", "Seeds waiting for triage", stat.Simple,
			func() int { return mgr.pendingCandidates() }),
		crashes: set.New("crashes", "Total number of crashes",
			stat.Console, stat.Prometheus("bf_crashes_total")),
		crashTypes: set.New("crash types", "Number of unique crashes",
			stat.Console, stat.Prometheus("bf_crash_types")),
		timeouts: set.New("timeouts", "Executions that hit the timeout", stat.Simple),
		restarts: set.New("worker restarts", "Total number of worker restarts",
			stat.Simple, stat.Rate{}, stat.Prometheus("bf_worker_restarts")),
		heartbeatKO: set.New("lost heartbeats", "Workers killed after missing heartbeats", stat.Simple),
		events:      set.New("bus events", "Events received from workers", stat.Rate{}),
		worker:      make(map[string]*stat.Val),
	}
	set.New("corpus", "Number of inputs in the corpus", stat.Console, stat.Prometheus("bf_corpus"),
		func() int { return mgr.store.Len() })
	set.New("signal", "Coverage signal of the corpus", stat.Console, stat.Prometheus("bf_signal"),
		func() int { return mgr.store.Stats().Signal })
	set.New("favored", "Inputs in the minimized favored set", stat.Simple,
		func() int { return mgr.store.Stats().Favored })
	set.New("bus queue", "Events waiting for the broker", stat.Simple,
		func() int { return mgr.bus.Len() })
	set.New("bus blocked", "Events that waited for free space on the bus",
		func() int { return int(mgr.bus.Blocked()) })
	set.New("workers", "Running workers", stat.Simple,
		func() int { return mgr.runningWorkers() })
	set.New("exec avg", "Running mean of execution time since start, us", stat.Simple,
		func() int { return int(s.execAvg.Value() / time.Microsecond) })
	set.New("uptime", "Campaign uptime", func() int { return int(time.Since(mgr.startTime).Seconds()) },
		func(v int, period time.Duration) string { return (time.Duration(v) * time.Second).String() })
	return s
}

// addWorkerStats folds counter deltas reported by a worker.
// Called only by the broker.
func (s *Stats) addWorkerStats(stats map[string]uint64) {
	for name, v := range stats {
		switch name {
		case fuzzer.StatExecTotal:
			s.execTotal.Add(int(v))
			continue
		case fuzzer.StatTimeouts:
			s.timeouts.Add(int(v))
			continue
		case fuzzer.StatCrashes, fuzzer.StatNewInputs:
			// Counted by the broker when the events arrive.
			continue
		case fuzzer.StatExecTime:
			if execs := stats[fuzzer.StatExecTotal]; execs != 0 {
				mean := time.Duration(v / execs)
				s.execTime.Add(int(mean / time.Microsecond))
				s.execAvg.Save(mean)
			}
			continue
		}
		val := s.worker[name]
		if val == nil {
			val = s.set.New(name, "Worker counter "+name, stat.Rate{})
			s.worker[name] = val
		}
		val.Add(int(v))
	}
}
