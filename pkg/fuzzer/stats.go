// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

// Names of the counters sent in stats events. The manager sums them over workers.
const (
	StatFuzz      = "exec fuzz"
	StatI2S       = "exec i2s"
	StatTrace     = "exec trace"
	StatSeed      = "exec seeds"
	StatExecTotal = "exec total"
	StatExecTime  = "exec time ns"
	StatNewInputs = "new inputs"
	StatCrashes   = "crashes"
	StatTimeouts  = "timeouts"
	StatCmpCached = "cmp log cached"
)

// GrabStats returns counter deltas since the previous call.
func (fuzzer *Fuzzer) GrabStats() map[string]uint64 {
	return fuzzer.counters.Take()
}
