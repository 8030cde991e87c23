// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"sync"

	"github.com/binfuzz/binfuzz/pkg/signal"
)

// Seen is the worker's local view of the campaign seen-map: the signal of
// every corpus entry it has loaded plus everything it has reported itself.
// It may lag behind the broker's seen-map but never goes ahead of what the
// worker observed, so a novel local diff is only a candidate for the broker.
type Seen struct {
	mu  sync.RWMutex
	sig signal.Signal
}

// Merge folds in signal of a corpus entry committed by the broker.
func (seen *Seen) Merge(sig signal.Signal) {
	seen.mu.Lock()
	defer seen.mu.Unlock()
	seen.sig.Merge(sig)
}

// add returns the novel part of sig and merges it.
func (seen *Seen) add(sig signal.Signal) signal.Signal {
	seen.mu.Lock()
	defer seen.mu.Unlock()
	diff := seen.sig.Diff(sig)
	if !diff.Empty() {
		seen.sig.Merge(diff)
	}
	return diff
}

func (seen *Seen) Copy() signal.Signal {
	seen.mu.RLock()
	defer seen.mu.RUnlock()
	return seen.sig.Copy()
}

func (seen *Seen) Len() int {
	seen.mu.RLock()
	defer seen.mu.RUnlock()
	return seen.sig.Len()
}
