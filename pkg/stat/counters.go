// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import "sync"

// Counters accumulates named counter deltas on the worker side.
// Take hands the deltas over to the stats event and starts from zero.
type Counters struct {
	mu   sync.Mutex
	vals map[string]uint64
}

func (c *Counters) Add(name string, delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vals == nil {
		c.vals = make(map[string]uint64)
	}
	c.vals[name] += delta
}

func (c *Counters) Take() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.vals
	c.vals = nil
	return res
}
