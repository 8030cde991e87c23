// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package builtin

import (
	"sync"

	"github.com/binfuzz/binfuzz/pkg/instrument"
)

// racy makes the Go runtime abort the whole worker with
// "fatal error: concurrent map writes", which recover cannot catch.
func racy(p *instrument.Probe, data []byte) {
	p.Block(fn(racyBase, 0, 0))
	if len(data) >= 4 {
		p.CmpBytes(fn(racyBase, 0, 1), data[:4], []byte("RACE"))
	}
	if len(data) < 4 || string(data[:4]) != "RACE" {
		return
	}
	p.Block(fn(racyBase, 0, 2))
	m := make(map[int]int)
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1e6; i++ {
				m[i%64] = i
			}
		}()
	}
	wg.Wait()
}
