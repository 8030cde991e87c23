// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package builtin

import (
	"bytes"

	"github.com/binfuzz/binfuzz/pkg/instrument"
)

func hang(p *instrument.Probe, data []byte) {
	p.Block(fn(hangBase, 0, 0))
	if len(data) >= 4 {
		p.CmpBytes(fn(hangBase, 0, 1), data[:4], []byte("LOOP"))
	}
	if len(data) >= 5 {
		p.CmpBytes(fn(hangBase, 0, 2), data[:5], []byte("STUCK"))
	}
	switch {
	case bytes.HasPrefix(data, []byte("LOOP")):
		hangSpin(p)
	case bytes.HasPrefix(data, []byte("STUCK")):
		// Blocks without ever calling the probe again.
		select {}
	}
}

func hangSpin(p *instrument.Probe) {
	for i := uint64(0); ; i++ {
		p.Block(fn(hangBase, 1, i%4))
	}
}
