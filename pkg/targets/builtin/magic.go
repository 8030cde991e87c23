// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package builtin

import "github.com/binfuzz/binfuzz/pkg/instrument"

// MagicBlock is the block that is reached only when the first byte is 0x41.
// In blocks coverage mode with a 64 counter map it is counter 5.
const MagicBlock = magicBase + 5

func magic(p *instrument.Probe, data []byte) {
	p.Block(magicBase)
	if len(data) == 0 {
		p.Block(magicBase + 1)
		return
	}
	p.Cmp(magicBase+2, uint64(data[0]), 0x41, 1)
	if data[0] == 0x41 {
		p.Block(MagicBlock)
	}
}
