// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package builtin

import (
	"encoding/binary"

	"github.com/binfuzz/binfuzz/pkg/instrument"
)

const tlvMagic = "BFTL"

// tlv parses "BFTL" followed by records of 1-byte tag, 1-byte length and value.
func tlv(p *instrument.Probe, data []byte) {
	p.Block(fn(tlvBase, 0, 0))
	if len(data) < len(tlvMagic) {
		p.Block(fn(tlvBase, 0, 1))
		return
	}
	p.CmpBytes(fn(tlvBase, 0, 2), data[:len(tlvMagic)], []byte(tlvMagic))
	if string(data[:len(tlvMagic)]) != tlvMagic {
		p.Block(fn(tlvBase, 0, 3))
		return
	}
	p.Block(fn(tlvBase, 0, 4))
	rest := data[len(tlvMagic):]
	for n := 0; len(rest) >= 2; n++ {
		p.Block(fn(tlvBase, 0, 5))
		tag, size := rest[0], int(rest[1])
		rest = rest[2:]
		if size > len(rest) {
			p.Block(fn(tlvBase, 0, 6))
			return
		}
		tlvRecord(p, tag, rest[:size])
		rest = rest[size:]
	}
}

func tlvRecord(p *instrument.Probe, tag byte, val []byte) {
	p.Block(fn(tlvBase, 1, 0))
	p.Switch(fn(tlvBase, 1, 1), uint64(tag), 1, []uint64{1, 2, 3, 4, 5})
	switch tag {
	case 1:
		p.Block(fn(tlvBase, 1, 2))
	case 2:
		p.Block(fn(tlvBase, 1, 3))
		if len(val) < 4 {
			return
		}
		v := binary.LittleEndian.Uint32(val)
		p.Cmp(fn(tlvBase, 1, 4), uint64(v), 0xdeadbeef, 4)
		if v == 0xdeadbeef {
			p.Block(fn(tlvBase, 1, 5))
			tlvChecksum(p, val[4:])
		}
	case 3:
		p.Block(fn(tlvBase, 1, 6))
		tlvCopyValue(p, val)
	case 4:
		p.Block(fn(tlvBase, 1, 7))
		if len(val) != 0 {
			tlvLookup(p, val[0])
		}
	default:
		p.Block(fn(tlvBase, 1, 8))
	}
}

// tlvCopyValue copies the value into a fixed 8 byte buffer without a bounds check.
func tlvCopyValue(p *instrument.Probe, val []byte) {
	p.Block(fn(tlvBase, 2, 0))
	buf := p.Malloc(fn(tlvBase, 2, 1), 8)
	for i := range val {
		p.Access(fn(tlvBase, 2, 2), buf+uint64(i), 1, true)
	}
	p.Free(fn(tlvBase, 2, 3), buf)
}

var tlvTable = [4]uint64{1, 10, 100, 1000}

func tlvLookup(p *instrument.Probe, idx byte) uint64 {
	p.Block(fn(tlvBase, 3, 0))
	p.Cmp(fn(tlvBase, 3, 1), uint64(idx), 4, 1)
	return tlvTable[idx]
}

func tlvChecksum(p *instrument.Probe, val []byte) {
	p.Block(fn(tlvBase, 4, 0))
	var sum byte
	for _, b := range val {
		sum += b
	}
	p.Cmp(fn(tlvBase, 4, 1), uint64(sum), 0x7f, 1)
	if sum == 0x7f {
		p.Block(fn(tlvBase, 4, 2))
	}
}
