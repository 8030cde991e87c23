// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package builtin

import "github.com/binfuzz/binfuzz/pkg/instrument"

const maxChunks = 4

// heapOps interprets the input as a program of heap operations:
//
//	'a' size      allocate
//	'f' idx       free
//	'r' idx off   read one byte
//	'w' idx off   write one byte
//
// Chunks are never forgotten after free, so the program can express
// use-after-free and double-free.
func heapOps(p *instrument.Probe, data []byte) {
	p.Block(fn(heapBase, 0, 0))
	var chunks []uint64
	for len(data) >= 2 {
		op := data[0]
		p.Switch(fn(heapBase, 0, 1), uint64(op), 1, []uint64{'a', 'f', 'r', 'w'})
		switch op {
		case 'a':
			p.Block(fn(heapBase, 1, 0))
			if len(chunks) < maxChunks {
				chunks = append(chunks, p.Malloc(fn(heapBase, 1, 1), uint64(data[1])))
			}
			data = data[2:]
		case 'f':
			p.Block(fn(heapBase, 2, 0))
			if idx := int(data[1]); idx < len(chunks) {
				p.Free(fn(heapBase, 2, 1), chunks[idx])
			}
			data = data[2:]
		case 'r', 'w':
			if len(data) < 3 {
				return
			}
			idx, off := int(data[1]), uint64(data[2])
			write := op == 'w'
			fi := 3
			if write {
				fi = 4
			}
			p.Block(fn(heapBase, fi, 0))
			if idx < len(chunks) {
				p.Access(fn(heapBase, fi, 1), chunks[idx]+off, 1, write)
			}
			data = data[3:]
		default:
			p.Block(fn(heapBase, 0, 2))
			data = data[1:]
		}
	}
}
