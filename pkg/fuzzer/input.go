// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/binfuzz/binfuzz/pkg/osutil"
)

// InputFileName is the name of the current input file in the worker dir.
const InputFileName = "input"

// InputFile is a file mapping that holds the input being executed:
// a 4-byte little-endian length followed by the data. If the worker process
// dies, the manager reads the last input back from the file.
type InputFile struct {
	f   *os.File
	mem []byte
}

func CreateInputFile(name string, maxSize int) (*InputFile, error) {
	f, mem, err := osutil.MapFile(name, 4+maxSize)
	if err != nil {
		return nil, err
	}
	return &InputFile{f: f, mem: mem}, nil
}

func (inf *InputFile) Store(data []byte) {
	n := copy(inf.mem[4:], data)
	binary.LittleEndian.PutUint32(inf.mem, uint32(n))
}

func (inf *InputFile) Close() error {
	return osutil.UnmapFile(inf.f, inf.mem)
}

// ReadInputFile returns the last input stored by a (possibly dead) worker.
func ReadInputFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("input file %v is truncated", name)
	}
	n := binary.LittleEndian.Uint32(data)
	if int(n) > len(data)-4 {
		return nil, fmt.Errorf("input file %v: bad length %v", name, n)
	}
	return data[4 : 4+n], nil
}
