// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"fmt"
)

type FaultKind int

const (
	HeapOverflow FaultKind = iota + 1
	HeapUnderflow
	UseAfterFree
	DoubleFree
	InvalidFree
)

func (k FaultKind) String() string {
	switch k {
	case HeapOverflow:
		return "heap-buffer-overflow"
	case HeapUnderflow:
		return "heap-buffer-underflow"
	case UseAfterFree:
		return "heap-use-after-free"
	case DoubleFree:
		return "double-free"
	case InvalidFree:
		return "invalid-free"
	}
	return fmt.Sprintf("fault-%d", int(k))
}

// Fault is a memory-safety violation caught by an injected check.
type Fault struct {
	Kind  FaultKind
	PC    uint64
	Addr  uint64
	Size  int
	Write bool
	// Allocation and deallocation sites of the chunk involved, if known.
	AllocPC uint64
	FreePC  uint64
}

func (f Fault) String() string {
	switch f.Kind {
	case DoubleFree, InvalidFree:
		return fmt.Sprintf("%v on address 0x%x at pc 0x%x", f.Kind, f.Addr, f.PC)
	}
	op := "READ"
	if f.Write {
		op = "WRITE"
	}
	return fmt.Sprintf("%v on address 0x%x at pc 0x%x: %v of size %v", f.Kind, f.Addr, f.PC, op, f.Size)
}

// FaultSink receives faults detected during an execution.
type FaultSink interface {
	ReportFault(f Fault)
}

// Faults is a FaultSink that collects faults of one execution.
type Faults struct {
	list []Fault
}

func (fs *Faults) ReportFault(f Fault) {
	fs.list = append(fs.list, f)
}

func (fs *Faults) List() []Fault {
	return fs.list
}

// First returns the first fault of the execution; the first violation is
// the one that caused the rest.
func (fs *Faults) First() (Fault, bool) {
	if len(fs.list) == 0 {
		return Fault{}, false
	}
	return fs.list[0], true
}

func (fs *Faults) Reset() {
	fs.list = fs.list[:0]
}

// Halt is the panic value used to unwind the target when a fault is
// detected and the engine halts on errors.
type Halt struct {
	Fault Fault
}

func (h *Halt) Error() string {
	return "execution halted: " + h.Fault.String()
}

// Abort is the panic value used to unwind the target when the execution
// is interrupted from outside (deadline, shutdown).
type Abort struct {
	Err error
}

func (a *Abort) Error() string {
	return "execution aborted: " + a.Err.Error()
}

func (a *Abort) Unwrap() error {
	return a.Err
}
