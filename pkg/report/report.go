// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package report classifies execution outcomes and worker output into crash records
// and computes the deduplication key of every record.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/hash"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
)

// Channel is the detection channel of a crash. Equal locations
// detected by different channels are different bugs.
type Channel string

const (
	ChannelCrash   Channel = "crash"
	ChannelMemory  Channel = "memory"
	ChannelTimeout Channel = "timeout"
)

// CrashRecord describes one detected bug occurrence.
type CrashRecord struct {
	Input    []byte
	Kind     executor.Kind
	Channel  Channel
	Title    string
	Location string
	Key      string
	Worker   int
	// Output is the raw panic/stack or fault text.
	Output []byte
	// Report is a human-readable summary.
	Report []byte
}

// Key returns the dedup key for a location detected on the given channel.
func Key(channel Channel, location string) string {
	return hash.String([]byte(channel), []byte{0}, []byte(location))
}

// Classify converts an execution outcome into a crash record.
// Returns nil for normal executions. The kind alone decides: a fault that
// landed just before cancellation is still a crash.
func Classify(out *executor.Outcome, input []byte, worker int, syms *symbolizer.Table) *CrashRecord {
	if out == nil || out.Kind == executor.Normal {
		return nil
	}
	rec := &CrashRecord{
		Input:  append([]byte{}, input...),
		Kind:   out.Kind,
		Worker: worker,
	}
	switch out.Kind {
	case executor.Crash:
		rec.Channel = ChannelCrash
		rec.Title, rec.Location = crashTitle(out.Output)
		rec.Output = out.Output
	case executor.InstrumentedFault:
		f := out.Fault
		rec.Channel = ChannelMemory
		rec.Location = fmt.Sprintf("%v at %v", f.Kind, syms.Describe(f.PC))
		rec.Title = fmt.Sprintf("%v in %v", f.Kind, function(syms, f.PC))
		buf := new(bytes.Buffer)
		for i, fault := range out.Faults {
			if i != 0 {
				buf.WriteString("\n")
			}
			fmt.Fprintf(buf, "%v\n", fault)
			fmt.Fprintf(buf, "    at %v\n", syms.Describe(fault.PC))
			if fault.AllocPC != 0 {
				fmt.Fprintf(buf, "    allocated at %v\n", syms.Describe(fault.AllocPC))
			}
			if fault.FreePC != 0 {
				fmt.Fprintf(buf, "    freed at %v\n", syms.Describe(fault.FreePC))
			}
		}
		if len(out.Output) != 0 {
			fmt.Fprintf(buf, "\n%s", out.Output)
		}
		rec.Output = buf.Bytes()
	case executor.Timeout:
		rec.Channel = ChannelTimeout
		rec.Location = syms.Describe(out.LastPC)
		rec.Title = fmt.Sprintf("timeout in %v", function(syms, out.LastPC))
		rec.Output = []byte(fmt.Sprintf("no progress after %v, last block %v\n",
			out.Elapsed, rec.Location))
	default:
		return nil
	}
	rec.Key = Key(rec.Channel, rec.Location)
	rec.Report = format(rec)
	return rec
}

func function(syms *symbolizer.Table, pc uint64) string {
	if sym, ok := syms.Lookup(pc); ok {
		return sym.Name
	}
	return fmt.Sprintf("0x%x", pc)
}

func format(rec *CrashRecord) []byte {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "%v\n\n", rec.Title)
	fmt.Fprintf(buf, "kind: %v\nchannel: %v\nlocation: %v\nworker: %v\ninput: %v bytes\n\n",
		rec.Kind, rec.Channel, rec.Location, rec.Worker, len(rec.Input))
	buf.Write(rec.Output)
	return buf.Bytes()
}

func firstLine(output []byte) string {
	output = bytes.TrimLeft(output, "\n")
	if pos := bytes.IndexByte(output, '\n'); pos != -1 {
		output = output[:pos]
	}
	desc := strings.TrimSpace(string(output))
	const maxDescLen = 180
	if len(desc) > maxDescLen {
		desc = desc[:maxDescLen]
	}
	return desc
}
