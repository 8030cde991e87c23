// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument installs feedback hooks into the target:
// coverage counters on blocks, memory-access checks and comparison tracing.
// Orchestration code depends only on the Helper interface; Engine is the
// in-process backend used for targets linked into the fuzzer binary.
package instrument

import (
	"errors"
	"fmt"
	"strings"

	"github.com/binfuzz/binfuzz/pkg/cmplog"
	"github.com/binfuzz/binfuzz/pkg/cover"
)

type Capability uint8

const (
	CapCoverage Capability = 1 << iota
	CapFaults
	CapComparisons

	CapAll = CapCoverage | CapFaults | CapComparisons
)

func (c Capability) String() string {
	var res []string
	for _, v := range []struct {
		c    Capability
		name string
	}{{CapCoverage, "coverage"}, {CapFaults, "faults"}, {CapComparisons, "comparisons"}} {
		if c&v.c != 0 {
			res = append(res, v.name)
		}
	}
	if len(res) == 0 {
		return "none"
	}
	return strings.Join(res, "|")
}

var ErrUnsupported = errors.New("capability is not supported by the instrumentation backend")

// Helper installs instrumentation into the target.
// All Install methods are idempotent: repeating a call with the same
// destination is a no-op, a call with a different destination retargets
// the already installed hooks.
type Helper interface {
	// Capabilities returns what the backend can install.
	Capabilities() Capability
	// Installed returns what is currently installed.
	Installed() Capability
	InstallCoverage(m *cover.Map) error
	InstallFaultHooks(sink FaultSink) error
	InstallCmpHooks(log *cmplog.Log) error
	// Exclude makes code of symbols matching the glob patterns run uninstrumented.
	Exclude(patterns []string) error
	Uninstall()
}

// Install installs the requested capabilities in one go and wraps errors
// with the failing capability, for setup diagnostics.
func Install(h Helper, caps Capability, m *cover.Map, sink FaultSink, log *cmplog.Log) error {
	if missing := caps &^ h.Capabilities(); missing != 0 {
		return fmt.Errorf("%w: %v", ErrUnsupported, missing)
	}
	if caps&CapCoverage != 0 {
		if err := h.InstallCoverage(m); err != nil {
			return fmt.Errorf("failed to install coverage hooks: %w", err)
		}
	}
	if caps&CapFaults != 0 {
		if err := h.InstallFaultHooks(sink); err != nil {
			return fmt.Errorf("failed to install fault hooks: %w", err)
		}
	}
	if caps&CapComparisons != 0 {
		if err := h.InstallCmpHooks(log); err != nil {
			return fmt.Errorf("failed to install comparison hooks: %w", err)
		}
	}
	return nil
}
