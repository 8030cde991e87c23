// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package rpctype contains types of message passed via net/rpc connections
// between bf-fuzzer workers and bf-manager.
package rpctype

import (
	"fmt"
	"time"

	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/signal"
)

// WorkerState is reconstructed by the manager on every worker (re)start.
type WorkerState struct {
	ID int
	// Generation is the campaign id plus the restart number of the slot, e.g. "3f2a...-4".
	Generation string
	Restarts   int
}

// Candidate is an input that has not been executed yet (a seed file).
type Candidate struct {
	Data []byte
	Path string
}

type ConnectArgs struct {
	Name    string
	Worker  int
	PID     int
	MapSize int
}

type ConnectRes struct {
	Config     *mgrconfig.Config
	State      WorkerState
	CampaignID string
	Candidates []Candidate
	// Seq is the corpus sequence number the worker is in sync with after connecting.
	Seq uint64
}

type EventKind int

const (
	EventNewCoverage EventKind = iota
	EventNewCrash
	EventStats
	EventHeartbeat
)

func (k EventKind) String() string {
	switch k {
	case EventNewCoverage:
		return "new-coverage"
	case EventNewCrash:
		return "new-crash"
	case EventStats:
		return "stats"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("event-%d", int(k))
	}
}

// Event is a tagged union, exactly one of Input, Crash and Stats is set
// according to Kind (Heartbeat carries no payload).
type Event struct {
	Kind       EventKind
	Worker     int
	Generation string
	Time       time.Time

	Input *Input
	Crash *report.CrashRecord
	Stats map[string]uint64
}

// Input is an input that produced coverage not present in the worker's seen-map.
type Input struct {
	Data     []byte
	Signal   signal.Serial
	ExecTime time.Duration
	// Seed is set for executed candidates, they are stored even if not novel.
	Seed bool
	Path string
}

type EventRes struct{}

type PollArgs struct {
	Worker int
	Seq    uint64
}

type PollRes struct {
	// Seq is the latest corpus sequence number. The worker rescans
	// the corpus directory if it differs from the requested one.
	Seq        uint64
	Candidates []Candidate
	Stop       bool
}
