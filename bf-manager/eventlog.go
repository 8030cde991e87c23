// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/binfuzz/binfuzz/pkg/rpctype"
)

// eventLog appends one JSON line per bus event to <workdir>/events.log.
// Payloads are summarized, inputs and crashes are in the corpus and crash dirs.
type eventLog struct {
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

type eventRecord struct {
	Time       time.Time         `json:"time"`
	Kind       string            `json:"kind"`
	Worker     int               `json:"worker"`
	Generation string            `json:"generation,omitempty"`
	Size       int               `json:"size,omitempty"`
	Signal     int               `json:"signal,omitempty"`
	Seed       string            `json:"seed,omitempty"`
	Crash      string            `json:"crash,omitempty"`
	Key        string            `json:"key,omitempty"`
	Stats      map[string]uint64 `json:"stats,omitempty"`
}

func openEventLog(filename string) (*eventLog, error) {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	return &eventLog{
		f:   f,
		w:   w,
		enc: json.NewEncoder(w),
	}, nil
}

func (el *eventLog) Write(ev *rpctype.Event) error {
	rec := &eventRecord{
		Time:       ev.Time,
		Kind:       ev.Kind.String(),
		Worker:     ev.Worker,
		Generation: ev.Generation,
		Stats:      ev.Stats,
	}
	if ev.Input != nil {
		rec.Size = len(ev.Input.Data)
		rec.Signal = ev.Input.Signal.Deserialize().Len()
		rec.Seed = ev.Input.Path
	}
	if ev.Crash != nil {
		rec.Crash = ev.Crash.Title
		rec.Key = ev.Crash.Key
	}
	return el.enc.Encode(rec)
}

func (el *eventLog) Flush() error {
	return el.w.Flush()
}

func (el *eventLog) Close() error {
	err := el.w.Flush()
	if err1 := el.f.Close(); err == nil {
		err = err1
	}
	return err
}
