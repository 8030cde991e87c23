// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rpctype

import (
	"bytes"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testManager struct {
	events chan *Event
}

func (m *testManager) Event(ev *Event, res *EventRes) error {
	m.events <- ev
	return nil
}

func (m *testManager) Poll(args *PollArgs, res *PollRes) error {
	res.Seq = args.Seq + 1
	res.Candidates = []Candidate{{Data: []byte("seed"), Path: "seeds/a"}}
	return nil
}

func TestRoundTrip(t *testing.T) {
	mgr := &testManager{events: make(chan *Event, 2)}
	serv, err := NewRPCServer("127.0.0.1:0", "Manager", mgr)
	require.NoError(t, err)
	go serv.Serve()
	defer serv.Close()

	cli, err := NewRPCClient(serv.Addr().String(), 10*time.Second)
	require.NoError(t, err)
	defer cli.Close()

	sig := signal.FromCounters([]byte{0, 1, 0, 9})
	data := bytes.Repeat([]byte{0x41}, 1<<12)
	require.NoError(t, cli.Call("Manager.Event", &Event{
		Kind:   EventNewCoverage,
		Worker: 2,
		Input:  &Input{Data: data, Signal: sig.Serialize(), ExecTime: time.Millisecond},
	}, &EventRes{}))
	require.NoError(t, cli.Call("Manager.Event", &Event{
		Kind:  EventNewCrash,
		Crash: &report.CrashRecord{Kind: executor.Timeout, Channel: report.ChannelTimeout, Key: "k"},
	}, &EventRes{}))

	ev := <-mgr.events
	assert.Equal(t, EventNewCoverage, ev.Kind)
	assert.Equal(t, 2, ev.Worker)
	assert.Equal(t, data, ev.Input.Data)
	assert.Equal(t, sig, ev.Input.Signal.Deserialize())
	ev = <-mgr.events
	assert.Equal(t, executor.Timeout, ev.Crash.Kind)
	assert.Equal(t, report.ChannelTimeout, ev.Crash.Channel)

	var res PollRes
	require.NoError(t, cli.Call("Manager.Poll", &PollArgs{Seq: 41}, &res))
	assert.Equal(t, uint64(42), res.Seq)
	assert.Equal(t, []byte("seed"), res.Candidates[0].Data)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "new-crash", EventNewCrash.String())
	assert.Equal(t, "event-9", EventKind(9).String())
}
