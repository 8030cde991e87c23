// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcTestManager struct {
	cfg   *mgrconfig.Config
	seeds []rpctype.Candidate

	mu     sync.Mutex
	broker *testBroker
	stop   bool
}

func (m *rpcTestManager) Connect(args *rpctype.ConnectArgs, res *rpctype.ConnectRes) error {
	res.Config = m.cfg
	res.State = rpctype.WorkerState{ID: args.Worker, Generation: fmt.Sprintf("test-%v", args.Worker)}
	res.CampaignID = "test"
	res.Candidates = m.seeds
	return nil
}

func (m *rpcTestManager) Event(ev *rpctype.Event, res *rpctype.EventRes) error {
	return m.broker.Event(ev)
}

func (m *rpcTestManager) Poll(args *rpctype.PollArgs, res *rpctype.PollRes) error {
	r, err := m.broker.Poll(args)
	if err != nil {
		return err
	}
	*res = *r
	m.mu.Lock()
	res.Stop = m.stop
	m.mu.Unlock()
	return nil
}

func startTestManager(t *testing.T, target string, seeds ...string) (*rpcTestManager, *WorkerArgs) {
	cfg := testCampaign()
	cfg.Target = target
	cfg.Workdir = t.TempDir()
	store, err := corpus.Open(cfg.CorpusDir(), 16, false)
	require.NoError(t, err)
	mgr := &rpcTestManager{
		cfg:    cfg,
		broker: &testBroker{store: store, stats: make(map[string]uint64)},
	}
	for _, seed := range seeds {
		mgr.seeds = append(mgr.seeds, rpctype.Candidate{Data: []byte(seed)})
	}
	serv, err := rpctype.NewRPCServer("127.0.0.1:0", "Manager", mgr)
	require.NoError(t, err)
	go serv.Serve()
	t.Cleanup(func() { serv.Close() })
	args := &WorkerArgs{
		Manager:    serv.Addr().String(),
		Worker:     3,
		Workdir:    t.TempDir(),
		RPCTimeout: 10 * time.Second,
	}
	return mgr, args
}

func TestWorkerMapSizeMismatch(t *testing.T) {
	_, args := startTestManager(t, "magic", "B")
	args.MapSize = 128
	err := RunWorker(context.Background(), args)
	require.ErrorIs(t, err, mgrconfig.ErrMapSize)
	assert.Equal(t, ExitSetup, ExitCode(err))
}

func TestWorkerUnknownTarget(t *testing.T) {
	_, args := startTestManager(t, "no-such-target", "B")
	err := RunWorker(context.Background(), args)
	var setup *SetupError
	require.True(t, errors.As(err, &setup), "got %v", err)
	assert.Equal(t, ExitSetup, ExitCode(err))
}

func TestWorkerCrashLeavesInput(t *testing.T) {
	const crasher = "BFTL\x04\x01\x09"
	mgr, args := startTestManager(t, "tlv", crasher)
	err := RunWorker(context.Background(), args)
	require.ErrorIs(t, err, ErrRestart)
	assert.Equal(t, ExitRestart, ExitCode(err))
	data, err := ReadInputFile(filepath.Join(args.Workdir, InputFileName))
	require.NoError(t, err)
	assert.Equal(t, []byte(crasher), data)
	mgr.broker.mu.Lock()
	defer mgr.broker.mu.Unlock()
	assert.Len(t, mgr.broker.crashes, 1)
}

func TestWorkerStop(t *testing.T) {
	mgr, args := startTestManager(t, "magic", "B")
	done := make(chan error, 1)
	go func() { done <- RunWorker(context.Background(), args) }()
	time.Sleep(100 * time.Millisecond)
	mgr.mu.Lock()
	mgr.stop = true
	mgr.mu.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Equal(t, ExitOK, ExitCode(err))
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, mgr.broker.store.Len())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitRestart, ExitCode(fmt.Errorf("loop: %w", ErrRestart)))
	assert.Equal(t, ExitSetup, ExitCode(&SetupError{errors.New("bad")}))
	assert.Equal(t, ExitRestart, ExitCode(errors.New("connection reset")))
}

func TestWorkerArgs(t *testing.T) {
	args := &WorkerArgs{
		Manager:    "127.0.0.1:1234",
		Worker:     5,
		Workdir:    "/tmp/w5",
		RPCTimeout: 30 * time.Second,
		MapSize:    1 << 16,
		Verbosity:  2,
	}
	parsed, err := ParseWorkerArgs(args.CommandLine())
	require.NoError(t, err)
	assert.Equal(t, args, parsed)

	_, err = ParseWorkerArgs([]string{"-worker", "1"})
	assert.Equal(t, ExitSetup, ExitCode(err))
	_, err = ParseWorkerArgs([]string{"-manager", "x", "-worker", "1", "extra"})
	assert.Equal(t, ExitSetup, ExitCode(err))
	_, err = ParseWorkerArgs([]string{"-no-such-flag"})
	assert.Equal(t, ExitSetup, ExitCode(err))
}
