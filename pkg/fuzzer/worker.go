// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
	"github.com/binfuzz/binfuzz/pkg/targets"
)

// Worker process exit codes.
const (
	ExitOK      = 0
	ExitSetup   = 2
	ExitRestart = 3
)

// SetupError is a worker failure that a restart will not fix
// (bad config, map size mismatch, unknown target).
type SetupError struct {
	Err error
}

func (err *SetupError) Error() string {
	return fmt.Sprintf("worker setup failed: %v", err.Err)
}

func (err *SetupError) Unwrap() error {
	return err.Err
}

type WorkerArgs struct {
	Manager    string
	Worker     int
	Workdir    string
	RPCTimeout time.Duration
	// MapSize is the worker's coverage map size, 0 accepts the campaign's.
	MapSize   int
	Verbosity int
}

const defaultRPCTimeout = time.Minute

// ParseWorkerArgs parses the bf-fuzzer command line.
func ParseWorkerArgs(argv []string) (*WorkerArgs, error) {
	args := new(WorkerArgs)
	flags := flag.NewFlagSet("bf-fuzzer", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&args.Manager, "manager", "", "manager rpc address")
	flags.IntVar(&args.Worker, "worker", -1, "worker slot index")
	flags.StringVar(&args.Workdir, "workdir", ".", "per-worker directory")
	flags.DurationVar(&args.RPCTimeout, "rpc-timeout", defaultRPCTimeout, "manager rpc timeout")
	flags.IntVar(&args.MapSize, "map-size", 0, "coverage map size (0 uses the campaign map size)")
	flags.IntVar(&args.Verbosity, "vv", 0, "verbosity")
	if err := flags.Parse(argv); err != nil {
		return nil, &SetupError{err}
	}
	if flags.NArg() != 0 {
		return nil, &SetupError{fmt.Errorf("unexpected arguments %q", flags.Args())}
	}
	if args.Manager == "" || args.Worker < 0 {
		return nil, &SetupError{fmt.Errorf("-manager and -worker are required")}
	}
	return args, nil
}

// CommandLine is the inverse of ParseWorkerArgs.
func (args *WorkerArgs) CommandLine() []string {
	argv := []string{
		"-manager", args.Manager,
		"-worker", fmt.Sprint(args.Worker),
		"-workdir", args.Workdir,
	}
	if args.RPCTimeout != 0 {
		argv = append(argv, "-rpc-timeout", args.RPCTimeout.String())
	}
	if args.MapSize != 0 {
		argv = append(argv, "-map-size", fmt.Sprint(args.MapSize))
	}
	if args.Verbosity != 0 {
		argv = append(argv, "-vv", fmt.Sprint(args.Verbosity))
	}
	return argv
}

// ExitCode maps the result of RunWorker to the process exit code.
func ExitCode(err error) int {
	var setup *SetupError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrRestart):
		return ExitRestart
	case errors.As(err, &setup):
		return ExitSetup
	default:
		return ExitRestart
	}
}

// RunWorker connects to the manager and fuzzes until ctx is cancelled,
// the manager stops the worker or a fault requires a restart.
func RunWorker(ctx context.Context, args *WorkerArgs) error {
	client, err := rpctype.NewRPCClient(args.Manager, args.RPCTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to manager: %w", err)
	}
	defer client.Close()
	connArgs := &rpctype.ConnectArgs{
		Name:    fmt.Sprintf("worker-%v", args.Worker),
		Worker:  args.Worker,
		PID:     os.Getpid(),
		MapSize: args.MapSize,
	}
	res := new(rpctype.ConnectRes)
	if err := client.Call("Manager.Connect", connArgs, res); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	cfg := res.Config
	if args.MapSize != 0 {
		if err := cfg.CheckMapSize(args.MapSize); err != nil {
			return &SetupError{err}
		}
	}
	log.Logf(0, "worker %v: generation %v, restarts %v", args.Worker, res.State.Generation, res.State.Restarts)
	target, err := targets.Get(cfg.Target)
	if err != nil {
		return &SetupError{err}
	}
	symbols := target.Symbols
	if cfg.TargetBinary != "" {
		if symbols, err = symbolizer.ReadELF(cfg.TargetBinary); err != nil {
			return &SetupError{err}
		}
	}
	store, err := corpus.Open(cfg.CorpusDir(), cfg.CacheSize, true)
	if err != nil {
		return &SetupError{err}
	}
	inputFile, err := CreateInputFile(filepath.Join(args.Workdir, InputFileName), cfg.MaxInputSize)
	if err != nil {
		return &SetupError{err}
	}
	defer inputFile.Close()
	seed := time.Now().UnixNano()
	if cfg.Seed != 0 {
		seed = cfg.Seed + int64(args.Worker)*1000 + int64(res.State.Restarts)
	}
	fuzzer, err := NewFuzzer(&Config{
		Worker:     args.Worker,
		Generation: res.State.Generation,
		Campaign:   cfg,
		Harness:    target.Harness,
		Symbols:    symbols,
		Store:      store,
		Reporter:   &rpcReporter{client},
		Tokens:     target.Tokens,
		Candidates: res.Candidates,
		Seq:        res.Seq,
		OnExec:     inputFile.Store,
		Rand:       rand.New(rand.NewSource(seed)),
	})
	if err != nil {
		return &SetupError{err}
	}
	defer fuzzer.Close()
	err = fuzzer.Loop(ctx)
	log.Logf(0, "worker %v: exiting after %v execs, signal %v: %v",
		args.Worker, fuzzer.Execs(), fuzzer.Seen.Len(), err)
	return err
}

// rpcReporter sends events over the manager RPC connection.
type rpcReporter struct {
	client *rpctype.RPCClient
}

func (r *rpcReporter) Event(ev *rpctype.Event) error {
	return r.client.Call("Manager.Event", ev, new(rpctype.EventRes))
}

func (r *rpcReporter) Poll(args *rpctype.PollArgs) (*rpctype.PollRes, error) {
	res := new(rpctype.PollRes)
	if err := r.client.Call("Manager.Poll", args, res); err != nil {
		return nil, err
	}
	return res, nil
}
