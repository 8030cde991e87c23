// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bf-fuzzer is a campaign worker. It is started by bf-manager, fuzzes the
// target linked into the binary and reports to the manager over RPC.
// Exit status: 0 on graceful stop, 2 on setup failure, 3 when the worker
// must be restarted (a fault was reported or the manager connection broke).
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/binfuzz/binfuzz/pkg/fuzzer"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	_ "github.com/binfuzz/binfuzz/pkg/targets/builtin"
)

func main() {
	debug.SetGCPercent(50)
	args, err := fuzzer.ParseWorkerArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: bf-fuzzer -manager addr -worker N [-workdir dir] [-map-size N] [-vv N]\n")
		log.Exitf(fuzzer.ExitSetup, "%v", err)
	}
	log.SetName(fmt.Sprintf("fuzzer-%v", args.Worker))
	log.SetVerbosity(args.Verbosity)
	ctx := osutil.HandleInterrupts(context.Background())
	err = fuzzer.RunWorker(ctx, args)
	code := fuzzer.ExitCode(err)
	if code != fuzzer.ExitOK {
		log.Exitf(code, "%v", err)
	}
	log.Logf(0, "stopped")
}
