// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bf-manager runs a fuzzing campaign: it owns the corpus and the crash store,
// launches bf-fuzzer workers and restarts them when they die.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	_ "github.com/binfuzz/binfuzz/pkg/targets/builtin"
)

var (
	flagConfig   = flag.String("config", "", "configuration file")
	flagDebug    = flag.Bool("debug", false, "dump all worker output to console")
	flagLauncher = flag.String("launcher", "local", "how workers are started")
)

func main() {
	flag.Parse()
	if *flagConfig == "" {
		flag.Usage()
		os.Exit(1)
	}
	log.EnableLogCaching(1000, 1<<20)
	cfg, err := mgrconfig.LoadFile(*flagConfig)
	if err != nil {
		log.Fatalf("%v", err)
	}
	ctx := osutil.HandleInterrupts(context.Background())
	mgr, err := newManager(cfg, &options{
		launcher: *flagLauncher,
		debug:    *flagDebug,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := mgr.run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
	log.Logf(0, "campaign %v stopped", mgr.campaignID)
}
