// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bf-repro replays inputs against the campaign target and prints the classified outcome.
// It exits with status 1 if any input crashed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/instrument"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/symbolizer"
	"github.com/binfuzz/binfuzz/pkg/targets"
	_ "github.com/binfuzz/binfuzz/pkg/targets/builtin"
	"github.com/binfuzz/binfuzz/pkg/tool"
)

var (
	flagConfig = flag.String("config", "", "manager configuration file (manager.cfg)")
	flagRepeat = flag.Int("repeat", 1, "number of times to execute every input")
)

func main() {
	defer tool.Init(nil)()
	if len(flag.Args()) == 0 || *flagConfig == "" {
		log.Fatalf("usage: bf-repro -config=manager.cfg input...")
	}
	cfg, err := mgrconfig.LoadFile(*flagConfig)
	if err != nil {
		log.Fatalf("%v: %v", *flagConfig, err)
	}
	env, syms, err := createEnv(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer env.Close()
	crashed := false
	for _, file := range flag.Args() {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read input: %v", err)
		}
		fmt.Printf("%v:\n", file)
		rec, err := replay(context.Background(), env, syms, cfg, data, *flagRepeat, os.Stdout)
		if err != nil {
			log.Fatal(err)
		}
		crashed = crashed || rec != nil
	}
	if crashed {
		os.Exit(1)
	}
}

func createEnv(cfg *mgrconfig.Config) (*executor.Env, *symbolizer.Table, error) {
	target, err := targets.Get(cfg.Target)
	if err != nil {
		return nil, nil, err
	}
	syms := target.Symbols
	if cfg.TargetBinary != "" {
		if syms, err = symbolizer.ReadELF(cfg.TargetBinary); err != nil {
			return nil, nil, err
		}
	}
	mode, err := instrument.ParseMode(cfg.CoverageMode)
	if err != nil {
		return nil, nil, err
	}
	env, err := executor.NewCoverage(executor.Config{
		Harness:     target.Harness,
		MapSize:     cfg.MapSize,
		Mode:        mode,
		HaltOnError: cfg.HaltOnError,
		Symbols:     syms,
		Exclude:     cfg.Exclude,
		SharedMap:   cfg.SharedMap,
	})
	return env, syms, err
}

// replay runs data up to repeat times and stops at the first crash.
func replay(ctx context.Context, env *executor.Env, syms *symbolizer.Table, cfg *mgrconfig.Config,
	data []byte, repeat int, w io.Writer) (*report.CrashRecord, error) {
	for i := 0; i < repeat; i++ {
		out, err := env.Run(ctx, data, cfg.Timeout.Duration())
		if err != nil {
			if errors.Is(err, executor.ErrHung) {
				return nil, fmt.Errorf("target did not recover from a previous timeout: %w", err)
			}
			return nil, err
		}
		if rec := report.Classify(out, data, -1, syms); rec != nil {
			fmt.Fprintf(w, "run %v: %v (%v)\n\n%s\n", i, rec.Title, rec.Key, rec.Report)
			return rec, nil
		}
		fmt.Fprintf(w, "run %v: %v in %v, %v edges\n", i, out.Kind, out.Elapsed, out.Signal.Len())
	}
	return nil, nil
}
