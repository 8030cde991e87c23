// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bf-db converts corpora between the directory layout used by bf-manager and a single pack file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/db"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/pkg/tool"
)

var errUsage = errors.New("bad arguments")

func main() {
	defer tool.Init(usage)()
	if err := run(flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		}
		tool.Fail(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  bf-db pack workdir/corpus corpus.db\n")
	fmt.Fprintf(os.Stderr, "  bf-db pack-raw dir corpus.db\n")
	fmt.Fprintf(os.Stderr, "  bf-db unpack corpus.db dir\n")
	fmt.Fprintf(os.Stderr, "  bf-db merge workdir/corpus corpus.db...\n")
	fmt.Fprintf(os.Stderr, "  bf-db list corpus.db\n")
	os.Exit(1)
}

func run(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	switch {
	case args[0] == "pack" && len(args) == 3:
		return pack(args[1], args[2])
	case args[0] == "pack-raw" && len(args) == 3:
		return packRaw(args[1], args[2])
	case args[0] == "unpack" && len(args) == 3:
		return unpack(args[1], args[2])
	case args[0] == "merge" && len(args) >= 3:
		return merge(args[1], args[2:])
	case args[0] == "list" && len(args) == 2:
		return list(args[1])
	}
	return errUsage
}

func pack(dir, file string) error {
	store, err := corpus.Open(dir, 0, true)
	if err != nil {
		return err
	}
	if err := store.Pack(file); err != nil {
		return err
	}
	fmt.Printf("packed %v entries\n", store.Len())
	return nil
}

// packRaw packs a directory of plain inputs, e.g. one written by unpack.
// File names of the form name-seq preserve the order.
func packRaw(dir, file string) error {
	files, err := osutil.ListDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read dir: %w", err)
	}
	var records []db.Record
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read file %v: %w", name, err)
		}
		var seq uint64
		if parts := strings.Split(name, "-"); len(parts) == 2 {
			seq, _ = strconv.ParseUint(parts[1], 10, 64)
		}
		records = append(records, db.Record{
			Val: data,
			Seq: seq,
		})
	}
	return db.Create(file, corpus.PackVersion, records)
}

func unpack(file, dir string) error {
	pack, err := db.Open(file, false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := osutil.MkdirAll(dir); err != nil {
		return err
	}
	for key, rec := range pack.Records {
		if strings.HasSuffix(key, db.MetaSuffix) {
			continue
		}
		fname := filepath.Join(dir, key)
		if rec.Seq != 0 {
			fname += fmt.Sprintf("-%v", rec.Seq)
		}
		if err := osutil.WriteFile(fname, rec.Val); err != nil {
			return fmt.Errorf("failed to output file: %w", err)
		}
	}
	return nil
}

// merge imports packs into a corpus dir. The campaign that owns the dir must not be running.
func merge(dir string, files []string) error {
	store, err := corpus.Open(dir, 0, false)
	if err != nil {
		return err
	}
	for _, file := range files {
		added, err := store.Import(file)
		if err != nil {
			return fmt.Errorf("%v: %w", file, err)
		}
		fmt.Printf("%v: added %v entries\n", file, added)
	}
	fmt.Printf("corpus has %v entries\n", store.Len())
	return nil
}

func list(file string) error {
	pack, err := db.Open(file, false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	var keys []string
	for key := range pack.Records {
		if !strings.HasSuffix(key, db.MetaSuffix) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return pack.Records[keys[i]].Seq < pack.Records[keys[j]].Seq
	})
	fmt.Printf("version %v, %v entries\n", pack.Version, len(keys))
	for _, key := range keys {
		rec := pack.Records[key]
		_, meta := pack.Records[key+db.MetaSuffix]
		fmt.Printf("%v\tseq=%v\tsize=%v\tmeta=%v\n", key, rec.Seq, len(rec.Val), meta)
	}
	return nil
}
