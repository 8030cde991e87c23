// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/db"
	"github.com/binfuzz/binfuzz/pkg/hash"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/pkg/rpctype"
	"github.com/fsnotify/fsnotify"
)

// PackSuffix marks a seeds path that is a corpus pack rather than a directory.
const PackSuffix = ".db"

// Seeds are the candidates that still need to be triaged by workers.
type Seeds struct {
	Candidates []rpctype.Candidate
	// Known is the number of seeds skipped because the corpus already has them.
	Known     int
	Truncated int
}

// LoadSeeds collects seeds from the target and from cfg.Seeds (a directory or a pack).
// Seeds already present in the corpus are skipped, the rest are truncated to max_input_size.
func LoadSeeds(cfg *mgrconfig.Config, store *corpus.Store, builtin [][]byte) (*Seeds, error) {
	seeds := &Seeds{}
	dedup := make(map[string]bool)
	add := func(path string, data []byte) {
		if len(data) > cfg.MaxInputSize {
			data = data[:cfg.MaxInputSize]
			seeds.Truncated++
		}
		id := hash.String(data)
		if dedup[id] {
			return
		}
		dedup[id] = true
		if store.Has(id) {
			seeds.Known++
			return
		}
		seeds.Candidates = append(seeds.Candidates, rpctype.Candidate{Data: data, Path: path})
	}
	for i, data := range builtin {
		add(fmt.Sprintf("target/%v", i), data)
	}
	switch {
	case cfg.Seeds == "":
	case strings.HasSuffix(cfg.Seeds, PackSuffix):
		inputs, err := db.ReadInputs(cfg.Seeds)
		if err != nil {
			return nil, fmt.Errorf("failed to read seeds pack: %w", err)
		}
		for i, data := range inputs {
			add(fmt.Sprintf("%v/%v", filepath.Base(cfg.Seeds), i), data)
		}
	default:
		files, err := osutil.ListDir(cfg.Seeds)
		if err != nil {
			return nil, fmt.Errorf("failed to read seeds dir: %w", err)
		}
		sort.Strings(files)
		for _, file := range files {
			path := filepath.Join(cfg.Seeds, file)
			if skipSeed(path) {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read seed %v: %w", file, err)
			}
			add(path, data)
		}
	}
	if seeds.Known+seeds.Truncated != 0 {
		log.Logf(0, "seeds: %v already in the corpus, %v truncated", seeds.Known, seeds.Truncated)
	}
	if len(seeds.Candidates) == 0 && store.Len() == 0 {
		return nil, fmt.Errorf("no seeds and the corpus is empty")
	}
	return seeds, nil
}

func skipSeed(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return true
	}
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

// SeedWatcher reports files that appear in the seeds directory while the campaign runs.
type SeedWatcher struct {
	dir     string
	maxSize int
	w       *fsnotify.Watcher
	seen    map[string]bool
}

func NewSeedWatcher(dir string, maxSize int) (*SeedWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %v: %w", dir, err)
	}
	return &SeedWatcher{
		dir:     dir,
		maxSize: maxSize,
		w:       w,
		seen:    make(map[string]bool),
	}, nil
}

// seedSettle is how long a file must stay unmodified before it is read.
const seedSettle = 200 * time.Millisecond

// Run calls found for every new or rewritten seed until ctx is cancelled.
func (sw *SeedWatcher) Run(ctx context.Context, found func(rpctype.Candidate)) error {
	defer sw.w.Close()
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(seedSettle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sw.w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-sw.w.Errors:
			if !ok {
				return nil
			}
			log.Errorf("seed watcher: %v", err)
		case now := <-ticker.C:
			for path, modified := range pending {
				if now.Sub(modified) < seedSettle {
					continue
				}
				delete(pending, path)
				if cand, ok := sw.read(path); ok {
					found(cand)
				}
			}
		}
	}
}

func (sw *SeedWatcher) read(path string) (rpctype.Candidate, bool) {
	if skipSeed(path) {
		return rpctype.Candidate{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Logf(0, "failed to read new seed %v: %v", path, err)
		return rpctype.Candidate{}, false
	}
	if len(data) > sw.maxSize {
		data = data[:sw.maxSize]
	}
	id := hash.String(data)
	if sw.seen[id] {
		return rpctype.Candidate{}, false
	}
	sw.seen[id] = true
	log.Logf(1, "new seed %v (%v bytes)", path, len(data))
	return rpctype.Candidate{Data: data, Path: path}, true
}
