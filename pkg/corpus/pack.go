// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/binfuzz/binfuzz/pkg/db"
)

// PackVersion is the pack format version written by Pack.
const PackVersion = 1

// Pack writes all entries with their metadata into a single db file.
func (st *Store) Pack(filename string) error {
	items, err := st.Items()
	if err != nil {
		return err
	}
	os.Remove(filename)
	pack, err := db.Open(filename, true)
	if err != nil {
		return fmt.Errorf("failed to create pack: %w", err)
	}
	if err := pack.BumpVersion(PackVersion); err != nil {
		return err
	}
	for _, item := range items {
		meta, err := json.Marshal(item.Meta)
		if err != nil {
			return err
		}
		pack.Save(item.Meta.ID, item.Data, item.Meta.Seq)
		pack.Save(item.Meta.ID+db.MetaSuffix, meta, item.Meta.Seq)
	}
	return pack.Flush()
}

// Import inserts entries of a pack that the store does not have yet.
// Entries without metadata get empty signal; workers rediscover it on triage.
func (st *Store) Import(filename string) (int, error) {
	pack, err := db.Open(filename, false)
	if err != nil {
		return 0, fmt.Errorf("failed to open pack: %w", err)
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
	added := 0
	for _, key := range keys {
		var meta Meta
		if rec, ok := pack.Records[key+db.MetaSuffix]; ok {
			if err := json.Unmarshal(rec.Val, &meta); err != nil {
				return added, fmt.Errorf("%w: bad metadata for %v: %w", ErrCorrupt, key, err)
			}
		}
		_, existed, err := st.Insert(pack.Records[key].Val, meta)
		if err != nil {
			return added, err
		}
		if !existed {
			added++
		}
	}
	return added, nil
}
