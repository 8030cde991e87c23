// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus implements the durable set of interesting inputs and the scheduler that
// picks the next input to mutate.
package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/binfuzz/binfuzz/pkg/hash"
	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/pkg/signal"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrNotFound = errors.New("corpus entry not found")
	ErrCorrupt  = errors.New("corpus storage is corrupted")
	ErrReadOnly = errors.New("corpus is opened read-only")
)

const metaSuffix = ".meta"

// Meta is the sidecar stored next to every entry.
type Meta struct {
	ID         string        `json:"id"`
	Size       int           `json:"size"`
	Signal     signal.Serial `json:"signal"`
	SignalHash uint64        `json:"signal_hash"`
	ExecTime   time.Duration `json:"exec_time"`
	Generation string        `json:"generation,omitempty"`
	Favored    bool          `json:"favored"`
	Worker     int           `json:"worker"`
	Added      time.Time     `json:"added"`
	Seq        uint64        `json:"seq"`
}

// Item objects are to be treated as immutable.
type Item struct {
	Data []byte
	Meta Meta
}

func (item *Item) Signal() signal.Signal {
	return item.Meta.Signal.Deserialize()
}

// Store keeps entries in dir as <id> (raw bytes) plus <id>.meta (JSON).
// Entries get into the hot cache only after both files are written.
type Store struct {
	dir      string
	readOnly bool

	mu    sync.RWMutex
	metas map[string]*Meta
	order []string // sorted by Seq
	seq   uint64
	cache *lru.Cache[string, *Item]
}

// Open loads all sidecars from dir. A read-only store never writes to dir,
// workers use it to share the broker's corpus.
func Open(dir string, cacheSize int, readOnly bool) (*Store, error) {
	if !readOnly {
		if err := osutil.MkdirAll(dir); err != nil {
			return nil, fmt.Errorf("failed to create corpus dir: %w", err)
		}
	}
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *Item](cacheSize)
	if err != nil {
		return nil, err
	}
	st := &Store{
		dir:      dir,
		readOnly: readOnly,
		metas:    make(map[string]*Meta),
		cache:    cache,
	}
	if _, err := st.Rescan(); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Store) Dir() string {
	return st.dir
}

// Rescan picks up entries written to dir by another process since the last scan.
// Returns ids of the new entries in insertion order.
func (st *Store) Rescan() ([]string, error) {
	files, err := osutil.ListDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus dir: %w", err)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var added []*Meta
	data := make(map[string]bool)
	for _, file := range files {
		if strings.HasPrefix(file, ".") {
			continue
		}
		if !strings.HasSuffix(file, metaSuffix) {
			data[file] = true
			continue
		}
		id := strings.TrimSuffix(file, metaSuffix)
		if st.metas[id] != nil {
			continue
		}
		meta := new(Meta)
		if err := osutil.ReadJSON(filepath.Join(st.dir, file), meta); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if meta.ID != id || !hash.Valid(id) || !meta.Signal.Valid() {
			return nil, fmt.Errorf("%w: bad sidecar %v", ErrCorrupt, file)
		}
		added = append(added, meta)
	}
	for _, meta := range added {
		if !data[meta.ID] && !osutil.IsExist(st.file(meta.ID)) {
			return nil, fmt.Errorf("%w: missing data for %v", ErrCorrupt, meta.ID)
		}
		delete(data, meta.ID)
	}
	for file := range data {
		if st.metas[file] == nil && hash.Valid(file) {
			log.Logf(1, "corpus: ignoring %v without metadata", file)
		}
	}
	sort.Slice(added, func(i, j int) bool {
		return added[i].Seq < added[j].Seq
	})
	ids := make([]string, 0, len(added))
	for _, meta := range added {
		st.metas[meta.ID] = meta
		st.order = append(st.order, meta.ID)
		ids = append(ids, meta.ID)
		if meta.Seq > st.seq {
			st.seq = meta.Seq
		}
	}
	if len(added) != 0 {
		sort.SliceStable(st.order, func(i, j int) bool {
			return st.metas[st.order[i]].Seq < st.metas[st.order[j]].Seq
		})
	}
	return ids, nil
}

// Insert adds data to the corpus. Inserting data that is already present
// returns its id and existed=true and does not touch the store.
// ID, Size, SignalHash and Seq of meta are filled in by the store.
func (st *Store) Insert(data []byte, meta Meta) (string, bool, error) {
	id := hash.String(data)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.metas[id] != nil {
		return id, true, nil
	}
	if st.readOnly {
		return "", false, ErrReadOnly
	}
	meta.ID = id
	meta.Size = len(data)
	meta.SignalHash = meta.Signal.Deserialize().Hash()
	meta.Seq = st.seq + 1
	if meta.Added.IsZero() {
		meta.Added = time.Now()
	}
	meta.Added = meta.Added.UTC().Round(0)
	if err := osutil.WriteFileAtomic(st.file(id), data); err != nil {
		return "", false, fmt.Errorf("failed to write corpus entry: %w", err)
	}
	if err := osutil.WriteJSON(st.file(id)+metaSuffix, &meta); err != nil {
		os.Remove(st.file(id))
		return "", false, fmt.Errorf("failed to write corpus metadata: %w", err)
	}
	st.seq = meta.Seq
	st.metas[id] = &meta
	st.order = append(st.order, id)
	st.cache.Add(id, &Item{Data: append([]byte{}, data...), Meta: meta})
	return id, false, nil
}

// Get returns the entry from the hot cache, or loads it from disk.
func (st *Store) Get(id string) (*Item, error) {
	if item, ok := st.cache.Get(id); ok {
		return item, nil
	}
	st.mu.RLock()
	meta := st.metas[id]
	var copied Meta
	if meta != nil {
		copied = *meta
	}
	st.mu.RUnlock()
	if meta == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	data, err := os.ReadFile(st.file(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus entry: %w", err)
	}
	if hash.String(data) != id {
		return nil, fmt.Errorf("%w: content of %v does not match its id", ErrCorrupt, id)
	}
	item := &Item{Data: data, Meta: copied}
	st.cache.Add(id, item)
	return item, nil
}

func (st *Store) Has(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.metas[id] != nil
}

func (st *Store) Meta(id string) (Meta, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	meta := st.metas[id]
	if meta == nil {
		return Meta{}, false
	}
	return *meta, true
}

// SetFavored rewrites the favored flag of all entries whose flag changed.
func (st *Store) SetFavored(favored map[string]bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range st.order {
		meta := st.metas[id]
		if meta.Favored == favored[id] {
			continue
		}
		updated := *meta
		updated.Favored = favored[id]
		if !st.readOnly {
			if err := osutil.WriteJSON(st.file(id)+metaSuffix, &updated); err != nil {
				return fmt.Errorf("failed to write corpus metadata: %w", err)
			}
		}
		st.metas[id] = &updated
		if item, ok := st.cache.Peek(id); ok {
			st.cache.Add(id, &Item{Data: item.Data, Meta: updated})
		}
	}
	return nil
}

// Seq returns the sequence number of the latest entry.
func (st *Store) Seq() uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.seq
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.order)
}

// IDs returns ids of all entries in insertion order.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]string{}, st.order...)
}

// Metas returns metadata of all entries in insertion order.
func (st *Store) Metas() []Meta {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ret := make([]Meta, 0, len(st.order))
	for _, id := range st.order {
		ret = append(ret, *st.metas[id])
	}
	return ret
}

// Items loads all entries in insertion order.
func (st *Store) Items() ([]*Item, error) {
	var items []*Item
	for _, id := range st.IDs() {
		item, err := st.Get(id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Signal merges signatures of all entries, so the seen-map can be rebuilt
// without re-executing the corpus.
func (st *Store) Signal() signal.Signal {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var sig signal.Signal
	for _, id := range st.order {
		sig.Merge(st.metas[id].Signal.Deserialize())
	}
	return sig
}

// Stats is a snapshot of the relevant current state figures.
type Stats struct {
	Entries int
	Favored int
	Signal  int
	Bytes   int
}

func (st *Store) Stats() Stats {
	var stats Stats
	for _, meta := range st.Metas() {
		stats.Entries++
		stats.Bytes += meta.Size
		if meta.Favored {
			stats.Favored++
		}
	}
	stats.Signal = st.Signal().Len()
	return stats
}

// IterFavored returns an iterator over favored entries in insertion order.
func (st *Store) IterFavored() *Iterator {
	it := &Iterator{st: st}
	it.Reset()
	return it
}

type Iterator struct {
	st  *Store
	ids []string
	pos int
}

// Reset restarts the iteration and picks up entries inserted since the last reset.
func (it *Iterator) Reset() {
	it.st.mu.RLock()
	defer it.st.mu.RUnlock()
	it.ids = it.ids[:0]
	for _, id := range it.st.order {
		if it.st.metas[id].Favored {
			it.ids = append(it.ids, id)
		}
	}
	it.pos = 0
}

// Next returns the next favored entry, or nil when the iteration is over.
func (it *Iterator) Next() (*Item, error) {
	if it.pos >= len(it.ids) {
		return nil, nil
	}
	id := it.ids[it.pos]
	it.pos++
	return it.st.Get(id)
}

func (st *Store) file(id string) string {
	return filepath.Join(st.dir, id)
}
