// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/binfuzz/binfuzz/pkg/log"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/ulikunitz/xz"
)

const statFileName = "stat.json"

// CrashStore keeps one directory per unique crash key under <BaseDir>/crashes.
// The first occurrence of a key is persisted as input0, log0.xz and report;
// later occurrences only update the counters in stat.json.
type CrashStore struct {
	BaseDir string
}

type crashStat struct {
	Count     int       `json:"count"`
	FirstTime time.Time `json:"first_time"`
	LastTime  time.Time `json:"last_time"`
	Workers   []int     `json:"workers"`
}

func NewCrashStore(cfg *mgrconfig.Config) *CrashStore {
	return &CrashStore{
		BaseDir: cfg.Workdir,
	}
}

func ReadCrashStore(workdir string) *CrashStore {
	return &CrashStore{
		BaseDir: workdir,
	}
}

// SaveCrash stores the record under its dedup key.
// Returns whether it was the first crash of a kind.
func (cs *CrashStore) SaveCrash(rec *report.CrashRecord) (bool, error) {
	if rec.Key == "" {
		return false, fmt.Errorf("crash %q has no key", rec.Title)
	}
	dir := cs.path(rec.Key)
	statFile := filepath.Join(dir, statFileName)
	stat := new(crashStat)
	first := !osutil.IsExist(statFile)
	if first {
		if err := cs.persist(dir, rec); err != nil {
			return false, err
		}
	} else if err := osutil.ReadJSON(statFile, stat); err != nil {
		return false, err
	}
	now := time.Now().UTC().Round(0)
	if stat.FirstTime.IsZero() {
		stat.FirstTime = now
	}
	stat.LastTime = now
	stat.Count++
	if !slices.Contains(stat.Workers, rec.Worker) {
		stat.Workers = append(stat.Workers, rec.Worker)
		sort.Ints(stat.Workers)
	}
	// stat.json is written last: its presence marks a complete crash dir.
	if err := osutil.WriteJSON(statFile, stat); err != nil {
		return false, err
	}
	log.Logf(1, "saved crash %v (%v) count=%v", rec.Title, rec.Key, stat.Count)
	return first, nil
}

func (cs *CrashStore) persist(dir string, rec *report.CrashRecord) error {
	if err := osutil.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create crash dir: %w", err)
	}
	for name, data := range map[string][]byte{
		"description": []byte(rec.Title + "\n"),
		"kind":        []byte(rec.Kind.String() + "\n"),
		"channel":     []byte(string(rec.Channel) + "\n"),
		"location":    []byte(rec.Location + "\n"),
		"input0":      rec.Input,
		"report":      rec.Report,
	} {
		if err := osutil.WriteFileAtomic(filepath.Join(dir, name), data); err != nil {
			return fmt.Errorf("failed to write crash: %w", err)
		}
	}
	logFile := filepath.Join(dir, "log0.xz")
	if len(rec.Output) == 0 {
		os.Remove(logFile)
	} else if err := writeXZ(logFile, rec.Output); err != nil {
		return fmt.Errorf("failed to write crash log: %w", err)
	}
	return nil
}

type CrashInfo struct {
	Index int
	Input string // filename relative to the workdir
	Log   string // filename relative to the workdir, empty if the crash had no output
	Time  time.Time
}

type BugInfo struct {
	ID        string
	Title     string
	Kind      string
	Channel   string
	Location  string
	Count     int
	Workers   []int
	FirstTime time.Time
	LastTime  time.Time
	Crashes   []*CrashInfo
}

func (cs *CrashStore) BugInfo(id string, full bool) (*BugInfo, error) {
	dir := filepath.Join(cs.BaseDir, "crashes", id)

	ret := &BugInfo{ID: id}
	desc, err := os.ReadFile(filepath.Join(dir, "description"))
	if err != nil {
		return nil, err
	}
	ret.Title = strings.TrimSpace(string(desc))
	ret.Kind = readLine(filepath.Join(dir, "kind"))
	ret.Channel = readLine(filepath.Join(dir, "channel"))
	ret.Location = readLine(filepath.Join(dir, "location"))
	stat := new(crashStat)
	if err := osutil.ReadJSON(filepath.Join(dir, statFileName), stat); err != nil {
		return nil, err
	}
	ret.Count = stat.Count
	ret.Workers = stat.Workers
	ret.FirstTime = stat.FirstTime
	ret.LastTime = stat.LastTime

	files, err := osutil.ListDir(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if !strings.HasPrefix(f, "input") {
			continue
		}
		index, err := strconv.ParseUint(f[len("input"):], 10, 64)
		if err != nil {
			continue
		}
		crash := &CrashInfo{
			Index: int(index),
			Input: filepath.Join("crashes", id, f),
		}
		logFile := filepath.Join("crashes", id, fmt.Sprintf("log%v.xz", index))
		if osutil.IsExist(filepath.Join(cs.BaseDir, logFile)) {
			crash.Log = logFile
		}
		ret.Crashes = append(ret.Crashes, crash)
	}
	sort.Slice(ret.Crashes, func(i, j int) bool {
		return ret.Crashes[i].Index < ret.Crashes[j].Index
	})
	if !full {
		return ret, nil
	}
	for _, crash := range ret.Crashes {
		if stat, err := os.Stat(filepath.Join(cs.BaseDir, crash.Input)); err == nil {
			crash.Time = stat.ModTime()
		}
	}
	sort.SliceStable(ret.Crashes, func(i, j int) bool {
		return ret.Crashes[i].Time.After(ret.Crashes[j].Time)
	})
	return ret, nil
}

func (cs *CrashStore) BugList() ([]*BugInfo, error) {
	dirs, err := osutil.ListDir(filepath.Join(cs.BaseDir, "crashes"))
	if err != nil {
		if os.IsNotExist(err) {
			// If there were no crashes, it's okay that there's no such folder.
			return nil, nil
		}
		return nil, err
	}
	var ret []*BugInfo
	var lastErr error
	errCount := 0
	for _, dir := range dirs {
		info, err := cs.BugInfo(dir, false)
		if err != nil {
			errCount++
			lastErr = err
			continue
		}
		ret = append(ret, info)
	}
	if errCount > 0 {
		log.Logf(0, "crash store: failed to read %v crash dirs, last error: %v", errCount, lastErr)
	}
	sort.Slice(ret, func(i, j int) bool {
		return strings.ToLower(ret[i].Title) < strings.ToLower(ret[j].Title)
	})
	return ret, nil
}

// Report returns the summary of the first occurrence of the crash.
func (cs *CrashStore) Report(id string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cs.path(id), "report"))
}

// Input returns the reproducer stored in the given slot.
func (cs *CrashStore) Input(id string, index int) ([]byte, error) {
	return os.ReadFile(filepath.Join(cs.path(id), fmt.Sprintf("input%v", index)))
}

// ReadLog decompresses a crash log file given relative to the workdir.
func (cs *CrashStore) ReadLog(name string) ([]byte, error) {
	name = filepath.Clean(name)
	if !strings.HasPrefix(name, "crashes"+string(filepath.Separator)) || !strings.HasSuffix(name, ".xz") {
		return nil, fmt.Errorf("bad crash log name %q", name)
	}
	return readXZ(filepath.Join(cs.BaseDir, name))
}

func (cs *CrashStore) path(id string) string {
	return filepath.Join(cs.BaseDir, "crashes", id)
}

func writeXZ(filename string, data []byte) error {
	buf := new(bytes.Buffer)
	w, err := xz.NewWriter(buf)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return osutil.WriteFileAtomic(filename, buf.Bytes())
}

func readXZ(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return io.ReadAll(r)
}

func readLine(filename string) string {
	data, _ := os.ReadFile(filename)
	return strings.TrimSpace(string(data))
}
