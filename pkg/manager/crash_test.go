// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCrash(title string, channel report.Channel, worker int) *report.CrashRecord {
	location := "loc " + title
	return &report.CrashRecord{
		Input:    []byte("input " + title),
		Kind:     executor.Crash,
		Channel:  channel,
		Title:    title,
		Location: location,
		Key:      report.Key(channel, location),
		Worker:   worker,
		Output:   []byte("panic: " + title),
		Report:   []byte("report " + title),
	}
}

func TestCrashList(t *testing.T) {
	crashStore := &CrashStore{BaseDir: t.TempDir()}

	first, err := crashStore.SaveCrash(testCrash("Title A", report.ChannelCrash, 0))
	assert.NoError(t, err)
	assert.True(t, first)
	for i := 0; i < 2; i++ {
		first, err := crashStore.SaveCrash(testCrash("Title B", report.ChannelCrash, i))
		assert.NoError(t, err)
		assert.Equal(t, i == 0, first)
	}
	for i := 0; i < 3; i++ {
		first, err := crashStore.SaveCrash(testCrash("Title C", report.ChannelMemory, 1))
		assert.NoError(t, err)
		assert.Equal(t, i == 0, first)
	}

	list, err := crashStore.BugList()
	assert.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "Title A", list[0].Title)
	assert.Equal(t, 1, list[0].Count)
	assert.Equal(t, "Title B", list[1].Title)
	assert.Equal(t, 2, list[1].Count)
	assert.Equal(t, []int{0, 1}, list[1].Workers)
	assert.Equal(t, "Title C", list[2].Title)
	assert.Equal(t, 3, list[2].Count)
	assert.Equal(t, []int{1}, list[2].Workers)
	assert.Equal(t, "memory", list[2].Channel)
	assert.Equal(t, "crash", list[2].Kind)
	assert.Len(t, list[2].Crashes, 1)
}

func TestEmptyCrashList(t *testing.T) {
	crashStore := &CrashStore{BaseDir: t.TempDir()}
	list, err := crashStore.BugList()
	assert.NoError(t, err)
	assert.Empty(t, list)
}

func TestDuplicateNotPersisted(t *testing.T) {
	crashStore := &CrashStore{BaseDir: t.TempDir()}
	var key string
	for i := 0; i < 20; i++ {
		rec := testCrash("Title A", report.ChannelCrash, i%3)
		rec.Input = []byte(fmt.Sprintf("input %v", i))
		rec.Output = []byte(fmt.Sprintf("panic: occurrence %v", i))
		rec.Report = []byte(fmt.Sprintf("report %v", i))
		first, err := crashStore.SaveCrash(rec)
		require.NoError(t, err)
		assert.Equal(t, i == 0, first)
		key = rec.Key
	}
	files, err := os.ReadDir(filepath.Join(crashStore.BaseDir, "crashes", key))
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"description", "kind", "channel", "location",
		"input0", "log0.xz", "report", "stat.json"}, names)

	info, err := crashStore.BugInfo(key, true)
	require.NoError(t, err)
	assert.Equal(t, 20, info.Count)
	assert.Equal(t, []int{0, 1, 2}, info.Workers)
	require.Len(t, info.Crashes, 1)
	input, err := crashStore.Input(key, 0)
	require.NoError(t, err)
	assert.Equal(t, "input 0", string(input))
	output, err := crashStore.ReadLog(info.Crashes[0].Log)
	require.NoError(t, err)
	assert.Equal(t, "panic: occurrence 0", string(output))
	rep, err := crashStore.Report(key)
	require.NoError(t, err)
	assert.Equal(t, "report 0", string(rep))
}

func TestSameLocationDifferentChannel(t *testing.T) {
	crashStore := &CrashStore{BaseDir: t.TempDir()}
	first, err := crashStore.SaveCrash(testCrash("Title A", report.ChannelCrash, 0))
	require.NoError(t, err)
	assert.True(t, first)
	first, err = crashStore.SaveCrash(testCrash("Title A", report.ChannelTimeout, 0))
	require.NoError(t, err)
	assert.True(t, first)
	list, err := crashStore.BugList()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCrashLogAndReport(t *testing.T) {
	crashStore := &CrashStore{BaseDir: t.TempDir()}
	rec := testCrash("Title A", report.ChannelCrash, 3)
	_, err := crashStore.SaveCrash(rec)
	require.NoError(t, err)

	info, err := crashStore.BugInfo(rec.Key, false)
	require.NoError(t, err)
	require.Len(t, info.Crashes, 1)
	require.NotEmpty(t, info.Crashes[0].Log)
	output, err := crashStore.ReadLog(info.Crashes[0].Log)
	require.NoError(t, err)
	assert.Equal(t, rec.Output, output)

	input, err := crashStore.Input(rec.Key, info.Crashes[0].Index)
	require.NoError(t, err)
	assert.Equal(t, rec.Input, input)

	rep, err := crashStore.Report(rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Report, rep)

	_, err = crashStore.ReadLog("../../etc/passwd.xz")
	assert.Error(t, err)
	_, err = crashStore.SaveCrash(&report.CrashRecord{Title: "no key"})
	assert.Error(t, err)
}
