// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/corpus"
	"github.com/binfuzz/binfuzz/pkg/db"
	"github.com/binfuzz/binfuzz/pkg/mgrconfig"
	"github.com/binfuzz/binfuzz/pkg/report"
	"github.com/binfuzz/binfuzz/pkg/stat"
	"github.com/binfuzz/binfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpTemplates(t *testing.T) {
	for i, typ := range templTypes {
		t.Run(fmt.Sprintf("%v_%T", i, typ.data), func(t *testing.T) {
			data := testutil.RandValue(t, typ.data)
			if err := typ.templ.Execute(io.Discard, data); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestHttpPages(t *testing.T) {
	cfg := mgrconfig.DefaultValues()
	cfg.Name = "test-campaign"
	cfg.Workdir = t.TempDir()
	store, err := corpus.Open(cfg.CorpusDir(), 16, false)
	require.NoError(t, err)
	_, _, err = store.Insert([]byte("corpus input"), corpus.Meta{Worker: 2})
	require.NoError(t, err)
	crashes := NewCrashStore(cfg)
	rec := testCrash("Title A", report.ChannelCrash, 1)
	_, err = crashes.SaveCrash(rec)
	require.NoError(t, err)

	stats := stat.NewSet(false)
	stats.New("exec total", "Total executions", stat.Prometheus("bf_test_execs")).Add(42)
	serv := &HTTPServer{
		Cfg:        cfg,
		CampaignID: "campaign-1",
		StartTime:  time.Now(),
		CrashStore: crashes,
		Stats:      stats,
		Workers: func() []UIWorker {
			return []UIWorker{{ID: 0, State: "running", Generation: "abcdef0123"}}
		},
	}
	serv.Corpus.Store(store)
	ts := httptest.NewServer(serv.Handler())
	defer ts.Close()

	get := func(url string) string {
		resp, err := http.Get(ts.URL + url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, "%v: %s", url, body)
		return string(body)
	}
	main := get("/")
	assert.Contains(t, main, "test-campaign")
	assert.Contains(t, main, "Title A")
	assert.Contains(t, main, "exec total")
	assert.Contains(t, main, "running")
	assert.Contains(t, get("/crashes"), rec.Key)
	assert.Contains(t, get("/crash?id="+rec.Key), "Reproducers")
	assert.Equal(t, string(rec.Report), get("/report?id="+rec.Key))
	assert.Equal(t, string(rec.Input), get(fmt.Sprintf("/input?id=%v&index=0", rec.Key)))
	assert.Contains(t, get("/corpus"), "entries: 1")
	assert.Equal(t, "corpus input", get("/input?corpus="+store.IDs()[0]))
	assert.Contains(t, get("/metrics"), "bf_test_execs 42")
	assert.Contains(t, get("/config?raw=1"), `"name": "test-campaign"`)

	pack := filepath.Join(t.TempDir(), "download.db")
	require.NoError(t, os.WriteFile(pack, []byte(get("/corpus.db")), 0644))
	inputs, err := db.ReadInputs(pack)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("corpus input")}, inputs)

	resp, err := http.Get(ts.URL + "/crash?id=../x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
