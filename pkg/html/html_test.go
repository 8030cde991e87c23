// Copyright 2023 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package html

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in  time.Duration
		out string
	}{
		{0, ""},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h03m"},
		{26 * time.Hour, "1d02h"},
		{300 * time.Hour, "12d"},
	}
	for _, test := range tests {
		assert.Equal(t, test.out, formatDuration(test.in), "%v", test.in)
	}
}

func TestFormatLateness(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "never", formatLateness(now, time.Time{}))
	assert.Equal(t, "now", formatLateness(now, now.Add(-time.Minute)))
	assert.Equal(t, "1h00m", formatLateness(now, now.Add(-time.Hour)))
}

func TestCreate(t *testing.T) {
	templ := Create(`<html><head>{{HEAD}}</head><body>{{link .URL .Text}} {{formatShort .ID}}</body></html>`)
	buf := new(bytes.Buffer)
	require.NoError(t, templ.Execute(buf, map[string]string{
		"URL":  "/crash?id=1",
		"Text": "a<b",
		"ID":   "0123456789abcdef",
	}))
	assert.Contains(t, buf.String(), `<a href="/crash?id=1">a&lt;b</a>`)
	assert.Contains(t, buf.String(), "01234567<")
	assert.Contains(t, buf.String(), "<style")
}
