// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbolizer

import (
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return NewTable([]Symbol{
		{Name: "png_read_row", Addr: 0x2000, Size: 0x100},
		{Name: "main", Addr: 0x1000, Size: 0x40},
		{Name: "inflate", Mangled: "_Z7inflatev", Addr: 0x3000, Size: 0x80},
		{Name: "png_crc_read", Addr: 0x2100, Size: 0x20},
	})
}

func TestLookup(t *testing.T) {
	tab := testTable()
	s, ok := tab.Lookup(0x2010)
	require.True(t, ok)
	assert.Equal(t, "png_read_row", s.Name)
	_, ok = tab.Lookup(0x1040)
	assert.False(t, ok)
	_, ok = tab.Lookup(0x10)
	assert.False(t, ok)
	assert.Equal(t, "main+0x4", tab.Describe(0x1004))
	assert.Equal(t, "0x5000", tab.Describe(0x5000))
	var nilTab *Table
	assert.Equal(t, "0x10", nilTab.Describe(0x10))
}

func TestMatch(t *testing.T) {
	tab := testTable()
	rs, err := tab.Match([]string{"png_*"})
	require.NoError(t, err)
	// Adjacent functions are merged into one range.
	assert.Equal(t, Ranges{{Start: 0x2000, End: 0x2120}}, rs)
	assert.True(t, rs.Contains(0x2000))
	assert.True(t, rs.Contains(0x211f))
	assert.False(t, rs.Contains(0x2120))
	assert.False(t, rs.Contains(0x1fff))

	rs, err = tab.Match([]string{"_Z7*"})
	require.NoError(t, err)
	assert.Equal(t, Ranges{{Start: 0x3000, End: 0x3080}}, rs)

	_, err = tab.Match([]string{"[bad"})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	rs := Ranges{{10, 20}, {0, 5}, {15, 30}, {30, 31}, {40, 50}}
	assert.Equal(t, Ranges{{0, 5}, {10, 31}, {40, 50}}, rs.Normalize())
	assert.Nil(t, Ranges(nil).Normalize())
}

func TestReadELF(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF only")
	}
	bin, err := os.Executable()
	require.NoError(t, err)
	tab, err := ReadELF(bin)
	require.NoError(t, err)
	require.NotZero(t, tab.Len())
	found := false
	for _, s := range tab.Symbols() {
		if strings.HasSuffix(s.Name, "symbolizer.TestReadELF") {
			found = true
			got, ok := tab.Lookup(s.Addr)
			require.True(t, ok)
			assert.Equal(t, s.Name, got.Name)
		}
	}
	assert.True(t, found)
}
