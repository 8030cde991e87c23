// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/binfuzz/binfuzz/pkg/osutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Nested struct {
	Aaa int
	Bbb string
}

type Config struct {
	Foo     int
	Bar     string
	Qux     []string
	Box     Nested
	Boq     *Nested
	Timeout Duration
}

func TestLoad(t *testing.T) {
	tests := []struct {
		input  string
		output Config
		err    string
	}{
		{
			`{"foo": 42}`,
			Config{Foo: 42},
			"",
		},
		{
			`{"BAR": "Baz", "foo": 42}`,
			Config{Foo: 42, Bar: "Baz"},
			"",
		},
		{
			`{"foobar": 42}`,
			Config{},
			`unknown field "foobar"`,
		},
		{
			`{"foo": 1, "box": {"aaa": 12, "bbb": "bbb"}}`,
			Config{Foo: 1, Box: Nested{Aaa: 12, Bbb: "bbb"}},
			"",
		},
		{
			"# comment\n{\"qux\": [\"aaa\", \"bbb\"]\n  # another\n}",
			Config{Qux: []string{"aaa", "bbb"}},
			"",
		},
		{
			`{"boq": {"aaa": 12, "ccc": "bbb"}}`,
			Config{Boq: &Nested{Aaa: 12}},
			`unknown field "ccc"`,
		},
		{
			`{"timeout": "250ms"}`,
			Config{Timeout: Duration(250 * time.Millisecond)},
			"",
		},
		{
			`{"timeout": 1500}`,
			Config{Timeout: Duration(1500 * time.Millisecond)},
			"",
		},
		{
			`{"timeout": "soon"}`,
			Config{},
			`bad duration "soon"`,
		},
	}
	for i, test := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			var cfg Config
			err := LoadData([]byte(test.input), &cfg)
			if test.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), test.err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(test.output, cfg); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	var cfg Config
	err := LoadYAML([]byte("foo: 3\nqux: [a, b]\ntimeout: 2s\nbox:\n  aaa: 1\n"), &cfg)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Foo:     3,
		Qux:     []string{"a", "b"},
		Timeout: Duration(2 * time.Second),
		Box:     Nested{Aaa: 1},
	}, cfg)

	err = LoadYAML([]byte("nope: 1\n"), &cfg)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "cfg.yml")
	require.NoError(t, osutil.WriteFile(yml, []byte("bar: x\n")))
	var cfg Config
	require.NoError(t, LoadFile(yml, &cfg))
	assert.Equal(t, "x", cfg.Bar)

	js := filepath.Join(dir, "cfg.json")
	require.NoError(t, SaveFile(js, &Config{Foo: 7, Timeout: Duration(time.Second)}))
	var cfg2 Config
	require.NoError(t, LoadFile(js, &cfg2))
	assert.Equal(t, 7, cfg2.Foo)
	assert.Equal(t, time.Second, cfg2.Timeout.Duration())

	assert.Error(t, LoadFile("", &cfg))
}

func TestLoadBadType(t *testing.T) {
	want := "config type is not pointer to struct"
	assert.EqualError(t, LoadData([]byte("{}"), 1), want)
	i := 0
	assert.EqualError(t, LoadData([]byte("{}"), &i), want)
	s := struct{}{}
	assert.EqualError(t, LoadData([]byte("{}"), s), want)
}
