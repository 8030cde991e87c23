// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	maxTokens   = 1 << 12
	maxTokenLen = 128
)

// Dict is a set of tokens used by token insert/overwrite mutations.
// Tokens keep the order in which they were added, so that mutations stay deterministic.
type Dict struct {
	mu     sync.RWMutex
	tokens [][]byte
	seen   map[string]bool
}

func NewDict() *Dict {
	return &Dict{seen: make(map[string]bool)}
}

// LoadDict parses an AFL-format dictionary file.
func LoadDict(file string) (*Dict, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read dict: %w", err)
	}
	d, err := ParseDict(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", file, err)
	}
	return d, nil
}

// ParseDict parses lines of the form:
//
//	# comment
//	name="value"
//	name@2="value"
//	"value"
//
// Values support \\, \" and \xNN escapes.
func ParseDict(data []byte) (*Dict, error) {
	d := NewDict()
	s := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; s.Scan(); line++ {
		ln := strings.TrimSpace(s.Text())
		if ln == "" || ln[0] == '#' {
			continue
		}
		start := strings.IndexByte(ln, '"')
		if start < 0 || !strings.HasSuffix(ln, `"`) || start == len(ln)-1 {
			return nil, fmt.Errorf("line %v: expected quoted value", line)
		}
		if name := strings.TrimSpace(ln[:start]); name != "" && !strings.HasSuffix(name, "=") {
			return nil, fmt.Errorf("line %v: expected name=\"value\"", line)
		}
		tok, err := unescape(ln[start+1 : len(ln)-1])
		if err != nil {
			return nil, fmt.Errorf("line %v: %w", line, err)
		}
		d.Add(tok)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

func unescape(s string) ([]byte, error) {
	var res []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			return nil, fmt.Errorf("unescaped quote")
		}
		if c != '\\' {
			res = append(res, c)
			continue
		}
		if i+1 >= len(s) {
			return nil, fmt.Errorf("trailing backslash")
		}
		i++
		switch s[i] {
		case '\\', '"':
			res = append(res, s[i])
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape")
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad \\x escape: %w", err)
			}
			res = append(res, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return res, nil
}

// Add adds a token unless it is empty, too long, already present or the dictionary is full.
func (d *Dict) Add(tok []byte) bool {
	if len(tok) == 0 || len(tok) > maxTokenLen {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[string(tok)] || len(d.tokens) >= maxTokens {
		return false
	}
	d.seen[string(tok)] = true
	d.tokens = append(d.tokens, append([]byte{}, tok...))
	return true
}

func (d *Dict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tokens)
}

func (d *Dict) Tokens() [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([][]byte{}, d.tokens...)
}

func (d *Dict) choose(r *rand.Rand) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.tokens) == 0 {
		return nil
	}
	return d.tokens[r.Intn(len(d.tokens))]
}
