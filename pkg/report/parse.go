// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package report

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/binfuzz/binfuzz/pkg/executor"
	"github.com/maruel/panicparse/stack"
)

// Number of frames that identify a crash location.
const locationFrames = 4

type oops struct {
	header  []byte
	formats []oopsFormat
}

type oopsFormat struct {
	re  *regexp.Regexp
	fmt string
}

// Go runtime messages that terminate a worker process.
var goOopses = []*oops{
	{
		[]byte("panic: "),
		[]oopsFormat{
			{regexp.MustCompile(`panic: runtime error: ([a-z ]+)`), "runtime error: %[1]v"},
		},
	},
	{
		[]byte("fatal error: "),
		[]oopsFormat{
			{regexp.MustCompile(`fatal error: (concurrent map [a-z ]+)`), "fatal error: %[1]v"},
			{regexp.MustCompile(`fatal error: (stack overflow)`), "fatal error: %[1]v"},
			{regexp.MustCompile(`fatal error: (out of memory)`), "fatal error: %[1]v"},
		},
	},
	{
		[]byte("unexpected signal during runtime execution"),
		nil,
	},
	{
		[]byte("SIGSEGV: segmentation violation"),
		nil,
	},
	{
		[]byte("SIGBUS: bus error"),
		nil,
	},
}

// ContainsCrash searches worker console output for Go runtime crash messages.
func ContainsCrash(output []byte) bool {
	_, start := findOops(output)
	return start != -1
}

// Parse extracts the first crash from worker console output.
// Returns nil if output does not contain a crash.
// The input is unknown at this level and must be filled in by the caller.
func Parse(output []byte, worker int) *CrashRecord {
	oops, start := findOops(output)
	if oops == nil {
		return nil
	}
	text := output[start:]
	title, loc := describe(text, oops)
	rec := &CrashRecord{
		Kind:     executor.Crash,
		Channel:  ChannelCrash,
		Title:    title,
		Location: loc,
		Key:      Key(ChannelCrash, loc),
		Worker:   worker,
		Output:   append([]byte{}, text...),
	}
	rec.Report = format(rec)
	return rec
}

func findOops(output []byte) (*oops, int) {
	for pos := 0; pos < len(output); {
		next := bytes.IndexByte(output[pos:], '\n')
		if next != -1 {
			next += pos
		} else {
			next = len(output)
		}
		for _, oops := range goOopses {
			if matchOops(output[pos:next], oops) {
				return oops, pos
			}
		}
		pos = next + 1
	}
	return nil, -1
}

func matchOops(line []byte, oops *oops) bool {
	return bytes.HasPrefix(line, oops.header)
}

func extractDescription(output []byte, oops *oops) string {
	for _, format := range oops.formats {
		match := format.re.FindSubmatch(output)
		if match == nil {
			continue
		}
		var args []interface{}
		for _, arg := range match[1:] {
			args = append(args, strings.TrimSpace(string(arg)))
		}
		return fmt.Sprintf(format.fmt, args...)
	}
	return firstLine(output)
}

// crashTitle returns the title and the location of a recovered panic.
func crashTitle(output []byte) (string, string) {
	oops, start := findOops(output)
	if oops == nil {
		return describe(output, nil)
	}
	return describe(output[start:], oops)
}

func describe(output []byte, oops *oops) (string, string) {
	title := firstLine(output)
	if oops != nil {
		title = extractDescription(output, oops)
	}
	loc := stackLocation(output)
	if loc == "" {
		return title, title
	}
	top := loc
	if pos := strings.IndexAny(top, " \n"); pos != -1 {
		top = top[:pos]
	}
	return fmt.Sprintf("%v in %v", title, top), loc
}

// stackLocation returns the top frames of the crashing goroutine that belong to the target:
// "pkg.Func file.go:line" for the first frame and function names for the rest.
// Runtime frames and frames of the executor are not part of the location.
func stackLocation(output []byte) string {
	output = argsRe.ReplaceAll(output, []byte("$1(...)"))
	ctx, err := stack.ParseDump(bytes.NewBuffer(output), io.Discard, false)
	if err != nil || ctx == nil {
		return ""
	}
	for _, gr := range ctx.Goroutines {
		if !gr.First {
			continue
		}
		var frames []string
		calls := gr.Stack.Calls
		for i := range calls {
			c := &calls[i]
			raw := c.Func.Raw
			if strings.HasSuffix(raw, executorFrame) {
				break
			}
			if skipFrame(raw) {
				continue
			}
			if len(frames) == 0 {
				frames = append(frames, fmt.Sprintf("%v %v:%v",
					c.Func.PkgDotName(), filepath.Base(c.SrcPath), c.Line))
			} else {
				frames = append(frames, c.Func.PkgDotName())
			}
			if len(frames) == locationFrames {
				break
			}
		}
		return strings.Join(frames, "\n")
	}
	return ""
}

// Argument lists of frames are elided, their format depends on the Go version.
var argsRe = regexp.MustCompile(`(?m)^(\S[^\n]*)\([^\n]*\)$`)

// The frame that invokes the harness.
const executorFrame = "pkg/executor.(*Env).call"

func skipFrame(raw string) bool {
	return raw == "panic" ||
		strings.HasPrefix(raw, "runtime.") ||
		strings.HasPrefix(raw, "runtime/") ||
		strings.Contains(raw, executorFrame+".func")
}
