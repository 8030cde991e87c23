// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vmimpl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// OutputMerger merges output streams of a worker into complete lines.
// Every line is written to tee (the worker log) and sent to Output.
type OutputMerger struct {
	Output  chan []byte
	streams map[string]*streamState
	teeMu   sync.Mutex
	tee     io.Writer
	wg      sync.WaitGroup
}

type streamState struct {
	done chan struct{} // Closed when the reader exits.
	err  error
}

type MergerError struct {
	Name string
	R    io.ReadCloser
	Err  error
}

func (err MergerError) Error() string {
	return fmt.Sprintf("failed to read from %v: %v", err.Name, err.Err)
}

func NewOutputMerger(tee io.Writer) *OutputMerger {
	return &OutputMerger{
		Output:  make(chan []byte, 1000),
		streams: make(map[string]*streamState),
		tee:     tee,
	}
}

// Wait waits for all streams to reach EOF and closes Output.
func (merger *OutputMerger) Wait() {
	merger.wg.Wait()
	close(merger.Output)
}

// Errors returns a channel that receives the first stream error (io.EOF included).
func (merger *OutputMerger) Errors(ctx context.Context) <-chan error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, stream := range merger.streams {
		stream := stream
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return nil
			case <-stream.done:
				return stream.err
			}
		})
	}
	ret := make(chan error, 1)
	go func() {
		if err := eg.Wait(); err != nil {
			ret <- err
		}
		close(ret)
	}()
	return ret
}

func (merger *OutputMerger) Add(name string, r io.ReadCloser) {
	state := &streamState{
		done: make(chan struct{}),
	}
	merger.streams[name] = state
	merger.wg.Add(1)
	go func() {
		defer merger.wg.Done()
		defer close(state.done)
		err := merger.run(r)
		state.err = MergerError{name, r, err}
	}()
}

func (merger *OutputMerger) run(r io.ReadCloser) error {
	var pending []byte
	var buf [4 << 10]byte
	for {
		n, err := r.Read(buf[:])
		if n != 0 {
			buf := buf[:n]
			if bytes.IndexByte(buf, '\r') != -1 {
				buf = bytes.ReplaceAll(buf, []byte("\r"), nil)
			}
			pending = append(pending, buf...)
			if pos := bytes.LastIndexByte(pending, '\n'); pos != -1 {
				out := pending[:pos+1]
				merger.write(out)
				// The consumer must keep up, otherwise lines are only teed.
				select {
				case merger.Output <- append([]byte{}, out...):
				default:
				}
				pending = pending[:copy(pending, pending[pos+1:])]
			}
		}
		if err != nil {
			if len(pending) != 0 {
				pending = append(pending, '\n')
				merger.write(pending)
				select {
				case merger.Output <- pending:
				default:
				}
			}
			r.Close()
			return err
		}
	}
}

func (merger *OutputMerger) write(data []byte) {
	if merger.tee == nil {
		return
	}
	merger.teeMu.Lock()
	merger.tee.Write(data)
	merger.teeMu.Unlock()
}
