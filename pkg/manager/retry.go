// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/binfuzz/binfuzz/pkg/log"
)

const (
	retryAttempts = 3
	retryBackoff  = 100 * time.Millisecond
)

// Retry runs a durable write up to 3 times with exponential backoff.
// The last error is returned if all attempts fail.
func Retry(ctx context.Context, what string, fn func() error) error {
	backoff := retryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		log.Logf(0, "%v failed (attempt %v/%v): %v", what, attempt, retryAttempts, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%v: %w", what, err)
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%v failed after %v attempts: %w", what, retryAttempts, err)
}
