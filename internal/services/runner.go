package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Runner owns detached background work. Callers never join individual tasks;
// the process drains them all on shutdown with Wait.
type Runner struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewRunner returns an open Runner.
func NewRunner() *Runner { return &Runner{} }

// Go runs fn in its own goroutine. A panic in fn is logged and swallowed.
// It reports false, without running fn, once Close has been called.
func (r *Runner) Go(name string, fn func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("task", name).
					Str("panic", fmt.Sprint(rec)).
					Msg("background task panic")
			}
		}()
		fn()
	}()
	return true
}

// Close stops accepting new work. Running tasks continue.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Wait closes the runner and blocks until every task finished or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.Close()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
