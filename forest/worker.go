package forest

import (
	"context"

	"github.com/colorfulnotion/worldstate/stateerrors"
)

// job is one operation run on the forest worker.
type job struct {
	fn   func() error
	done chan error
}

// run is the forest's single execution stream. Every operation that reads
// or writes tree state goes through it, so concurrent callers observe one
// total order and never a half-updated path.
func (f *Forest) run(jobs <-chan job, quit <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case <-quit:
			return
		case j := <-jobs:
			if f.broken != nil {
				j.done <- f.broken
				continue
			}
			j.done <- j.fn()
		}
	}
}

// do runs fn on the worker and waits for it. ctx only bounds the wait for
// the worker to accept the job; an accepted job always runs to completion.
func (f *Forest) do(ctx context.Context, fn func() error) error {
	f.mu.RLock()
	state, jobs, quit := f.state, f.jobs, f.quit
	f.mu.RUnlock()

	switch state {
	case stateNew:
		return stateerrors.ErrNotStarted
	case stateStopped:
		return stateerrors.ErrStopped
	}

	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case jobs <- j:
	case <-quit:
		return stateerrors.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-j.done
}
