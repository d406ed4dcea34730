// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotStartable is returned by Start when the Runner has already been used.
var ErrNotStartable = errors.New("runner cannot be started")

type (
	// Runner owns one worker goroutine.
	Runner struct {
		// atomic for lock-free reads
		state atomic.Int32

		mu      sync.Mutex
		lastErr error

		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startedCh chan struct{}
		doneCh    chan struct{}
		doneOnce  sync.Once
	}

	// WorkFunc is the body of the worker goroutine. It must return once ctx is
	// cancelled; returning context.Canceled (or nil) counts as a clean stop.
	WorkFunc func(ctx context.Context) error
)

// New returns a Runner in StateCreated.
func New() *Runner {
	r := &Runner{
		startedCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	r.state.Store(int32(StateCreated))
	return r
}

// State returns the current state (atomic, lock-free read).
func (r *Runner) State() State {
	return State(r.state.Load())
}

// IsRunning returns true if the worker is in StateRunning.
func (r *Runner) IsRunning() bool {
	return r.State() == StateRunning
}

// LastError returns the error that caused StateFailed, or nil.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Done is closed once the worker can no longer make progress: after it
// returned, after Stop, or when Start failed.
func (r *Runner) Done() <-chan struct{} {
	return r.doneCh
}

// Start launches work on its own goroutine.
//
// The worker's context is detached from ctx: cancelling ctx after Start
// returns does not stop the worker; Stop does. A ctx that is already cancelled
// moves the Runner to StateFailed.
func (r *Runner) Start(ctx context.Context, work WorkFunc) error {
	select {
	case <-ctx.Done():
		err := fmt.Errorf("context cancelled before start: %w", ctx.Err())
		r.fail(err)
		return err
	default:
	}

	if !r.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("%w: state is %s", ErrNotStartable, r.State())
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
			close(r.startedCh)
		}
		err := work(workCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.fail(err)
			return
		}
		r.state.Store(int32(StateStopped))
		r.markDone()
	}()
	return nil
}

// WaitForReady blocks until the worker is running or ctx is cancelled.
func (r *Runner) WaitForReady(ctx context.Context) error {
	select {
	case <-r.startedCh:
		return nil
	case <-r.doneCh:
		if err := r.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("%w: state is %s", ErrNotStartable, r.State())
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker: %w", ctx.Err())
	}
}

// Stop cancels the worker and waits for it to return. It is safe to call more
// than once and before Start.
func (r *Runner) Stop() {
	for {
		current := r.State()
		switch current {
		case StateStopped, StateFailed:
			r.wg.Wait()
			return
		case StateCreated:
			if r.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				r.markDone()
				return
			}
		case StateStopping:
			r.wg.Wait()
			return
		case StateStarting, StateRunning:
			if !r.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				continue
			}
			r.cancel()
			r.wg.Wait()
			return
		default:
			return
		}
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	r.state.Store(int32(StateFailed))
	if r.cancel != nil {
		r.cancel()
	}
	r.markDone()
}

func (r *Runner) markDone() {
	r.doneOnce.Do(func() { close(r.doneCh) })
}
