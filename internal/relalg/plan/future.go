package plan

import (
	"context"
	"sync"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

// Future is a single-assignment result slot. The first of Complete, Fail or
// Cancel wins; later calls return false and change nothing.
type Future struct {
	mu     sync.Mutex
	done   chan struct{}
	closed bool
	table  *types.Table
	err    error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(t *types.Table, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.table, f.err, f.closed = t, err, true
	close(f.done)
	return true
}

func (f *Future) Complete(t *types.Table) bool { return f.settle(t, nil) }

func (f *Future) Fail(err error) bool {
	if err == nil {
		err = relerr.Computation(nil)
	}
	return f.settle(nil, err)
}

// Cancel settles the future with relerr.Cancelled.
func (f *Future) Cancel() bool { return f.settle(nil, relerr.Cancelled) }

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has a value.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Cancelled reports whether the future was settled by Cancel.
func (f *Future) Cancelled() bool {
	if !f.Settled() {
		return false
	}
	_, err := f.Result()
	return relerr.IsCancellation(err)
}

// Result returns the settled value. It must only be called after Done is
// closed; before that it returns (nil, nil).
func (f *Future) Result() (*types.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table, f.err
}

// Await blocks until the future is settled or ctx is done. A done context
// does not cancel the future.
func (f *Future) Await(ctx context.Context) (*types.Table, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
