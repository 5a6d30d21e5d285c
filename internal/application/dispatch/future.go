package dispatch

import (
	"context"

	"github.com/aescanero/unite/pkg/domain"
)

// Future is the pending result of a dispatched execution
type Future struct {
	done      chan struct{}
	execution *domain.Execution
	err       error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve records the result; it must be called exactly once
func (f *Future) resolve(execution *domain.Execution, err error) {
	f.execution = execution
	f.err = err
	close(f.done)
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the execution finishes or ctx is done. It returns the
// same values a synchronous Execute call would. Giving up on ctx does not
// stop the execution.
func (f *Future) Wait(ctx context.Context) (*domain.Execution, error) {
	select {
	case <-f.done:
		return f.execution, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
