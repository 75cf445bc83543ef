package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/sentinel"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Denied    int32 // rate limited or over capacity
	Conflicts int32
	Errors    int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Denied + r.Conflicts + r.Errors
}

// RunConcurrent executes fn in parallel goroutines and buckets the outcomes.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, denied, conflicts, errs atomic.Int32

	for i := range goroutines {
		wg.Go(func() {
			err := fn(i)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRateLimited), dErrors.HasCode(err, dErrors.CodeCapacity):
				denied.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			default:
				errs.Add(1)
			}
		})
	}
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Denied:    denied.Load(),
		Conflicts: conflicts.Load(),
		Errors:    errs.Load(),
	}
}
