package cost

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one fanned-out task: either a value or an error.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the task succeeded.
func (r *Result[T]) Ok() bool {
	return r.Err == nil
}

// fanOut runs tasks on a bounded pool. Tasks see a context that keeps the
// caller's values but not its cancellation, so every branch runs to
// completion once submitted.
type fanOut struct {
	g   *errgroup.Group
	ctx context.Context
}

func newFanOut(ctx context.Context, size int) *fanOut {
	g := new(errgroup.Group)
	if size < 1 {
		size = 1
	}
	g.SetLimit(size)
	return &fanOut{g: g, ctx: context.WithoutCancel(ctx)}
}

// submit schedules fn and returns the slot its result lands in. The slot
// must only be read after wait returns.
func submit[T any](f *fanOut, name string, fn func(context.Context) (T, error)) *Result[T] {
	r := &Result[T]{}
	f.g.Go(func() error {
		defer func() {
			if p := recover(); p != nil {
				r.Err = fmt.Errorf("%s: panic: %v", name, p)
			}
		}()
		r.Value, r.Err = fn(f.ctx)
		return nil
	})
	return r
}

// wait blocks until every submitted task has finished.
func (f *fanOut) wait() {
	_ = f.g.Wait()
}
