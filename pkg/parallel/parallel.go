// Package parallel runs independent operations with a concurrency cap.
package parallel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"agentengine/pkg/faults"
)

// Op is one unit of work.
type Op[T any] func(ctx context.Context) (T, error)

// Outcome is the result of one Op. Exactly one of Value or Err is meaningful.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Execute runs every op with at most maxConcurrent in flight and returns their
// outcomes in input order. A failing or panicking op never stops the others;
// its failure is reported in its own Outcome. Ops that cannot start because
// ctx ended report ctx.Err(). maxConcurrent below 1 is treated as 1.
func Execute[T any](ctx context.Context, ops []Op[T], maxConcurrent int) []Outcome[T] {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	out := make([]Outcome[T], len(ops))
	if len(ops) == 0 {
		return out
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var wg sync.WaitGroup
	for i, op := range ops {
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i].Err = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			out[i] = run(ctx, op)
		}()
	}
	wg.Wait()
	return out
}

func run[T any](ctx context.Context, op Op[T]) (o Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			o = Outcome[T]{Err: faults.New(faults.Generic, fmt.Sprintf("operation panicked: %v\n%s", r, debug.Stack()))}
		}
	}()
	v, err := op(ctx)
	if err != nil {
		return Outcome[T]{Err: err}
	}
	return Outcome[T]{Value: v}
}

// Errors returns the failures among outcomes, in order.
func Errors[T any](outcomes []Outcome[T]) []error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
