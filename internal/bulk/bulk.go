// Package bulk runs a function over a list of items, sequentially or on a
// bounded worker pool, and collects per-item failures.
package bulk

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Operation represents a bulk operation configuration
type Operation struct {
	Jobs            int // 0 = number of CPUs
	ContinueOnError bool
	Ordered         bool
}

// Result represents the result of a bulk operation
type Result struct {
	TotalItems int
	Succeeded  int
	Failed     int
	Errors     []ItemError
}

// ItemError represents an error for a specific item
type ItemError struct {
	Index int
	Item  string
	Error error
}

// ItemFunc is the function to execute for each item
type ItemFunc[T any] func(ctx context.Context, item T) error

// Execute runs fn over items. name labels an item in errors. Errors are
// reported in item order regardless of completion order.
func Execute[T any](ctx context.Context, op *Operation, items []T, name func(T) string, fn ItemFunc[T]) *Result {
	if len(items) == 0 {
		return &Result{}
	}

	// Auto-detect CPU count if jobs == 0
	jobs := op.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	r := &run[T]{op: op, items: items, name: name, jobs: jobs}
	if op.Ordered || jobs == 1 {
		r.sequential(ctx, fn)
	} else {
		r.parallel(ctx, fn)
	}
	return r.result()
}

type run[T any] struct {
	op    *Operation
	items []T
	name  func(T) string
	jobs  int

	mu        sync.Mutex
	completed int
	succeeded int
	errors    []ItemError
}

func (r *run[T]) record(i int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed++
	if err != nil {
		r.errors = append(r.errors, ItemError{Index: i, Item: r.name(r.items[i]), Error: err})
	} else {
		r.succeeded++
	}
}

// sequential processes items one by one
func (r *run[T]) sequential(ctx context.Context, fn ItemFunc[T]) {
	for i, item := range r.items {
		if ctx.Err() != nil {
			return
		}
		err := fn(ctx, item)
		r.record(i, err)
		if err != nil && !r.op.ContinueOnError {
			return
		}
	}
}

// parallel processes items on a pool of r.jobs goroutines. Without
// ContinueOnError the first failure cancels the remaining items.
func (r *run[T]) parallel(ctx context.Context, fn ItemFunc[T]) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.jobs)

	for i, item := range r.items {
		if gctx.Err() != nil {
			break
		}
		i, item := i, item
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := fn(gctx, item)
			r.record(i, err)
			if err != nil && !r.op.ContinueOnError {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run[T]) result() *Result {
	sort.Slice(r.errors, func(a, b int) bool { return r.errors[a].Index < r.errors[b].Index })
	return &Result{
		TotalItems: len(r.items),
		Succeeded:  r.succeeded,
		Failed:     len(r.errors),
		Errors:     r.errors,
	}
}
