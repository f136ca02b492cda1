// Package pool runs short-lived bounded worker pools fed by a task queue.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result pairs a task with its outcome. Results come back in completion
// order, not submission order.
type Result[T, R any] struct {
	Task  T
	Value R
	Err   error
}

// Size derives a worker count that grows with the batch: max(1, n/divisor),
// capped at limit when limit is positive and never above n.
func Size(n, divisor, limit int) int {
	if n <= 0 {
		return 0
	}
	if divisor <= 0 {
		divisor = 1
	}
	size := n / divisor
	if size < 1 {
		size = 1
	}
	if limit > 0 && size > limit {
		size = limit
	}
	if size > n {
		size = n
	}
	return size
}

// Process runs fn for every task on at most workers goroutines and returns
// once every task has finished. A failing task does not stop its siblings;
// its error is reported in its Result.
func Process[T, R any](ctx context.Context, workers int, tasks []T, fn func(context.Context, T) (R, error)) []Result[T, R] {
	if len(tasks) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan T, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	results := make(chan Result[T, R], len(tasks))
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for task := range queue {
				value, err := fn(ctx, task)
				results <- Result[T, R]{Task: task, Value: value, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make([]Result[T, R], 0, len(tasks))
	for result := range results {
		out = append(out, result)
	}
	return out
}
