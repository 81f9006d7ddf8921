// Package parallel provides the bounded fan-out used by every
// multi-task code path in the orchestration layer. All other
// orchestration is strictly sequential.
package parallel

import (
	"context"
	"sync"
)

// ForEach runs fn once per item with at most maxDOP invocations in
// flight. A maxDOP below one runs sequentially. The context is checked
// before each item; once it is cancelled the remaining items are
// skipped and the context error is returned. Item errors are collected
// and the first one (by item order) is returned after every started
// invocation has finished. One item failing does not stop siblings.
func ForEach[T any](ctx context.Context, items []T, maxDOP int, fn func(ctx context.Context, item T) error) error {
	if len(items) == 0 {
		return ctx.Err()
	}
	if maxDOP < 1 {
		maxDOP = 1
	}
	if maxDOP > len(items) {
		maxDOP = len(items)
	}

	sem := make(chan struct{}, maxDOP)
	errs := make([]error, len(items))
	var wg sync.WaitGroup

	cancelled := false
	for i, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(index int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[index] = fn(ctx, item)
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if cancelled {
		return ctx.Err()
	}
	return nil
}
