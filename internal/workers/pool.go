package workers

import (
	"context"
	"sync"
)

// Map runs fn over items on a bounded pool of workers and returns results in
// input order. Statement-level work is independent, so order only matters
// for reproducible output, not for correctness.
//
// Cancellation is cooperative: items already handed to a worker complete,
// but once ctx is done no further item is scheduled. The second return value
// is the number of items actually processed; unprocessed slots hold the zero
// value of R.
func Map[T, R any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T) R) ([]R, int) {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]R, len(items))
	jobs := make(chan int)

	var mu sync.Mutex
	processed := 0

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = fn(ctx, items[i])
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, processed
}
