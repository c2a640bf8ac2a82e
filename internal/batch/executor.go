// Package batch chunks N-item mutations into bounded groups so a large
// request cannot overwhelm a backend. Chunks run one after another; items
// inside a chunk run concurrently, and results always land at the input
// position.
package batch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"agenthub-backend/internal/domain"
)

// DefaultChunkSize bounds how many items are in flight at once.
const DefaultChunkSize = 10

// Result is the per-item outcome: either the produced record or that
// item's error. Create and update batches report partial success instead
// of collapsing to a single failure.
type Result struct {
	Record domain.Record
	Err    error
}

// Executor runs batched operations.
type Executor struct {
	chunkSize int
	logger    *zap.Logger
}

func NewExecutor(chunkSize int, logger *zap.Logger) *Executor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Executor{chunkSize: chunkSize, logger: logger}
}

// Run executes do for indices 0..n-1 and returns results in input order.
// Chunk boundaries never affect ordering. A cancelled context stops new
// chunks from starting; items of the current chunk finish and report.
func (e *Executor) Run(ctx context.Context, n int, do func(ctx context.Context, i int) (domain.Record, error)) []Result {
	results := make([]Result, n)
	for start := 0; start < n; start += e.chunkSize {
		if err := ctx.Err(); err != nil {
			for i := start; i < n; i++ {
				results[i] = Result{Err: err}
			}
			break
		}
		end := start + e.chunkSize
		if end > n {
			end = n
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := do(ctx, i)
				results[i] = Result{Record: rec, Err: err}
			}(i)
		}
		wg.Wait()
	}
	return results
}

// Failures counts the failed items of a batch.
func Failures(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
