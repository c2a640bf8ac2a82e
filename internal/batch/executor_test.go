package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agenthub-backend/internal/domain"
)

func TestExecutor_Run(t *testing.T) {
	t.Run("results land at the input position", func(t *testing.T) {
		e := NewExecutor(3, zap.NewNop())

		results := e.Run(context.Background(), 10, func(ctx context.Context, i int) (domain.Record, error) {
			return domain.Record{"id": fmt.Sprintf("r%d", i)}, nil
		})

		require.Len(t, results, 10)
		for i, r := range results {
			require.NoError(t, r.Err)
			assert.Equal(t, fmt.Sprintf("r%d", i), r.Record.ID())
		}
	})

	t.Run("one failed item does not fail its neighbors", func(t *testing.T) {
		e := NewExecutor(4, zap.NewNop())
		boom := errors.New("duplicate key")

		results := e.Run(context.Background(), 6, func(ctx context.Context, i int) (domain.Record, error) {
			if i == 2 {
				return nil, boom
			}
			return domain.Record{"id": fmt.Sprintf("r%d", i)}, nil
		})

		assert.Equal(t, 1, Failures(results))
		assert.ErrorIs(t, results[2].Err, boom)
		assert.NoError(t, results[1].Err)
		assert.NoError(t, results[3].Err)
	})

	t.Run("at most chunkSize items run concurrently", func(t *testing.T) {
		e := NewExecutor(2, zap.NewNop())
		var inFlight, peak int64
		var mu sync.Mutex

		e.Run(context.Background(), 8, func(ctx context.Context, i int) (domain.Record, error) {
			n := atomic.AddInt64(&inFlight, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			defer atomic.AddInt64(&inFlight, -1)
			return domain.Record{}, nil
		})

		assert.LessOrEqual(t, peak, int64(2))
	})

	t.Run("cancellation stops further chunks", func(t *testing.T) {
		e := NewExecutor(2, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		var calls int64

		results := e.Run(ctx, 8, func(ctx context.Context, i int) (domain.Record, error) {
			atomic.AddInt64(&calls, 1)
			if i == 1 {
				cancel()
			}
			return domain.Record{}, nil
		})

		require.Len(t, results, 8)
		assert.Equal(t, int64(2), calls, "only the first chunk should have run")
		for i := 2; i < 8; i++ {
			assert.ErrorIs(t, results[i].Err, context.Canceled)
		}
	})

	t.Run("zero items", func(t *testing.T) {
		e := NewExecutor(0, zap.NewNop())
		results := e.Run(context.Background(), 0, func(ctx context.Context, i int) (domain.Record, error) {
			t.Fatal("should not be called")
			return nil, nil
		})
		assert.Empty(t, results)
	})
}
