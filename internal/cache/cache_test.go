package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(capacity int) (*Store, *time.Time) {
	s := NewStore(capacity)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestStore_GetSet(t *testing.T) {
	t.Run("miss on absent key", func(t *testing.T) {
		s, _ := newTestStore(4)

		value, found, stale := s.Get("tools:item:t1")

		assert.Nil(t, value)
		assert.False(t, found)
		assert.False(t, stale)
		assert.Equal(t, uint64(1), s.Stats().Misses)
	})

	t.Run("fresh hit within TTL", func(t *testing.T) {
		s, clock := newTestStore(4)
		s.Set("tools:item:t1", []byte(`{"id":"t1"}`), time.Minute)

		*clock = clock.Add(30 * time.Second)
		value, found, stale := s.Get("tools:item:t1")

		require.True(t, found)
		assert.False(t, stale)
		assert.Equal(t, []byte(`{"id":"t1"}`), value)
		assert.Equal(t, uint64(1), s.Stats().Hits)
	})

	t.Run("expired entry is served stale, not dropped", func(t *testing.T) {
		s, clock := newTestStore(4)
		s.Set("tools:item:t1", []byte(`{"id":"t1"}`), time.Minute)

		*clock = clock.Add(time.Minute)
		value, found, stale := s.Get("tools:item:t1")

		require.True(t, found)
		assert.True(t, stale)
		assert.Equal(t, []byte(`{"id":"t1"}`), value)
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, uint64(1), s.Stats().StaleHits)
	})

	t.Run("overwrite resets age", func(t *testing.T) {
		s, clock := newTestStore(4)
		s.Set("tools:item:t1", []byte(`old`), time.Minute)
		*clock = clock.Add(2 * time.Minute)

		s.Set("tools:item:t1", []byte(`new`), time.Minute)
		value, found, stale := s.Get("tools:item:t1")

		require.True(t, found)
		assert.False(t, stale)
		assert.Equal(t, []byte(`new`), value)
	})
}

func TestStore_Eviction(t *testing.T) {
	t.Run("LRU entry evicted at capacity", func(t *testing.T) {
		s, _ := newTestStore(2)
		s.Set("a", []byte("1"), time.Minute)
		s.Set("b", []byte("2"), time.Minute)
		s.Set("c", []byte("3"), time.Minute)

		_, found, _ := s.Get("a")
		assert.False(t, found, "oldest entry should have been evicted")
		_, found, _ = s.Get("b")
		assert.True(t, found)
		_, found, _ = s.Get("c")
		assert.True(t, found)
		assert.Equal(t, uint64(1), s.Stats().Evictions)
	})

	t.Run("reads refresh recency", func(t *testing.T) {
		s, _ := newTestStore(2)
		s.Set("a", []byte("1"), time.Minute)
		s.Set("b", []byte("2"), time.Minute)

		// Touch a so b becomes the eviction candidate.
		_, found, _ := s.Get("a")
		require.True(t, found)

		s.Set("c", []byte("3"), time.Minute)

		_, found, _ = s.Get("a")
		assert.True(t, found)
		_, found, _ = s.Get("b")
		assert.False(t, found)
	})
}

func TestStore_Invalidation(t *testing.T) {
	t.Run("remove by prefix drops only the collection", func(t *testing.T) {
		s, _ := newTestStore(8)
		s.Set("tools:item:t1", []byte("1"), time.Minute)
		s.Set("tools:list:abc", []byte("2"), time.Minute)
		s.Set("agents:item:a1", []byte("3"), time.Minute)

		s.RemoveByPrefix("tools:")

		assert.Equal(t, 1, s.Len())
		_, found, _ := s.Get("agents:item:a1")
		assert.True(t, found)
	})

	t.Run("remove absent key is a no-op", func(t *testing.T) {
		s, _ := newTestStore(4)
		s.Remove("nothing")
		assert.Equal(t, 0, s.Len())
	})

	t.Run("clear keeps statistics", func(t *testing.T) {
		s, _ := newTestStore(4)
		s.Set("a", []byte("1"), time.Minute)
		s.Get("a")

		s.Clear()

		assert.Equal(t, 0, s.Len())
		assert.Equal(t, uint64(1), s.Stats().Hits)
		assert.Equal(t, uint64(1), s.Stats().Sets)
	})
}

func TestStore_MarkRefreshing(t *testing.T) {
	s, _ := newTestStore(4)

	assert.True(t, s.MarkRefreshing("tools:list:abc"))
	assert.False(t, s.MarkRefreshing("tools:list:abc"), "second refresh for the same key must be rejected")

	s.DoneRefreshing("tools:list:abc")
	assert.True(t, s.MarkRefreshing("tools:list:abc"))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (n+j)%32)
				s.Set(key, []byte("v"), time.Minute)
				s.Get(key)
				if j%10 == 0 {
					s.RemoveByPrefix("k1")
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), 64)
}

func TestTTLPolicy_ForResultSize(t *testing.T) {
	p := DefaultTTLPolicy()

	tests := []struct {
		name string
		size int
		want time.Duration
	}{
		{"large result set expires fast", 150, time.Minute},
		{"boundary at large threshold", 101, time.Minute},
		{"medium result set", 75, 5 * time.Minute},
		{"boundary at small threshold", 50, 5 * time.Minute},
		{"small result set lives longest", 10, 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ForResultSize(tt.size))
		})
	}
}
