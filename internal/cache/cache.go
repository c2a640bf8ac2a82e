// Package cache provides the process-wide in-memory cache for query
// results: a capacity-bounded LRU with per-entry TTL, stale-while-revalidate
// reads, and hit/miss/stale statistics. The store is created once per
// process and injected into the data-access layer; no other component
// mutates it directly.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	StaleHits uint64 `json:"staleHits"`
	Sets      uint64 `json:"sets"`
	Evictions uint64 `json:"evictions"`
}

type entry struct {
	key        string
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

// Store is an LRU cache with per-entry TTL. A stale entry is still
// returned (marked stale) until it is evicted or overwritten; callers are
// expected to schedule a background refresh on a stale hit. Reads update
// recency so hot keys are retained.
//
// A single mutex guards the list, the index, and the counters; the store
// is shared by all in-flight requests.
type Store struct {
	mu         sync.Mutex
	capacity   int
	ll         *list.List
	index      map[string]*list.Element
	refreshing map[string]struct{}
	stats      Stats

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a cache bounded to capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store{
		capacity:   capacity,
		ll:         list.New(),
		index:      make(map[string]*list.Element),
		refreshing: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Get returns the cached value for key. Absence is a normal outcome
// (found=false); Get never errors. An expired entry is returned with
// stale=true and remains cached until evicted or refreshed.
func (s *Store) Get(key string) (value []byte, found, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[key]
	if !ok {
		s.stats.Misses++
		return nil, false, false
	}
	e := el.Value.(*entry)
	s.ll.MoveToFront(el)

	if s.now().Sub(e.insertedAt) >= e.ttl {
		s.stats.StaleHits++
		return e.value, true, true
	}
	s.stats.Hits++
	return e.value, true, false
}

// Set stores value under key with the given TTL, evicting the least
// recently used entry when the capacity bound is hit. Setting an existing
// key resets its age and recency.
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Sets++
	if el, ok := s.index[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.insertedAt = s.now()
		e.ttl = ttl
		s.ll.MoveToFront(el)
		return
	}
	if s.ll.Len() >= s.capacity {
		s.evictOldest()
	}
	s.index[key] = s.ll.PushFront(&entry{key: key, value: value, insertedAt: s.now(), ttl: ttl})
}

// Remove deletes a single key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

// RemoveByPrefix deletes every entry whose key starts with prefix. This is
// how a mutation on a collection invalidates all of its cached list
// queries in one call.
func (s *Store) RemoveByPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.index {
		if strings.HasPrefix(key, prefix) {
			s.removeLocked(key)
		}
	}
}

// Clear drops every entry. Statistics are preserved.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Init()
	s.index = make(map[string]*list.Element)
	s.refreshing = make(map[string]struct{})
}

// Len returns the number of cached entries, stale ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// MarkRefreshing records that a background refresh for key is in flight.
// It returns false when a refresh is already running, so at most one
// revalidation goroutine exists per key.
func (s *Store) MarkRefreshing(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.refreshing[key]; busy {
		return false
	}
	s.refreshing[key] = struct{}{}
	return true
}

// DoneRefreshing clears the in-flight marker for key.
func (s *Store) DoneRefreshing(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshing, key)
}

func (s *Store) removeLocked(key string) {
	if el, ok := s.index[key]; ok {
		s.ll.Remove(el)
		delete(s.index, key)
	}
}

func (s *Store) evictOldest() {
	el := s.ll.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	s.ll.Remove(el)
	delete(s.index, e.key)
	s.stats.Evictions++
}
