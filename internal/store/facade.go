// Package store exposes the unified data-access facade: CRUD, batch, and
// transactional operations over the two physical backends, with an
// in-process result cache in front. Callers never learn which backend
// answered.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/backend"
	"agenthub-backend/internal/batch"
	"agenthub-backend/internal/cache"
	"agenthub-backend/internal/domain"
	"agenthub-backend/internal/fallback"
	"agenthub-backend/internal/observability"
)

// refreshTimeout bounds the background revalidation of a stale cache entry.
const refreshTimeout = 10 * time.Second

// Facade is the public data-access surface. Construct one per process and
// share it; the cache it owns is the only mutable shared state.
type Facade struct {
	coord   *fallback.Coordinator
	cache   *cache.Store
	ttl     cache.TTLPolicy
	batch   *batch.Executor
	tx      backend.Transactional // nil when the secondary has no transactions
	logger  *zap.Logger
	metrics *observability.Collector
}

// New wires the facade. The transaction capability of the secondary client
// is resolved here, once, never probed per call.
func New(coord *fallback.Coordinator, cacheStore *cache.Store, ttl cache.TTLPolicy, exec *batch.Executor, logger *zap.Logger, metrics *observability.Collector) *Facade {
	tx, _ := coord.Secondary().(backend.Transactional)
	return &Facade{
		coord:   coord,
		cache:   cacheStore,
		ttl:     ttl,
		batch:   exec,
		tx:      tx,
		logger:  logger,
		metrics: metrics,
	}
}

// Option adjusts a single call.
type Option func(*callOptions)

type callOptions struct {
	backend   backend.Kind
	skipCache bool
}

// WithBackend forces the call onto one backend, disabling fallback: the
// caller chose it explicitly.
func WithBackend(kind backend.Kind) Option {
	return func(o *callOptions) { o.backend = kind }
}

// WithoutCache bypasses the result cache for one call.
func WithoutCache() Option {
	return func(o *callOptions) { o.skipCache = true }
}

func applyOptions(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetAll lists a collection. Results are cached with a TTL chosen by
// result-set size; a stale entry is served immediately while a background
// refresh revalidates it.
func (f *Facade) GetAll(ctx context.Context, collection string, queryOpts domain.QueryOptions, opts ...Option) ([]domain.Record, error) {
	if err := queryOpts.Validate(); err != nil {
		return nil, apperrors.Validation("getAll", err.Error())
	}
	call := applyOptions(opts)
	key := listKey(collection, queryOpts)

	if !call.skipCache {
		if cached, ok := f.cachedList(key, collection, queryOpts, call); ok {
			return cached, nil
		}
	}

	records, err := f.loadList(ctx, collection, queryOpts, call)
	if err != nil {
		return nil, err
	}
	if !call.skipCache {
		f.fillList(key, records)
	}
	return records, nil
}

// GetByID fetches one record. A missing record is a normal outcome:
// (nil, nil), never a fallback trigger.
func (f *Facade) GetByID(ctx context.Context, collection, id string, opts ...Option) (domain.Record, error) {
	call := applyOptions(opts)
	key := itemKey(collection, id)

	if !call.skipCache {
		if value, found, stale := f.cache.Get(key); found {
			var rec domain.Record
			if err := json.Unmarshal(value, &rec); err == nil {
				f.countCacheRead(stale)
				if stale {
					f.refreshItemAsync(key, collection, id, call)
				}
				return rec, nil
			}
			f.cache.Remove(key)
		}
		f.metrics.CacheMisses.Inc()
	}

	rec, err := fallback.Execute(ctx, f.coord, "getById", call.backend,
		func(ctx context.Context, client backend.Client) (domain.Record, error) {
			return client.Get(ctx, collection, id)
		})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !call.skipCache {
		f.fillItem(key, rec)
	}
	return rec, nil
}

// Create inserts a record, generating an id when the caller supplied none,
// and invalidates the collection's cached list queries.
func (f *Facade) Create(ctx context.Context, collection string, data domain.Record, opts ...Option) (domain.Record, error) {
	call := applyOptions(opts)
	rec, err := f.createOne(ctx, collection, data, call)
	if err != nil {
		return nil, err
	}
	f.invalidate(collection, rec.ID())
	return rec, nil
}

// Update applies a partial update and invalidates the collection's cached
// list queries and the item's cache key.
func (f *Facade) Update(ctx context.Context, collection, id string, partial domain.Record, opts ...Option) (domain.Record, error) {
	call := applyOptions(opts)
	rec, err := f.updateOne(ctx, collection, id, partial, call)
	if err != nil {
		return nil, err
	}
	f.invalidate(collection, id)
	return rec, nil
}

// Remove deletes a record. The boolean reports whether the record was
// deleted; a missing record returns (false, error) with a NotFound
// classification.
func (f *Facade) Remove(ctx context.Context, collection, id string, opts ...Option) (bool, error) {
	call := applyOptions(opts)
	if err := f.removeOne(ctx, collection, id, call); err != nil {
		return false, err
	}
	f.invalidate(collection, id)
	return true, nil
}

// BatchUpdateItem pairs a record id with its partial update.
type BatchUpdateItem struct {
	ID      string
	Partial domain.Record
}

// BatchCreate inserts items in bounded chunks. results[i] corresponds to
// items[i]: partial success is expected and reported per item. The whole
// cache is cleared afterwards; reasoning about N arbitrary keys is more
// error-prone than one clear.
func (f *Facade) BatchCreate(ctx context.Context, collection string, items []domain.Record, opts ...Option) []batch.Result {
	call := applyOptions(opts)
	results := f.batch.Run(ctx, len(items), func(ctx context.Context, i int) (domain.Record, error) {
		return f.createOne(ctx, collection, items[i], call)
	})
	f.cache.Clear()
	return results
}

// BatchUpdate applies partial updates in bounded chunks, preserving input
// order in the results.
func (f *Facade) BatchUpdate(ctx context.Context, collection string, items []BatchUpdateItem, opts ...Option) []batch.Result {
	call := applyOptions(opts)
	results := f.batch.Run(ctx, len(items), func(ctx context.Context, i int) (domain.Record, error) {
		return f.updateOne(ctx, collection, items[i].ID, items[i].Partial, call)
	})
	f.cache.Clear()
	return results
}

// BatchRemove deletes ids in bounded chunks and reports all-succeeded:
// partial deletes are harder for callers to reason about than a single
// boolean. Per-item failures are logged.
func (f *Facade) BatchRemove(ctx context.Context, collection string, ids []string, opts ...Option) bool {
	call := applyOptions(opts)
	results := f.batch.Run(ctx, len(ids), func(ctx context.Context, i int) (domain.Record, error) {
		return nil, f.removeOne(ctx, collection, ids[i], call)
	})
	f.cache.Clear()
	if n := batch.Failures(results); n > 0 {
		for i, r := range results {
			if r.Err != nil {
				f.logger.Warn("batch remove item failed",
					zap.String("collection", collection),
					zap.String("id", ids[i]),
					zap.Error(r.Err))
			}
		}
		return false
	}
	return true
}

// Count returns the number of records matching the options.
func (f *Facade) Count(ctx context.Context, collection string, queryOpts domain.QueryOptions, opts ...Option) (int64, error) {
	if err := queryOpts.Validate(); err != nil {
		return 0, apperrors.Validation("count", err.Error())
	}
	call := applyOptions(opts)
	return fallback.Execute(ctx, f.coord, "count", call.backend,
		func(ctx context.Context, client backend.Client) (int64, error) {
			return client.Count(ctx, collection, queryOpts)
		})
}

// ExecuteRawQuery passes the query through in the backend's native
// language. No transformation and no caching apply.
func (f *Facade) ExecuteRawQuery(ctx context.Context, query string, params []any, opts ...Option) ([]domain.Record, error) {
	call := applyOptions(opts)
	return fallback.Execute(ctx, f.coord, "executeRawQuery", call.backend,
		func(ctx context.Context, client backend.Client) ([]domain.Record, error) {
			return client.RawQuery(ctx, query, params...)
		})
}

// WithTransaction runs fn inside a transaction on the secondary backend,
// the only store with a transaction primitive. The primary handle is never
// passed into fn. After a commit the whole cache is cleared: the layer
// cannot know which collections fn touched.
func (f *Facade) WithTransaction(ctx context.Context, fn func(tx backend.Client) error) error {
	if f.tx == nil {
		return apperrors.Transaction("withTransaction", "secondary backend does not support transactions", nil)
	}
	if err := f.tx.WithTransaction(ctx, fn); err != nil {
		return err
	}
	f.cache.Clear()
	return nil
}

// Cache exposes the cache contract (get/set/remove/clear/stats). The store
// is created once per process; external components mutate it only through
// this accessor.
func (f *Facade) Cache() *cache.Store {
	return f.cache
}

// RefreshItem forces a backend read and re-primes the item's cache entry.
func (f *Facade) RefreshItem(ctx context.Context, collection, id string, opts ...Option) error {
	call := applyOptions(opts)
	rec, err := fallback.Execute(ctx, f.coord, "refresh", call.backend,
		func(ctx context.Context, client backend.Client) (domain.Record, error) {
			return client.Get(ctx, collection, id)
		})
	if err != nil {
		return err
	}
	f.fillItem(itemKey(collection, id), rec)
	return nil
}

func (f *Facade) createOne(ctx context.Context, collection string, data domain.Record, call callOptions) (domain.Record, error) {
	rec := data.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}
	return fallback.Execute(ctx, f.coord, "create", call.backend,
		func(ctx context.Context, client backend.Client) (domain.Record, error) {
			return client.Insert(ctx, collection, rec)
		})
}

func (f *Facade) updateOne(ctx context.Context, collection, id string, partial domain.Record, call callOptions) (domain.Record, error) {
	return fallback.Execute(ctx, f.coord, "update", call.backend,
		func(ctx context.Context, client backend.Client) (domain.Record, error) {
			return client.Update(ctx, collection, id, partial)
		})
}

func (f *Facade) removeOne(ctx context.Context, collection, id string, call callOptions) error {
	_, err := fallback.Execute(ctx, f.coord, "remove", call.backend,
		func(ctx context.Context, client backend.Client) (struct{}, error) {
			return struct{}{}, client.Delete(ctx, collection, id)
		})
	return err
}

func (f *Facade) loadList(ctx context.Context, collection string, queryOpts domain.QueryOptions, call callOptions) ([]domain.Record, error) {
	return fallback.Execute(ctx, f.coord, "getAll", call.backend,
		func(ctx context.Context, client backend.Client) ([]domain.Record, error) {
			return client.List(ctx, collection, queryOpts)
		})
}

// cachedList returns a cached list result when present. Stale results are
// served as-is while a single background refresh revalidates the key.
func (f *Facade) cachedList(key, collection string, queryOpts domain.QueryOptions, call callOptions) ([]domain.Record, bool) {
	value, found, stale := f.cache.Get(key)
	if !found {
		f.metrics.CacheMisses.Inc()
		return nil, false
	}
	var records []domain.Record
	if err := json.Unmarshal(value, &records); err != nil {
		f.cache.Remove(key)
		f.metrics.CacheMisses.Inc()
		return nil, false
	}
	f.countCacheRead(stale)
	if stale {
		f.refreshListAsync(key, collection, queryOpts, call)
	}
	return records, true
}

func (f *Facade) refreshListAsync(key, collection string, queryOpts domain.QueryOptions, call callOptions) {
	if !f.cache.MarkRefreshing(key) {
		return
	}
	go func() {
		defer f.cache.DoneRefreshing(key)
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		records, err := f.loadList(ctx, collection, queryOpts, call)
		if err != nil {
			f.logger.Warn("stale list refresh failed", zap.String("key", key), zap.Error(err))
			return
		}
		f.fillList(key, records)
	}()
}

func (f *Facade) refreshItemAsync(key, collection, id string, call callOptions) {
	if !f.cache.MarkRefreshing(key) {
		return
	}
	go func() {
		defer f.cache.DoneRefreshing(key)
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		rec, err := fallback.Execute(ctx, f.coord, "refresh", call.backend,
			func(ctx context.Context, client backend.Client) (domain.Record, error) {
				return client.Get(ctx, collection, id)
			})
		if err != nil {
			f.logger.Warn("stale item refresh failed", zap.String("key", key), zap.Error(err))
			if apperrors.IsNotFound(err) {
				f.cache.Remove(key)
			}
			return
		}
		f.fillItem(key, rec)
	}()
}

func (f *Facade) fillList(key string, records []domain.Record) {
	value, err := json.Marshal(records)
	if err != nil {
		f.logger.Warn("failed to encode list for cache", zap.String("key", key), zap.Error(err))
		return
	}
	f.cache.Set(key, value, f.ttl.ForResultSize(len(records)))
}

func (f *Facade) fillItem(key string, rec domain.Record) {
	value, err := json.Marshal(rec)
	if err != nil {
		f.logger.Warn("failed to encode record for cache", zap.String("key", key), zap.Error(err))
		return
	}
	f.cache.Set(key, value, f.ttl.ItemTTL)
}

// invalidate drops every cached list query for the collection (prefix
// match) and the mutated item's own key.
func (f *Facade) invalidate(collection, id string) {
	f.cache.RemoveByPrefix(collection + ":list:")
	if id != "" {
		f.cache.Remove(itemKey(collection, id))
	}
}

func (f *Facade) countCacheRead(stale bool) {
	if stale {
		f.metrics.CacheStaleHits.Inc()
		return
	}
	f.metrics.CacheHits.Inc()
}

func itemKey(collection, id string) string {
	return collection + ":item:" + id
}

// listKey hashes the query options so identical list queries share one
// cache entry.
func listKey(collection string, opts domain.QueryOptions) string {
	raw, err := json.Marshal(opts)
	if err != nil {
		raw = []byte(err.Error())
	}
	sum := sha256.Sum256(raw)
	return collection + ":list:" + hex.EncodeToString(sum[:8])
}
