// Package querycache is the content-addressed result cache for the
// external GraphQL-style query tool. Results are keyed by a hash of the
// query text and variables, persisted in the relational store with a fixed
// freshness window, and mirrored into the semantic store for similarity
// search.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is the freshness window for persisted query results.
const DefaultTTL = 60 * time.Minute

// CachedResult is the persisted row: (id, query, variables, response,
// created_at), upserted on conflict by id.
type CachedResult struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	Response  []byte         `json:"response"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ResultStore persists cached results in the relational backend. Load
// returns (nil, nil) when no row exists.
type ResultStore interface {
	Load(ctx context.Context, id string) (*CachedResult, error)
	Save(ctx context.Context, result *CachedResult) error
}

// Origin executes the real request against the external query tool.
type Origin interface {
	Execute(ctx context.Context, query string, variables map[string]any) ([]byte, error)
}

// SemanticStore receives response text for embedding. Failures are
// best-effort: they never fail the overall call.
type SemanticStore interface {
	Store(ctx context.Context, text string) error
}

// Result is the typed outcome callers branch on without exception
// handling: origin failures come back as Success=false, not as an error.
type Result struct {
	Success  bool   `json:"success"`
	Data     []byte `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	CacheHit bool   `json:"cacheHit"`
}

// Cache coordinates the lookup-execute-persist cycle.
type Cache struct {
	store    ResultStore
	origin   Origin
	semantic SemanticStore
	ttl      time.Duration
	logger   *zap.Logger

	now func() time.Time
}

// New creates a query-result cache. A zero ttl falls back to DefaultTTL;
// semantic may be nil when no embedding store is configured.
func New(store ResultStore, origin Origin, semantic SemanticStore, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:    store,
		origin:   origin,
		semantic: semantic,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute returns the cached response when a fresh row exists, otherwise
// performs the real request and writes the result back. Store failures are
// logged and treated as cache misses; they never block the origin request.
func (c *Cache) Execute(ctx context.Context, query string, variables map[string]any, useCache bool) Result {
	id := CacheID(query, variables)

	if useCache {
		cached, err := c.store.Load(ctx, id)
		switch {
		case err != nil:
			c.logger.Warn("query cache read failed, treating as miss",
				zap.String("id", id), zap.Error(err))
		case cached != nil && c.now().Sub(cached.CreatedAt) < c.ttl:
			return Result{Success: true, Data: cached.Response, CacheHit: true}
		}
	}

	data, err := c.origin.Execute(ctx, query, variables)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	if useCache {
		row := &CachedResult{
			ID:        id,
			Query:     query,
			Variables: variables,
			Response:  data,
			CreatedAt: c.now(),
		}
		if err := c.store.Save(ctx, row); err != nil {
			c.logger.Warn("query cache write failed",
				zap.String("id", id), zap.Error(err))
		}
		if c.semantic != nil {
			if err := c.semantic.Store(ctx, string(data)); err != nil {
				c.logger.Warn("semantic store write failed",
					zap.String("id", id), zap.Error(err))
			}
		}
	}
	return Result{Success: true, Data: data}
}

// CacheID derives the content-addressed key: identical query+variables map
// to the same id. Map keys are sorted by encoding/json, so the hash is
// stable across calls.
func CacheID(query string, variables map[string]any) string {
	h := sha256.New()
	h.Write([]byte(query))
	// NUL-delimited segments: query text ending in JSON must not collide
	// with the same query carrying those variables.
	h.Write([]byte{0})
	if len(variables) > 0 {
		vars, err := json.Marshal(variables)
		if err == nil {
			h.Write(vars)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
