// Package backend defines the client contract the two physical stores
// implement. Which concrete store answers a call is invisible to callers;
// capabilities are declared at construction (Kind, Transactional), never
// probed per call.
package backend

import (
	"context"

	"agenthub-backend/internal/domain"
)

// Kind identifies a backend's role in the process. Exactly one client of
// each kind exists; the pairing is fixed at startup and immutable for the
// process lifetime.
type Kind string

const (
	// KindPrimary is the low-latency KV/document store.
	KindPrimary Kind = "primary"
	// KindSecondary is the relational SQL store, used as fallback and for
	// transactions.
	KindSecondary Kind = "secondary"
)

// Client is a thin handle over one physical store. Implementations own
// retries, backoff, and circuit breaking; callers above this interface
// never retry.
type Client interface {
	// Kind reports the client's role, resolved once at construction.
	Kind() Kind
	// Name identifies the concrete store ("dynamodb", "postgres") for
	// logs and fallback events.
	Name() string

	Get(ctx context.Context, collection, id string) (domain.Record, error)
	List(ctx context.Context, collection string, opts domain.QueryOptions) ([]domain.Record, error)
	Count(ctx context.Context, collection string, opts domain.QueryOptions) (int64, error)
	Insert(ctx context.Context, collection string, record domain.Record) (domain.Record, error)
	Update(ctx context.Context, collection, id string, partial domain.Record) (domain.Record, error)
	Delete(ctx context.Context, collection, id string) error
	// RawQuery is the escape hatch: the query is passed through untouched
	// in the store's native language.
	RawQuery(ctx context.Context, query string, params ...any) ([]domain.Record, error)
}

// Transactional is the capability interface a client declares when it can
// run a function inside a real transaction. Only the relational store
// implements it; the assertion happens once at wiring time.
type Transactional interface {
	// WithTransaction runs fn inside BEGIN/COMMIT. Any error from fn rolls
	// the transaction back and is returned unchanged; a rollback failure
	// is logged but never masks fn's error. The Client passed to fn is
	// scoped to the transaction and must not escape it.
	WithTransaction(ctx context.Context, fn func(tx Client) error) error
}
