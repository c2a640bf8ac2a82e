package backend

import (
	"context"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/domain"
)

// Unconfigured stands in for a backend the process was not given
// credentials for. Every operation fails with a recoverable
// "not configured" connection error, so the coordinator routes the call to
// the other store instead of the process crashing on a nil handle.
type Unconfigured struct {
	kind Kind
	name string
}

var _ Client = (*Unconfigured)(nil)

func NewUnconfigured(kind Kind, name string) *Unconfigured {
	return &Unconfigured{kind: kind, name: name}
}

func (u *Unconfigured) Kind() Kind   { return u.kind }
func (u *Unconfigured) Name() string { return u.name }

func (u *Unconfigured) err(operation string) error {
	return apperrors.Connection(u.name, operation, "backend not configured", nil)
}

func (u *Unconfigured) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	return nil, u.err("get")
}

func (u *Unconfigured) List(ctx context.Context, collection string, opts domain.QueryOptions) ([]domain.Record, error) {
	return nil, u.err("list")
}

func (u *Unconfigured) Count(ctx context.Context, collection string, opts domain.QueryOptions) (int64, error) {
	return 0, u.err("count")
}

func (u *Unconfigured) Insert(ctx context.Context, collection string, record domain.Record) (domain.Record, error) {
	return nil, u.err("insert")
}

func (u *Unconfigured) Update(ctx context.Context, collection, id string, partial domain.Record) (domain.Record, error) {
	return nil, u.err("update")
}

func (u *Unconfigured) Delete(ctx context.Context, collection, id string) error {
	return u.err("delete")
}

func (u *Unconfigured) RawQuery(ctx context.Context, query string, params ...any) ([]domain.Record, error) {
	return nil, u.err("rawQuery")
}
