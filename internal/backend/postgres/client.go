// Package postgres implements the Secondary backend: a relational store
// reached through pgx, with SQL assembled by squirrel. It is the fallback
// target for the primary store and the only backend that supports
// transactions and raw SQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/backend"
	"agenthub-backend/internal/domain"
)

// Name identifies this backend in logs, errors, and fallback events.
const Name = "postgres"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same client
// code serves pooled and transaction-scoped calls.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client is the relational backend handle.
type Client struct {
	db     querier
	pool   *pgxpool.Pool // nil on transaction-scoped clients
	logger *zap.Logger
}

var (
	_ backend.Client        = (*Client)(nil)
	_ backend.Transactional = (*Client)(nil)
)

// NewClient connects a client to the given pool.
func NewClient(pool *pgxpool.Pool, logger *zap.Logger) *Client {
	return &Client{db: pool, pool: pool, logger: logger}
}

func (c *Client) Kind() backend.Kind { return backend.KindSecondary }
func (c *Client) Name() string       { return Name }

func (c *Client) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("id", "data").From(collection).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, apperrors.Operation(Name, "get", "failed to build query", err)
	}
	rec, err := c.scanRecord(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(Name, "get", id)
		}
		return nil, c.classify("get", err)
	}
	return rec, nil
}

func (c *Client) List(ctx context.Context, collection string, opts domain.QueryOptions) ([]domain.Record, error) {
	query, args, err := buildSelect(collection, opts)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, c.classify("list", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := c.scanRecord(rows)
		if err != nil {
			return nil, c.classify("list", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, c.classify("list", err)
	}
	return project(records, opts.Select), nil
}

func (c *Client) Count(ctx context.Context, collection string, opts domain.QueryOptions) (int64, error) {
	query, args, err := buildCount(collection, opts)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, c.classify("count", err)
	}
	return n, nil
}

func (c *Client) Insert(ctx context.Context, collection string, record domain.Record) (domain.Record, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	id := record.ID()
	if id == "" {
		return nil, apperrors.Validation("insert", "record is missing an id")
	}
	data, err := marshalData(record)
	if err != nil {
		return nil, apperrors.Validation("insert", err.Error())
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert(collection).Columns("id", "data").Values(id, data).
		Suffix("RETURNING id, data").ToSql()
	if err != nil {
		return nil, apperrors.Operation(Name, "insert", "failed to build query", err)
	}
	rec, err := c.scanRecord(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, c.classify("insert", err)
	}
	return rec, nil
}

func (c *Client) Update(ctx context.Context, collection, id string, partial domain.Record) (domain.Record, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	data, err := marshalData(partial)
	if err != nil {
		return nil, apperrors.Validation("update", err.Error())
	}
	// JSONB merge keeps fields the partial does not mention.
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Update(collection).
		Set("data", sq.Expr("data || ?::jsonb", data)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING id, data").ToSql()
	if err != nil {
		return nil, apperrors.Operation(Name, "update", "failed to build query", err)
	}
	rec, err := c.scanRecord(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(Name, "update", id)
		}
		return nil, c.classify("update", err)
	}
	return rec, nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := checkIdent(collection); err != nil {
		return err
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Delete(collection).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return apperrors.Operation(Name, "delete", "failed to build query", err)
	}
	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return c.classify("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(Name, "delete", id)
	}
	return nil
}

// RawQuery runs the SQL untouched and returns rows as generic records.
func (c *Client) RawQuery(ctx context.Context, query string, params ...any) ([]domain.Record, error) {
	rows, err := c.db.Query(ctx, query, params...)
	if err != nil {
		return nil, c.classify("rawQuery", err)
	}
	defer rows.Close()

	var records []domain.Record
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, c.classify("rawQuery", err)
		}
		rec := make(domain.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, c.classify("rawQuery", err)
	}
	return records, nil
}

// WithTransaction implements backend.Transactional. BEGIN failure aborts
// before fn runs; any error from fn rolls back and is returned unchanged.
func (c *Client) WithTransaction(ctx context.Context, fn func(tx backend.Client) error) error {
	if c.pool == nil {
		return apperrors.Transaction("withTransaction", "nested transactions are not supported", nil)
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return apperrors.Transaction("begin", "failed to begin transaction", err)
	}
	txClient := &Client{db: tx, logger: c.logger}
	if err := fn(txClient); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			// The original error always wins; a failed rollback is only logged.
			c.logger.Error("transaction rollback failed",
				zap.Error(rbErr),
				zap.NamedError("cause", err))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Transaction("commit", "failed to commit transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *Client) scanRecord(row rowScanner) (domain.Record, error) {
	var (
		id   string
		data []byte
	)
	if err := row.Scan(&id, &data); err != nil {
		return nil, err
	}
	rec := domain.Record{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("malformed document for %q: %w", id, err)
		}
	}
	rec["id"] = id
	return rec, nil
}

// classify maps pgx errors onto the layer taxonomy. Constraint and syntax
// failures are the backend rejecting the operation (fatal); a missing
// table or database means this backend is not configured for the
// collection, which is a recoverable condition the coordinator may route
// around; everything else is treated as connectivity.
func (c *Client) classify(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(Name, operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.Connection(Name, operation, "operation canceled", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01" || pgErr.Code == "3D000":
			return apperrors.Connection(Name, operation, "backend not configured: "+pgErr.Message, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			return apperrors.Connection(Name, operation, pgErr.Message, err)
		default:
			return apperrors.Operation(Name, operation, pgErr.Message, err)
		}
	}
	return apperrors.Connection(Name, operation, err.Error(), err)
}

func marshalData(record domain.Record) ([]byte, error) {
	doc := record.Clone()
	delete(doc, "id")
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("record is not JSON-encodable: %w", err)
	}
	return data, nil
}

// project applies the select projection, keeping the id so records stay
// addressable.
func project(records []domain.Record, fields []string) []domain.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		slim := domain.Record{"id": rec["id"]}
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				slim[f] = v
			}
		}
		out[i] = slim
	}
	return out
}
