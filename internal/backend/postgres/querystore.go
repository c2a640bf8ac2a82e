package postgres

import (
	"context"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"agenthub-backend/internal/querycache"
)

const queryResultsTable = "cached_query_results"

// QueryStore persists query-tool results in Postgres, implementing
// querycache.ResultStore over the row layout
// (id TEXT PRIMARY KEY, query TEXT, variables JSONB, response JSONB,
// created_at TIMESTAMPTZ).
type QueryStore struct {
	db     querier
	logger *zap.Logger
}

var _ querycache.ResultStore = (*QueryStore)(nil)

func NewQueryStore(db querier, logger *zap.Logger) *QueryStore {
	return &QueryStore{db: db, logger: logger}
}

// Load returns (nil, nil) when no row exists; absence is a cache miss,
// not an error.
func (s *QueryStore) Load(ctx context.Context, id string) (*querycache.CachedResult, error) {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("id", "query", "variables", "response", "created_at").
		From(queryResultsTable).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		row       querycache.CachedResult
		variables []byte
	)
	err = s.db.QueryRow(ctx, query, args...).
		Scan(&row.ID, &row.Query, &variables, &row.Response, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &row.Variables); err != nil {
			s.logger.Warn("cached query row has malformed variables, discarding",
				zap.String("id", id), zap.Error(err))
			return nil, nil
		}
	}
	return &row, nil
}

// Save upserts the row keyed by id, refreshing created_at so the freshness
// window restarts.
func (s *QueryStore) Save(ctx context.Context, result *querycache.CachedResult) error {
	variables, err := json.Marshal(result.Variables)
	if err != nil {
		return err
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert(queryResultsTable).
		Columns("id", "query", "variables", "response", "created_at").
		Values(result.ID, result.Query, variables, result.Response, result.CreatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			query = EXCLUDED.query,
			variables = EXCLUDED.variables,
			response = EXCLUDED.response,
			created_at = EXCLUDED.created_at`).ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, query, args...)
	return err
}
