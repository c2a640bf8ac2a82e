package postgres

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/domain"
)

func TestTranslateFilter(t *testing.T) {
	tests := []struct {
		name     string
		filter   domain.FilterCondition
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "eq on json field",
			filter:   domain.FilterCondition{Column: "name", Operator: domain.OpEq, Value: "search"},
			wantSQL:  "data->>'name' = ?",
			wantArgs: []any{"search"},
		},
		{
			name:     "eq on id column",
			filter:   domain.FilterCondition{Column: "id", Operator: domain.OpEq, Value: "t1"},
			wantSQL:  "id = ?",
			wantArgs: []any{"t1"},
		},
		{
			name:     "numeric comparison casts the field",
			filter:   domain.FilterCondition{Column: "runs", Operator: domain.OpGt, Value: 10},
			wantSQL:  "(data->>'runs')::numeric > ?",
			wantArgs: []any{10},
		},
		{
			name:     "string comparison stays textual",
			filter:   domain.FilterCondition{Column: "name", Operator: domain.OpLte, Value: "m"},
			wantSQL:  "data->>'name' <= ?",
			wantArgs: []any{"m"},
		},
		{
			name:     "neq",
			filter:   domain.FilterCondition{Column: "status", Operator: domain.OpNeq, Value: "archived"},
			wantSQL:  "data->>'status' <> ?",
			wantArgs: []any{"archived"},
		},
		{
			name:     "like",
			filter:   domain.FilterCondition{Column: "name", Operator: domain.OpLike, Value: "agent%"},
			wantSQL:  "data->>'name' LIKE ?",
			wantArgs: []any{"agent%"},
		},
		{
			name:     "ilike",
			filter:   domain.FilterCondition{Column: "name", Operator: domain.OpILike, Value: "Agent%"},
			wantSQL:  "data->>'name' ILIKE ?",
			wantArgs: []any{"Agent%"},
		},
		{
			name:     "in expands to ANY",
			filter:   domain.FilterCondition{Column: "status", Operator: domain.OpIn, Value: []string{"active", "idle"}},
			wantSQL:  "data->>'status' = ANY(?)",
			wantArgs: []any{[]string{"active", "idle"}},
		},
		{
			name:    "is null",
			filter:  domain.FilterCondition{Column: "deleted_at", Operator: domain.OpIs, Value: nil},
			wantSQL: "data->>'deleted_at' IS NULL",
		},
		{
			name:    "is true",
			filter:  domain.FilterCondition{Column: "enabled", Operator: domain.OpIs, Value: true},
			wantSQL: "(data->>'enabled')::boolean IS TRUE",
		},
		{
			name:    "is false",
			filter:  domain.FilterCondition{Column: "enabled", Operator: domain.OpIs, Value: false},
			wantSQL: "(data->>'enabled')::boolean IS FALSE",
		},
		{
			name:     "contains uses jsonb containment",
			filter:   domain.FilterCondition{Column: "tags", Operator: domain.OpContains, Value: []string{"nlp"}},
			wantSQL:  "data->'tags' @> ?::jsonb",
			wantArgs: []any{`["nlp"]`},
		},
		{
			name:     "containedBy",
			filter:   domain.FilterCondition{Column: "tags", Operator: domain.OpContainedBy, Value: []string{"nlp", "vision"}},
			wantSQL:  "data->'tags' <@ ?::jsonb",
			wantArgs: []any{`["nlp","vision"]`},
		},
		{
			name:     "overlaps on a range field",
			filter:   domain.FilterCondition{Column: "window", Operator: domain.OpOverlaps, Value: "[1,5)"},
			wantSQL:  "(data->>'window')::numrange && ?::numrange",
			wantArgs: []any{"[1,5)"},
		},
		{
			name:     "textSearch",
			filter:   domain.FilterCondition{Column: "description", Operator: domain.OpTextSearch, Value: "vector search"},
			wantSQL:  "to_tsvector('simple', data->>'description') @@ plainto_tsquery('simple', ?)",
			wantArgs: []any{"vector search"},
		},
		{
			name:     "rangeGt",
			filter:   domain.FilterCondition{Column: "window", Operator: domain.OpRangeGt, Value: "[1,5)"},
			wantSQL:  "(data->>'window')::numrange >> ?::numrange",
			wantArgs: []any{"[1,5)"},
		},
		{
			name:     "rangeLt",
			filter:   domain.FilterCondition{Column: "window", Operator: domain.OpRangeLt, Value: "[1,5)"},
			wantSQL:  "(data->>'window')::numrange << ?::numrange",
			wantArgs: []any{"[1,5)"},
		},
		{
			name:     "rangeGte",
			filter:   domain.FilterCondition{Column: "window", Operator: domain.OpRangeGte, Value: "[1,5)"},
			wantSQL:  "(data->>'window')::numrange &> ?::numrange",
			wantArgs: []any{"[1,5)"},
		},
		{
			name:     "rangeLte",
			filter:   domain.FilterCondition{Column: "window", Operator: domain.OpRangeLte, Value: "[1,5)"},
			wantSQL:  "(data->>'window')::numrange &< ?::numrange",
			wantArgs: []any{"[1,5)"},
		},
		{
			name:     "rangeAdjacent",
			filter:   domain.FilterCondition{Column: "window", Operator: domain.OpRangeAdjacent, Value: "[1,5)"},
			wantSQL:  "(data->>'window')::numrange -|- ?::numrange",
			wantArgs: []any{"[1,5)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := translateFilter(tt.filter)
			require.NoError(t, err)

			sql, args, err := pred.ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestTranslateFilter_Rejections(t *testing.T) {
	t.Run("unknown operator", func(t *testing.T) {
		_, err := translateFilter(domain.FilterCondition{Column: "a", Operator: domain.Operator(99), Value: 1})
		assert.Equal(t, apperrors.TypeUnsupportedOperator, apperrors.TypeOf(err))
	})

	t.Run("is with a non-bool value", func(t *testing.T) {
		_, err := translateFilter(domain.FilterCondition{Column: "a", Operator: domain.OpIs, Value: "yes"})
		assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
	})

	t.Run("in with a scalar value", func(t *testing.T) {
		_, err := translateFilter(domain.FilterCondition{Column: "a", Operator: domain.OpIn, Value: "single"})
		assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
	})

	t.Run("column injection attempt", func(t *testing.T) {
		_, err := translateFilters([]domain.FilterCondition{
			{Column: "name'; DROP TABLE tools; --", Operator: domain.OpEq, Value: "x"},
		})
		assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
	})
}

func TestBuildSelect(t *testing.T) {
	t.Run("filters, sort and page pagination", func(t *testing.T) {
		opts := domain.QueryOptions{
			Filters: []domain.FilterCondition{
				{Column: "status", Operator: domain.OpEq, Value: "active"},
				{Column: "runs", Operator: domain.OpGte, Value: 5},
			},
			Sort:     []domain.SortField{{Column: "name", Ascending: true}},
			Page:     2,
			PageSize: 20,
		}

		sql, args, err := buildSelect("agents", opts)
		require.NoError(t, err)

		assert.Equal(t,
			"SELECT id, data FROM agents WHERE data->>'status' = $1 AND (data->>'runs')::numeric >= $2 ORDER BY data->>'name' ASC LIMIT 20 OFFSET 20",
			sql)
		assert.Equal(t, []any{"active", 5}, args)
	})

	t.Run("no filters no pagination", func(t *testing.T) {
		sql, args, err := buildSelect("tools", domain.QueryOptions{})
		require.NoError(t, err)
		assert.Equal(t, "SELECT id, data FROM tools", sql)
		assert.Empty(t, args)
	})

	t.Run("descending sort", func(t *testing.T) {
		sql, _, err := buildSelect("tools", domain.QueryOptions{
			Sort: []domain.SortField{{Column: "created", Ascending: false}},
		})
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY data->>'created' DESC")
	})

	t.Run("cursor pagination decodes an offset", func(t *testing.T) {
		cursor := base64.RawURLEncoding.EncodeToString([]byte("o:40"))
		sql, _, err := buildSelect("tools", domain.QueryOptions{Cursor: cursor})
		require.NoError(t, err)
		assert.Contains(t, sql, "LIMIT 100")
		assert.Contains(t, sql, "OFFSET 40")
	})

	t.Run("malformed cursor is rejected", func(t *testing.T) {
		_, _, err := buildSelect("tools", domain.QueryOptions{Cursor: "!!!"})
		assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
	})

	t.Run("collection name is validated", func(t *testing.T) {
		_, _, err := buildSelect("tools; DROP TABLE x", domain.QueryOptions{})
		assert.Equal(t, apperrors.TypeValidation, apperrors.TypeOf(err))
	})
}

func TestBuildCount(t *testing.T) {
	sql, args, err := buildCount("models", domain.QueryOptions{
		Filters: []domain.FilterCondition{{Column: "provider", Operator: domain.OpEq, Value: "openrouter"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM models WHERE data->>'provider' = $1", sql)
	assert.Equal(t, []any{"openrouter"}, args)
}
