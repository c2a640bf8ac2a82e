package postgres

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/domain"
)

// Collections are tables of the shape (id TEXT PRIMARY KEY, data JSONB,
// created_at, updated_at). Filters address either the id column or a field
// inside the JSONB document; range operators cast the field text to
// numrange, matching how the dashboard stores range-valued fields.

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return apperrors.Validation("translate", fmt.Sprintf("invalid identifier %q", name))
	}
	return nil
}

// fieldExpr returns the SQL expression addressing a filter column.
func fieldExpr(column string) string {
	if column == "id" {
		return "id"
	}
	return fmt.Sprintf("data->>'%s'", column)
}

// comparable wraps fieldExpr with a numeric cast when the compared value is
// numeric, so 9 < 10 instead of "9" > "10".
func comparableExpr(column string, value any) string {
	expr := fieldExpr(column)
	switch value.(type) {
	case int, int32, int64, float32, float64:
		if column != "id" {
			return "(" + expr + ")::numeric"
		}
	}
	return expr
}

func rangeExpr(column string) string {
	return "(" + fieldExpr(column) + ")::numrange"
}

// translateFilters converts the backend-neutral conditions into squirrel
// predicates. The switch is total over domain.Operator; Postgres supports
// the full operator set.
func translateFilters(filters []domain.FilterCondition) ([]sq.Sqlizer, error) {
	out := make([]sq.Sqlizer, 0, len(filters))
	for _, f := range filters {
		if err := checkIdent(f.Column); err != nil {
			return nil, err
		}
		pred, err := translateFilter(f)
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, nil
}

func translateFilter(f domain.FilterCondition) (sq.Sqlizer, error) {
	field := fieldExpr(f.Column)
	cmp := comparableExpr(f.Column, f.Value)

	switch f.Operator {
	case domain.OpEq:
		return sq.Expr(cmp+" = ?", f.Value), nil
	case domain.OpNeq:
		return sq.Expr(cmp+" <> ?", f.Value), nil
	case domain.OpGt:
		return sq.Expr(cmp+" > ?", f.Value), nil
	case domain.OpGte:
		return sq.Expr(cmp+" >= ?", f.Value), nil
	case domain.OpLt:
		return sq.Expr(cmp+" < ?", f.Value), nil
	case domain.OpLte:
		return sq.Expr(cmp+" <= ?", f.Value), nil
	case domain.OpLike:
		return sq.Expr(field+" LIKE ?", f.Value), nil
	case domain.OpILike:
		return sq.Expr(field+" ILIKE ?", f.Value), nil
	case domain.OpIn:
		vals, err := toStringSlice(f.Value)
		if err != nil {
			return nil, apperrors.Validation("translate", fmt.Sprintf("in filter on %q: %v", f.Column, err))
		}
		return sq.Expr(field+" = ANY(?)", vals), nil
	case domain.OpIs:
		switch v := f.Value.(type) {
		case nil:
			return sq.Expr(field + " IS NULL"), nil
		case bool:
			if v {
				return sq.Expr("(" + field + ")::boolean IS TRUE"), nil
			}
			return sq.Expr("(" + field + ")::boolean IS FALSE"), nil
		default:
			return nil, apperrors.Validation("translate", fmt.Sprintf("is filter on %q requires null or bool", f.Column))
		}
	case domain.OpContains:
		doc, err := json.Marshal(f.Value)
		if err != nil {
			return nil, apperrors.Validation("translate", fmt.Sprintf("contains filter on %q: %v", f.Column, err))
		}
		return sq.Expr(fmt.Sprintf("data->'%s' @> ?::jsonb", f.Column), string(doc)), nil
	case domain.OpContainedBy:
		doc, err := json.Marshal(f.Value)
		if err != nil {
			return nil, apperrors.Validation("translate", fmt.Sprintf("containedBy filter on %q: %v", f.Column, err))
		}
		return sq.Expr(fmt.Sprintf("data->'%s' <@ ?::jsonb", f.Column), string(doc)), nil
	case domain.OpOverlaps:
		return sq.Expr(rangeExpr(f.Column)+" && ?::numrange", f.Value), nil
	case domain.OpTextSearch:
		return sq.Expr("to_tsvector('simple', "+field+") @@ plainto_tsquery('simple', ?)", f.Value), nil
	case domain.OpRangeGt:
		return sq.Expr(rangeExpr(f.Column)+" >> ?::numrange", f.Value), nil
	case domain.OpRangeLt:
		return sq.Expr(rangeExpr(f.Column)+" << ?::numrange", f.Value), nil
	case domain.OpRangeGte:
		return sq.Expr(rangeExpr(f.Column)+" &> ?::numrange", f.Value), nil
	case domain.OpRangeLte:
		return sq.Expr(rangeExpr(f.Column)+" &< ?::numrange", f.Value), nil
	case domain.OpRangeAdjacent:
		return sq.Expr(rangeExpr(f.Column)+" -|- ?::numrange", f.Value), nil
	default:
		return nil, apperrors.UnsupportedOperator(Name, f.Operator.String())
	}
}

// buildSelect assembles the full list query for a collection.
func buildSelect(collection string, opts domain.QueryOptions) (string, []any, error) {
	if err := checkIdent(collection); err != nil {
		return "", nil, err
	}
	preds, err := translateFilters(opts.Filters)
	if err != nil {
		return "", nil, err
	}

	q := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("id", "data").From(collection)
	for _, p := range preds {
		q = q.Where(p)
	}
	for _, s := range opts.Sort {
		if err := checkIdent(s.Column); err != nil {
			return "", nil, err
		}
		dir := " ASC"
		if !s.Ascending {
			dir = " DESC"
		}
		q = q.OrderBy(fieldExpr(s.Column) + dir)
	}

	offset := opts.Offset()
	limit := opts.PageSize
	if opts.Cursor != "" {
		offset, err = decodeCursor(opts.Cursor)
		if err != nil {
			return "", nil, err
		}
		limit = defaultCursorPageSize
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	return q.ToSql()
}

// buildCount reuses the WHERE clause with a count(*) projection.
func buildCount(collection string, opts domain.QueryOptions) (string, []any, error) {
	if err := checkIdent(collection); err != nil {
		return "", nil, err
	}
	preds, err := translateFilters(opts.Filters)
	if err != nil {
		return "", nil, err
	}
	q := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("count(*)").From(collection)
	for _, p := range preds {
		q = q.Where(p)
	}
	return q.ToSql()
}

const defaultCursorPageSize = 100

// Cursors are opaque to callers; this backend encodes a row offset.
func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperrors.Validation("translate", "malformed cursor")
	}
	s := string(raw)
	if !strings.HasPrefix(s, "o:") {
		return 0, apperrors.Validation("translate", "malformed cursor")
	}
	offset, err := strconv.Atoi(s[2:])
	if err != nil || offset < 0 {
		return 0, apperrors.Validation("translate", "malformed cursor")
	}
	return offset, nil
}

func toStringSlice(v any) ([]string, error) {
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []any:
		out := make([]string, len(vals))
		for i, item := range vals {
			out[i] = fmt.Sprintf("%v", item)
		}
		return out, nil
	case []int:
		out := make([]string, len(vals))
		for i, item := range vals {
			out[i] = strconv.Itoa(item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a slice, got %T", v)
	}
}
