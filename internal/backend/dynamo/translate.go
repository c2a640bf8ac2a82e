package dynamo

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/domain"
)

// translateFilters converts the backend-neutral conditions into a DynamoDB
// filter expression. The switch is total over domain.Operator: the
// document store expresses the comparison subset plus in/contains/is and
// prefix-anchored like; the relational-only operators are rejected here
// rather than silently dropped, so a query never returns more rows than
// the caller asked for.
func translateFilters(filters []domain.FilterCondition) (*expression.ConditionBuilder, error) {
	var combined *expression.ConditionBuilder
	for _, f := range filters {
		cond, err := translateFilter(f)
		if err != nil {
			return nil, err
		}
		if combined == nil {
			combined = &cond
		} else {
			merged := combined.And(cond)
			combined = &merged
		}
	}
	return combined, nil
}

func translateFilter(f domain.FilterCondition) (expression.ConditionBuilder, error) {
	var zero expression.ConditionBuilder
	name := expression.Name(f.Column)

	switch f.Operator {
	case domain.OpEq:
		return name.Equal(expression.Value(f.Value)), nil
	case domain.OpNeq:
		return name.NotEqual(expression.Value(f.Value)), nil
	case domain.OpGt:
		return name.GreaterThan(expression.Value(f.Value)), nil
	case domain.OpGte:
		return name.GreaterThanEqual(expression.Value(f.Value)), nil
	case domain.OpLt:
		return name.LessThan(expression.Value(f.Value)), nil
	case domain.OpLte:
		return name.LessThanEqual(expression.Value(f.Value)), nil
	case domain.OpIn:
		vals, err := toOperands(f.Value)
		if err != nil {
			return zero, apperrors.Validation("translate", "in filter on "+f.Column+": "+err.Error())
		}
		if len(vals) == 0 {
			return zero, apperrors.Validation("translate", "in filter on "+f.Column+" requires at least one value")
		}
		return name.In(vals[0], vals[1:]...), nil
	case domain.OpContains:
		substr, ok := f.Value.(string)
		if !ok {
			return zero, apperrors.Validation("translate", "contains filter on "+f.Column+" requires a string")
		}
		return name.Contains(substr), nil
	case domain.OpLike:
		// Only prefix-anchored patterns map onto begins_with.
		pattern, ok := f.Value.(string)
		if !ok || !strings.HasSuffix(pattern, "%") || strings.Count(pattern, "%") != 1 {
			return zero, apperrors.UnsupportedOperator(Name, f.Operator.String())
		}
		return name.BeginsWith(strings.TrimSuffix(pattern, "%")), nil
	case domain.OpIs:
		switch v := f.Value.(type) {
		case nil:
			return expression.AttributeNotExists(name), nil
		case bool:
			return name.Equal(expression.Value(v)), nil
		default:
			return zero, apperrors.Validation("translate", "is filter on "+f.Column+" requires null or bool")
		}
	case domain.OpILike, domain.OpContainedBy, domain.OpOverlaps, domain.OpTextSearch,
		domain.OpRangeGt, domain.OpRangeLt, domain.OpRangeGte, domain.OpRangeLte, domain.OpRangeAdjacent:
		return zero, apperrors.UnsupportedOperator(Name, f.Operator.String())
	default:
		return zero, apperrors.UnsupportedOperator(Name, f.Operator.String())
	}
}

func toOperands(v any) ([]expression.OperandBuilder, error) {
	toValues := func(n int, at func(int) any) []expression.OperandBuilder {
		out := make([]expression.OperandBuilder, n)
		for i := 0; i < n; i++ {
			out[i] = expression.Value(at(i))
		}
		return out
	}
	switch vals := v.(type) {
	case []string:
		return toValues(len(vals), func(i int) any { return vals[i] }), nil
	case []int:
		return toValues(len(vals), func(i int) any { return vals[i] }), nil
	case []any:
		return toValues(len(vals), func(i int) any { return vals[i] }), nil
	default:
		return nil, fmt.Errorf("expected a slice, got %T", v)
	}
}
