package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Operator is the closed set of filter operators. Translation to a backend
// query is a total function over this enum; an operator a backend cannot
// express is rejected at translation time, never silently dropped.
type Operator uint8

const (
	OpEq Operator = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike
	OpILike
	OpIn
	OpIs
	OpContains
	OpContainedBy
	OpOverlaps
	OpTextSearch
	OpRangeGt
	OpRangeLt
	OpRangeGte
	OpRangeLte
	OpRangeAdjacent
)

var operatorNames = map[Operator]string{
	OpEq:            "eq",
	OpNeq:           "neq",
	OpGt:            "gt",
	OpGte:           "gte",
	OpLt:            "lt",
	OpLte:           "lte",
	OpLike:          "like",
	OpILike:         "ilike",
	OpIn:            "in",
	OpIs:            "is",
	OpContains:      "contains",
	OpContainedBy:   "containedBy",
	OpOverlaps:      "overlaps",
	OpTextSearch:    "textSearch",
	OpRangeGt:       "rangeGt",
	OpRangeLt:       "rangeLt",
	OpRangeGte:      "rangeGte",
	OpRangeLte:      "rangeLte",
	OpRangeAdjacent: "rangeAdjacent",
}

func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operator(%d)", o)
}

// FilterCondition is one backend-neutral predicate. Conditions in a query
// are ordered and AND-combined.
type FilterCondition struct {
	Column   string
	Operator Operator
	Value    any
}

// SortField orders results by one column.
type SortField struct {
	Column    string
	Ascending bool
}

// QueryOptions describes a list/count query independently of the backend.
// Pagination is page+pageSize XOR cursor; supplying both is a validation
// error.
type QueryOptions struct {
	Filters  []FilterCondition
	Sort     []SortField
	Page     int    `validate:"gte=0"`
	PageSize int    `validate:"gte=0,lte=1000"`
	Cursor   string
	Select   []string
	Include  []string
}

var validate = validator.New()

// Validate rejects malformed options before any translation or I/O.
func (q QueryOptions) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("invalid query options: %w", err)
	}
	if q.Cursor != "" && (q.Page > 0 || q.PageSize > 0) {
		return fmt.Errorf("invalid query options: cursor and page/pageSize are mutually exclusive")
	}
	if q.Page > 0 && q.PageSize == 0 {
		return fmt.Errorf("invalid query options: page requires pageSize")
	}
	return nil
}

// Offset returns the row offset implied by page-based pagination.
func (q QueryOptions) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}
