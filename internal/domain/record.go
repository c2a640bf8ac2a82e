// Package domain holds the backend-neutral data model: records, filter
// conditions, and query options shared by every backend client.
package domain

import "fmt"

// Record is a generic entity. Identity is the "id" field; the record's
// lifecycle is owned by whichever backend currently holds it. This layer
// only mediates access.
type Record map[string]any

// ID returns the record identity as a string. Numeric ids are formatted;
// a missing id returns "".
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}

// Clone returns a shallow copy. Callers mutate copies, never cached records.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
