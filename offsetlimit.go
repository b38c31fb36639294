package pg

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// OffsetLimit pages through a list. A nil limit means the maximum.
type OffsetLimit struct {
	Offset uint64  `json:"offset,omitempty" help:"Offset of the first result"`
	Limit  *uint64 `json:"limit,omitempty" help:"Maximum number of results"`
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Bind sets the "offsetlimit" bind var to an OFFSET and LIMIT clause,
// clamping the limit to max. A max of zero means no limit.
func (r *OffsetLimit) Bind(bind *Bind, max uint64) {
	var clause string
	if r.Offset > 0 {
		clause = fmt.Sprintf("OFFSET %d", r.Offset)
	}

	limit := max
	if r.Limit != nil && (max == 0 || *r.Limit < max) {
		limit = *r.Limit
	}
	if limit > 0 || (r.Limit != nil && *r.Limit == 0) {
		if clause != "" {
			clause += " "
		}
		clause += fmt.Sprintf("LIMIT %d", limit)
	}

	bind.Set("offsetlimit", clause)
}

// Clamp reduces the limit to at most max, setting it when nil
func (r *OffsetLimit) Clamp(max uint64) {
	if r.Limit == nil || *r.Limit > max {
		r.Limit = &max
	}
}
