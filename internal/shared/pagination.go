package shared

// Pagination contains normalised limit/offset values for listings.
type Pagination struct {
	Limit  int
	Offset int
}

// NewPagination clamps limit into (0, max] using def when unset, and floors offset at zero.
func NewPagination(limit, offset, def, max int) Pagination {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}
