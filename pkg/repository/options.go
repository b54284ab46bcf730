package repository

// ListOptions describes one page of a filtered listing.
type ListOptions struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Filters  map[string]string `json:"filters"`
}

// Normalize clamps page to >= 1 and page size to [1, maxSize], using def when unset.
func (o ListOptions) Normalize(def, maxSize int) ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = def
	}
	if maxSize > 0 && o.PageSize > maxSize {
		o.PageSize = maxSize
	}
	return o
}

// Offset is the number of rows skipped before this page.
func (o ListOptions) Offset() int {
	if o.Page < 1 {
		return 0
	}
	return (o.Page - 1) * o.PageSize
}

// Filter returns the named filter, or "" if unset.
func (o ListOptions) Filter(name string) string {
	if o.Filters == nil {
		return ""
	}
	return o.Filters[name]
}
