package models

// Page is one response of a list query.
type Page struct {
	Items    []*Record `json:"items"`
	Count    *int64    `json:"count,omitempty"`
	NextLink string    `json:"nextLink,omitempty"`
}

// Last returns the item with the greatest (updatedAt, id) key, or nil for an
// empty page. Its UpdatedAt is the watermark reached by the page.
func (p *Page) Last() *Record {
	var best *Record
	for _, it := range p.Items {
		if best == nil || it.UpdatedAt.After(best.UpdatedAt) ||
			(it.UpdatedAt.Equal(best.UpdatedAt) && it.ID > best.ID) {
			best = it
		}
	}
	return best
}
