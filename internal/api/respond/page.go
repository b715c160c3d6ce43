package respond

import (
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// Page is a page of list results.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// Pagination is the parsed page and per_page query parameters.
type Pagination struct {
	Page    int
	PerPage int
}

// Offset returns the row offset of the first item on the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ParsePagination reads page (default 1) and per_page (default 50, max 500).
func ParsePagination(r *http.Request) (Pagination, *Error) {
	p := Pagination{Page: 1, PerPage: defaultPerPage}
	q := r.URL.Query()
	if s := q.Get("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return p, BadRequest("invalid page number")
		}
		p.Page = v
	}
	if s := q.Get("per_page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxPerPage {
			return p, BadRequest("per_page must be between 1 and 500")
		}
		p.PerPage = v
	}
	return p, nil
}

// NewPage builds a page from items and the total count.
func NewPage[T any](items []T, total int64, p Pagination) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	return Page[T]{Items: items, Total: total, Page: p.Page, PerPage: p.PerPage, TotalPages: pages}
}
