// Package pagination turns raw cursor/limit query values into a canonical
// page request. Cache keys and store queries both go through Parse so a
// request that omits the parameters and one that spells out the defaults
// share one cache entry.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	shop "github.com/eugener/goshop/internal"
)

const (
	DefaultCursor int64 = 1
	DefaultLimit        = 10
	MaxLimit            = 100
)

// Page is a canonical page request. Cursor is the smallest id the page may
// contain; pages are ordered by ascending id.
type Page struct {
	Cursor int64
	Limit  int
}

// Parse reads "cursor" and "limit" from q. Missing values take the defaults,
// limits above MaxLimit are clamped, and anything non-positive or
// non-numeric is a bad request.
func Parse(q url.Values) (Page, error) {
	p := Page{Cursor: DefaultCursor, Limit: DefaultLimit}

	if s := q.Get("cursor"); s != "" {
		c, err := strconv.ParseInt(s, 10, 64)
		if err != nil || c < 1 {
			return Page{}, fmt.Errorf("%w: cursor must be a positive integer", shop.ErrBadRequest)
		}
		p.Cursor = c
	}
	if s := q.Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 1 {
			return Page{}, fmt.Errorf("%w: limit must be a positive integer", shop.ErrBadRequest)
		}
		p.Limit = min(l, MaxLimit)
	}
	return p, nil
}

// Cut trims a result fetched with Limit+1 rows down to the page and returns
// the next cursor, or nil when rows holds no more than Limit items.
func Cut[T any](rows []T, limit int, id func(T) int64) ([]T, *int64) {
	if len(rows) <= limit {
		return rows, nil
	}
	next := id(rows[limit])
	return rows[:limit], &next
}
