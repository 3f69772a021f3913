package crmapi

import (
	"context"
	"sync"
)

// Page is one backend page. NextCursor is empty once the listing is exhausted.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// HasMore reports whether another page can be requested.
func (p Page[T]) HasMore() bool {
	return p.NextCursor != ""
}

// envelope is the wire shape of every cursor listing.
type envelope[T any] struct {
	Data       []T     `json:"data"`
	NextCursor *string `json:"next_cursor"`
}

func (e envelope[T]) page() Page[T] {
	p := Page[T]{Items: e.Data}
	if p.Items == nil {
		p.Items = []T{}
	}
	if e.NextCursor != nil {
		p.NextCursor = *e.NextCursor
	}
	return p
}

// FetchFunc fetches the page that starts at cursor ("" for the first page).
type FetchFunc[T any] func(ctx context.Context, cursor string, limit int) (Page[T], error)

// Pager walks a cursor listing one page at a time. The cursor is opaque and
// only ever passed back verbatim.
type Pager[T any] struct {
	mu     sync.Mutex
	fetch  FetchFunc[T]
	limit  int
	cursor string
	done   bool
	loaded int
}

// NewPager creates a pager positioned before the first page.
func NewPager[T any](fetch FetchFunc[T], limit int) *Pager[T] {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return &Pager[T]{fetch: fetch, limit: limit}
}

// HasMore reports whether Next can return more items.
func (p *Pager[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.done
}

// Loaded is the number of items returned so far.
func (p *Pager[T]) Loaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Next fetches the next page. After exhaustion it returns no items and no
// error. A failed fetch leaves the pager where it was so the call can be
// repeated.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return nil, nil
	}
	page, err := p.fetch(ctx, p.cursor, p.limit)
	if err != nil {
		return nil, err
	}
	p.cursor = page.NextCursor
	p.done = page.NextCursor == ""
	p.loaded += len(page.Items)
	return page.Items, nil
}
