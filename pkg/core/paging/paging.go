// Package paging counts a query plan, clamps the requested page and slices
// out the rows for it.
package paging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
	"github.com/ruslano69/tdtp-explorer/pkg/countcache"
)

// QueryError wraps a count or slice failure. It is shown to the user inline
// and never changes committed state.
type QueryError struct {
	Op  string // count | slice
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Count cache outcomes reported in Result.Cache.
const (
	CacheNone  = "none"
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Result is one page of a plan.
type Result struct {
	Rows       []dataset.Row
	Columns    []string
	TotalRows  int64
	TotalPages int
	Page       int // clamped page number
	Cache      string
}

// Engine paginates plans. Cache is optional.
type Engine struct {
	Cache  countcache.Cache
	Logger zerolog.Logger
}

// TotalPages returns max(1, ceil(total/size)).
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 1
	}
	pages := (total + int64(size) - 1) / int64(size)
	if pages < 1 {
		return 1
	}
	return int(pages)
}

// Clamp bounds requested to [1, TotalPages(total, size)].
func Clamp(total int64, size, requested int) int {
	pages := TotalPages(total, size)
	switch {
	case requested < 1:
		return 1
	case requested > pages:
		return pages
	}
	return requested
}

// Paginate counts plan, clamps page.Number and slices the page.
func (e *Engine) Paginate(ctx context.Context, plan query.Plan, page state.PageState) (Result, error) {
	if page.Size <= 0 {
		return Result{}, &QueryError{Op: "slice", Err: fmt.Errorf("page size %d must be positive", page.Size)}
	}

	total, cache, err := e.count(ctx, plan)
	if err != nil {
		return Result{Cache: cache}, &QueryError{Op: "count", Err: err}
	}

	res := Result{
		Columns:    plan.Columns(),
		TotalRows:  total,
		TotalPages: TotalPages(total, page.Size),
		Page:       Clamp(total, page.Size, page.Number),
		Cache:      cache,
	}
	offset := int64(res.Page-1) * int64(page.Size)
	if total == 0 || offset >= total {
		res.Rows = []dataset.Row{}
		return res, nil
	}

	rows, err := plan.Slice(ctx, offset, int64(page.Size))
	if err != nil {
		return Result{Cache: cache}, &QueryError{Op: "slice", Err: err}
	}
	res.Rows = rows
	return res, nil
}

func (e *Engine) count(ctx context.Context, plan query.Plan) (int64, string, error) {
	if e.Cache == nil {
		n, err := plan.Count(ctx)
		return n, CacheNone, err
	}

	fp := plan.Fingerprint()
	outcome := CacheMiss
	n, ok, err := e.Cache.Get(ctx, fp)
	switch {
	case err != nil:
		e.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("count cache read failed")
		outcome = CacheError
	case ok:
		return n, CacheHit, nil
	}

	n, err = plan.Count(ctx)
	if err != nil {
		return 0, outcome, err
	}
	if err := e.Cache.Set(ctx, fp, n); err != nil {
		e.Logger.Warn().Err(err).Str("fingerprint", fp).Msg("count cache write failed")
	}
	return n, outcome, nil
}
