// Package pagination reads a remote collection in fixed-size, cursor-chained
// pages, serving repeated reads from the local result cache.
//
// A Reader keeps the cursor issued after every page it has loaded, so any
// page whose predecessor was visited in this session can be fetched directly.
// Requesting a page whose predecessor was never loaded falls back to a
// first-page query: the result is returned and shown but not cached, and the
// fallback is counted (see Fallbacks).
package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/balaan/admindash/pkg/activity"
	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/metrics"
)

// Defaults for a zero Config.
const (
	DefaultPageSize   = 20
	DefaultOrderField = "created_time"
	DefaultDirection  = docstore.Desc
)

// ErrBusy is returned by LoadPage when another load is in flight.
var ErrBusy = errors.New("page load already in progress")

// Config fixes what a Reader reads. It cannot change for the lifetime of a
// Reader since cursors are only valid for the order they were issued under.
type Config struct {
	Tracker    *activity.Tracker // nil = no tracking
	Clock      clockwork.Clock   // nil = real clock
	Collection string
	OrderField string
	Direction  docstore.Direction
	PageSize   int
}

// page is the cached form of one loaded page.
type page struct {
	Cursor  docstore.Cursor   `json:"cursor"`
	Items   []docstore.Record `json:"items"`
	HasMore bool              `json:"has_more"`
}

// Reader pages through one collection. Its methods are safe for concurrent
// use, but overlapping loads are rejected rather than queued.
type Reader struct {
	store   docstore.Store
	cache   *cache.Cache
	tracker *activity.Tracker
	clock   clockwork.Clock
	err     error
	cursors map[int]docstore.Cursor // cursor issued after page n

	collection string
	orderField string
	direction  docstore.Direction
	items      []docstore.Record

	pageSize    int
	currentPage int
	totalCount  int
	fallbacks   int
	mu          sync.Mutex
	hasMore     bool
	loading     bool
}

// New creates a reader over store, caching through c.
func New(store docstore.Store, c *cache.Cache, cfg Config) *Reader {
	r := &Reader{
		store:       store,
		cache:       c,
		tracker:     cfg.Tracker,
		clock:       cfg.Clock,
		collection:  cfg.Collection,
		orderField:  cfg.OrderField,
		direction:   cfg.Direction,
		pageSize:    cfg.PageSize,
		cursors:     make(map[int]docstore.Cursor),
		currentPage: 1,
		hasMore:     true,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.orderField == "" {
		r.orderField = DefaultOrderField
	}
	if r.direction == "" {
		r.direction = DefaultDirection
	}
	if r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	return r
}

func (r *Reader) pageKey(n int) string {
	return fmt.Sprintf("%s_%s_%s_%d_page_%d", r.collection, r.orderField, r.direction, r.pageSize, n)
}

func (r *Reader) countKey() string {
	return r.collection + "_total_count"
}

// LoadPage loads page n (1-based; smaller values mean page 1). Unless force is
// set, a cached copy is used when present. On failure the reader state is left
// unchanged, the error is recorded in Err and an empty slice is returned.
func (r *Reader) LoadPage(ctx context.Context, n int, force bool) ([]docstore.Record, error) {
	if n < 1 {
		n = 1
	}

	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return []docstore.Record{}, ErrBusy
	}
	r.loading = true
	after, known := r.cursors[n-1]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
	}()

	if !force {
		var cached page
		if r.cache.Lookup(r.pageKey(n), &cached) {
			items := r.normalize(cached.Items)
			metrics.IncPageLoad(r.collection, "cache")
			slog.Debug("Page served from cache", "component", "pagination", "collection", r.collection, "page", n)
			r.adopt(n, items, cached.Cursor, cached.HasMore)
			return items, nil
		}
	}

	q := docstore.Query{
		OrderBy:   r.orderField,
		Direction: r.direction,
		Limit:     r.pageSize,
	}
	fallback := false
	if n > 1 {
		if known {
			q.StartAfter = after
		} else {
			fallback = true
			slog.Warn("No cursor for preceding page, falling back to a first-page query",
				"component", "pagination", "collection", r.collection, "page", n)
		}
	}

	start := r.clock.Now()
	res, err := r.store.Query(ctx, r.collection, q)
	metrics.ObserveRemote("query", r.clock.Since(start).Seconds())
	if err != nil {
		slog.Error("Page load failed", "component", "pagination", "collection", r.collection, "page", n, "error", err)
		r.mu.Lock()
		r.err = fmt.Errorf("loading %s page %d: %w", r.collection, n, err)
		r.mu.Unlock()
		return []docstore.Record{}, r.Err()
	}

	items := r.normalize(res.Records)
	hasMore := len(items) == r.pageSize
	metrics.IncPageLoad(r.collection, "remote")

	next := res.Next
	if fallback {
		// res.Next points past page 1, not past page n.
		next = ""
		r.mu.Lock()
		r.fallbacks++
		r.mu.Unlock()
	} else {
		r.cache.Set(r.pageKey(n), page{Items: items, Cursor: next, HasMore: hasMore}, cache.TTLPage)
	}
	r.adopt(n, items, next, hasMore)

	r.tracker.Track(ctx, "pagination_load", r.collection, map[string]any{
		"page":        n,
		"items_count": len(items),
		"has_more":    hasMore,
	})
	return items, nil
}

func (r *Reader) adopt(n int, items []docstore.Record, cursor docstore.Cursor, hasMore bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	r.currentPage = n
	r.hasMore = hasMore
	r.err = nil
	if cursor == "" {
		delete(r.cursors, n)
		return
	}
	r.cursors[n] = cursor
}

// normalize sets canonical created_at and updated_at times on copies of recs.
// Missing or unparseable timestamps fall back to now.
func (r *Reader) normalize(recs []docstore.Record) []docstore.Record {
	now := r.clock.Now()
	out := make([]docstore.Record, len(recs))
	for i, rec := range recs {
		n := rec.Clone()
		n["created_at"] = firstTime(rec, now, "created_time", "created_at")
		n["updated_at"] = firstTime(rec, now, "updated_time", "updated_at")
		out[i] = n
	}
	return out
}

func firstTime(rec docstore.Record, def time.Time, fields ...string) time.Time {
	for _, f := range fields {
		if t, ok := rec.Time(f); ok {
			return t
		}
	}
	return def
}

// LoadNext loads the page after the current one. It does nothing while a load
// is in flight or when the last load reported no more data.
func (r *Reader) LoadNext(ctx context.Context) ([]docstore.Record, error) {
	r.mu.Lock()
	if r.loading || !r.hasMore {
		r.mu.Unlock()
		return nil, nil
	}
	next := r.currentPage + 1
	r.mu.Unlock()
	return r.LoadPage(ctx, next, false)
}

// LoadPrevious loads the page before the current one. It does nothing while a
// load is in flight or on page 1.
func (r *Reader) LoadPrevious(ctx context.Context) ([]docstore.Record, error) {
	r.mu.Lock()
	if r.loading || r.currentPage <= 1 {
		r.mu.Unlock()
		return nil, nil
	}
	prev := r.currentPage - 1
	r.mu.Unlock()
	return r.LoadPage(ctx, prev, false)
}

// GoToPage loads page n if it lies within [1, TotalPages]. Other values are
// ignored.
func (r *Reader) GoToPage(ctx context.Context, n int) ([]docstore.Record, error) {
	if n < 1 || n > r.TotalPages() {
		slog.Debug("Ignoring out-of-range page", "component", "pagination", "collection", r.collection, "page", n)
		return nil, nil
	}
	return r.LoadPage(ctx, n, false)
}

// Refresh drops every cached entry for the collection, then reloads page 1
// and the total count from the store.
func (r *Reader) Refresh(ctx context.Context) error {
	r.cache.InvalidatePattern(r.collection)

	r.mu.Lock()
	clear(r.cursors)
	r.mu.Unlock()

	_, pageErr := r.LoadPage(ctx, 1, true)
	_, countErr := r.LoadTotalCount(ctx, true)
	return errors.Join(pageErr, countErr)
}

// LoadTotalCount fetches the number of documents in the collection with a
// server-side count, cached separately from pages.
func (r *Reader) LoadTotalCount(ctx context.Context, force bool) (int, error) {
	key := r.countKey()
	if !force {
		var n int
		if r.cache.Lookup(key, &n) {
			r.mu.Lock()
			r.totalCount = n
			r.mu.Unlock()
			return n, nil
		}
	}

	start := r.clock.Now()
	n, err := r.store.Count(ctx, r.collection)
	metrics.ObserveRemote("count", r.clock.Since(start).Seconds())
	if err != nil {
		slog.Error("Count failed", "component", "pagination", "collection", r.collection, "error", err)
		r.mu.Lock()
		r.err = fmt.Errorf("counting %s: %w", r.collection, err)
		r.mu.Unlock()
		return 0, r.Err()
	}

	r.cache.Set(key, n, cache.TTLCount)
	r.mu.Lock()
	r.totalCount = n
	r.mu.Unlock()
	return n, nil
}

// Items returns the records of the current page.
func (r *Reader) Items() []docstore.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items
}

// CurrentPage returns the 1-based index of the current page.
func (r *Reader) CurrentPage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPage
}

// TotalCount returns the last loaded total count.
func (r *Reader) TotalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalCount
}

// TotalPages returns ceil(TotalCount / PageSize).
func (r *Reader) TotalPages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (r.totalCount + r.pageSize - 1) / r.pageSize
}

// HasMore reports whether the last load returned a full page. It is a
// heuristic: a full final page still reports true.
func (r *Reader) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Loading reports whether a load is in flight.
func (r *Reader) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Err returns the error of the last failed load, cleared by the next
// successful one.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// IsFirstPage reports whether the current page is page 1.
func (r *Reader) IsFirstPage() bool {
	return r.CurrentPage() == 1
}

// IsLastPage reports whether the current page is the last one. It is true
// when the collection is empty.
func (r *Reader) IsLastPage() bool {
	total := r.TotalPages()
	return total == 0 || r.CurrentPage() >= total
}

// PageSize returns the configured page size.
func (r *Reader) PageSize() int {
	return r.pageSize
}

// Fallbacks returns how many loads had no cursor for their preceding page.
func (r *Reader) Fallbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbacks
}
