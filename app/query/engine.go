package query

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"casefile/app/cache"
	"casefile/app/interfaces"
	"casefile/app/store"
)

const (
	// DefaultPageSize is used when a request carries no limit.
	DefaultPageSize = 100
	// MaxPageSize bounds one page.
	MaxPageSize = 10000
)

// Logger interface for query logging
type Logger interface {
	Log(level, message string)
}

type nopLogger struct{}

func (nopLogger) Log(string, string) {}

// Engine executes requests against one session store.
type Engine struct {
	store  *store.Store
	counts *cache.CountCache
	logger Logger

	mu      sync.Mutex
	version int64
	loc     *time.Location
}

// NewEngine binds an engine to a store. The count cache is dropped whenever
// the store's annotation version moves.
func NewEngine(st *store.Store, counts *cache.CountCache, logger Logger) *Engine {
	if logger == nil {
		logger = nopLogger{}
	}
	if counts == nil {
		counts = cache.NewCountCache(0, nil)
	}
	return &Engine{
		store:   st,
		counts:  counts,
		logger:  logger,
		version: st.AnnotationVersion(),
		loc:     time.UTC,
	}
}

// Store returns the store the engine reads. Writes made through it, such
// as annotations, are seen by the next query.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Counts returns the engine's count cache.
func (e *Engine) Counts() *cache.CountCache {
	return e.counts
}

// SetLocation sets the zone used to resolve relative date filters.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	e.mu.Lock()
	e.loc = loc
	e.mu.Unlock()
}

func (e *Engine) location() *time.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loc
}

// Predicate compiles req against the current schema into a WHERE clause
// and its arguments. A "contains" search on a store whose index was never
// started builds the index first; the call blocks until that finishes.
// Unknown columns and unparseable date bounds are dropped, so the result
// never fails to compile.
func (e *Engine) Predicate(ctx context.Context, req interfaces.QueryRequest) Predicate {
	return Lower(e.compiler(ctx, req).Compile(req))
}

// PredicateExcept is Predicate without the checkbox filter of column. It
// feeds the distinct value list of that column's own filter.
func (e *Engine) PredicateExcept(ctx context.Context, req interfaces.QueryRequest, column string) Predicate {
	return Lower(e.compiler(ctx, req).CompileExcept(req, column))
}

// compiler builds the index on demand for a "contains" search when it was
// never started. A build already running is not waited for; the LIKE
// fallback answers until it is ready.
func (e *Engine) compiler(ctx context.Context, req interfaces.QueryRequest) *Compiler {
	if needsIndex(req) && e.store.SearchIndexState() == interfaces.IndexNotBuilt {
		e.logger.Log("info", "[SEARCH_INDEX] Building on first search")
		if err := e.store.BuildSearchIndex(ctx); err != nil {
			e.logger.Log("warn", fmt.Sprintf("[SEARCH_INDEX] On-demand build failed: %v", err))
		}
	}
	return NewCompiler(e.store, e.store.SearchIndexReady()).WithClock(time.Now(), e.location())
}

func needsIndex(req interfaces.QueryRequest) bool {
	if strings.TrimSpace(req.SearchTerm) == "" {
		return false
	}
	switch strings.ToLower(req.SearchMode) {
	case interfaces.SearchModeRegex, interfaces.SearchModeFuzzy:
		return false
	}
	cond := strings.ToLower(req.SearchCondition)
	return cond == "" || cond == interfaces.SearchConditionContains
}

// Query returns one page of matching rows with their annotations.
func (e *Engine) Query(ctx context.Context, req interfaces.QueryRequest) (interfaces.QueryResult, error) {
	res := interfaces.QueryResult{
		Rows:              []map[string]string{},
		RowKeys:           []int64{},
		BookmarkedRowKeys: []int64{},
		TagsByRowKey:      map[int64][]string{},
		TotalRows:         e.store.RowCount(),
	}
	if e.store.IsClosed() {
		return res, store.ErrClosed
	}
	pred := e.Predicate(ctx, req)

	total, err := e.CountPredicate(ctx, pred)
	if err != nil {
		return res, err
	}
	res.TotalFiltered = total

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset := max(req.Offset, 0)

	cols := e.store.Columns()
	args := append(append(make([]any, 0, len(pred.Args)+2), pred.Args...), limit, offset)
	order := e.orderBy(ctx, req) + " LIMIT ? OFFSET ?"
	err = e.store.ScanWhere(ctx, pred.Where, args, order, func(key int64, values []string) error {
		row := make(map[string]string, len(cols))
		for i, c := range cols {
			row[c.Name] = values[i]
		}
		res.Rows = append(res.Rows, row)
		res.RowKeys = append(res.RowKeys, key)
		return nil
	})
	if err != nil {
		return res, err
	}

	// Annotation lookups run after the cursor is closed.
	if len(res.RowKeys) > 0 {
		if res.BookmarkedRowKeys, err = e.store.BookmarkedAmong(ctx, res.RowKeys); err != nil {
			return res, err
		}
		if res.TagsByRowKey, err = e.store.TagsAmong(ctx, res.RowKeys); err != nil {
			return res, err
		}
	}
	return res, nil
}

// orderBy resolves the sort column, creating its index on first use. Ties
// and unsorted requests fall back to import order.
func (e *Engine) orderBy(ctx context.Context, req interfaces.QueryRequest) string {
	if req.SortColumn == "" {
		return "_rk"
	}
	col, ok := e.store.ResolveColumn(req.SortColumn)
	if !ok {
		return "_rk"
	}
	e.store.EnsureSortIndex(ctx, col.Name)
	dir := "ASC"
	if strings.EqualFold(req.SortDirection, interfaces.SortDesc) {
		dir = "DESC"
	}
	return store.SortExpr(col) + " " + dir + ", _rk " + dir
}

// Count returns the number of rows matching req.
func (e *Engine) Count(ctx context.Context, req interfaces.QueryRequest) (int64, error) {
	return e.CountPredicate(ctx, e.Predicate(ctx, req))
}

// CountPredicate counts rows matching a compiled predicate, memoized until
// the next annotation change.
func (e *Engine) CountPredicate(ctx context.Context, pred Predicate) (int64, error) {
	if pred.IsEmpty() {
		return e.store.RowCount(), nil
	}
	e.syncVersion()
	key := cache.Key(pred.Where, pred.Args)
	if n, ok := e.counts.Get(key); ok {
		return n, nil
	}
	var n int64
	q := "SELECT COUNT(*) FROM " + store.RowsTable + " WHERE " + pred.Where
	if err := e.store.QueryRowContext(ctx, q, pred.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	e.counts.Put(key, n)
	return n, nil
}

func (e *Engine) syncVersion() {
	v := e.store.AnnotationVersion()
	e.mu.Lock()
	changed := v != e.version
	e.version = v
	e.mu.Unlock()
	if changed {
		e.counts.Invalidate()
	}
}

// DistinctValue is one value of a column with its frequency.
type DistinctValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Distinct lists a column's values among rows matching every filter of req
// except the column's own checkbox filter, most frequent first. limit <= 0
// means no limit. The boolean reports whether the list was cut.
func (e *Engine) Distinct(ctx context.Context, req interfaces.QueryRequest, column string, limit int) ([]DistinctValue, bool, error) {
	col, ok := e.store.ResolveColumn(column)
	if !ok {
		return nil, false, fmt.Errorf("unknown column %q", column)
	}
	pred := e.PredicateExcept(ctx, req, col.Name)
	q := fmt.Sprintf("SELECT %s, COUNT(*) AS n FROM %s WHERE %s GROUP BY %s ORDER BY n DESC, %s",
		col.Ident, store.RowsTable, pred.Where, col.Ident, col.Ident)
	args := pred.Args
	if limit > 0 {
		q += " LIMIT ?"
		args = append(append([]any{}, args...), limit+1)
	}
	rows, err := e.store.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list values: %w", err)
	}
	defer rows.Close()

	out := []DistinctValue{}
	for rows.Next() {
		var v DistinctValue
		if err := rows.Scan(&v.Value, &v.Count); err != nil {
			return nil, false, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if limit > 0 && len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

// Export writes every row matching req, in the requested order, as CSV
// with a header line. It returns the number of data rows written.
func (e *Engine) Export(ctx context.Context, req interfaces.QueryRequest, w io.Writer) (int64, error) {
	if e.store.IsClosed() {
		return 0, store.ErrClosed
	}
	pred := e.Predicate(ctx, req)
	order := e.orderBy(ctx, req)

	cw := csv.NewWriter(w)
	if err := cw.Write(e.store.Headers()); err != nil {
		return 0, err
	}
	var n int64
	err := e.store.ScanWhere(ctx, pred.Where, pred.Args, order, func(_ int64, values []string) error {
		n++
		return cw.Write(values)
	})
	if err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}
