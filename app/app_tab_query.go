package app

import (
	"context"
	"fmt"
	"io"

	"casefile/app/analytics"
	"casefile/app/histogram"
	"casefile/app/interfaces"
	"casefile/app/query"
)

// Read-only calls never fail: an unknown tab or a failing query yields the
// empty result with Error set.

// readOnly runs fn against a tab. On failure it logs, and returns empty()
// with the message stored through setErr.
func readOnly[T any](a *App, tabID, op string, empty func() T, setErr func(*T, string), fn func(*fileTab) (T, error)) T {
	t, ok := a.tab(tabID)
	if !ok {
		res := empty()
		setErr(&res, fmt.Sprintf("%v: %s", ErrTabNotFound, tabID))
		return res
	}
	res, err := fn(t)
	if err != nil {
		a.Log("warn", fmt.Sprintf("[%s] tab %s: %v", op, tabID, err))
		res = empty()
		setErr(&res, err.Error())
	}
	return res
}

func emptyQueryResult() interfaces.QueryResult {
	return interfaces.QueryResult{
		Rows:              []map[string]string{},
		RowKeys:           []int64{},
		BookmarkedRowKeys: []int64{},
		TagsByRowKey:      map[int64][]string{},
	}
}

// Query returns one page of filtered, sorted rows with their bookmarks and tags.
func (a *App) Query(ctx context.Context, tabID string, req interfaces.QueryRequest) interfaces.QueryResult {
	return readOnly(a, tabID, "QUERY", emptyQueryResult,
		func(r *interfaces.QueryResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.QueryResult, error) {
			return t.engine.Query(ctx, req)
		})
}

// Count returns the number of rows matching req, or 0.
func (a *App) Count(ctx context.Context, tabID string, req interfaces.QueryRequest) int64 {
	t, ok := a.tab(tabID)
	if !ok {
		return 0
	}
	n, err := t.engine.Count(ctx, req)
	if err != nil {
		a.Log("warn", fmt.Sprintf("[QUERY] count on tab %s: %v", tabID, err))
		return 0
	}
	return n
}

// DistinctValuesResult lists a column's values for a checkbox filter.
type DistinctValuesResult struct {
	Values    []query.DistinctValue `json:"values"`
	Truncated bool                  `json:"truncated"`
	Error     string                `json:"error,omitempty"`
}

// DistinctValues returns the values of column among rows matching req,
// ignoring column's own checkbox filter, capped at the stack limit.
func (a *App) DistinctValues(ctx context.Context, tabID, column string, req interfaces.QueryRequest) DistinctValuesResult {
	return readOnly(a, tabID, "DISTINCT",
		func() DistinctValuesResult { return DistinctValuesResult{Values: []query.DistinctValue{}} },
		func(r *DistinctValuesResult, msg string) { r.Error = msg },
		func(t *fileTab) (DistinctValuesResult, error) {
			vals, cut, err := t.engine.Distinct(ctx, req, column, a.settings.StackMaxValues)
			return DistinctValuesResult{Values: vals, Truncated: cut}, err
		})
}

// Export writes every row matching req as CSV to w, ignoring pagination.
func (a *App) Export(ctx context.Context, tabID string, req interfaces.QueryRequest, w io.Writer) (int64, error) {
	t, err := a.mustTab(tabID)
	if err != nil {
		return 0, err
	}
	n, err := t.engine.Export(ctx, req, w)
	if err != nil {
		return n, fmt.Errorf("failed to export tab %s: %w", tabID, err)
	}
	a.Log("info", fmt.Sprintf("[EXPORT] tab %s: %d rows", tabID, n))
	return n, nil
}

// Histogram counts matching rows per day.
func (a *App) Histogram(ctx context.Context, tabID string, req interfaces.HistogramRequest) interfaces.HistogramResult {
	return readOnly(a, tabID, "HISTOGRAM",
		func() interfaces.HistogramResult {
			return interfaces.HistogramResult{Buckets: []interfaces.HistogramBucket{}}
		},
		func(r *interfaces.HistogramResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.HistogramResult, error) {
			return histogram.Days(ctx, t.engine, req)
		})
}

// Gaps splits matching rows into activity sessions separated by silences.
func (a *App) Gaps(ctx context.Context, tabID string, req interfaces.GapRequest) interfaces.GapResult {
	if req.ThresholdMinutes <= 0 {
		req.ThresholdMinutes = histogram.DefaultGapThresholdMinutes
	}
	return readOnly(a, tabID, "GAPS",
		func() interfaces.GapResult {
			return interfaces.GapResult{Sessions: []interfaces.ActivitySession{}, Gaps: []interfaces.Gap{}}
		},
		func(r *interfaces.GapResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.GapResult, error) {
			return histogram.Gaps(ctx, t.engine, req)
		})
}

// Bursts flags windows whose volume exceeds the baseline.
func (a *App) Bursts(ctx context.Context, tabID string, req interfaces.BurstRequest) interfaces.BurstResult {
	if req.WindowMinutes <= 0 {
		req.WindowMinutes = histogram.DefaultWindowMinutes
	}
	if req.Multiplier <= 0 {
		req.Multiplier = histogram.DefaultMultiplier
	}
	return readOnly(a, tabID, "BURSTS",
		func() interfaces.BurstResult {
			return interfaces.BurstResult{Bursts: []interfaces.BurstPeriod{}, Windows: []interfaces.BurstWindow{}}
		},
		func(r *interfaces.BurstResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.BurstResult, error) {
			return histogram.Bursts(ctx, t.engine, req)
		})
}

// Coverage reports per-source volume and time span.
func (a *App) Coverage(ctx context.Context, tabID string, req interfaces.CoverageRequest) interfaces.CoverageResult {
	return readOnly(a, tabID, "COVERAGE",
		func() interfaces.CoverageResult {
			return interfaces.CoverageResult{Sources: []interfaces.SourceCoverage{}}
		},
		func(r *interfaces.CoverageResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.CoverageResult, error) {
			return analytics.Coverage(ctx, t.engine, req)
		})
}

// Stack returns the value distribution of one column.
func (a *App) Stack(ctx context.Context, tabID string, req interfaces.StackRequest) interfaces.StackResult {
	return readOnly(a, tabID, "STACK",
		func() interfaces.StackResult {
			return interfaces.StackResult{Entries: []interfaces.StackEntry{}}
		},
		func(r *interfaces.StackResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.StackResult, error) {
			return analytics.Stack(ctx, t.engine, req, a.analyticsOptions())
		})
}

// MatchIOCs counts rows matching each indicator.
func (a *App) MatchIOCs(ctx context.Context, tabID string, req interfaces.IOCRequest) interfaces.IOCResult {
	return readOnly(a, tabID, "IOC",
		func() interfaces.IOCResult {
			return interfaces.IOCResult{Hits: []interfaces.IOCHit{}}
		},
		func(r *interfaces.IOCResult, msg string) { r.Error = msg },
		func(t *fileTab) (interfaces.IOCResult, error) {
			return analytics.MatchIOCs(ctx, t.engine, req, a.analyticsOptions())
		})
}
