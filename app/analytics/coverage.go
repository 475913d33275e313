package analytics

import (
	"context"
	"fmt"

	"casefile/app/histogram"
	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/store"
)

// Coverage reports, per value of the source column, the number of matching
// rows and their earliest and latest timestamp, plus the global span.
// Blank timestamps are ignored for the span but still counted.
func Coverage(ctx context.Context, eng *query.Engine, req interfaces.CoverageRequest) (interfaces.CoverageResult, error) {
	res := interfaces.CoverageResult{Sources: []interfaces.SourceCoverage{}}
	st := eng.Store()
	src, ok := st.ResolveColumn(req.SourceColumn)
	if !ok {
		return res, fmt.Errorf("unknown source column %q", req.SourceColumn)
	}
	ts, err := histogram.TimeColumn(st, req.TimestampColumn)
	if err != nil {
		return res, err
	}

	pred := eng.Predicate(ctx, req.QueryRequest)
	q := fmt.Sprintf(`SELECT %[1]s, COUNT(*), COALESCE(MIN(NULLIF(TRIM(%[2]s), '')), ''), COALESCE(MAX(NULLIF(TRIM(%[2]s), '')), '')
		FROM %[3]s WHERE %[4]s GROUP BY %[1]s ORDER BY %[1]s`, src.Ident, ts.Ident, store.RowsTable, pred.Where)
	rows, err := st.QueryContext(ctx, q, pred.Args...)
	if err != nil {
		return res, fmt.Errorf("failed to compute coverage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c interfaces.SourceCoverage
		if err := rows.Scan(&c.Source, &c.Count, &c.Earliest, &c.Latest); err != nil {
			return res, err
		}
		if c.Earliest != "" && (res.GlobalEarliest == "" || c.Earliest < res.GlobalEarliest) {
			res.GlobalEarliest = c.Earliest
		}
		if c.Latest > res.GlobalLatest {
			res.GlobalLatest = c.Latest
		}
		res.Sources = append(res.Sources, c)
	}
	return res, rows.Err()
}
