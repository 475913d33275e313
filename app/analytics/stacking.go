package analytics

import (
	"context"
	"fmt"

	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/store"
)

// Stack returns the full value distribution of a column among matching
// rows, most frequent first, capped at StackMaxValues entries.
func Stack(ctx context.Context, eng *query.Engine, req interfaces.StackRequest, o Options) (interfaces.StackResult, error) {
	o = o.withDefaults()
	res := interfaces.StackResult{Entries: []interfaces.StackEntry{}}
	st := eng.Store()
	col, ok := st.ResolveColumn(req.Column)
	if !ok {
		return res, fmt.Errorf("unknown column %q", req.Column)
	}

	pred := eng.Predicate(ctx, req.QueryRequest)
	total, err := eng.CountPredicate(ctx, pred)
	if err != nil {
		return res, err
	}
	res.Total = total
	if total == 0 {
		return res, nil
	}

	q := fmt.Sprintf("SELECT %[1]s, COUNT(*) AS n FROM %[2]s WHERE %[3]s GROUP BY %[1]s ORDER BY n DESC, %[1]s LIMIT ?",
		col.Ident, store.RowsTable, pred.Where)
	args := append(append([]any{}, pred.Args...), o.StackMaxValues+1)
	rows, err := st.QueryContext(ctx, q, args...)
	if err != nil {
		return res, fmt.Errorf("failed to stack %s: %w", col.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e interfaces.StackEntry
		if err := rows.Scan(&e.Value, &e.Count); err != nil {
			return res, err
		}
		if len(res.Entries) == o.StackMaxValues {
			res.Truncated = true
			break
		}
		e.Percent = float64(e.Count) * 100 / float64(total)
		res.Entries = append(res.Entries, e)
	}
	return res, rows.Err()
}
