package histogram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/store"
	"casefile/app/timestamps"
)

// ErrNoTimestampColumn is returned when no column was named and the
// session has no detected timestamp column.
var ErrNoTimestampColumn = errors.New("no timestamp column")

// TimeColumn resolves name. An empty name picks the most likely timestamp
// column by header name, then the first detected timestamp column.
func TimeColumn(st *store.Store, name string) (store.Column, error) {
	if name == "" {
		cols := st.Columns()
		if i := timestamps.DetectTimestampIndex(st.Headers()); i >= 0 && cols[i].Kind == store.KindTimestamp {
			return cols[i], nil
		}
		for _, c := range cols {
			if c.Kind == store.KindTimestamp {
				return c, nil
			}
		}
		return store.Column{}, ErrNoTimestampColumn
	}
	c, ok := st.ResolveColumn(name)
	if !ok {
		return store.Column{}, fmt.Errorf("unknown column %q", name)
	}
	return c, nil
}

// groupPrefix counts matching rows by the first n characters of col.
func groupPrefix(ctx context.Context, eng *query.Engine, req interfaces.QueryRequest, col store.Column, n int, fn func(prefix string, count int64)) error {
	pred := eng.Predicate(ctx, req)
	q := fmt.Sprintf("SELECT substr(%s, 1, %d) AS p, COUNT(*) FROM %s WHERE %s GROUP BY p ORDER BY p",
		col.Ident, n, store.RowsTable, pred.Where)
	rows, err := eng.Store().QueryContext(ctx, q, pred.Args...)
	if err != nil {
		return fmt.Errorf("failed to group %s: %w", col.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var c int64
		if err := rows.Scan(&p, &c); err != nil {
			return err
		}
		fn(p, c)
	}
	return rows.Err()
}

// Minutes groups matching rows into minute buckets ("YYYY-MM-DDTHH:MM")
// in ascending order. Values without a minute-shaped prefix are ignored;
// space and T separated values share buckets.
func Minutes(ctx context.Context, eng *query.Engine, req interfaces.QueryRequest, column string) ([]interfaces.MinuteBucket, error) {
	col, err := TimeColumn(eng.Store(), column)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	err = groupPrefix(ctx, eng, req, col, 16, func(p string, c int64) {
		if !timestamps.IsMinutePrefix(p) {
			return
		}
		b := []byte(p)
		b[10] = 'T'
		counts[string(b)] += c
	})
	if err != nil {
		return nil, err
	}
	out := make([]interfaces.MinuteBucket, 0, len(counts))
	for m, c := range counts {
		out = append(out, interfaces.MinuteBucket{Minute: m, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minute < out[j].Minute })
	return out, nil
}

func parseMinute(s string) (time.Time, bool) {
	t, err := time.Parse(minuteLayout, s)
	return t, err == nil
}

func formatMinute(t time.Time) string {
	return t.UTC().Format(minuteLayout)
}
