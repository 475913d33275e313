package analytics

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/store"
	"casefile/app/textmatch"
)

// verifyChunk is the number of candidate rows re-read per statement in the
// per-indicator pass.
const verifyChunk = 500

type indicator struct {
	pattern string
	re      *regexp.Regexp
	hit     interfaces.IOCHit
}

// batchPatterns groups indicators into alternations bounded by count and
// length. An indicator longer than maxBytes gets a batch of its own.
func batchPatterns(patterns []string, maxCount, maxBytes int) []string {
	var out []string
	var cur []string
	size := 0
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, "|"))
			cur, size = nil, 0
		}
	}
	for _, p := range patterns {
		part := "(?:" + p + ")"
		// size already counts the separator in front of part
		if len(cur) > 0 && (len(cur) >= maxCount || size+len(part) > maxBytes) {
			flush()
		}
		cur = append(cur, part)
		size += len(part) + 1
	}
	flush()
	return out
}

// MatchIOCs finds rows matching any indicator in two phases. First a few
// alternation scans collect the union of matching row keys. Then only
// those rows are re-read and each indicator is tested on its own, so the
// cost is not rows times indicators. Indicators that do not compile are
// reported in InvalidIndicators and skipped.
func MatchIOCs(ctx context.Context, eng *query.Engine, req interfaces.IOCRequest, o Options) (interfaces.IOCResult, error) {
	o = o.withDefaults()
	res := interfaces.IOCResult{Hits: []interfaces.IOCHit{}}
	st := eng.Store()

	cols, err := iocColumns(st, req.Columns)
	if err != nil {
		return res, err
	}

	var inds []*indicator
	var valid []string
	seen := make(map[string]bool)
	for _, raw := range req.Indicators {
		p := strings.TrimSpace(raw)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		re := textmatch.CompileRegex(p)
		if re == nil {
			res.InvalidIndicators = append(res.InvalidIndicators, p)
			continue
		}
		inds = append(inds, &indicator{pattern: p, re: re, hit: interfaces.IOCHit{Indicator: p, RowKeys: []int64{}}})
		valid = append(valid, p)
	}
	if len(inds) == 0 {
		return res, nil
	}

	union, err := candidateRows(ctx, eng, req.QueryRequest, cols, batchPatterns(valid, o.IOCBatchPatterns, o.IOCMaxPatternBytes))
	if err != nil {
		return res, err
	}
	res.MatchedRows = int64(union.GetCardinality())

	if err := verifyRows(ctx, st, cols, union, inds); err != nil {
		return res, err
	}
	for _, ind := range inds {
		if ind.hit.Count > 0 {
			res.Hits = append(res.Hits, ind.hit)
		}
	}
	sort.SliceStable(res.Hits, func(i, j int) bool { return res.Hits[i].Count > res.Hits[j].Count })
	return res, nil
}

func iocColumns(st *store.Store, names []string) ([]store.Column, error) {
	if len(names) == 0 {
		return st.Columns(), nil
	}
	cols := make([]store.Column, 0, len(names))
	for _, n := range names {
		c, ok := st.ResolveColumn(n)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", n)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// candidateRows runs one scan per alternation batch and unions the keys.
func candidateRows(ctx context.Context, eng *query.Engine, req interfaces.QueryRequest, cols []store.Column, batches []string) (*roaring64.Bitmap, error) {
	union := roaring64.New()
	pred := eng.Predicate(ctx, req)
	for _, alt := range batches {
		ors := make([]string, len(cols))
		args := append([]any{}, pred.Args...)
		for i, c := range cols {
			ors[i] = c.Ident + " REGEXP ?"
			args = append(args, alt)
		}
		q := fmt.Sprintf("SELECT _rk FROM %s WHERE (%s) AND (%s)", store.RowsTable, pred.Where, strings.Join(ors, " OR "))
		rows, err := eng.Store().QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("indicator scan failed: %w", err)
		}
		for rows.Next() {
			var key int64
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, err
			}
			union.Add(uint64(key))
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return union, nil
}

// verifyRows re-reads the candidate rows and attributes each to the
// indicators that match it.
func verifyRows(ctx context.Context, st *store.Store, cols []store.Column, union *roaring64.Bitmap, inds []*indicator) error {
	idents := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = c.Ident
	}
	keys := union.ToArray()
	vals := make([]string, len(cols))
	dest := make([]any, len(cols)+1)
	var key int64
	dest[0] = &key
	for i := range vals {
		dest[i+1] = &vals[i]
	}

	for start := 0; start < len(keys); start += verifyChunk {
		chunk := keys[start:min(start+verifyChunk, len(keys))]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = int64(k)
		}
		q := fmt.Sprintf("SELECT _rk, %s FROM %s WHERE _rk IN (%s) ORDER BY _rk",
			strings.Join(idents, ", "), store.RowsTable, strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ","))
		rows, err := st.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("indicator verification failed: %w", err)
		}
		for rows.Next() {
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return err
			}
			for _, ind := range inds {
				for _, v := range vals {
					if ind.re.MatchString(v) {
						ind.hit.Count++
						ind.hit.RowKeys = append(ind.hit.RowKeys, key)
						break
					}
				}
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
