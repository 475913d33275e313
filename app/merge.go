package app

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	"casefile/app/fileloader"
	"casefile/app/histogram"
	"casefile/app/store"
	"casefile/app/timestamps"

	"golang.org/x/sync/errgroup"
)

const (
	// SourceColumn names the file each merged row came from.
	SourceColumn = "_Source"
	// DatetimeColumn holds each merged row's value of its source's timestamp column.
	DatetimeColumn = "datetime"
)

// UnifiedHeaders returns _Source, datetime, then the sorted union of every
// other header of the sources.
func UnifiedHeaders(sources [][]string) []string {
	seen := map[string]bool{SourceColumn: true, DatetimeColumn: true}
	var rest []string
	for _, headers := range sources {
		for _, h := range headers {
			if !seen[h] {
				seen[h] = true
				rest = append(rest, h)
			}
		}
	}
	sort.Strings(rest)
	return append([]string{SourceColumn, DatetimeColumn}, rest...)
}

// mergeSource maps one source store onto the unified column order.
type mergeSource struct {
	tab *fileTab
	// ts is the source column feeding datetime, -1 when there is none
	ts int
	// dst[i] is the unified position of source column i
	dst []int
	// loc reads zone-less timestamps of this source
	loc   *time.Location
	order string
}

func newMergeSource(t *fileTab, tsName string, pos map[string]int, loc *time.Location) (*mergeSource, error) {
	cols := t.store.Columns()
	ms := &mergeSource{tab: t, ts: -1, dst: make([]int, len(cols)), loc: loc, order: "_rk"}
	for i, c := range cols {
		// a source's own _Source or datetime column is replaced
		ms.dst[i] = -1
		if c.Name != SourceColumn && c.Name != DatetimeColumn {
			ms.dst[i] = pos[c.Name]
		}
	}
	col, err := histogram.TimeColumn(t.store, tsName)
	switch {
	case err == nil:
		for i, c := range cols {
			if c.Ident == col.Ident {
				ms.ts = i
			}
		}
		// same normalisation as sortKey, so each stream arrives in key order
		ms.order = store.ISOTimeExpr(col.Ident, loc) + ", _rk"
	case tsName != "":
		return nil, fmt.Errorf("%s: %w", t.FileName, err)
	}
	return ms, nil
}

// project maps values onto the unified columns. datetime keeps the source
// text; the returned key is its ISO form, "" when it does not parse.
func (ms *mergeSource) project(values []string, width int) mergeRow {
	row := make([]string, width)
	row[0] = ms.tab.FileName
	if ms.ts >= 0 {
		row[1] = values[ms.ts]
	}
	for i, d := range ms.dst {
		if d >= 0 {
			row[d] = values[i]
		}
	}
	return mergeRow{key: sortKey(row[1], ms.loc), row: row}
}

func sortKey(v string, loc *time.Location) string {
	iso, _ := timestamps.ToISO(v, loc)
	return iso
}

type mergeRow struct {
	key string
	row []string
}

// merge streams every source into a new finalized session. Each source is
// read by its own cursor in datetime order and the streams are interleaved
// so the merged row keys follow datetime. tsByTab may be nil.
func (a *App) merge(ctx context.Context, sources []*fileTab, tsByTab map[*fileTab]string) (*fileTab, error) {
	headerSets := make([][]string, len(sources))
	var total int64
	for i, t := range sources {
		headerSets[i] = t.store.Headers()
		total += t.store.RowCount()
	}
	headers := UnifiedHeaders(headerSets)
	pos := make(map[string]int, len(headers))
	for i, h := range headers {
		pos[h] = i
	}

	msrc := make([]*mergeSource, len(sources))
	for i, t := range sources {
		ms, err := newMergeSource(t, tsByTab[t], pos, a.location(t.Options.IngestTimezoneOverride))
		if err != nil {
			return nil, err
		}
		msrc[i] = ms
	}

	dst, err := store.New(ctx, a.storeOptions())
	if err != nil {
		return nil, err
	}
	if err := dst.CreateSchema(ctx, headers); err != nil {
		dst.Close()
		return nil, err
	}
	a.Log("info", fmt.Sprintf("[MERGE] Merging %d sources, %d rows, %d columns", len(sources), total, len(headers)))

	if err := a.streamMerge(ctx, dst, msrc, len(headers)); err != nil {
		dst.Close()
		return nil, fmt.Errorf("failed to merge: %w", err)
	}
	if _, err := dst.FinalizeImport(ctx); err != nil {
		dst.Close()
		return nil, fmt.Errorf("failed to finalize merge: %w", err)
	}
	dst.EnsureSortIndex(ctx, DatetimeColumn)
	dst.EnsureSortIndex(ctx, SourceColumn)
	a.Log("info", fmt.Sprintf("[MERGE] Merged %d rows", dst.RowCount()))

	return &fileTab{
		store:  dst,
		engine: a.newEngine(dst, ""),
	}, nil
}

// streamMerge runs one producer per source and interleaves their rows by
// datetime into batched inserts.
func (a *App) streamMerge(ctx context.Context, dst *store.Store, sources []*mergeSource, width int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	streams := make([]<-chan mergeRow, len(sources))
	for i, ms := range sources {
		ch := make(chan mergeRow, 256)
		streams[i] = ch
		g.Go(func() error {
			defer close(ch)
			return ms.tab.store.ScanWhere(gctx, "", nil, ms.order, func(_ int64, values []string) error {
				select {
				case ch <- ms.project(values, width):
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		})
	}

	err := a.consumeMerge(gctx, dst, streams)
	if err != nil {
		cancel()
	}
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

func (a *App) consumeMerge(ctx context.Context, dst *store.Store, streams []<-chan mergeRow) error {
	size := a.settings.MergeBatchSize
	if size <= 0 {
		size = 5000
	}
	h := &mergeHeap{}
	for i, ch := range streams {
		if r, ok := <-ch; ok {
			heap.Push(h, mergeHead{mergeRow: r, src: i})
		}
	}

	batch := make([][]string, 0, size)
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeHead)
		batch = append(batch, top.row)
		if len(batch) == size {
			if err := dst.InsertBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		if r, ok := <-streams[top.src]; ok {
			heap.Push(h, mergeHead{mergeRow: r, src: top.src})
		}
	}
	if len(batch) > 0 {
		return dst.InsertBatch(ctx, batch)
	}
	return nil
}

type mergeHead struct {
	mergeRow
	src int
}

// mergeHeap orders heads by normalised datetime, then by source position so
// equal timestamps keep source order.
type mergeHeap []mergeHead

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].src < h[j].src
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeHead)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func directoryHash(sources []*fileTab) string {
	parts := make([]string, len(sources))
	for i, t := range sources {
		parts[i] = t.FileName + ":" + t.FileHash
	}
	return fileloader.CombineHashes(parts)
}
