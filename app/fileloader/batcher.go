package fileloader

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// batcher accumulates fixed-width rows and hands them to the sink. Row
// slices are allocated once and reused for every batch.
type batcher struct {
	ctx      context.Context
	sink     Sink
	width    int
	rows     [][]string
	total    int64
	label    string
	logger   Logger
	progress rate.Sometimes
}

func newBatcher(ctx context.Context, sink Sink, width int, o Options, label string) *batcher {
	return &batcher{
		ctx:      ctx,
		sink:     sink,
		width:    width,
		rows:     make([][]string, 0, o.BatchSize),
		label:    label,
		logger:   o.Logger,
		progress: rate.Sometimes{Interval: o.ProgressEvery},
	}
}

// add copies record into the batch, padding short records with blanks and
// dropping cells beyond the header width.
func (b *batcher) add(record []string) error {
	n := len(b.rows)
	b.rows = b.rows[:n+1]
	row := b.rows[n]
	if row == nil {
		row = make([]string, b.width)
		b.rows[n] = row
	}
	c := copy(row, record)
	clear(row[c:])
	if len(b.rows) == cap(b.rows) {
		return b.flush()
	}
	return nil
}

func (b *batcher) flush() error {
	if len(b.rows) == 0 {
		return nil
	}
	if err := b.ctx.Err(); err != nil {
		return err
	}
	if err := b.sink.InsertBatch(b.ctx, b.rows); err != nil {
		return fmt.Errorf("failed to insert rows: %w", err)
	}
	b.total += int64(len(b.rows))
	b.rows = b.rows[:0]
	b.progress.Do(func() {
		b.logger.Log("info", fmt.Sprintf("[IMPORT] %s: %d rows loaded", b.label, b.total))
	})
	return nil
}
