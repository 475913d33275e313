package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RowsPerStatement is the number of rows bound into one multi-row insert:
// the largest count that stays under the bound parameter limit, capped by
// MaxRowsPerInsert.
func (s *Store) RowsPerStatement() int {
	s.mu.RLock()
	ncols := len(s.columns)
	s.mu.RUnlock()
	if ncols == 0 {
		return 1
	}
	n := s.opts.MaxBoundParams / ncols
	if n > s.opts.MaxRowsPerInsert {
		n = s.opts.MaxRowsPerInsert
	}
	if n < 1 {
		n = 1
	}
	return n
}

// BatchSize is the preferred number of rows per InsertBatch call.
func (s *Store) BatchSize() int {
	return s.opts.BatchSize
}

func insertSQL(idents []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(RowsTable)
	b.WriteString(" (")
	b.WriteString(strings.Join(idents, ", "))
	b.WriteString(") VALUES ")
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(idents)), ", ") + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

// InsertBatch appends rows in header order inside one transaction. Short
// rows are padded with empty strings and long rows truncated. Full groups
// go through the multi-row statement, the remainder through the single-row
// one. The argument buffer is reused across calls.
func (s *Store) InsertBatch(ctx context.Context, batch [][]string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}
	cols := s.Columns()
	if len(cols) == 0 {
		return ErrNoSchema
	}
	ncols := len(cols)
	idents := make([]string, ncols)
	for i, c := range cols {
		idents[i] = c.Ident
	}
	perStmt := s.RowsPerStatement()

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if cap(s.args) < perStmt*ncols {
		s.args = make([]any, perStmt*ncols)
	}
	args := s.args[:perStmt*ncols]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	var multi *sql.Stmt
	if perStmt > 1 && len(batch) >= perStmt {
		multi, err = tx.PrepareContext(ctx, insertSQL(idents, perStmt))
		if err != nil {
			return fmt.Errorf("failed to prepare multi-row insert: %w", err)
		}
		defer multi.Close()
	}
	single, err := tx.PrepareContext(ctx, insertSQL(idents, 1))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer single.Close()

	i := 0
	if multi != nil {
		for ; i+perStmt <= len(batch); i += perStmt {
			for r := 0; r < perStmt; r++ {
				fillArgs(args[r*ncols:(r+1)*ncols], batch[i+r])
			}
			if _, err := multi.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert rows: %w", err)
			}
		}
	}
	one := args[:ncols]
	for ; i < len(batch); i++ {
		fillArgs(one, batch[i])
		if _, err := single.ExecContext(ctx, one...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert batch: %w", err)
	}

	s.mu.Lock()
	s.rowCount += int64(len(batch))
	s.mu.Unlock()
	return nil
}

func fillArgs(dst []any, row []string) {
	for i := range dst {
		if i < len(row) {
			dst[i] = row[i]
		} else {
			dst[i] = ""
		}
	}
}

// InsertRecords appends rows given as header name to value maps, the shape
// saved snapshots are restored from. Names missing from a record become ""
// and keys naming no column are ignored.
func (s *Store) InsertRecords(ctx context.Context, records []map[string]string) error {
	cols := s.Columns()
	if len(cols) == 0 {
		return ErrNoSchema
	}
	batch := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = rec[c.Name]
		}
		batch = append(batch, row)
	}
	return s.InsertBatch(ctx, batch)
}
