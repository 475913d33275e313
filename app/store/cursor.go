package store

import (
	"context"
	"fmt"
	"strings"
)

// RowFunc receives one row. values is reused between calls.
type RowFunc func(key int64, values []string) error

// ScanRows streams every row in key order through fn. The store's only
// connection stays busy until ScanRows returns, so fn must not query the
// same store.
func (s *Store) ScanRows(ctx context.Context, fn RowFunc) error {
	return s.ScanWhere(ctx, "", nil, "_rk", fn)
}

// ScanWhere streams rows matching where (without the keyword) in the given
// order. An empty where selects every row.
func (s *Store) ScanWhere(ctx context.Context, where string, args []any, orderBy string, fn RowFunc) error {
	cols := s.Columns()
	if len(cols) == 0 {
		return ErrNoSchema
	}
	idents := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = c.Ident
	}
	q := "SELECT _rk, " + strings.Join(idents, ", ") + " FROM " + RowsTable
	if where != "" {
		q += " WHERE " + where
	}
	if orderBy != "" {
		q += " ORDER BY " + orderBy
	}
	rows, err := s.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to scan rows: %w", err)
	}
	defer rows.Close()

	var key int64
	vals := make([]string, len(cols))
	dest := make([]any, len(cols)+1)
	dest[0] = &key
	for i := range vals {
		dest[i+1] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		if err := fn(key, vals); err != nil {
			return err
		}
	}
	return rows.Err()
}
