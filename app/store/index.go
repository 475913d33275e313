package store

import (
	"context"
	"fmt"
)

// SortExpr is the ORDER BY expression for a column: numeric columns sort
// as real numbers, timestamp columns lexicographically and text columns
// case-insensitively. The matching index uses the same expression.
func SortExpr(c Column) string {
	switch c.Kind {
	case KindNumeric:
		return "CAST(" + c.Ident + " AS REAL)"
	case KindTimestamp:
		return c.Ident
	default:
		return c.Ident + " COLLATE NOCASE"
	}
}

// EnsureSortIndex creates the sort index for a column on first use.
// Failures are logged and reported as false; sorting still works without it.
func (s *Store) EnsureSortIndex(ctx context.Context, name string) bool {
	if s.closed.Load() {
		return false
	}
	c, ok := s.Column(name)
	if !ok {
		return false
	}
	if s.HasSortIndex(name) {
		return true
	}

	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_sort_%s ON %s(%s)", c.Ident, RowsTable, SortExpr(c))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		s.opts.Logger.Log("warn", fmt.Sprintf("[INDEX] Failed to index column %q: %v", name, err))
		return false
	}
	s.mu.Lock()
	s.sortIdx[c.Ident] = true
	s.mu.Unlock()
	s.opts.Logger.Log("debug", fmt.Sprintf("[INDEX] Created sort index for column %q", name))
	return true
}

// HasSortIndex reports whether the sort index for a column exists.
func (s *Store) HasSortIndex(name string) bool {
	c, ok := s.Column(name)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortIdx[c.Ident]
}
