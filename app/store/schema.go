package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"casefile/app/interfaces"
	"casefile/app/timestamps"
)

// Kind classifies a column.
type Kind int

const (
	KindText Kind = iota
	KindTimestamp
	KindNumeric
)

func (k Kind) String() string {
	switch k {
	case KindTimestamp:
		return "timestamp"
	case KindNumeric:
		return "numeric"
	default:
		return "text"
	}
}

// Column maps an original header onto its storage identifier.
type Column struct {
	Name  string
	Ident string
	Kind  Kind
}

// RowsTable is the name of the row store table. Row keys live in _rk.
const RowsTable = "rows"

// CreateSchema creates the row store and the annotation tables for headers.
// Identifiers are positional (c0, c1, ...), so any header text is safe.
// Timestamp columns are classified here from their names.
func (s *Store) CreateSchema(ctx context.Context, headers []string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.columns) > 0 {
		return fmt.Errorf("schema already created")
	}
	if len(headers) == 0 {
		return fmt.Errorf("cannot create a store without columns")
	}

	cols := make([]Column, len(headers))
	defs := make([]string, len(headers))
	byName := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := byName[h]; dup {
			return fmt.Errorf("duplicate header %q", h)
		}
		kind := KindText
		if timestamps.IsTimestampColumn(h) {
			kind = KindTimestamp
		}
		cols[i] = Column{Name: h, Ident: "c" + strconv.Itoa(i), Kind: kind}
		defs[i] = cols[i].Ident + " TEXT NOT NULL DEFAULT ''"
		byName[h] = i
	}

	stmts := []string{
		"CREATE TABLE " + RowsTable + " (_rk INTEGER PRIMARY KEY, " + strings.Join(defs, ", ") + ")",
		"CREATE TABLE bookmarks (rk INTEGER PRIMARY KEY)",
		"CREATE TABLE tags (rk INTEGER NOT NULL, tag TEXT NOT NULL, PRIMARY KEY (rk, tag)) WITHOUT ROWID",
		"CREATE INDEX idx_tags_tag ON tags(tag)",
		`CREATE TABLE highlight_rules (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			column_name TEXT NOT NULL,
			condition TEXT NOT NULL,
			value TEXT NOT NULL,
			foreground TEXT NOT NULL DEFAULT '',
			background TEXT NOT NULL DEFAULT ''
		)`,
	}
	if err := s.execAll(ctx, stmts); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.columns = cols
	s.byName = byName
	return nil
}

// Columns returns a copy of the column metadata in header order.
func (s *Store) Columns() []Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Headers returns the original header names in order.
func (s *Store) Headers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by its exact original name.
func (s *Store) Column(name string) (Column, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byName[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// ResolveColumn looks up a column by name, falling back to a
// case-insensitive match.
func (s *Store) ResolveColumn(name string) (Column, bool) {
	if c, ok := s.Column(name); ok {
		return c, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// RowCount returns the number of rows inserted so far.
func (s *Store) RowCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowCount
}

// FinalizeImport classifies numeric columns from a prefix sample, switches
// the engine to query tuning and indexes the timestamp columns.
func (s *Store) FinalizeImport(ctx context.Context) (interfaces.ImportResult, error) {
	if s.closed.Load() {
		return interfaces.ImportResult{}, ErrClosed
	}
	s.mu.RLock()
	hasSchema := len(s.columns) > 0
	s.mu.RUnlock()
	if !hasSchema {
		return interfaces.ImportResult{}, ErrNoSchema
	}

	if err := s.classifyNumeric(ctx); err != nil {
		return interfaces.ImportResult{}, err
	}
	if err := s.execAll(ctx, queryPragmas); err != nil {
		s.opts.Logger.Log("warn", fmt.Sprintf("[IMPORT] query tuning not applied: %v", err))
	}

	s.mu.Lock()
	s.final = true
	s.mu.Unlock()

	for _, c := range s.Columns() {
		if c.Kind == KindTimestamp {
			s.EnsureSortIndex(ctx, c.Name)
		}
	}
	return s.ImportResult(), nil
}

// ImportResult describes the current schema and row count.
func (s *Store) ImportResult() interfaces.ImportResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := interfaces.ImportResult{
		Headers:          make([]string, len(s.columns)),
		RowCount:         s.rowCount,
		TimestampColumns: []string{},
		NumericColumns:   []string{},
	}
	for i, c := range s.columns {
		res.Headers[i] = c.Name
		switch c.Kind {
		case KindTimestamp:
			res.TimestampColumns = append(res.TimestampColumns, c.Name)
		case KindNumeric:
			res.NumericColumns = append(res.NumericColumns, c.Name)
		}
	}
	return res
}

func (s *Store) classifyNumeric(ctx context.Context) error {
	cols := s.Columns()
	idents := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = c.Ident
	}
	q := "SELECT " + strings.Join(idents, ", ") + " FROM " + RowsTable + " ORDER BY _rk LIMIT ?"
	rows, err := s.db.QueryContext(ctx, q, s.opts.NumericSampleRows)
	if err != nil {
		return fmt.Errorf("failed to sample rows: %w", err)
	}
	defer rows.Close()

	nonBlank := make([]int, len(cols))
	numeric := make([]int, len(cols))
	vals := make([]string, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan sample row: %w", err)
		}
		for i, v := range vals {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			nonBlank[i]++
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				numeric[i]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to sample rows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.columns {
		if s.columns[i].Kind == KindTimestamp || nonBlank[i] == 0 {
			continue
		}
		if float64(numeric[i])/float64(nonBlank[i]) > s.opts.NumericThreshold {
			s.columns[i].Kind = KindNumeric
		}
	}
	return nil
}
