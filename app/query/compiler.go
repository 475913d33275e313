package query

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"casefile/app/interfaces"
	"casefile/app/store"
	"casefile/app/timestamps"
)

// Schema is the column metadata the compiler needs.
type Schema interface {
	Columns() []store.Column
	ResolveColumn(name string) (store.Column, bool)
}

// Compiler turns a QueryRequest into a clause tree.
type Compiler struct {
	schema      Schema
	searchReady bool
	now         time.Time
	loc         *time.Location
}

// NewCompiler creates a compiler. searchReady selects the search index
// path for "contains" searches.
func NewCompiler(schema Schema, searchReady bool) *Compiler {
	return &Compiler{schema: schema, searchReady: searchReady, now: time.Now(), loc: time.UTC}
}

// WithClock fixes the time used to resolve relative date filters.
func (c *Compiler) WithClock(now time.Time, loc *time.Location) *Compiler {
	c.now = now
	if loc != nil {
		c.loc = loc
	}
	return c
}

// Compile combines every filter source of req. Sources are ANDed; checkbox
// values OR within their column; advanced conditions group as runs of AND
// separated by OR.
func (c *Compiler) Compile(req interfaces.QueryRequest) Clause {
	return c.compile(req, "")
}

// CompileExcept is Compile without the checkbox filter of one column, used
// to list that column's available values.
func (c *Compiler) CompileExcept(req interfaces.QueryRequest, column string) Clause {
	return c.compile(req, column)
}

func (c *Compiler) compile(req interfaces.QueryRequest, skipCheckbox string) Clause {
	var all And

	if s := c.Search(req.SearchTerm, req.SearchMode, req.SearchCondition); s != nil {
		all = append(all, s)
	}

	for _, name := range sortedKeys(req.ColumnFilters) {
		v := strings.TrimSpace(req.ColumnFilters[name])
		col, ok := c.schema.ResolveColumn(name)
		if v == "" || !ok {
			continue
		}
		all = append(all, Like{Ident: col.Ident, Pattern: ContainsPattern(v)})
	}

	for _, name := range sortedKeys(req.CheckboxFilters) {
		values := req.CheckboxFilters[name]
		if name == skipCheckbox || len(values) == 0 {
			continue
		}
		col, ok := c.schema.ResolveColumn(name)
		if !ok {
			continue
		}
		all = append(all, In{Ident: col.Ident, Values: values})
	}

	for _, name := range sortedKeys(req.DateRangeFilters) {
		if r := c.dateRange(name, req.DateRangeFilters[name]); r != nil {
			all = append(all, r)
		}
	}

	if req.BookmarkedOnly {
		all = append(all, Bookmarked{})
	}
	if req.TagFilter.Active() {
		all = append(all, Tagged{Any: req.TagFilter.Any, Tags: req.TagFilter.Tags})
	}

	if adv := c.Advanced(req.AdvancedFilters); adv != nil {
		all = append(all, adv)
	}

	if len(all) == 0 {
		return nil
	}
	return all
}

func (c *Compiler) dateRange(name string, r interfaces.DateRange) Clause {
	col, ok := c.schema.ResolveColumn(name)
	if !ok {
		return nil
	}
	rng := Range{Ident: col.Ident, Loc: c.loc}
	if start, _, ok := c.resolveBound(r.From); ok {
		rng.From = timestamps.FormatISO(start)
	}
	if _, end, ok := c.resolveBound(r.To); ok {
		rng.Before = timestamps.FormatISO(end)
	}
	if rng.From == "" && rng.Before == "" {
		return nil
	}
	return rng
}

// resolveBound reads an absolute bound in the compiler's zone together with
// the end of its written precision, so "To: 10:01" keeps the whole minute.
// Relative phrases ("24h", "7 days ago") are instants. Bounds that parse
// neither way are dropped.
func (c *Compiler) resolveBound(v string) (start, end time.Time, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, time.Time{}, false
	}
	if start, end, ok := timestamps.ParseBound(v, c.loc); ok {
		return start, end, true
	}
	if t, ok := timestamps.ParseFlexibleTime(v, c.now, c.loc); ok {
		return t, t.Add(time.Millisecond), true
	}
	return time.Time{}, time.Time{}, false
}

// Advanced groups conditions left to right: A AND B OR C AND D becomes
// (A AND B) OR (C AND D). Conditions naming unknown columns are skipped.
func (c *Compiler) Advanced(filters []interfaces.AdvancedFilter) Clause {
	var groups []And
	var current And
	for _, f := range filters {
		cl := c.advancedClause(f)
		if cl == nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(f.Logic), "OR") && len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, cl)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	switch len(groups) {
	case 0:
		return nil
	case 1:
		return groups[0]
	}
	or := make(Or, len(groups))
	for i, g := range groups {
		or[i] = g
	}
	return or
}

// NormalizeOperator maps operator spellings onto the interfaces.Op* names.
func NormalizeOperator(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	op = strings.NewReplacer(" ", "_", "-", "_").Replace(op)
	switch op {
	case "notcontains", "does_not_contain":
		return interfaces.OpNotContains
	case "=", "==", "eq", "is":
		return interfaces.OpEquals
	case "!=", "<>", "ne", "notequals", "is_not":
		return interfaces.OpNotEquals
	case "startswith", "begins_with":
		return interfaces.OpStartsWith
	case "endswith":
		return interfaces.OpEndsWith
	case ">", "gt", "greater":
		return interfaces.OpGreaterThan
	case "<", "lt", "less":
		return interfaces.OpLessThan
	case "isempty", "empty":
		return interfaces.OpIsEmpty
	case "isnotempty", "not_empty":
		return interfaces.OpIsNotEmpty
	case "matches", "regexp":
		return interfaces.OpRegex
	}
	return op
}

func (c *Compiler) advancedClause(f interfaces.AdvancedFilter) Clause {
	col, ok := c.schema.ResolveColumn(f.Column)
	if !ok {
		return nil
	}
	v := f.Value
	switch NormalizeOperator(f.Operator) {
	case interfaces.OpContains:
		return Like{Ident: col.Ident, Pattern: ContainsPattern(v)}
	case interfaces.OpNotContains:
		return Like{Ident: col.Ident, Pattern: ContainsPattern(v), Negate: true}
	case interfaces.OpEquals:
		return Equals{Ident: col.Ident, Value: v, Fold: true}
	case interfaces.OpNotEquals:
		return Equals{Ident: col.Ident, Value: v, Fold: true, Negate: true}
	case interfaces.OpStartsWith:
		return Like{Ident: col.Ident, Pattern: PrefixPattern(v)}
	case interfaces.OpEndsWith:
		return Like{Ident: col.Ident, Pattern: SuffixPattern(v)}
	case interfaces.OpGreaterThan:
		return Compare{Ident: col.Ident, Op: ">", Value: v, Numeric: isNumber(v)}
	case interfaces.OpLessThan:
		return Compare{Ident: col.Ident, Op: "<", Value: v, Numeric: isNumber(v)}
	case interfaces.OpIsEmpty:
		return Empty{Ident: col.Ident}
	case interfaces.OpIsNotEmpty:
		return Empty{Ident: col.Ident, Negate: true}
	case interfaces.OpRegex:
		return Regex{Ident: col.Ident, Pattern: v}
	}
	return nil
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
