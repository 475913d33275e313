package query

import (
	"strconv"
	"strings"
	"time"

	"casefile/app/store"

	"github.com/ohler55/ojg/oj"
)

// Clause is one node of a typed predicate. Clauses lower to parameterized
// SQL; values never reach the statement text.
type Clause interface {
	lower(b *sqlBuilder)
}

// Like matches Ident against a LIKE pattern (case-insensitive for ASCII).
type Like struct {
	Ident   string
	Pattern string
	Negate  bool
}

// Equals compares Ident with Value, optionally ignoring case.
type Equals struct {
	Ident  string
	Value  string
	Fold   bool
	Negate bool
}

// In matches any of Values exactly. Lists longer than maxInlineValues bind
// as a single JSON array read through json_each to stay under the bound
// parameter limit.
type In struct {
	Ident  string
	Values []string
}

const maxInlineValues = 64

// Range bounds Ident in time. Each value is normalised with iso_time in Loc
// before comparing, so any recognised layout orders chronologically and
// values that do not parse never match. From is inclusive and Before
// exclusive, both in timestamps.ISOLayout.
type Range struct {
	Ident  string
	Loc    *time.Location
	From   string
	Before string
}

// Regex matches Ident against a case-insensitive pattern through the
// engine's regexp function. Invalid patterns match nothing.
type Regex struct {
	Ident   string
	Pattern string
	Negate  bool
}

// Fuzzy matches Ident through the engine's fuzzy_match function.
type Fuzzy struct {
	Ident string
	Term  string
}

// Match selects rows whose search index entry matches an FTS expression.
type Match struct {
	Expr   string
	Negate bool
}

// Compare orders Ident against Value: numerically when Numeric is set,
// lexicographically otherwise. Op is one of > >= < <=.
type Compare struct {
	Ident   string
	Op      string
	Value   string
	Numeric bool
}

// Empty matches blank (whitespace-only) values.
type Empty struct {
	Ident  string
	Negate bool
}

// Bookmarked matches bookmarked rows.
type Bookmarked struct{}

// Tagged matches rows holding any tag (Any) or any of Tags.
type Tagged struct {
	Any  bool
	Tags []string
}

// And matches when every child matches. An empty And matches everything.
type And []Clause

// Or matches when any child matches. An empty Or matches nothing.
type Or []Clause

// Not negates its child.
type Not struct {
	Clause Clause
}

// Predicate is a lowered clause: a WHERE body and its arguments.
type Predicate struct {
	Where string
	Args  []any
}

// IsEmpty reports whether the predicate selects every row.
func (p Predicate) IsEmpty() bool {
	return p.Where == "" || p.Where == "1"
}

// Lower turns a clause tree into SQL. A nil clause selects every row.
func Lower(c Clause) Predicate {
	if c == nil {
		return Predicate{Where: "1"}
	}
	b := &sqlBuilder{}
	c.lower(b)
	return Predicate{Where: b.sb.String(), Args: b.args}
}

type sqlBuilder struct {
	sb   strings.Builder
	args []any
}

func (b *sqlBuilder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *sqlBuilder) arg(v any) {
	b.sb.WriteByte('?')
	b.args = append(b.args, v)
}

func (c Like) lower(b *sqlBuilder) {
	b.write(c.Ident)
	if c.Negate {
		b.write(" NOT")
	}
	b.write(" LIKE ")
	b.arg(c.Pattern)
	b.write(` ESCAPE '\'`)
}

func (c Equals) lower(b *sqlBuilder) {
	op := " = "
	if c.Negate {
		op = " <> "
	}
	b.write(c.Ident, op)
	b.arg(c.Value)
	if c.Fold {
		b.write(" COLLATE NOCASE")
	}
}

func (c In) lower(b *sqlBuilder) {
	if len(c.Values) == 0 {
		b.write("0")
		return
	}
	if len(c.Values) > maxInlineValues {
		list := make([]any, len(c.Values))
		for i, v := range c.Values {
			list[i] = v
		}
		b.write(c.Ident, " IN (SELECT value FROM json_each(")
		b.arg(oj.JSON(list))
		b.write("))")
		return
	}
	b.write(c.Ident, " IN (")
	for i, v := range c.Values {
		if i > 0 {
			b.write(", ")
		}
		b.arg(v)
	}
	b.write(")")
}

func (c Range) lower(b *sqlBuilder) {
	zone := "UTC"
	if c.Loc != nil {
		zone = c.Loc.String()
	}
	normalized := func() {
		b.write("iso_time(", c.Ident, ", ")
		b.arg(zone)
		b.write(")")
	}
	b.write("(")
	normalized()
	b.write(" IS NOT NULL")
	if c.From != "" {
		b.write(" AND ")
		normalized()
		b.write(" >= ")
		b.arg(c.From)
	}
	if c.Before != "" {
		b.write(" AND ")
		normalized()
		b.write(" < ")
		b.arg(c.Before)
	}
	b.write(")")
}

func (c Regex) lower(b *sqlBuilder) {
	b.write(c.Ident)
	if c.Negate {
		b.write(" NOT")
	}
	b.write(" REGEXP ")
	b.arg(c.Pattern)
}

func (c Fuzzy) lower(b *sqlBuilder) {
	b.write("fuzzy_match(")
	b.arg(c.Term)
	b.write(", ", c.Ident, ")")
}

func (c Match) lower(b *sqlBuilder) {
	b.write("_rk")
	if c.Negate {
		b.write(" NOT")
	}
	b.write(" IN (SELECT rowid FROM ", store.SearchTable, " WHERE ", store.SearchTable, " MATCH ")
	b.arg(c.Expr)
	b.write(")")
}

func (c Compare) lower(b *sqlBuilder) {
	switch c.Op {
	case ">", ">=", "<", "<=":
	default:
		b.write("0")
		return
	}
	if c.Numeric {
		f, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil {
			b.write("0")
			return
		}
		b.write("(TRIM(", c.Ident, ") <> '' AND CAST(", c.Ident, " AS REAL) ", c.Op, " ")
		b.arg(f)
		b.write(")")
		return
	}
	b.write("(", c.Ident, " <> '' AND ", c.Ident, " ", c.Op, " ")
	b.arg(c.Value)
	b.write(")")
}

func (c Empty) lower(b *sqlBuilder) {
	op := " = ''"
	if c.Negate {
		op = " <> ''"
	}
	b.write("TRIM(", c.Ident, ")", op)
}

func (Bookmarked) lower(b *sqlBuilder) {
	b.write("_rk IN (SELECT rk FROM bookmarks)")
}

func (c Tagged) lower(b *sqlBuilder) {
	if c.Any || len(c.Tags) == 0 {
		b.write("_rk IN (SELECT rk FROM tags)")
		return
	}
	b.write("_rk IN (SELECT rk FROM tags WHERE tag IN (")
	for i, t := range c.Tags {
		if i > 0 {
			b.write(", ")
		}
		b.arg(t)
	}
	b.write("))")
}

func (c And) lower(b *sqlBuilder) {
	lowerJoined(b, c, " AND ", "1")
}

func (c Or) lower(b *sqlBuilder) {
	lowerJoined(b, c, " OR ", "0")
}

func lowerJoined(b *sqlBuilder, children []Clause, sep, empty string) {
	kept := children[:0:0]
	for _, ch := range children {
		if ch != nil {
			kept = append(kept, ch)
		}
	}
	switch len(kept) {
	case 0:
		b.write(empty)
		return
	case 1:
		kept[0].lower(b)
		return
	}
	b.write("(")
	for i, ch := range kept {
		if i > 0 {
			b.write(sep)
		}
		ch.lower(b)
	}
	b.write(")")
}

func (c Not) lower(b *sqlBuilder) {
	if c.Clause == nil {
		b.write("0")
		return
	}
	b.write("NOT (")
	c.Clause.lower(b)
	b.write(")")
}

// escapeLike escapes LIKE wildcards so the value matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ContainsPattern matches s anywhere.
func ContainsPattern(s string) string { return "%" + escapeLike(s) + "%" }

// PrefixPattern matches values starting with s.
func PrefixPattern(s string) string { return escapeLike(s) + "%" }

// SuffixPattern matches values ending with s.
func SuffixPattern(s string) string { return "%" + escapeLike(s) }
