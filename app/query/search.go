package query

import (
	"strings"
	"unicode/utf8"

	"casefile/app/interfaces"
)

// minIndexedRunes is the shortest term the trigram index can answer.
const minIndexedRunes = 3

// Search compiles the global search box. Regex and fuzzy modes scan every
// column with the engine functions. Conditions other than "contains"
// compare each column directly. "contains" uses the search index when it
// is ready and falls back to LIKE scans otherwise.
func (c *Compiler) Search(term, mode, condition string) Clause {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	condition = strings.ToLower(strings.TrimSpace(condition))
	if mode == "" {
		mode = interfaces.SearchModeMixed
	}
	if condition == "" {
		condition = interfaces.SearchConditionContains
	}

	switch {
	case mode == interfaces.SearchModeRegex:
		return c.eachColumn(func(ident string) Clause { return Regex{Ident: ident, Pattern: term} })
	case mode == interfaces.SearchModeFuzzy || condition == interfaces.SearchConditionFuzzy:
		return c.eachColumn(func(ident string) Clause { return Fuzzy{Ident: ident, Term: term} })
	}

	switch mode {
	case interfaces.SearchModeExact:
		return c.terms([]string{term}, condition, false)
	case interfaces.SearchModeOr:
		return c.terms(strings.Fields(term), condition, true)
	case interfaces.SearchModeAnd:
		return c.terms(strings.Fields(term), condition, false)
	default:
		return c.mixed(term, condition)
	}
}

// mixed requires every word, phrase and +term, rejects every -term and
// scopes Column:value tokens to their column. Field tokens naming an
// unknown column are searched as plain words.
func (c *Compiler) mixed(term, condition string) Clause {
	var required, excluded []string
	var fields And
	for _, tok := range TokenizeSearch(term) {
		switch tok.Type {
		case TokenExclude:
			excluded = append(excluded, tok.Value)
		case TokenField:
			if col, ok := c.schema.ResolveColumn(tok.Column); ok {
				fields = append(fields, Like{Ident: col.Ident, Pattern: ContainsPattern(tok.Value)})
				continue
			}
			required = append(required, tok.Raw)
		default:
			required = append(required, tok.Value)
		}
	}

	var all And
	if inc := c.terms(required, condition, false); inc != nil {
		all = append(all, inc)
	}
	for _, ex := range excluded {
		all = append(all, Not{Clause: c.terms([]string{ex}, condition, false)})
	}
	all = append(all, fields...)
	if len(all) == 0 {
		return nil
	}
	return all
}

// terms joins per-term clauses with AND (OR when anyOf is set). Index
// eligible terms share one MATCH expression; short terms and non-contains
// conditions scan the columns directly.
func (c *Compiler) terms(terms []string, condition string, anyOf bool) Clause {
	var parts []Clause
	var indexed []string
	useIndex := c.searchReady && condition == interfaces.SearchConditionContains
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if useIndex && utf8.RuneCountInString(t) >= minIndexedRunes {
			indexed = append(indexed, t)
			continue
		}
		parts = append(parts, c.direct(t, condition))
	}
	if len(indexed) > 0 {
		op := " AND "
		if anyOf {
			op = " OR "
		}
		quoted := make([]string, len(indexed))
		for i, t := range indexed {
			quoted[i] = QuoteFTS(t)
		}
		parts = append([]Clause{Match{Expr: strings.Join(quoted, op)}}, parts...)
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	if anyOf {
		return Or(parts)
	}
	return And(parts)
}

// direct matches one term against every column.
func (c *Compiler) direct(term, condition string) Clause {
	switch condition {
	case interfaces.SearchConditionEquals:
		return c.eachColumn(func(ident string) Clause { return Equals{Ident: ident, Value: term, Fold: true} })
	case interfaces.SearchConditionStartsWith:
		return c.eachColumn(func(ident string) Clause { return Like{Ident: ident, Pattern: PrefixPattern(term)} })
	case interfaces.SearchConditionLike:
		pattern := wildcardPattern(term)
		return c.eachColumn(func(ident string) Clause { return Like{Ident: ident, Pattern: pattern} })
	default:
		return c.eachColumn(func(ident string) Clause { return Like{Ident: ident, Pattern: ContainsPattern(term)} })
	}
}

func (c *Compiler) eachColumn(fn func(ident string) Clause) Clause {
	cols := c.schema.Columns()
	or := make(Or, 0, len(cols))
	for _, col := range cols {
		or = append(or, fn(col.Ident))
	}
	return or
}

// wildcardPattern turns a user pattern with * and ? into a LIKE pattern.
// Without wildcards the term matches anywhere.
func wildcardPattern(term string) string {
	if !strings.ContainsAny(term, "*?") {
		return ContainsPattern(term)
	}
	escaped := escapeLike(term)
	return strings.NewReplacer("*", "%", "?", "_").Replace(escaped)
}

// QuoteFTS quotes a term as an FTS5 phrase.
func QuoteFTS(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}
