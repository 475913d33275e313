package query

import (
	"strings"
)

// TokenType represents the type of a token in a mixed-mode search term
type TokenType int

const (
	TokenWord    TokenType = iota // Bare word (e.g., mimikatz)
	TokenPhrase                   // Quoted phrase (e.g., "net user")
	TokenInclude                  // Forced include (+word or +"phrase")
	TokenExclude                  // Forced exclude (-word or -"phrase")
	TokenField                    // Column-scoped value (e.g., user:admin or "user name":"bob smith")
)

// Token represents a token in a mixed-mode search term
type Token struct {
	Type   TokenType
	Value  string
	Column string // TokenField only
	Raw    string // source text, used when a field token names no column
}

// SearchTokenizer splits a mixed-mode search term into tokens
type SearchTokenizer struct {
	input  string
	pos    int
	tokens []Token
}

// TokenizeSearch returns the tokens of a mixed-mode search term.
func TokenizeSearch(input string) []Token {
	t := &SearchTokenizer{input: input}
	t.tokenize()
	return t.tokens
}

func (t *SearchTokenizer) tokenize() {
	for t.pos < len(t.input) {
		c := t.input[t.pos]
		if isWhitespace(c) {
			t.pos++
			continue
		}

		switch c {
		case '"':
			start := t.pos
			phrase := t.readQuoted()
			if t.pos < len(t.input) && t.input[t.pos] == ':' {
				t.readBare()
				word := t.input[start:t.pos]
				if col, val, ok := splitField(word); ok {
					t.tokens = append(t.tokens, Token{Type: TokenField, Column: col, Value: val, Raw: word})
					continue
				}
			}
			if phrase != "" {
				t.tokens = append(t.tokens, Token{Type: TokenPhrase, Value: phrase, Raw: phrase})
			}
		case '+', '-':
			t.pos++
			if t.pos >= len(t.input) || isWhitespace(t.input[t.pos]) {
				continue // lone operator
			}
			var value string
			if t.input[t.pos] == '"' {
				value = t.readQuoted()
			} else {
				value = t.readBare()
			}
			if value == "" {
				continue
			}
			typ := TokenInclude
			if c == '-' {
				typ = TokenExclude
			}
			t.tokens = append(t.tokens, Token{Type: typ, Value: value, Raw: value})
		default:
			word := t.readBare()
			if col, val, ok := splitField(word); ok {
				t.tokens = append(t.tokens, Token{Type: TokenField, Column: col, Value: val, Raw: word})
			} else if word != "" {
				t.tokens = append(t.tokens, Token{Type: TokenWord, Value: unquote(word), Raw: word})
			}
		}
	}
}

// readQuoted consumes a double-quoted run and returns its body. An
// unterminated quote runs to the end of input.
func (t *SearchTokenizer) readQuoted() string {
	t.pos++ // opening quote
	start := t.pos
	for t.pos < len(t.input) && t.input[t.pos] != '"' {
		t.pos++
	}
	body := t.input[start:t.pos]
	if t.pos < len(t.input) {
		t.pos++ // closing quote
	}
	return strings.TrimSpace(body)
}

// readBare reads up to the next whitespace, keeping quoted sections (as in
// "user name":admin) intact.
func (t *SearchTokenizer) readBare() string {
	start := t.pos
	for t.pos < len(t.input) && !isWhitespace(t.input[t.pos]) {
		if t.input[t.pos] == '"' {
			t.pos++
			for t.pos < len(t.input) && t.input[t.pos] != '"' {
				t.pos++
			}
			if t.pos < len(t.input) {
				t.pos++ // consume closing quote
			}
			continue
		}
		t.pos++
	}
	return t.input[start:t.pos]
}

// splitField splits Column:value. The colon must sit outside quotes with
// text on both sides.
func splitField(word string) (string, string, bool) {
	inQuote := false
	for i := 0; i < len(word); i++ {
		switch word[i] {
		case '"':
			inQuote = !inQuote
		case ':':
			if inQuote || i == 0 || i == len(word)-1 {
				continue
			}
			col, val := unquote(word[:i]), unquote(word[i+1:])
			if col == "" || val == "" {
				return "", "", false
			}
			return col, val, true
		}
	}
	return "", "", false
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
