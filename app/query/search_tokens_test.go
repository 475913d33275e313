package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTokenizeSearch tests the tokenization of mixed-mode search terms
func TestTokenizeSearch(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
	}{
		{
			name:  "simple word",
			input: "mimikatz",
			expected: []Token{
				{Type: TokenWord, Value: "mimikatz", Raw: "mimikatz"},
			},
		},
		{
			name:  "include and exclude",
			input: "foo +bar -baz",
			expected: []Token{
				{Type: TokenWord, Value: "foo", Raw: "foo"},
				{Type: TokenInclude, Value: "bar", Raw: "bar"},
				{Type: TokenExclude, Value: "baz", Raw: "baz"},
			},
		},
		{
			name:  "quoted phrase",
			input: `"net user" admin`,
			expected: []Token{
				{Type: TokenPhrase, Value: "net user", Raw: "net user"},
				{Type: TokenWord, Value: "admin", Raw: "admin"},
			},
		},
		{
			name:  "excluded phrase",
			input: `-"windows defender"`,
			expected: []Token{
				{Type: TokenExclude, Value: "windows defender", Raw: "windows defender"},
			},
		},
		{
			name:  "field",
			input: "user:admin",
			expected: []Token{
				{Type: TokenField, Column: "user", Value: "admin", Raw: "user:admin"},
			},
		},
		{
			name:  "quoted field name and value",
			input: `"user name":"bob smith"`,
			expected: []Token{
				{Type: TokenField, Column: "user name", Value: "bob smith", Raw: `"user name":"bob smith"`},
			},
		},
		{
			name:  "trailing colon is a word",
			input: "C:",
			expected: []Token{
				{Type: TokenWord, Value: "C:", Raw: "C:"},
			},
		},
		{
			name:     "lone operators",
			input:    "+ - ",
			expected: nil,
		},
		{
			name:  "unterminated quote",
			input: `"open ended`,
			expected: []Token{
				{Type: TokenPhrase, Value: "open ended", Raw: "open ended"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TokenizeSearch(tt.input))
		})
	}
}
