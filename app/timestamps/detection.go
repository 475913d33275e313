package timestamps

import (
	"strings"
	"unicode"
)

// timestampWords are whole name tokens that mark a timestamp column.
var timestampWords = map[string]bool{
	"ts": true, "created": true, "modified": true, "accessed": true, "changed": true,
	"written": true, "start": true, "started": true, "end": true, "ended": true,
	"begin": true, "when": true, "epoch": true, "born": true, "expires": true,
	"mtime": true, "atime": true, "ctime": true, "btime": true, "logged": true,
}

// timestampFragments match anywhere inside a lower-cased name.
var timestampFragments = []string{"time", "date"}

// IsTimestampColumn classifies a column from its name alone. Values are
// never inspected.
func IsTimestampColumn(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return false
	}
	for _, frag := range timestampFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	for _, word := range nameTokens(name) {
		if timestampWords[word] {
			return true
		}
	}
	return false
}

// nameTokens splits a column name on punctuation, spaces and camelCase
// boundaries and lower-cases the parts ("FileCreated_UTC" -> file, created, utc).
func nameTokens(name string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}

// DetectTimestampIndex attempts to find the most likely timestamp column.
// Preference order:
// 1) Exact name: "@timestamp", "timestamp", "datetime", "time"
// 2) Contains: "@timestamp", "timestamp", "datetime", "date", "time"
// 3) Any column IsTimestampColumn accepts
// Returns -1 if no timestamp column is detected.
func DetectTimestampIndex(header []string) int {
	if len(header) == 0 {
		return -1
	}
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, ex := range []string{"@timestamp", "timestamp", "datetime", "time"} {
		for i, h := range lower {
			if h == ex {
				return i
			}
		}
	}
	for _, key := range []string{"@timestamp", "timestamp", "datetime", "date", "time"} {
		for i, h := range lower {
			if strings.Contains(h, key) {
				return i
			}
		}
	}
	for i, h := range header {
		if IsTimestampColumn(h) {
			return i
		}
	}
	return -1
}
