package fileloader

import (
	"strconv"
	"strings"
)

// excelColumnName converts a 0-based index to Excel-style column name.
// Examples: 0 -> A, 1 -> B, 25 -> Z, 26 -> AA, 27 -> AB, 701 -> ZZ, 702 -> AAA
func excelColumnName(index int) string {
	result := ""
	index++

	for index > 0 {
		index--
		result = string(rune('A'+index%26)) + result
		index /= 26
	}

	return result
}

// NormalizeHeaders replaces empty headers with Excel-style column names
// prefixed Unnamed_ (Unnamed_A, Unnamed_B, ..., Unnamed_AA, ...). Non-empty
// headers are trimmed.
//
// Example:
//
//	Input:  ["name", "", "age", "  ", "city"]
//	Output: ["name", "Unnamed_A", "age", "Unnamed_B", "city"]
func NormalizeHeaders(header []string) []string {
	normalized := make([]string, len(header))
	emptyCount := 0

	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			normalized[i] = "Unnamed_" + excelColumnName(emptyCount)
			emptyCount++
		} else {
			normalized[i] = h
		}
	}

	return normalized
}

// DedupeHeaders suffixes repeated names: name, name_2, name_3. A suffix that
// would collide with another header is skipped.
func DedupeHeaders(header []string) []string {
	taken := make(map[string]bool, len(header))
	for _, h := range header {
		taken[h] = true
	}
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		seen[h]++
		if seen[h] == 1 {
			out[i] = h
			continue
		}
		n := seen[h]
		name := h + "_" + strconv.Itoa(n)
		for taken[name] {
			n++
			name = h + "_" + strconv.Itoa(n)
		}
		seen[h] = n
		taken[name] = true
		out[i] = name
	}
	return out
}

// PrepareHeaders copies a raw header record into the final header set: BOM
// stripped, blanks named, duplicates suffixed.
func PrepareHeaders(raw []string) []string {
	h := append([]string(nil), raw...)
	if len(h) > 0 {
		h[0] = strings.TrimPrefix(h[0], "\ufeff")
	}
	return DedupeHeaders(NormalizeHeaders(h))
}

// SyntheticHeaders names n columns for inputs without a header row.
func SyntheticHeaders(n int) []string {
	return NormalizeHeaders(make([]string, n))
}
