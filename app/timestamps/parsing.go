package timestamps

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the canonical text form written for normalised timestamps.
// Lexicographic order of values in this layout equals chronological order.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// ISOMicroLayout is used where the source carries microsecond precision.
const ISOMicroLayout = "2006-01-02T15:04:05.000000Z"

// zonedLayouts carry their own offset or zone name.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.000 MST",
	"2006-01-02 15:04:05.000 MST",
	"2006-01-02 15:04:05 MST",
	time.RFC1123Z,
	time.RFC1123,
}

// localLayouts are interpreted in the ingest location.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 3:04:05 PM",
	"01/02/2006 15:04",
	"01/02/2006",
	"02/01/2006 3:04pm",
	"02/01/2006 03:04 pm",
	"Jan 2 2006 15:04:05",
	"Jan _2 15:04:05",
}

// ParseTime tries the known layouts and epoch integers. loc is used for
// layouts without a zone; nil means UTC.
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	t, _, ok := parseLayout(s, loc)
	return t, ok
}

// epochLayout stands in for integer epoch input.
const epochLayout = "epoch"

var fractionPattern = regexp.MustCompile(`:\d{2}[.,]\d`)

func parseLayout(s string, loc *time.Location) (time.Time, string, bool) {
	ss := strings.TrimSpace(s)
	if ss == "" {
		return time.Time{}, "", false
	}
	if loc == nil {
		loc = time.UTC
	}

	// Integers first: they are common in exports and would fail every layout.
	if n, err := strconv.ParseInt(ss, 10, 64); err == nil {
		if len(ss) < 9 {
			return time.Time{}, "", false
		}
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), epochLayout, true
		}
		return time.Unix(n, 0).UTC(), epochLayout, true
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, ss); err == nil {
			return t, layout, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, ss, loc); err == nil {
			return t, layout, true
		}
	}
	return time.Time{}, "", false
}

// ParseBound parses an absolute timestamp used as a filter bound and returns
// the instant together with the exclusive end of the precision it was
// written with: "2024-03-15" ends at the next midnight, "2024-03-15 10:01"
// a minute later and a value with fractional seconds a millisecond later.
func ParseBound(s string, loc *time.Location) (start, end time.Time, ok bool) {
	t, layout, ok := parseLayout(s, loc)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	switch {
	case layout == epochLayout:
		if len(strings.TrimSpace(s)) > 12 {
			return t, t.Add(time.Millisecond), true
		}
		return t, t.Add(time.Second), true
	case strings.Contains(layout, "05"):
		if fractionPattern.MatchString(s) {
			return t, t.Truncate(time.Millisecond).Add(time.Millisecond), true
		}
		return t, t.Add(time.Second), true
	case strings.Contains(layout, "04"):
		return t, t.Add(time.Minute), true
	default:
		return t, t.AddDate(0, 0, 1), true
	}
}

// ParseTimestampMillis returns epoch milliseconds for s.
func ParseTimestampMillis(s string, loc *time.Location) (int64, bool) {
	t, ok := ParseTime(s, loc)
	if !ok {
		return 0, false
	}
	return t.UnixMilli(), true
}

// FormatISO renders t in ISOLayout, in UTC.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// NormalizeISO rewrites a recognisable timestamp into ISOLayout. Values that
// do not parse are returned unchanged.
func NormalizeISO(s string, loc *time.Location) string {
	if iso, ok := ToISO(s, loc); ok {
		return iso
	}
	return s
}

// ToISO renders a recognisable timestamp in ISOLayout. Compared as text, two
// results order chronologically whatever layouts the inputs used.
func ToISO(s string, loc *time.Location) (string, bool) {
	t, ok := ParseTime(s, loc)
	if !ok {
		return "", false
	}
	return FormatISO(t), true
}

// FromMicros converts integer microseconds since the Unix epoch.
func FromMicros(us int64) string {
	return time.UnixMicro(us).UTC().Format(ISOMicroLayout)
}

// fileTimeEpochDelta is the number of 100ns intervals between 1601-01-01
// and 1970-01-01.
const fileTimeEpochDelta = 116444736000000000

// FromFileTime converts a Windows FILETIME (100ns since 1601) to ISO text.
func FromFileTime(ft uint64) string {
	if ft == 0 {
		return ""
	}
	delta := int64(ft) - fileTimeEpochDelta
	return time.Unix(0, delta*100).UTC().Format("2006-01-02T15:04:05.0000000Z")
}

// IsDayPrefix reports whether s has the YYYY-MM-DD shape.
func IsDayPrefix(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	for i, c := range s {
		if i == 4 || i == 7 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsMinutePrefix reports whether s has the YYYY-MM-DD?HH:MM shape with any
// date/time separator.
func IsMinutePrefix(s string) bool {
	if len(s) != 16 || !IsDayPrefix(s[:10]) || s[13] != ':' {
		return false
	}
	for _, i := range []int{11, 12, 14, 15} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseLayouts tries only the given layouts, in order, in loc.
func ParseLayouts(s string, layouts []string, loc *time.Location) (time.Time, bool) {
	ss := strings.TrimSpace(s)
	if ss == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, ss, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
