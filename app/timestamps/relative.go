package timestamps

import (
	"strconv"
	"strings"
	"time"
)

// ParseFlexibleTime parses absolute timestamps or relative phrases such as
// "now", "15m", "2 hours ago" or "7d". Relative phrases are measured back
// from now.
func ParseFlexibleTime(s string, now time.Time, loc *time.Location) (time.Time, bool) {
	ss := strings.TrimSpace(strings.ToLower(s))
	if ss == "" {
		return time.Time{}, false
	}
	if ss == "now" {
		return now, true
	}
	if t, ok := ParseTime(s, loc); ok {
		return t, true
	}

	ss = strings.TrimSpace(strings.TrimSuffix(ss, "ago"))
	numStr, unitStr := "", ""
	if parts := strings.Fields(ss); len(parts) >= 2 {
		numStr, unitStr = parts[0], parts[1]
	} else {
		for i, r := range ss {
			if r < '0' || r > '9' {
				numStr, unitStr = ss[:i], ss[i:]
				break
			}
		}
		if numStr == "" {
			numStr, unitStr = ss, "s"
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	var unit time.Duration
	switch strings.TrimSpace(unitStr) {
	case "", "s", "sec", "secs", "second", "seconds":
		unit = time.Second
	case "m", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	case "w", "wk", "wks", "week", "weeks":
		unit = 7 * 24 * time.Hour
	case "mo", "mon", "month", "months":
		unit = 30 * 24 * time.Hour
	case "y", "yr", "yrs", "year", "years":
		unit = 365 * 24 * time.Hour
	default:
		return time.Time{}, false
	}
	return now.Add(-time.Duration(n) * unit), true
}
