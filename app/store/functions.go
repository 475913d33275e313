package store

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"casefile/app/textmatch"
	"casefile/app/timestamps"

	"modernc.org/sqlite"
)

// The engine calls these for "x REGEXP pattern", fuzzy_match(term, x) and
// iso_time(x, zone). Registration applies to every connection opened
// afterwards.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		if textmatch.MatchRegex(valueText(args[0]), valueText(args[1])) {
			return int64(1), nil
		}
		return int64(0), nil
	})
	sqlite.MustRegisterDeterministicScalarFunction("fuzzy_match", 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		if textmatch.FuzzyMatch(valueText(args[0]), valueText(args[1])) {
			return int64(1), nil
		}
		return int64(0), nil
	})
	// iso_time normalises a timestamp to timestamps.ISOLayout, reading
	// zone-less values in the named zone. Unparseable values yield NULL.
	sqlite.MustRegisterDeterministicScalarFunction("iso_time", 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		iso, ok := timestamps.ToISO(valueText(args[0]), zoneLocation(valueText(args[1])))
		if !ok {
			return nil, nil
		}
		return iso, nil
	})
}

func valueText(v driver.Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

var zones sync.Map // zone name -> *time.Location

func zoneLocation(name string) *time.Location {
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location)
	}
	loc := timestamps.GetLocationForTZ(name)
	zones.Store(name, loc)
	return loc
}

// ISOTimeExpr is the SQL expression normalising ident with iso_time in loc.
func ISOTimeExpr(ident string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("iso_time(%s, '%s')", ident, strings.ReplaceAll(loc.String(), "'", "''"))
}
