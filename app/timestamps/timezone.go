package timestamps

import (
	"fmt"
	"strings"
	"time"
)

// ResolveTimezone resolves "Local", "UTC" (or empty) and IANA zone names.
func ResolveTimezone(name string) (*time.Location, error) {
	tzName := strings.TrimSpace(name)
	switch strings.ToUpper(tzName) {
	case "LOCAL":
		return time.Local, nil
	case "", "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// GetLocationForTZ is ResolveTimezone with unknown names mapped to UTC.
func GetLocationForTZ(name string) *time.Location {
	if loc, err := ResolveTimezone(name); err == nil {
		return loc
	}
	return time.UTC
}
