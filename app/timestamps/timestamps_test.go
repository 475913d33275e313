package timestamps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTimestampColumn(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"TimeCreated", true},
		{"datetime", true},
		{"LastWriteTime", true},
		{"Date", true},
		{"FileCreated_UTC", true},
		{"start", true},
		{"session_end", true},
		{"ts", true},
		{"Computer", false},
		{"EventID", false},
		{"vendor", false},
		{"message", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimestampColumn(tt.name))
		})
	}
}

func TestDetectTimestampIndex(t *testing.T) {
	assert.Equal(t, 2, DetectTimestampIndex([]string{"host", "TimeCreated", "timestamp"}))
	assert.Equal(t, 1, DetectTimestampIndex([]string{"host", "EventDate"}))
	assert.Equal(t, 0, DetectTimestampIndex([]string{"created", "user"}))
	assert.Equal(t, -1, DetectTimestampIndex([]string{"user", "host"}))
	assert.Equal(t, -1, DetectTimestampIndex(nil))
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-03-15T10:30:00Z", "2024-03-15T10:30:00.000Z", true},
		{"2024-03-15 10:30:00", "2024-03-15T10:30:00.000Z", true},
		{"2024-03-15T10:30:00.123+02:00", "2024-03-15T08:30:00.123Z", true},
		{"2024-03-15", "2024-03-15T00:00:00.000Z", true},
		{"1710498600", "2024-03-15T10:30:00.000Z", true},
		{"1710498600000", "2024-03-15T10:30:00.000Z", true},
		{"42", "", false},
		{"not a time", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTime(tt.in, time.UTC)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, FormatISO(got))
			}
		})
	}
}

func TestFromMicrosAndFileTime(t *testing.T) {
	assert.Equal(t, "2024-03-15T10:30:00.000001Z", FromMicros(1710498600000001))
	// 2024-03-15T10:30:00Z as FILETIME
	ft := uint64(1710498600)*10_000_000 + 116444736000000000
	assert.Equal(t, "2024-03-15T10:30:00.0000000Z", FromFileTime(ft))
	assert.Equal(t, "", FromFileTime(0))
}

func TestPrefixShapes(t *testing.T) {
	assert.True(t, IsDayPrefix("2024-03-15"))
	assert.False(t, IsDayPrefix("2024/03/15"))
	assert.False(t, IsDayPrefix("20240315xx"))
	assert.True(t, IsMinutePrefix("2024-03-15T10:30"))
	assert.True(t, IsMinutePrefix("2024-03-15 10:30"))
	assert.False(t, IsMinutePrefix("2024-03-15T10-30"))
}

func TestParseFlexibleTime(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	got, ok := ParseFlexibleTime("2 hours ago", now, time.UTC)
	require.True(t, ok)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	got, ok = ParseFlexibleTime("7d", now, time.UTC)
	require.True(t, ok)
	assert.Equal(t, now.Add(-7*24*time.Hour), got)

	_, ok = ParseFlexibleTime("3 fortnights", now, time.UTC)
	assert.False(t, ok)
}

func TestResolveTimezone(t *testing.T) {
	loc, err := ResolveTimezone(" utc ")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = ResolveTimezone("local")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	_, err = ResolveTimezone("Mars/Olympus")
	assert.Error(t, err)
	assert.Equal(t, time.UTC, GetLocationForTZ("Mars/Olympus"))
}
