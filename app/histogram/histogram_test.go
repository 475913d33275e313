package histogram

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/app/cache"
	"casefile/app/interfaces"
	"casefile/app/query"
	"casefile/app/store"
)

func mb(minute string, count int64) interfaces.MinuteBucket {
	return interfaces.MinuteBucket{Minute: minute, Count: count}
}

func TestAnalyzeGaps(t *testing.T) {
	res := AnalyzeGaps([]interfaces.MinuteBucket{
		mb("2024-03-15T10:00", 3),
		mb("2024-03-15T10:01", 2),
		mb("2024-03-15T10:05", 1),
	}, 2)

	require.Len(t, res.Gaps, 1)
	assert.Equal(t, interfaces.Gap{Start: "2024-03-15T10:01", End: "2024-03-15T10:05", DurationMinutes: 4}, res.Gaps[0])
	assert.Equal(t, []interfaces.ActivitySession{
		{Start: "2024-03-15T10:00", End: "2024-03-15T10:01", EventCount: 5, DurationMinutes: 1},
		{Start: "2024-03-15T10:05", End: "2024-03-15T10:05", EventCount: 1, DurationMinutes: 0},
	}, res.Sessions)
	assert.EqualValues(t, 6, res.TotalEvents)
}

func TestAnalyzeGaps_EdgeCases(t *testing.T) {
	empty := AnalyzeGaps(nil, 5)
	assert.Empty(t, empty.Sessions)
	assert.NotNil(t, empty.Gaps)

	// the gap equal to the threshold does not split
	res := AnalyzeGaps([]interfaces.MinuteBucket{mb("2024-03-15T10:00", 1), mb("2024-03-15T10:02", 1)}, 2)
	assert.Len(t, res.Sessions, 1)
	assert.Empty(t, res.Gaps)

	// zero counts and malformed minutes are ignored
	res = AnalyzeGaps([]interfaces.MinuteBucket{mb("2024-03-15T10:00", 1), mb("garbage", 9), mb("2024-03-15T12:00", 0)}, 2)
	assert.Len(t, res.Sessions, 1)
	assert.EqualValues(t, 1, res.TotalEvents)
}

func TestAnalyzeGaps_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	properties.Property("sessions = gaps + 1 and counts are conserved", prop.ForAll(
		func(steps []int, threshold int) bool {
			buckets := make([]interfaces.MinuteBucket, 0, len(steps))
			at := base
			var total int64
			for i, s := range steps {
				at = at.Add(time.Duration(s+1) * time.Minute)
				c := int64(i%4 + 1)
				total += c
				buckets = append(buckets, mb(formatMinute(at), c))
			}
			res := AnalyzeGaps(buckets, threshold)
			if len(steps) == 0 {
				return len(res.Sessions) == 0 && len(res.Gaps) == 0
			}
			var sum int64
			for _, s := range res.Sessions {
				sum += s.EventCount
			}
			for _, g := range res.Gaps {
				if g.DurationMinutes <= int64(threshold) {
					return false
				}
			}
			return len(res.Sessions) == len(res.Gaps)+1 && sum == total && res.TotalEvents == total
		},
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.IntRange(1, 10),
	))
	properties.TestingRun(t)
}

func tenWindowsWithSpike() []interfaces.MinuteBucket {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var out []interfaces.MinuteBucket
	for i := 0; i < 10; i++ {
		c := int64(10)
		if i == 6 {
			c = 200
		}
		out = append(out, mb(formatMinute(base.Add(time.Duration(i*5)*time.Minute)), c))
	}
	return out
}

func TestDetectBursts(t *testing.T) {
	res := DetectBursts(tenWindowsWithSpike(), 5, 5)

	assert.InDelta(t, 10, res.Baseline, 0.001)
	require.Len(t, res.Windows, 10)
	flagged := 0
	for _, w := range res.Windows {
		if w.IsBurst {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
	require.Len(t, res.Bursts, 1)
	b := res.Bursts[0]
	assert.Equal(t, "2024-03-15T10:30", b.Start)
	assert.Equal(t, "2024-03-15T10:35", b.End)
	assert.EqualValues(t, 200, b.TotalEvents)
	assert.EqualValues(t, 200, b.PeakRate)
	assert.InDelta(t, 20, b.BurstFactor, 0.001)
	assert.EqualValues(t, 5, b.DurationMinutes)
}

func TestDetectBursts_MergesAdjacentWindowsAndFillsSparkline(t *testing.T) {
	buckets := []interfaces.MinuteBucket{
		mb("2024-03-15T10:00", 4),
		mb("2024-03-15T10:01", 100),
		mb("2024-03-15T10:02", 60),
		mb("2024-03-15T10:03", 4),
		mb("2024-03-15T10:06", 4),
		mb("2024-03-15T10:07", 4),
	}
	res := DetectBursts(buckets, 1, 3)
	assert.InDelta(t, 4, res.Baseline, 0.001)
	assert.Len(t, res.Windows, 8)
	assert.Zero(t, res.Windows[4].Count)
	require.Len(t, res.Bursts, 1)
	assert.Equal(t, 2, res.Bursts[0].Windows)
	assert.EqualValues(t, 160, res.Bursts[0].TotalEvents)
	assert.EqualValues(t, 100, res.Bursts[0].PeakRate)
	assert.InDelta(t, 20, res.Bursts[0].BurstFactor, 0.001)
}

func TestDetectBursts_SparseBaselineSkipsEmptyWindows(t *testing.T) {
	buckets := []interfaces.MinuteBucket{
		mb("2024-03-15T10:00", 1),
		mb("2024-03-15T11:00", 1),
		mb("2024-03-15T12:00", 4),
	}
	res := DetectBursts(buckets, 5, 3)
	assert.InDelta(t, 1, res.Baseline, 0.001)
	assert.Len(t, res.Windows, 25)
	require.Len(t, res.Bursts, 1)
	assert.Equal(t, "2024-03-15T12:00", res.Bursts[0].Start)
}

func TestDetectBursts_Empty(t *testing.T) {
	res := DetectBursts(nil, 0, 0)
	assert.Empty(t, res.Bursts)
	assert.NotNil(t, res.Windows)
}

func TestDetectBursts_SingleSpikeProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	properties.Property("one spike above multiplier is the only burst", prop.ForAll(
		func(n int, level int64, spikeAt int) bool {
			spikeAt %= n
			var buckets []interfaces.MinuteBucket
			for i := 0; i < n; i++ {
				c := level
				if i == spikeAt {
					c = level * 10
				}
				buckets = append(buckets, mb(formatMinute(base.Add(time.Duration(i)*time.Minute)), c))
			}
			res := DetectBursts(buckets, 1, 5)
			return len(res.Bursts) == 1 && res.Bursts[0].TotalEvents == level*10 && len(res.Windows) == n
		},
		gen.IntRange(3, 40),
		gen.Int64Range(1, 50),
		gen.IntRange(0, 1000),
	))
	properties.TestingRun(t)
}

func newEngine(t *testing.T, rows [][]string) *query.Engine {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(ctx, store.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.CreateSchema(ctx, []string{"EventTime", "Host"}))
	require.NoError(t, st.InsertBatch(ctx, rows))
	_, err = st.FinalizeImport(ctx)
	require.NoError(t, err)
	return query.NewEngine(st, cache.NewCountCache(8, nil), nil)
}

func TestDaysAndMinutes(t *testing.T) {
	e := newEngine(t, [][]string{
		{"2024-03-15T10:00:01.000Z", "a"},
		{"2024-03-15 10:00:59", "a"},
		{"2024-03-15T10:05:00.000Z", "b"},
		{"2024-03-16T00:00:00.000Z", "a"},
		{"n/a", "a"},
		{"", "b"},
	})
	ctx := context.Background()

	days, err := Days(ctx, e, interfaces.HistogramRequest{})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.HistogramBucket{{Day: "2024-03-15", Count: 3}, {Day: "2024-03-16", Count: 1}}, days.Buckets)

	filtered, err := Days(ctx, e, interfaces.HistogramRequest{
		QueryRequest:    interfaces.QueryRequest{CheckboxFilters: map[string][]string{"Host": {"b"}}},
		TimestampColumn: "eventtime",
	})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.HistogramBucket{{Day: "2024-03-15", Count: 1}}, filtered.Buckets)

	minutes, err := Minutes(ctx, e, interfaces.QueryRequest{}, "EventTime")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.MinuteBucket{
		mb("2024-03-15T10:00", 2),
		mb("2024-03-15T10:05", 1),
		mb("2024-03-16T00:00", 1),
	}, minutes)

	gaps, err := Gaps(ctx, e, interfaces.GapRequest{ThresholdMinutes: 2})
	require.NoError(t, err)
	assert.Len(t, gaps.Sessions, 3)
	assert.Len(t, gaps.Gaps, 2)

	_, err = Days(ctx, e, interfaces.HistogramRequest{TimestampColumn: "Missing"})
	assert.Error(t, err)
}

func TestTimeColumn_NoneDetected(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(ctx, store.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.CreateSchema(ctx, []string{"User"}))
	_, err = TimeColumn(st, "")
	assert.ErrorIs(t, err, ErrNoTimestampColumn)
}
