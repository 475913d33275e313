package analytics

import (
	"context"
	"strings"
	"testing"

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

var analyticsRows = [][]string{
	{"2024-03-15T10:00:00.000Z", "dc01", "mimikatz.exe sekurlsa::logonpasswords", "10.0.0.5"},
	{"2024-03-15T09:00:00.000Z", "dc01", "cmd.exe /c whoami", "10.0.0.5"},
	{"2024-03-16T12:00:00.000Z", "ws02", "powershell -enc SQBFAFgA", "192.168.1.20"},
	{"", "ws02", "explorer.exe", ""},
	{"2024-03-14T08:00:00.000Z", "ws03", "psexec.exe \\\\dc01 cmd", "10.0.0.5"},
}

func newEngine(t *testing.T, rows [][]string) *query.Engine {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(ctx, store.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.CreateSchema(ctx, []string{"Timestamp", "Host", "CommandLine", "SrcIP"}))
	if len(rows) > 0 {
		require.NoError(t, st.InsertBatch(ctx, rows))
	}
	_, err = st.FinalizeImport(ctx)
	require.NoError(t, err)
	return query.NewEngine(st, cache.NewCountCache(8, nil), nil)
}

func TestCoverage(t *testing.T) {
	e := newEngine(t, analyticsRows)
	res, err := Coverage(context.Background(), e, interfaces.CoverageRequest{SourceColumn: "host"})
	require.NoError(t, err)

	assert.Equal(t, []interfaces.SourceCoverage{
		{Source: "dc01", Count: 2, Earliest: "2024-03-15T09:00:00.000Z", Latest: "2024-03-15T10:00:00.000Z"},
		{Source: "ws02", Count: 2, Earliest: "2024-03-16T12:00:00.000Z", Latest: "2024-03-16T12:00:00.000Z"},
		{Source: "ws03", Count: 1, Earliest: "2024-03-14T08:00:00.000Z", Latest: "2024-03-14T08:00:00.000Z"},
	}, res.Sources)
	assert.Equal(t, "2024-03-14T08:00:00.000Z", res.GlobalEarliest)
	assert.Equal(t, "2024-03-16T12:00:00.000Z", res.GlobalLatest)

	_, err = Coverage(context.Background(), e, interfaces.CoverageRequest{SourceColumn: "nope"})
	assert.Error(t, err)
}

func TestStack(t *testing.T) {
	e := newEngine(t, analyticsRows)
	res, err := Stack(context.Background(), e, interfaces.StackRequest{Column: "SrcIP"}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Total)
	assert.False(t, res.Truncated)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, interfaces.StackEntry{Value: "10.0.0.5", Count: 3, Percent: 60}, res.Entries[0])
	assert.Equal(t, "", res.Entries[1].Value)

	capped, err := Stack(context.Background(), e, interfaces.StackRequest{Column: "SrcIP"}, Options{StackMaxValues: 2})
	require.NoError(t, err)
	assert.True(t, capped.Truncated)
	assert.Len(t, capped.Entries, 2)

	filtered, err := Stack(context.Background(), e, interfaces.StackRequest{
		QueryRequest: interfaces.QueryRequest{ColumnFilters: map[string]string{"Host": "dc01"}},
		Column:       "SrcIP",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.StackEntry{{Value: "10.0.0.5", Count: 2, Percent: 100}}, filtered.Entries)
}

func TestStack_PercentagesSumTo100(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)
	properties.Property("entries cover every matching row", prop.ForAll(
		func(values []string) bool {
			rows := make([][]string, len(values))
			for i, v := range values {
				rows[i] = []string{"", "h", v, ""}
			}
			e := newEngine(t, rows)
			res, err := Stack(context.Background(), e, interfaces.StackRequest{Column: "CommandLine"}, Options{})
			if err != nil {
				return false
			}
			var n int64
			var pct float64
			for _, en := range res.Entries {
				n += en.Count
				pct += en.Percent
			}
			if len(values) == 0 {
				return n == 0 && len(res.Entries) == 0
			}
			return n == int64(len(values)) && pct > 99.999 && pct < 100.001
		},
		gen.SliceOfN(12, gen.OneConstOf("a", "b", "c", "")),
	))
	properties.TestingRun(t)
}

func TestBatchPatterns(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		maxCount int
		maxBytes int
		want     []string
	}{
		{"count bound", []string{"a", "b", "c"}, 2, 100, []string{"(?:a)|(?:b)", "(?:c)"}},
		{"exact byte fit", []string{"aaaa", "bbbb", "c"}, 10, 14, []string{"(?:aaaa)", "(?:bbbb)|(?:c)"}},
		{"one byte over", []string{"aaaa", "bbbb", "c"}, 10, 12, []string{"(?:aaaa)", "(?:bbbb)", "(?:c)"}},
		{"oversized alone", []string{"abcdefghij", "x"}, 10, 8, []string{"(?:abcdefghij)", "(?:x)"}},
		{"none", nil, 10, 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batchPatterns(tt.patterns, tt.maxCount, tt.maxBytes)
			assert.Equal(t, tt.want, got)
			for _, b := range got {
				if strings.Contains(b, "|") {
					assert.LessOrEqual(t, len(b), tt.maxBytes)
				}
			}
		})
	}
}

func TestMatchIOCs(t *testing.T) {
	e := newEngine(t, analyticsRows)
	req := interfaces.IOCRequest{Indicators: []string{"MIMIKATZ", `10\.0\.0\.5`, "psexec", "nothing-here", "([", "psexec"}}

	res, err := MatchIOCs(context.Background(), e, req, Options{IOCBatchPatterns: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.MatchedRows)
	assert.Equal(t, []string{"(["}, res.InvalidIndicators)
	assert.Equal(t, []interfaces.IOCHit{
		{Indicator: `10\.0\.0\.5`, Count: 3, RowKeys: []int64{1, 2, 5}},
		{Indicator: "MIMIKATZ", Count: 1, RowKeys: []int64{1}},
		{Indicator: "psexec", Count: 1, RowKeys: []int64{5}},
	}, res.Hits)
}

func TestMatchIOCs_RespectsFiltersAndColumns(t *testing.T) {
	e := newEngine(t, analyticsRows)
	res, err := MatchIOCs(context.Background(), e, interfaces.IOCRequest{
		QueryRequest: interfaces.QueryRequest{ColumnFilters: map[string]string{"Host": "ws"}},
		Indicators:   []string{"dc01"},
		Columns:      []string{"CommandLine"},
	}, Options{})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, []int64{5}, res.Hits[0].RowKeys)

	_, err = MatchIOCs(context.Background(), e, interfaces.IOCRequest{Indicators: []string{"x"}, Columns: []string{"missing"}}, Options{})
	assert.Error(t, err)
}
