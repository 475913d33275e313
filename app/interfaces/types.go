package interfaces

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FileOptions contains the options that shape how one input is ingested.
type FileOptions struct {
	// Sheet selects a spreadsheet sheet by name or 1-based index. Empty means the first sheet.
	Sheet string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	// NoHeaderRow treats the first line as data and synthesises headers.
	NoHeaderRow bool `json:"noHeaderRow,omitempty" yaml:"noHeaderRow,omitempty"`
	// Delimiter overrides delimiter detection for delimited text ("\t", "|", ",").
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	// IngestTimezoneOverride is used for zone-less spreadsheet dates.
	IngestTimezoneOverride string `json:"ingestTimezoneOverride,omitempty" yaml:"ingestTimezoneOverride,omitempty"`
	// PluginID forces a specific external converter (UUID from plugin.yml).
	PluginID string `json:"pluginId,omitempty" yaml:"pluginId,omitempty"`
	// FilePattern is the doublestar glob used for directory imports.
	FilePattern string `json:"filePattern,omitempty" yaml:"filePattern,omitempty"`
}

// Key identifies the options that shape the imported rows.
func (fo FileOptions) Key() string {
	noHeader := "false"
	if fo.NoHeaderRow {
		noHeader = "true"
	}
	tz := fo.IngestTimezoneOverride
	if tz == "" {
		tz = "default"
	}
	plugin := fo.PluginID
	if plugin == "" {
		plugin = "default"
	}
	return strings.Join([]string{fo.Sheet, noHeader, fo.Delimiter, tz, plugin, fo.FilePattern}, "::")
}

// ImportResult is returned once an input has been fully ingested.
type ImportResult struct {
	Headers          []string `json:"headers"`
	RowCount         int64    `json:"rowCount"`
	TimestampColumns []string `json:"timestampColumns"`
	NumericColumns   []string `json:"numericColumns"`
}

// Search modes
const (
	SearchModeMixed = "mixed"
	SearchModeOr    = "or"
	SearchModeAnd   = "and"
	SearchModeExact = "exact"
	SearchModeRegex = "regex"
	SearchModeFuzzy = "fuzzy"
)

// Search conditions
const (
	SearchConditionContains   = "contains"
	SearchConditionStartsWith = "startswith"
	SearchConditionLike       = "like"
	SearchConditionEquals     = "equals"
	SearchConditionFuzzy      = "fuzzy"
)

// Advanced filter operators
const (
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpRegex       = "regex"
)

// Sort directions
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// DateRange bounds a column. Either side may be empty. A To value holding
// only a date includes the whole day.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// AdvancedFilter is one condition in a left-to-right AND/OR chain. Logic
// names the connective that joins this condition to the previous one.
type AdvancedFilter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Logic    string `json:"logic,omitempty"`
}

// TagFilter selects tagged rows. A nil *TagFilter means no tag filter.
// Any selects rows holding at least one tag; otherwise rows holding any of Tags.
type TagFilter struct {
	Any  bool
	Tags []string
}

// UnmarshalJSON accepts null, "any", a single tag name or a list of names.
func (f *TagFilter) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = TagFilter{}
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "any" {
			*f = TagFilter{Any: true}
		} else {
			*f = TagFilter{Tags: []string{one}}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("tagFilter must be null, a string or a list of strings: %w", err)
	}
	*f = TagFilter{Tags: many}
	return nil
}

// MarshalJSON writes the same shapes UnmarshalJSON accepts.
func (f TagFilter) MarshalJSON() ([]byte, error) {
	switch {
	case f.Any:
		return json.Marshal("any")
	case len(f.Tags) == 1:
		return json.Marshal(f.Tags[0])
	default:
		return json.Marshal(f.Tags)
	}
}

// Active reports whether the filter restricts anything.
func (f *TagFilter) Active() bool {
	return f != nil && (f.Any || len(f.Tags) > 0)
}

// QueryRequest describes one filtered, sorted, paginated read.
type QueryRequest struct {
	Offset          int    `json:"offset"`
	Limit           int    `json:"limit"`
	SortColumn      string `json:"sortColumn,omitempty"`
	SortDirection   string `json:"sortDirection,omitempty"`
	SearchTerm      string `json:"searchTerm,omitempty"`
	SearchMode      string `json:"searchMode,omitempty"`
	SearchCondition string `json:"searchCondition,omitempty"`
	// Per-column substring filters
	ColumnFilters map[string]string `json:"columnFilters,omitempty"`
	// Per-column exact value sets. An empty list is no filter; "" selects blank values.
	CheckboxFilters  map[string][]string  `json:"checkboxFilters,omitempty"`
	BookmarkedOnly   bool                 `json:"bookmarkedOnly,omitempty"`
	TagFilter        *TagFilter           `json:"tagFilter,omitempty"`
	DateRangeFilters map[string]DateRange `json:"dateRangeFilters,omitempty"`
	AdvancedFilters  []AdvancedFilter     `json:"advancedFilters,omitempty"`
}

// QueryResult is one page of rows. RowKeys is parallel to Rows.
type QueryResult struct {
	Rows              []map[string]string `json:"rows"`
	RowKeys           []int64             `json:"rowKeys"`
	TotalFiltered     int64               `json:"totalFiltered"`
	TotalRows         int64               `json:"totalRows"`
	BookmarkedRowKeys []int64             `json:"bookmarkedRowKeys"`
	TagsByRowKey      map[int64][]string  `json:"tagsByRowKey"`
	Error             string              `json:"error,omitempty"`
}

// HistogramRequest groups matching rows by day.
type HistogramRequest struct {
	QueryRequest
	TimestampColumn string `json:"timestampColumn"`
}

// HistogramBucket is one day and its row count.
type HistogramBucket struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// HistogramResult holds day buckets in ascending order.
type HistogramResult struct {
	Buckets []HistogramBucket `json:"buckets"`
	Error   string            `json:"error,omitempty"`
}

// MinuteBucket is one minute ("YYYY-MM-DDTHH:MM") and its row count.
type MinuteBucket struct {
	Minute string `json:"minute"`
	Count  int64  `json:"count"`
}

// GapRequest configures gap analysis.
type GapRequest struct {
	QueryRequest
	TimestampColumn  string `json:"timestampColumn"`
	ThresholdMinutes int    `json:"thresholdMinutes"`
}

// ActivitySession is a run of minute buckets with no gap above the threshold.
type ActivitySession struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	EventCount      int64  `json:"eventCount"`
	DurationMinutes int64  `json:"durationMinutes"`
}

// Gap is a silence between two sessions.
type Gap struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int64  `json:"durationMinutes"`
}

// GapResult lists sessions and the gaps separating them.
type GapResult struct {
	Sessions    []ActivitySession `json:"sessions"`
	Gaps        []Gap             `json:"gaps"`
	TotalEvents int64             `json:"totalEvents"`
	Error       string            `json:"error,omitempty"`
}

// BurstRequest configures burst detection.
type BurstRequest struct {
	QueryRequest
	TimestampColumn string  `json:"timestampColumn"`
	WindowMinutes   int     `json:"windowMinutes"`
	Multiplier      float64 `json:"multiplier"`
}

// BurstWindow is one entry of the sparkline.
type BurstWindow struct {
	Start   string `json:"start"`
	Count   int64  `json:"count"`
	IsBurst bool   `json:"isBurst"`
}

// BurstPeriod is a run of contiguous flagged windows.
type BurstPeriod struct {
	Start           string  `json:"start"`
	End             string  `json:"end"`
	Windows         int     `json:"windows"`
	TotalEvents     int64   `json:"totalEvents"`
	PeakRate        int64   `json:"peakRate"`
	BurstFactor     float64 `json:"burstFactor"`
	DurationMinutes int64   `json:"durationMinutes"`
}

// BurstResult holds the baseline, detected bursts and the full sparkline.
type BurstResult struct {
	Baseline float64       `json:"baseline"`
	Bursts   []BurstPeriod `json:"bursts"`
	Windows  []BurstWindow `json:"windows"`
	Error    string        `json:"error,omitempty"`
}

// CoverageRequest groups rows by a source column.
type CoverageRequest struct {
	QueryRequest
	SourceColumn    string `json:"sourceColumn"`
	TimestampColumn string `json:"timestampColumn"`
}

// SourceCoverage is the time span and volume of one source.
type SourceCoverage struct {
	Source   string `json:"source"`
	Count    int64  `json:"count"`
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// CoverageResult lists every source plus the global span.
type CoverageResult struct {
	Sources        []SourceCoverage `json:"sources"`
	GlobalEarliest string           `json:"globalEarliest"`
	GlobalLatest   string           `json:"globalLatest"`
	Error          string           `json:"error,omitempty"`
}

// StackRequest asks for the value distribution of one column.
type StackRequest struct {
	QueryRequest
	Column string `json:"column"`
}

// StackEntry is one distinct value.
type StackEntry struct {
	Value   string  `json:"value"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// StackResult is the full distribution, most frequent first.
type StackResult struct {
	Entries   []StackEntry `json:"entries"`
	Total     int64        `json:"total"`
	Truncated bool         `json:"truncated"`
	Error     string       `json:"error,omitempty"`
}

// IOCRequest lists indicator patterns (regular expressions) to look for.
// Columns restricts the scan; empty means every column.
type IOCRequest struct {
	QueryRequest
	Indicators []string `json:"indicators"`
	Columns    []string `json:"columns,omitempty"`
}

// IOCHit is the per-indicator hit count.
type IOCHit struct {
	Indicator string  `json:"indicator"`
	Count     int64   `json:"count"`
	RowKeys   []int64 `json:"rowKeys"`
}

// IOCResult lists indicators with at least one hit, most hits first.
type IOCResult struct {
	Hits              []IOCHit `json:"hits"`
	MatchedRows       int64    `json:"matchedRows"`
	InvalidIndicators []string `json:"invalidIndicators,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// HighlightRule is a declarative row colouring rule. Rules are stored per
// session but never applied as filters.
type HighlightRule struct {
	ID         string `json:"id"`
	Column     string `json:"column"`
	Condition  string `json:"condition"`
	Value      string `json:"value"`
	Foreground string `json:"foreground,omitempty"`
	Background string `json:"background,omitempty"`
	Order      int    `json:"order"`
}

// SessionState is the view state a host saves and later re-applies to a
// freshly ingested session.
type SessionState struct {
	// FileHash fingerprints the file the annotations were made on.
	FileHash           string               `json:"fileHash,omitempty"`
	ColumnFilters      map[string]string    `json:"columnFilters,omitempty"`
	CheckboxFilters    map[string][]string  `json:"checkboxFilters,omitempty"`
	HighlightRules     []HighlightRule      `json:"highlightRules,omitempty"`
	HiddenColumns      []string             `json:"hiddenColumns,omitempty"`
	PinnedColumns      []string             `json:"pinnedColumns,omitempty"`
	ColumnOrder        []string             `json:"columnOrder,omitempty"`
	SortColumn         string               `json:"sortColumn,omitempty"`
	SortDirection      string               `json:"sortDirection,omitempty"`
	SearchTerm         string               `json:"searchTerm,omitempty"`
	SearchMode         string               `json:"searchMode,omitempty"`
	SearchCondition    string               `json:"searchCondition,omitempty"`
	GroupByColumns     []string             `json:"groupByColumns,omitempty"`
	ShowBookmarkedOnly bool                 `json:"showBookmarkedOnly,omitempty"`
	DateRangeFilters   map[string]DateRange `json:"dateRangeFilters,omitempty"`
	AdvancedFilters    []AdvancedFilter     `json:"advancedFilters,omitempty"`
	BookmarkedRowKeys  []int64              `json:"bookmarkedRowKeys,omitempty"`
	TagsByRowKey       map[int64][]string   `json:"tagsByRowKey,omitempty"`
}

// QueryRequest returns the filter and sort part of the state as a request.
func (s SessionState) QueryRequest() QueryRequest {
	return QueryRequest{
		SortColumn:       s.SortColumn,
		SortDirection:    s.SortDirection,
		SearchTerm:       s.SearchTerm,
		SearchMode:       s.SearchMode,
		SearchCondition:  s.SearchCondition,
		ColumnFilters:    s.ColumnFilters,
		CheckboxFilters:  s.CheckboxFilters,
		BookmarkedOnly:   s.ShowBookmarkedOnly,
		DateRangeFilters: s.DateRangeFilters,
		AdvancedFilters:  s.AdvancedFilters,
	}
}

// Search index states
const (
	IndexNotBuilt = "not_built"
	IndexBuilding = "building"
	IndexReady    = "ready"
	IndexAborted  = "aborted"
)

// ProgressEvent reports search index build progress.
type ProgressEvent struct {
	State   string `json:"state"`
	Indexed int64  `json:"indexed"`
	Total   int64  `json:"total"`
	Done    bool   `json:"done"`
}

// TabInfo contains metadata about an open session
type TabInfo struct {
	ID               string   `json:"id"`
	FileName         string   `json:"fileName"`
	FilePath         string   `json:"filePath"`
	FileHash         string   `json:"fileHash"`
	Headers          []string `json:"headers,omitempty"`
	RowCount         int64    `json:"rowCount"`
	TimestampColumns []string `json:"timestampColumns,omitempty"`
	NumericColumns   []string `json:"numericColumns,omitempty"`
	SearchIndex      string   `json:"searchIndex"`
}
