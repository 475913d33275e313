package settings

import "errors"

// ErrInvalidConfig is returned by Validate when a setting is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// PluginConfig represents a single external converter registration
type PluginConfig struct {
	ID          string   `yaml:"id" json:"id"`                   // Unique plugin identifier (UUID from plugin.yml)
	Name        string   `yaml:"name" json:"name"`               // Display name
	Enabled     bool     `yaml:"enabled" json:"enabled"`         // Enable/disable toggle
	Path        string   `yaml:"path" json:"path"`               // Absolute path to plugin directory or executable
	Extensions  []string `yaml:"extensions" json:"extensions"`   // Cached from plugin.yml
	Description string   `yaml:"description" json:"description"` // Cached from plugin.yml
}

// Settings holds the engine configuration. Every field has a documented
// default in defaultSettings; a YAML file only needs to name the fields it
// overrides.
type Settings struct {
	// Directory that receives the per-session store files. Empty means os.TempDir().
	TempDir string `yaml:"temp_dir" json:"temp_dir"`
	// Rows per bulk loader batch. Each batch is committed in its own transaction.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Bound parameter limit of the storage engine, used to size multi-row inserts
	MaxBoundParams int `yaml:"max_bound_params" json:"max_bound_params"`
	// Upper bound on rows per multi-row insert statement
	MaxRowsPerInsert int `yaml:"max_rows_per_insert" json:"max_rows_per_insert"`
	// Chunk size used by the delimited reader
	ReadChunkBytes int `yaml:"read_chunk_bytes" json:"read_chunk_bytes"`
	// Events buffered by the event log reader before its header set is fixed
	SchemaSampleEvents int `yaml:"schema_sample_events" json:"schema_sample_events"`
	// Rows sampled from the start and the middle of a timeline payload table
	PayloadSampleRows int `yaml:"payload_sample_rows" json:"payload_sample_rows"`
	// Rows sampled per column when classifying numeric columns
	NumericSampleRows int `yaml:"numeric_sample_rows" json:"numeric_sample_rows"`
	// Fraction of non-blank sampled values that must parse as numbers
	NumericThreshold float64 `yaml:"numeric_threshold" json:"numeric_threshold"`
	// Rows per chunk of the background search index build
	SearchIndexChunkRows int `yaml:"search_index_chunk_rows" json:"search_index_chunk_rows"`
	// Start the search index build in the background once an import finishes
	AsyncSearchIndex bool `yaml:"async_search_index" json:"async_search_index"`
	// Number of memoized filtered counts kept per session
	CountCacheEntries int `yaml:"count_cache_entries" json:"count_cache_entries"`
	// Maximum number of distinct values returned by value stacking
	StackMaxValues int `yaml:"stack_max_values" json:"stack_max_values"`
	// Maximum indicators joined into one alternation pattern
	IOCBatchPatterns int `yaml:"ioc_batch_patterns" json:"ioc_batch_patterns"`
	// Maximum length of one alternation pattern
	IOCMaxPatternBytes int `yaml:"ioc_max_pattern_bytes" json:"ioc_max_pattern_bytes"`
	// Rows per insert batch when merging sessions
	MergeBatchSize int `yaml:"merge_batch_size" json:"merge_batch_size"`
	// Maximum number of files when importing a directory
	MaxDirectoryFiles int `yaml:"max_directory_files" json:"max_directory_files"`
	// Timezone assumed for spreadsheet dates. "Local", "UTC" or any IANA name.
	DefaultIngestTimezone string `yaml:"default_ingest_timezone" json:"default_ingest_timezone"`
	// Minimum interval between ingestion progress log lines, in milliseconds
	ProgressLogIntervalMs int `yaml:"progress_log_interval_ms" json:"progress_log_interval_ms"`
	// One of debug, info, warn, error
	LogLevel string `yaml:"log_level" json:"log_level"`
	// text or json
	LogFormat string `yaml:"log_format" json:"log_format"`
	// External converter registrations
	Plugins []PluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// defaultSettings defines the built-in defaults.
var defaultSettings = Settings{
	BatchSize:             10000,
	MaxBoundParams:        32766,
	MaxRowsPerInsert:      500,
	ReadChunkBytes:        4 << 20,
	SchemaSampleEvents:    500,
	PayloadSampleRows:     250,
	NumericSampleRows:     100,
	NumericThreshold:      0.8,
	SearchIndexChunkRows:  100000,
	AsyncSearchIndex:      true,
	CountCacheEntries:     256,
	StackMaxValues:        10000,
	IOCBatchPatterns:      50,
	IOCMaxPatternBytes:    8192,
	MergeBatchSize:        5000,
	MaxDirectoryFiles:     500,
	DefaultIngestTimezone: "UTC",
	ProgressLogIntervalMs: 2000,
	LogLevel:              "info",
	LogFormat:             "text",
}

// Default returns a copy of the built-in defaults.
func Default() Settings {
	s := defaultSettings
	s.Plugins = []PluginConfig{}
	return s
}
