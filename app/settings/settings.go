package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"casefile/app/timestamps"

	"gopkg.in/yaml.v3"
)

// Load returns the defaults overlaid with the overrides found in path.
// A missing file yields the defaults. The result is validated.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := overlay(&s, b); err != nil {
		return Default(), err
	}
	if err := s.Validate(); err != nil {
		return Default(), err
	}
	return s, nil
}

// overlay decodes the YAML document onto s. Fields absent from the document
// keep their current value.
func overlay(s *Settings, b []byte) error {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}
	if len(m) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return fmt.Errorf("failed to decode settings file: %w", err)
	}
	return nil
}

// Save writes s to path as YAML, creating parent directories as needed.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	out, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// Validate rejects out-of-range values.
func (s Settings) Validate() error {
	positive := map[string]int{
		"batch_size":              s.BatchSize,
		"max_bound_params":        s.MaxBoundParams,
		"max_rows_per_insert":     s.MaxRowsPerInsert,
		"read_chunk_bytes":        s.ReadChunkBytes,
		"schema_sample_events":    s.SchemaSampleEvents,
		"payload_sample_rows":     s.PayloadSampleRows,
		"numeric_sample_rows":     s.NumericSampleRows,
		"search_index_chunk_rows": s.SearchIndexChunkRows,
		"count_cache_entries":     s.CountCacheEntries,
		"stack_max_values":        s.StackMaxValues,
		"ioc_batch_patterns":      s.IOCBatchPatterns,
		"ioc_max_pattern_bytes":   s.IOCMaxPatternBytes,
		"merge_batch_size":        s.MergeBatchSize,
		"max_directory_files":     s.MaxDirectoryFiles,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v)
		}
	}
	if s.NumericThreshold <= 0 || s.NumericThreshold > 1 {
		return fmt.Errorf("%w: numeric_threshold must be in (0,1], got %v", ErrInvalidConfig, s.NumericThreshold)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, s.LogLevel)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, s.LogFormat)
	}
	if _, err := s.IngestLocation(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// IngestLocation resolves DefaultIngestTimezone.
func (s Settings) IngestLocation() (*time.Location, error) {
	return timestamps.ResolveTimezone(s.DefaultIngestTimezone)
}

// StoreDir returns the directory used for session store files.
func (s Settings) StoreDir() string {
	if s.TempDir != "" {
		return s.TempDir
	}
	return os.TempDir()
}

// ProgressLogInterval returns the progress log throttle as a duration.
func (s Settings) ProgressLogInterval() time.Duration {
	return time.Duration(s.ProgressLogIntervalMs) * time.Millisecond
}
