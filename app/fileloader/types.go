// Package fileloader turns supported inputs (delimited text, spreadsheets,
// Windows event logs, plaso timelines and plugin output) into a stream of
// string rows written to a Sink in batches. No reader holds a whole input in
// memory.
package fileloader

import (
	"context"
	"errors"
	"time"

	"casefile/app/plugin"
	"casefile/app/settings"
	"casefile/app/timestamps"
)

var (
	// ErrSheetNotFound is returned when the requested spreadsheet sheet is absent.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrUnsupportedFormat is returned for inputs no reader can handle.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrInvalidPlasoStore is returned when a timeline store has an unknown
	// format version or compression marker.
	ErrInvalidPlasoStore = errors.New("not a supported plaso storage file")
	// ErrEmptyInput is returned when an input has no header or rows at all.
	ErrEmptyInput = errors.New("input is empty")
)

// FileType represents the type of data file being processed
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeDelimited
	FileTypeXLSX
	FileTypeEVTX
	FileTypePlaso
	FileTypePlugin
)

// String returns the string representation of FileType
func (ft FileType) String() string {
	switch ft {
	case FileTypeDelimited:
		return "Delimited"
	case FileTypeXLSX:
		return "XLSX"
	case FileTypeEVTX:
		return "EVTX"
	case FileTypePlaso:
		return "Plaso"
	case FileTypePlugin:
		return "Plugin"
	default:
		return "Unknown"
	}
}

// Logger interface for loader logging
type Logger interface {
	Log(level, message string)
}

type nopLogger struct{}

func (nopLogger) Log(string, string) {}

// Sink receives the header set once and then row batches in header order.
// Batches are reused after InsertBatch returns.
type Sink interface {
	CreateSchema(ctx context.Context, headers []string) error
	InsertBatch(ctx context.Context, batch [][]string) error
}

// Options tunes the readers.
type Options struct {
	BatchSize          int
	ReadChunkBytes     int
	SchemaSampleEvents int
	PayloadSampleRows  int
	Location           *time.Location
	ProgressEvery      time.Duration
	Plugins            *plugin.Registry
	Logger             Logger
}

// OptionsFromSettings maps engine settings onto reader options.
func OptionsFromSettings(s settings.Settings, plugins *plugin.Registry, logger Logger) Options {
	return Options{
		BatchSize:          s.BatchSize,
		ReadChunkBytes:     s.ReadChunkBytes,
		SchemaSampleEvents: s.SchemaSampleEvents,
		PayloadSampleRows:  s.PayloadSampleRows,
		Location:           timestamps.GetLocationForTZ(s.DefaultIngestTimezone),
		ProgressEvery:      s.ProgressLogInterval(),
		Plugins:            plugins,
		Logger:             logger,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10000
	}
	if o.ReadChunkBytes <= 0 {
		o.ReadChunkBytes = 4 << 20
	}
	if o.SchemaSampleEvents <= 0 {
		o.SchemaSampleEvents = 500
	}
	if o.PayloadSampleRows <= 0 {
		o.PayloadSampleRows = 250
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	return o
}

// Result describes one completed read.
type Result struct {
	Headers     []string
	Rows        int64
	Format      FileType
	Compression CompressionType
	// Skipped counts input records that could not be decoded.
	Skipped int
}
