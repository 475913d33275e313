package fileloader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"casefile/app/interfaces"
	"casefile/app/timestamps"
)

// spreadsheetDateLayouts are the renderings excelize produces for the
// built-in date number formats plus common explicit ones.
var spreadsheetDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"1/2/06 15:04",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"01-02-06",
	"1/2/06",
	"1/2/2006",
	"2-Jan-06",
	"02-Jan-2006",
}

// ListSheets returns the sheet names of a workbook in order.
func ListSheets(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// resolveSheet selects a sheet by name (case-insensitive) or 1-based index.
// Empty selects the first sheet.
func resolveSheet(sheets []string, want string) (string, error) {
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", ErrSheetNotFound)
	}
	want = strings.TrimSpace(want)
	if want == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if strings.EqualFold(s, want) {
			return s, nil
		}
	}
	if n, err := strconv.Atoi(want); err == nil {
		if n >= 1 && n <= len(sheets) {
			return sheets[n-1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrSheetNotFound, want)
}

// normalizeCell rewrites date-looking cells to ISO 8601.
func normalizeCell(v string, loc *time.Location) string {
	if len(v) < 6 || !strings.ContainsAny(v, "/-") {
		return v
	}
	if t, ok := timestamps.ParseLayouts(v, spreadsheetDateLayouts, loc); ok {
		return timestamps.FormatISO(t)
	}
	return v
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadXLSX streams one sheet of a workbook into sink. Rows are read through
// the workbook's row cursor; formula cells yield their cached result.
func ReadXLSX(ctx context.Context, filePath string, fo interfaces.FileOptions, sink Sink, o Options) (Result, error) {
	o = o.withDefaults()
	loc := o.Location
	if fo.IngestTimezoneOverride != "" {
		loc = timestamps.GetLocationForTZ(fo.IngestTimezoneOverride)
	}

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet, err := resolveSheet(f.GetSheetList(), fo.Sheet)
	if err != nil {
		return Result{}, err
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var headers []string
	var b *batcher
	cells := make([]string, 0, 64)
	for rows.Next() {
		row, err := rows.Columns()
		if err != nil {
			return Result{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if emptyRow(row) {
			continue
		}
		if headers == nil {
			if fo.NoHeaderRow {
				headers = SyntheticHeaders(len(row))
			} else {
				headers = PrepareHeaders(row)
			}
			if err := sink.CreateSchema(ctx, headers); err != nil {
				return Result{}, err
			}
			b = newBatcher(ctx, sink, len(headers), o, "xlsx")
			if !fo.NoHeaderRow {
				continue
			}
		}
		cells = cells[:0]
		for _, c := range row {
			cells = append(cells, normalizeCell(c, loc))
		}
		if err := b.add(cells); err != nil {
			return Result{}, err
		}
	}
	if err := rows.Error(); err != nil {
		return Result{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if headers == nil {
		return Result{}, ErrEmptyInput
	}
	if err := b.flush(); err != nil {
		return Result{}, err
	}
	return Result{Headers: headers, Rows: b.total, Format: FileTypeXLSX}, nil
}
