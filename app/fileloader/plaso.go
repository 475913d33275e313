package fileloader

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"casefile/app/timestamps"
)

// minPlasoFormatVersion is the oldest storage format with event_data tables.
const minPlasoFormatVersion = 20170707

// plasoDialect names the column layout of the event table.
type plasoDialect int

const (
	// plasoModern stores the timestamp, description and event data
	// reference as columns.
	plasoModern plasoDialect = iota
	// plasoLegacy stores _timestamp as a column and everything else inside
	// the serialised _data payload.
	plasoLegacy
)

// plasoRefEncoding names how an event refers to its event data row.
type plasoRefEncoding int

const (
	plasoRefInteger plasoRefEncoding = iota
	// plasoRefText is a "event_data.N" reference.
	plasoRefText
)

type plasoStore struct {
	db          *sql.DB
	compressed  bool
	dialect     plasoDialect
	refEncoding plasoRefEncoding
	hasDesc     bool
	decodeFails int
}

// openPlaso opens a plaso storage file read-only and validates its metadata.
func openPlaso(ctx context.Context, filePath string) (*plasoStore, error) {
	db, err := sql.Open("sqlite", "file:"+filePath+"?mode=ro")
	if err != nil {
		return nil, err
	}
	// one connection streams events, the other resolves event data
	db.SetMaxOpenConns(2)

	ps := &plasoStore{db: db}
	if err := ps.validate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ps.detectDialect(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *plasoStore) Close() error {
	return ps.db.Close()
}

func (ps *plasoStore) validate(ctx context.Context) error {
	rows, err := ps.db.QueryContext(ctx, "SELECT key, value FROM metadata")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlasoStore, err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPlasoStore, err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlasoStore, err)
	}

	version, err := strconv.Atoi(meta["format_version"])
	if err != nil || version < minPlasoFormatVersion {
		return fmt.Errorf("%w: format version %q", ErrInvalidPlasoStore, meta["format_version"])
	}
	switch meta["compression_format"] {
	case "zlib":
		ps.compressed = true
	case "none", "":
	default:
		return fmt.Errorf("%w: compression format %q", ErrInvalidPlasoStore, meta["compression_format"])
	}
	return nil
}

func (ps *plasoStore) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := ps.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// detectDialect resolves the dialect from the event table's columns and the
// reference encoding from one sample event.
func (ps *plasoStore) detectDialect(ctx context.Context) error {
	cols, err := ps.columns(ctx, "event")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlasoStore, err)
	}
	switch {
	case cols["_event_data_identifier"] && cols["timestamp"]:
		ps.dialect = plasoModern
		ps.hasDesc = cols["timestamp_desc"]
	case cols["_timestamp"] && cols["_data"]:
		ps.dialect = plasoLegacy
	default:
		return fmt.Errorf("%w: unrecognised event table layout", ErrInvalidPlasoStore)
	}
	dataCols, err := ps.columns(ctx, "event_data")
	if err != nil || !dataCols["_data"] {
		return fmt.Errorf("%w: event_data table missing", ErrInvalidPlasoStore)
	}

	var ref any
	switch ps.dialect {
	case plasoModern:
		err = ps.db.QueryRowContext(ctx, "SELECT _event_data_identifier FROM event LIMIT 1").Scan(&ref)
	case plasoLegacy:
		var blob []byte
		err = ps.db.QueryRowContext(ctx, "SELECT _data FROM event LIMIT 1").Scan(&blob)
		if err == nil {
			rec := ps.decode(blob)
			if v, ok := rec["_event_data_row_identifier"]; ok {
				ref = v
			} else {
				ref = rec["_event_data_identifier"]
			}
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlasoStore, err)
	}
	if s, ok := ref.(string); ok && strings.Contains(s, ".") {
		ps.refEncoding = plasoRefText
	}
	return nil
}

// decode inflates and parses a serialised container. Undecodable payloads
// yield an empty record.
func (ps *plasoStore) decode(blob []byte) map[string]any {
	data := blob
	if ps.compressed {
		zr, err := zlib.NewReader(bytes.NewReader(blob))
		if err == nil {
			data, err = io.ReadAll(zr)
			zr.Close()
		}
		if err != nil {
			ps.decodeFails++
			return map[string]any{}
		}
	}
	v, err := oj.Parse(data)
	if err != nil {
		ps.decodeFails++
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		ps.decodeFails++
		return map[string]any{}
	}
	return m
}

// refID turns an event data reference into a row id using the encoding
// found by detectDialect.
func (ps *plasoStore) refID(v any) (int64, bool) {
	switch r := v.(type) {
	case int64:
		return r, ps.refEncoding == plasoRefInteger
	case float64:
		return int64(r), ps.refEncoding == plasoRefInteger
	case []byte:
		return ps.refID(string(r))
	case string:
		if ps.refEncoding == plasoRefText {
			i := strings.LastIndexByte(r, '.')
			if i < 0 {
				return 0, false
			}
			r = r[i+1:]
		}
		n, err := strconv.ParseInt(r, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// payloadKeys samples event data from the start and the middle of the
// table and returns the sorted union of public attribute names.
func (ps *plasoStore) payloadKeys(ctx context.Context, sample int) ([]string, error) {
	var total int64
	if err := ps.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_data").Scan(&total); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	for _, offset := range []int64{0, total / 2} {
		rows, err := ps.db.QueryContext(ctx, "SELECT _data FROM event_data LIMIT ? OFFSET ?", sample, offset)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var blob []byte
			if err := rows.Scan(&blob); err != nil {
				rows.Close()
				return nil, err
			}
			for k := range ps.decode(blob) {
				if strings.HasPrefix(k, "_") || k == "datetime" || k == "timestamp_desc" {
					continue
				}
				keys[k] = struct{}{}
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (ps *plasoStore) eventQuery() string {
	switch {
	case ps.dialect == plasoLegacy:
		return "SELECT _timestamp, _data FROM event ORDER BY _timestamp, rowid"
	case ps.hasDesc:
		return "SELECT timestamp, timestamp_desc, _event_data_identifier FROM event ORDER BY timestamp, rowid"
	default:
		return "SELECT timestamp, NULL, _event_data_identifier FROM event ORDER BY timestamp, rowid"
	}
}

// ReadPlaso streams a plaso storage file into sink, one row per event in
// timestamp order.
func ReadPlaso(ctx context.Context, filePath string, sink Sink, o Options) (Result, error) {
	o = o.withDefaults()
	ps, err := openPlaso(ctx, filePath)
	if err != nil {
		return Result{}, err
	}
	defer ps.Close()

	keys, err := ps.payloadKeys(ctx, o.PayloadSampleRows)
	if err != nil {
		return Result{}, fmt.Errorf("failed to sample event data: %w", err)
	}
	headers := append([]string{"datetime", "timestamp_desc"}, keys...)
	if err := sink.CreateSchema(ctx, headers); err != nil {
		return Result{}, err
	}

	lookup, err := ps.db.PrepareContext(ctx, "SELECT _data FROM event_data WHERE rowid = ?")
	if err != nil {
		return Result{}, err
	}
	defer lookup.Close()

	rows, err := ps.db.QueryContext(ctx, ps.eventQuery())
	if err != nil {
		return Result{}, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	b := newBatcher(ctx, sink, len(headers), o, "plaso")
	row := make([]string, len(headers))
	for rows.Next() {
		var ts sql.NullInt64
		var desc sql.NullString
		var ref any
		switch ps.dialect {
		case plasoLegacy:
			var blob []byte
			if err := rows.Scan(&ts, &blob); err != nil {
				return Result{}, err
			}
			ev := ps.decode(blob)
			if s, ok := ev["timestamp_desc"].(string); ok {
				desc = sql.NullString{String: s, Valid: true}
			}
			if v, ok := ev["_event_data_row_identifier"]; ok {
				ref = v
			} else {
				ref = ev["_event_data_identifier"]
			}
		default:
			if err := rows.Scan(&ts, &desc, &ref); err != nil {
				return Result{}, err
			}
		}

		clear(row)
		if ts.Valid {
			row[0] = timestamps.FromMicros(ts.Int64)
		}
		row[1] = desc.String
		if id, ok := ps.refID(ref); ok {
			var blob []byte
			err := lookup.QueryRowContext(ctx, id).Scan(&blob)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return Result{}, fmt.Errorf("failed to read event data %d: %w", id, err)
			}
			if err == nil {
				data := ps.decode(blob)
				for i, k := range keys {
					if v, ok := data[k]; ok {
						row[2+i] = valueToString(v)
					}
				}
			}
		}
		if err := b.add(row); err != nil {
			return Result{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to read events: %w", err)
	}
	if err := b.flush(); err != nil {
		return Result{}, err
	}
	if ps.decodeFails > 0 {
		o.Logger.Log("warn", fmt.Sprintf("[IMPORT] %d plaso payloads could not be decoded and were left empty", ps.decodeFails))
	}
	return Result{Headers: headers, Rows: b.total, Format: FileTypePlaso, Skipped: ps.decodeFails}, nil
}

// valueToString converts a decoded value to cell text. Objects and arrays
// are serialised back to JSON.
func valueToString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		b, err := oj.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
