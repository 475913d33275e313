package fileloader

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plasoFixture struct {
	version     string
	compression string
	legacy      bool
	textRefs    bool
	payloads    []string
	// events are (micros, desc, event data row) triples
	events [][3]any
}

func (pf plasoFixture) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline.plaso")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	exec := func(q string, args ...any) {
		_, err := db.Exec(q, args...)
		require.NoError(t, err, q)
	}
	exec("CREATE TABLE metadata (key TEXT, value TEXT)")
	exec("INSERT INTO metadata VALUES ('format_version', ?), ('compression_format', ?)", pf.version, pf.compression)
	exec("CREATE TABLE event_data (_identifier INTEGER PRIMARY KEY AUTOINCREMENT, _data BLOB)")
	for _, p := range pf.payloads {
		exec("INSERT INTO event_data (_data) VALUES (?)", pf.encode(t, p))
	}

	if pf.legacy {
		exec("CREATE TABLE event (_identifier INTEGER PRIMARY KEY AUTOINCREMENT, _timestamp BIGINT, _data BLOB)")
		for _, ev := range pf.events {
			ref := `"_event_data_row_identifier": ` + strconv.Itoa(ev[2].(int))
			if pf.textRefs {
				ref = `"_event_data_identifier": "event_data.` + strconv.Itoa(ev[2].(int)) + `"`
			}
			body := `{"__container_type__": "event", "timestamp_desc": "` + ev[1].(string) + `", ` + ref + `}`
			exec("INSERT INTO event (_timestamp, _data) VALUES (?, ?)", ev[0], pf.encode(t, body))
		}
		return path
	}

	exec("CREATE TABLE event (_identifier INTEGER PRIMARY KEY AUTOINCREMENT, timestamp BIGINT, timestamp_desc TEXT, _event_data_identifier TEXT)")
	for _, ev := range pf.events {
		var ref any = ev[2].(int)
		if pf.textRefs {
			ref = "event_data." + strconv.Itoa(ev[2].(int))
		}
		exec("INSERT INTO event (timestamp, timestamp_desc, _event_data_identifier) VALUES (?, ?, ?)", ev[0], ev[1], ref)
	}
	return path
}

func (pf plasoFixture) encode(t *testing.T, s string) []byte {
	if pf.compression != "zlib" {
		return []byte(s)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

var plasoPayloads = []string{
	`{"__container_type__": "event_data", "_parser_chain": "x", "data_type": "fs:stat", "filename": "/etc/passwd", "inode": 42}`,
	`{"data_type": "windows:evtx:record", "event_identifier": 4624, "strings": ["a", "b"]}`,
	`{"data_type": "fs:stat", "filename": "/tmp/x", "late_field": true}`,
	`{"data_type": "fs:stat", "filename": "/tmp/y"}`,
}

func TestReadPlaso_Dialects(t *testing.T) {
	events := [][3]any{
		{int64(1710498600000000), "Last Written Time", 2},
		{int64(1710498500123456), "Creation Time", 1},
		{int64(1710498700000000), "Content Modification Time", 3},
	}
	tests := []struct {
		name    string
		fixture plasoFixture
	}{
		{"modern integer refs zlib", plasoFixture{version: "20230226", compression: "zlib", payloads: plasoPayloads, events: events}},
		{"modern text refs", plasoFixture{version: "20230226", compression: "none", textRefs: true, payloads: plasoPayloads, events: events}},
		{"legacy integer refs", plasoFixture{version: "20190309", compression: "zlib", legacy: true, payloads: plasoPayloads, events: events}},
		{"legacy text refs", plasoFixture{version: "20170707", compression: "none", legacy: true, textRefs: true, payloads: plasoPayloads, events: events}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memSink{}
			res, err := ReadPlaso(context.Background(), tt.fixture.write(t), sink, Options{PayloadSampleRows: 1})
			require.NoError(t, err)

			assert.Equal(t, []string{"datetime", "timestamp_desc", "data_type", "filename", "inode", "late_field"}, res.Headers)
			assert.EqualValues(t, 3, res.Rows)
			assert.Equal(t, []string{
				"2024-03-15T10:28:20.123456Z",
				"2024-03-15T10:30:00.000000Z",
				"2024-03-15T10:31:40.000000Z",
			}, sink.column("datetime"))
			assert.Equal(t, []string{"Creation Time", "Last Written Time", "Content Modification Time"}, sink.column("timestamp_desc"))
			assert.Equal(t, []string{"/etc/passwd", "", "/tmp/x"}, sink.column("filename"))
			assert.Equal(t, []string{"42", "", ""}, sink.column("inode"))
			assert.Equal(t, []string{"", "", "true"}, sink.column("late_field"))
		})
	}
}

func TestReadPlaso_FullSampleSerialisesNestedValues(t *testing.T) {
	fx := plasoFixture{version: "20230226", compression: "none", payloads: plasoPayloads,
		events: [][3]any{{int64(0), "Creation Time", 2}}}
	sink := &memSink{}
	_, err := ReadPlaso(context.Background(), fx.write(t), sink, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{`["a","b"]`}, sink.column("strings"))
	assert.Equal(t, []string{"4624"}, sink.column("event_identifier"))
}

func TestReadPlaso_CorruptPayloadIsEmpty(t *testing.T) {
	fx := plasoFixture{version: "20230226", compression: "zlib",
		payloads: []string{`{"filename": "/a"}`},
		events:   [][3]any{{int64(0), "Creation Time", 1}, {int64(1), "Creation Time", 2}}}
	path := fx.write(t)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO event_data (_data) VALUES (?)", []byte("not zlib"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	sink := &memSink{}
	res, err := ReadPlaso(context.Background(), path, sink, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Rows)
	assert.Equal(t, []string{"/a", ""}, sink.column("filename"))
	assert.Positive(t, res.Skipped)
}

func TestReadPlaso_RejectsUnknownStores(t *testing.T) {
	tests := []plasoFixture{
		{version: "20160101", compression: "zlib"},
		{version: "garbage", compression: "zlib"},
		{version: "20230226", compression: "lz4"},
	}
	for _, fx := range tests {
		_, err := ReadPlaso(context.Background(), fx.write(t), &memSink{}, Options{})
		assert.ErrorIs(t, err, ErrInvalidPlasoStore, "%+v", fx)
	}
}
