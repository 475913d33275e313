package evtx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkWriter assembles one chunk. Offsets are chunk relative, so names
// and templates are written inline at the position that references them.
type chunkWriter struct {
	buf bytes.Buffer
}

func newChunkWriter() *chunkWriter {
	w := &chunkWriter{}
	w.buf.Write(make([]byte, chunkHeaderSize))
	copy(w.buf.Bytes(), chunkMagic)
	return w
}

func (w *chunkWriter) pos() int { return w.buf.Len() }
func (w *chunkWriter) u8(v byte) { w.buf.WriteByte(v) }
func (w *chunkWriter) u16(v uint16) {
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}
func (w *chunkWriter) u32(v uint32) {
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}
func (w *chunkWriter) u64(v uint64) {
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}

func utf16le(s string) []byte {
	var b bytes.Buffer
	for _, u := range utf16.Encode([]rune(s)) {
		_ = binary.Write(&b, binary.LittleEndian, u)
	}
	return b.Bytes()
}

func (w *chunkWriter) inlineName(s string) {
	w.u32(uint32(w.pos() + 4))
	w.u32(0)
	w.u16(0)
	w.u16(uint16(len([]rune(s))))
	w.buf.Write(utf16le(s))
	w.u16(0)
}

// open writes an element start. attrs is called to write attributes.
func (w *chunkWriter) open(name string, attrs ...func()) {
	tok := byte(tokOpenStartElement)
	if len(attrs) > 0 {
		tok |= tokMoreFlag
	}
	w.u8(tok)
	w.u16(0xffff)
	w.u32(0)
	w.inlineName(name)
	if len(attrs) > 0 {
		w.u32(0)
		for i, a := range attrs {
			t := byte(tokAttribute)
			if i < len(attrs)-1 {
				t |= tokMoreFlag
			}
			w.u8(t)
			a()
		}
	}
}

func (w *chunkWriter) attrSub(name string, id uint16, typ byte) func() {
	return func() {
		w.inlineName(name)
		w.sub(id, typ)
	}
}

func (w *chunkWriter) attrText(name, text string) func() {
	return func() {
		w.inlineName(name)
		w.text(text)
	}
}

func (w *chunkWriter) sub(id uint16, typ byte) {
	w.u8(tokNormalSubst)
	w.u16(id)
	w.u8(typ)
}

func (w *chunkWriter) text(s string) {
	w.u8(tokValue)
	w.u8(typeString)
	w.u16(uint16(len([]rune(s))))
	w.buf.Write(utf16le(s))
}

func (w *chunkWriter) startContent() { w.u8(tokCloseStartElem) }
func (w *chunkWriter) closeEmpty()   { w.u8(tokCloseEmptyElem) }
func (w *chunkWriter) end()          { w.u8(tokCloseElement) }

// subElem writes <name>{sub}</name>.
func (w *chunkWriter) subElem(name string, id uint16, typ byte) {
	w.open(name)
	w.startContent()
	w.sub(id, typ)
	w.end()
}

func (w *chunkWriter) dataElem(name string, id uint16, typ byte) {
	w.open("Data", w.attrText("Name", name))
	w.startContent()
	w.sub(id, typ)
	w.end()
}

// logonTemplate writes a security logon style event definition.
func (w *chunkWriter) logonTemplate() {
	w.u8(tokFragmentHeader)
	w.u8(1)
	w.u8(1)
	w.u8(0)
	w.open("Event", w.attrText("xmlns", "http://schemas.microsoft.com/win/2004/08/events/event"))
	w.startContent()
	w.open("System")
	w.startContent()
	w.open("Provider", w.attrSub("Name", 0, typeString))
	w.closeEmpty()
	w.subElem("EventID", 1, typeUint16)
	w.subElem("Level", 2, typeUint8)
	w.open("TimeCreated", w.attrSub("SystemTime", 3, typeFileTime))
	w.closeEmpty()
	w.subElem("EventRecordID", 4, typeUint64)
	w.subElem("Channel", 5, typeString)
	w.subElem("Computer", 6, typeString)
	w.open("Security", w.attrSub("UserID", 9, typeSID))
	w.closeEmpty()
	w.end()
	w.open("EventData")
	w.startContent()
	w.dataElem("TargetUserName", 7, typeString)
	w.dataElem("LogonType", 8, typeUint32)
	w.end()
	w.end()
	w.u8(tokEOF)
}

type subValue struct {
	typ  byte
	data []byte
}

func str(s string) subValue { return subValue{typeString, utf16le(s)} }
func u16v(v uint16) subValue {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return subValue{typeUint16, b}
}
func u8v(v byte) subValue { return subValue{typeUint8, []byte{v}} }
func u32v(v uint32) subValue {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return subValue{typeUint32, b}
}
func u64v(typ byte, v uint64) subValue {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return subValue{typ, b}
}

// 2024-03-15T10:30:00Z
const testFileTime = uint64(133549722000000000)

var testSID = subValue{typeSID, []byte{1, 1, 0, 0, 0, 0, 0, 5, 18, 0, 0, 0}}

// record appends one record. defOff < 0 writes the template inline.
func (w *chunkWriter) record(id uint64, defOff int, values []subValue) int {
	start := w.pos()
	w.buf.WriteString(recordMagic)
	w.u32(0) // size, patched below
	w.u64(id)
	w.u64(testFileTime)

	w.u8(tokFragmentHeader)
	w.u8(1)
	w.u8(1)
	w.u8(0)
	w.u8(tokTemplateInstance)
	w.u8(1)
	w.u32(1)
	if defOff < 0 {
		defOff = w.pos() + 4
		w.u32(uint32(defOff))
		w.u32(0)
		w.buf.Write(make([]byte, 16))
		sizeAt := w.pos()
		w.u32(0)
		body := w.pos()
		w.logonTemplate()
		binary.LittleEndian.PutUint32(w.buf.Bytes()[sizeAt:], uint32(w.pos()-body))
	} else {
		w.u32(uint32(defOff))
	}

	w.u32(uint32(len(values)))
	for _, v := range values {
		w.u16(uint16(len(v.data)))
		w.u8(v.typ)
		w.u8(0)
	}
	for _, v := range values {
		w.buf.Write(v.data)
	}
	w.u8(tokEOF)

	size := w.pos() - start + 4
	w.u32(uint32(size))
	binary.LittleEndian.PutUint32(w.buf.Bytes()[start+4:], uint32(size))
	return defOff
}

func (w *chunkWriter) bytes() []byte {
	b := w.buf.Bytes()
	binary.LittleEndian.PutUint32(b[0x30:], uint32(len(b)))
	out := make([]byte, chunkSize)
	copy(out, b)
	return out
}

func buildFile(chunks ...[]byte) []byte {
	head := make([]byte, defaultHeaderBlock)
	copy(head, fileMagic)
	binary.LittleEndian.PutUint16(head[40:], defaultHeaderBlock)
	binary.LittleEndian.PutUint16(head[42:], uint16(len(chunks)))
	out := append([]byte{}, head...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func logonValues(id uint64, user string, logonType uint32) []subValue {
	return []subValue{
		str("Microsoft-Windows-Security-Auditing"),
		u16v(4624),
		u8v(0),
		u64v(typeFileTime, testFileTime),
		u64v(typeUint64, id),
		str("Security"),
		str("DC01.corp.local"),
		str(user),
		u32v(logonType),
		testSID,
	}
}

func readAll(t *testing.T, data []byte) ([]Event, *Reader) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	var out []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, r
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestReader_DecodesTemplatedRecords(t *testing.T) {
	w := newChunkWriter()
	def := w.record(1, -1, logonValues(1, "alice", 3))
	w.record(2, def, logonValues(2, "bob", 10))

	events, r := readAll(t, buildFile(w.bytes()))
	require.Len(t, events, 2)
	assert.Equal(t, 1, r.Chunks())
	assert.Zero(t, r.Skipped())

	ev := events[0]
	assert.Equal(t, uint64(1), ev.RecordID)
	assert.Equal(t, "2024-03-15T10:30:00.0000000Z", ev.Written)
	assert.Equal(t, "4624", ev.System["EventID"])
	assert.Equal(t, "0", ev.System["Level"])
	assert.Equal(t, "Microsoft-Windows-Security-Auditing", ev.System["Provider"])
	assert.Equal(t, "2024-03-15T10:30:00.0000000Z", ev.System["TimeCreated"])
	assert.Equal(t, "Security", ev.System["Channel"])
	assert.Equal(t, "DC01.corp.local", ev.System["Computer"])
	assert.Equal(t, "S-1-5-18", ev.System["UserID"])
	assert.Equal(t, []string{"TargetUserName", "LogonType"}, ev.DataKeys)
	assert.Equal(t, "alice", ev.Data["TargetUserName"])
	assert.Equal(t, "3", ev.Data["LogonType"])

	assert.Equal(t, "bob", events[1].Data["TargetUserName"])
	assert.Equal(t, "10", events[1].Data["LogonType"])
	assert.Equal(t, "2", events[1].System["EventRecordID"])
}

func TestReader_SkipsEmptyChunksAndBadRecords(t *testing.T) {
	w := newChunkWriter()
	w.record(7, -1, logonValues(7, "carol", 2))
	good := w.bytes()

	bad := newChunkWriter()
	start := bad.pos()
	bad.buf.WriteString(recordMagic)
	bad.u32(40)
	bad.u64(8)
	bad.u64(testFileTime)
	bad.u8(0x3f) // not a token
	bad.buf.Write(make([]byte, 40-(bad.pos()-start)-4))
	bad.u32(40)

	events, r := readAll(t, buildFile(good, make([]byte, chunkSize), bad.bytes()))
	require.Len(t, events, 1)
	assert.Equal(t, "carol", events[0].Data["TargetUserName"])
	assert.Equal(t, 1, r.Skipped())
	assert.Equal(t, 2, r.Chunks())
}

func TestNewReader_RejectsOtherInput(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("timestamp,user\n")))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = NewReader(bytes.NewReader(make([]byte, defaultHeaderBlock)))
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestValueRendering(t *testing.T) {
	tests := []struct {
		name string
		v    value
		want string
	}{
		{"int8", value{typ: typeInt8, data: []byte{0xff}}, "-1"},
		{"bool", value{typ: typeBool, data: []byte{1, 0, 0, 0}}, "true"},
		{"hex32", value{typ: typeHexInt32, data: []byte{0x10, 0, 0, 0}}, "0x00000010"},
		{"binary", value{typ: typeBinary, data: []byte{0xde, 0xad}}, "DEAD"},
		{"guid", value{typ: typeGUID, data: []byte{
			0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56,
			0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78}}, "{12345678-1234-5678-9ABC-DEF012345678}"},
		{"string array", value{typ: typeArray | typeString, data: utf16le("a\x00b\x00")}, "a, b"},
		{"uint16 array", value{typ: typeArray | typeUint16, data: []byte{1, 0, 2, 0}}, "1, 2"},
		{"systemtime", value{typ: typeSystemTime, data: []byte{
			0xe8, 0x07, 3, 0, 5, 0, 15, 0, 10, 0, 30, 0, 5, 0, 0x7b, 0}}, "2024-03-15T10:30:05.123Z"},
		{"null", value{typ: typeNull}, ""},
		{"short uint32", value{typ: typeUint32, data: []byte{1}}, "01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.String())
		})
	}
}
