package evtx

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"casefile/app/timestamps"
)

// substitution value types
const (
	typeNull       = 0x00
	typeString     = 0x01
	typeANSI       = 0x02
	typeInt8       = 0x03
	typeUint8      = 0x04
	typeInt16      = 0x05
	typeUint16     = 0x06
	typeInt32      = 0x07
	typeUint32     = 0x08
	typeInt64      = 0x09
	typeUint64     = 0x0a
	typeFloat32    = 0x0b
	typeFloat64    = 0x0c
	typeBool       = 0x0d
	typeBinary     = 0x0e
	typeGUID       = 0x0f
	typeSize       = 0x10
	typeFileTime   = 0x11
	typeSystemTime = 0x12
	typeSID        = 0x13
	typeHexInt32   = 0x14
	typeHexInt64   = 0x15
	typeBinXML     = 0x21

	typeArray = 0x80
)

// String renders a substitution value as event viewer text.
func (v value) String() string {
	if v.typ&typeArray != 0 {
		return v.arrayString()
	}
	return scalarString(v.typ, v.data)
}

func (v value) arrayString() string {
	base := v.typ &^ typeArray
	if base == typeString {
		items := strings.Split(decodeUTF16Raw(v.data), "\x00")
		for len(items) > 0 && items[len(items)-1] == "" {
			items = items[:len(items)-1]
		}
		return strings.Join(items, ", ")
	}
	if base == typeANSI {
		return strings.Join(strings.FieldsFunc(string(v.data), func(r rune) bool { return r == 0 }), ", ")
	}
	size := fixedSize(base, len(v.data))
	if size == 0 {
		return hex.EncodeToString(v.data)
	}
	var items []string
	for off := 0; off+size <= len(v.data); off += size {
		items = append(items, scalarString(base, v.data[off:off+size]))
	}
	return strings.Join(items, ", ")
}

func fixedSize(typ byte, total int) int {
	switch typ {
	case typeInt8, typeUint8:
		return 1
	case typeInt16, typeUint16:
		return 2
	case typeInt32, typeUint32, typeFloat32, typeBool, typeHexInt32:
		return 4
	case typeInt64, typeUint64, typeFloat64, typeFileTime, typeHexInt64:
		return 8
	case typeSize:
		if total%8 == 0 {
			return 8
		}
		return 4
	case typeGUID, typeSystemTime:
		return 16
	}
	return 0
}

func scalarString(typ byte, b []byte) string {
	le := binary.LittleEndian
	switch typ {
	case typeNull:
		return ""
	case typeString:
		return decodeUTF16(b)
	case typeANSI:
		return strings.TrimRight(string(b), "\x00")
	case typeBinary:
		return strings.ToUpper(hex.EncodeToString(b))
	case typeSID:
		return sidString(b)
	case typeGUID:
		if len(b) < 16 {
			break
		}
		return fmt.Sprintf("{%08X-%04X-%04X-%X-%X}", le.Uint32(b), le.Uint16(b[4:]), le.Uint16(b[6:]), b[8:10], b[10:16])
	}

	need := fixedSize(typ, len(b))
	if need == 0 || len(b) < need {
		return strings.ToUpper(hex.EncodeToString(b))
	}
	switch typ {
	case typeInt8:
		return strconv.Itoa(int(int8(b[0])))
	case typeUint8:
		return strconv.Itoa(int(b[0]))
	case typeInt16:
		return strconv.Itoa(int(int16(le.Uint16(b))))
	case typeUint16:
		return strconv.Itoa(int(le.Uint16(b)))
	case typeInt32:
		return strconv.FormatInt(int64(int32(le.Uint32(b))), 10)
	case typeUint32:
		return strconv.FormatUint(uint64(le.Uint32(b)), 10)
	case typeInt64:
		return strconv.FormatInt(int64(le.Uint64(b)), 10)
	case typeUint64:
		return strconv.FormatUint(le.Uint64(b), 10)
	case typeFloat32:
		return strconv.FormatFloat(float64(math.Float32frombits(le.Uint32(b))), 'g', -1, 32)
	case typeFloat64:
		return strconv.FormatFloat(math.Float64frombits(le.Uint64(b)), 'g', -1, 64)
	case typeBool:
		return strconv.FormatBool(le.Uint32(b) != 0)
	case typeHexInt32:
		return fmt.Sprintf("0x%08x", le.Uint32(b))
	case typeHexInt64:
		return fmt.Sprintf("0x%016x", le.Uint64(b))
	case typeSize:
		if need == 8 {
			return fmt.Sprintf("0x%016x", le.Uint64(b))
		}
		return fmt.Sprintf("0x%08x", le.Uint32(b))
	case typeFileTime:
		return timestamps.FromFileTime(le.Uint64(b))
	case typeSystemTime:
		t := time.Date(int(le.Uint16(b)), time.Month(le.Uint16(b[2:])), int(le.Uint16(b[6:])),
			int(le.Uint16(b[8:])), int(le.Uint16(b[10:])), int(le.Uint16(b[12:])),
			int(le.Uint16(b[14:]))*int(time.Millisecond), time.UTC)
		return timestamps.FormatISO(t)
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// sidString renders a binary SID as S-R-A-S1-S2...
func sidString(b []byte) string {
	if len(b) < 8 {
		return ""
	}
	count := int(b[1])
	if len(b) < 8+4*count {
		return ""
	}
	var auth uint64
	for _, x := range b[2:8] {
		auth = auth<<8 | uint64(x)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "S-%d-%d", b[0], auth)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&sb, "-%d", binary.LittleEndian.Uint32(b[8+4*i:]))
	}
	return sb.String()
}

// decodeUTF16Raw keeps embedded NULs, which separate array items.
func decodeUTF16Raw(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(u))
}
