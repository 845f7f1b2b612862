// Package serialize implements the length-tagged, type-tagged binary codec
// from the wire format: u32 type_tag_length | utf8 type_tag | payload.
// It is a standalone scalar codec; the WAL entry format (pkg/wal) uses
// its own framing and does not call it.
package serialize

import (
	"encoding/binary"
	"math"
	"time"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

const (
	tagInt32    = "int32"
	tagInt64    = "int64"
	tagFloat64  = "float64"
	tagBool     = "bool"
	tagDateTime = "datetime"
	tagString   = "string"
	tagBytes    = "bytes"
)

// Encode writes v as a type-tagged value. Supported Go types: int32, int64,
// float64, bool, time.Time, string, []byte.
func Encode(v interface{}) ([]byte, error) {
	var tag string
	var payload []byte

	switch x := v.(type) {
	case int32:
		tag = tagInt32
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, uint32(x))
	case int64:
		tag = tagInt64
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, uint64(x))
	case float64:
		tag = tagFloat64
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, math.Float64bits(x))
	case bool:
		tag = tagBool
		payload = []byte{0}
		if x {
			payload[0] = 1
		}
	case time.Time:
		tag = tagDateTime
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, uint64(x.UnixNano()))
	case string:
		tag = tagString
		payload = []byte(x)
	case []byte:
		tag = tagBytes
		payload = x
	case nil:
		return []byte{}, nil
	default:
		return nil, derrors.New(derrors.KindInvalidArgument, "serialize.Encode", "unsupported value type")
	}

	tagBytes := []byte(tag)
	buf := make([]byte, 4+len(tagBytes)+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(tagBytes)))
	copy(buf[4:], tagBytes)
	copy(buf[4+len(tagBytes):], payload)
	return buf, nil
}

// Decode reverses Encode. An empty input decodes to (nil, "", nil) per the
// "empty input -> null/default" rule. A truncated payload or unknown tag is
// a deserialization error.
func Decode(buf []byte) (interface{}, string, error) {
	if len(buf) == 0 {
		return nil, "", nil
	}
	if len(buf) < 4 {
		return nil, "", derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated type tag length")
	}
	tagLen := binary.LittleEndian.Uint32(buf[0:4])
	if int(tagLen) > len(buf)-4 {
		return nil, "", derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated type tag")
	}
	tag := string(buf[4 : 4+tagLen])
	payload := buf[4+tagLen:]

	switch tag {
	case tagInt32:
		if len(payload) < 4 {
			return nil, tag, derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated int32 payload")
		}
		return int32(binary.LittleEndian.Uint32(payload)), tag, nil
	case tagInt64:
		if len(payload) < 8 {
			return nil, tag, derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated int64 payload")
		}
		return int64(binary.LittleEndian.Uint64(payload)), tag, nil
	case tagFloat64:
		if len(payload) < 8 {
			return nil, tag, derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated float64 payload")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(payload)), tag, nil
	case tagBool:
		if len(payload) < 1 {
			return nil, tag, derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated bool payload")
		}
		return payload[0] != 0, tag, nil
	case tagDateTime:
		if len(payload) < 8 {
			return nil, tag, derrors.New(derrors.KindCorruption, "serialize.Decode", "truncated datetime payload")
		}
		return time.Unix(0, int64(binary.LittleEndian.Uint64(payload))).UTC(), tag, nil
	case tagString:
		return string(payload), tag, nil
	case tagBytes:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, tag, nil
	default:
		return nil, tag, derrors.New(derrors.KindCorruption, "serialize.Decode", "unknown type tag "+tag)
	}
}

// GetSerializedType returns the type tag of an encoded value without
// decoding the payload, matching get_serialized_type in the spec's
// testable properties.
func GetSerializedType(buf []byte) (string, error) {
	if len(buf) == 0 {
		return "", nil
	}
	if len(buf) < 4 {
		return "", derrors.New(derrors.KindCorruption, "serialize.GetSerializedType", "truncated type tag length")
	}
	tagLen := binary.LittleEndian.Uint32(buf[0:4])
	if int(tagLen) > len(buf)-4 {
		return "", derrors.New(derrors.KindCorruption, "serialize.GetSerializedType", "truncated type tag")
	}
	return string(buf[4 : 4+tagLen]), nil
}
