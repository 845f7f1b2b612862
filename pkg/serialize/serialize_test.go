package serialize

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []interface{}{
		int32(-7), int64(1 << 40), 3.14159, true, false,
		"hello, world", []byte{1, 2, 3, 4},
		time.Unix(1700000000, 0).UTC(),
	}

	for _, v := range cases {
		buf, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%v): %v", v, err)
		}
		got, tag, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if tag == "" {
			t.Fatalf("Decode(%v) returned empty tag", v)
		}

		switch want := v.(type) {
		case time.Time:
			gt, ok := got.(time.Time)
			if !ok || !gt.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		case []byte:
			gb, ok := got.([]byte)
			if !ok || !bytes.Equal(gb, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		default:
			if got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	}
}

func TestGetSerializedType(t *testing.T) {
	buf, _ := Encode(int64(5))
	tag, err := GetSerializedType(buf)
	if err != nil || tag != tagInt64 {
		t.Fatalf("GetSerializedType = %q, %v", tag, err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	v, tag, err := Decode(nil)
	if v != nil || tag != "" || err != nil {
		t.Fatalf("Decode(nil) = %v, %q, %v", v, tag, err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf, _ := Encode(int64(5))
	if _, _, err := Decode(buf[:len(buf)-2]); err == nil {
		t.Fatal("expected error decoding truncated payload")
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	buf, _ := Encode("x")
	buf[4] = 'Z' // corrupt tag byte
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected error decoding unknown tag")
	}
}
