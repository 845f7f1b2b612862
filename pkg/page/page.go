// Package page implements the fixed-size page layer: 4 KiB pages with a
// 32-byte checksummed header, a capacity-bounded cache, and a free list.
package page

import (
	"encoding/binary"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

// Size is the fixed page size in bytes.
const Size = 4096

// HeaderSize is the fixed on-disk header size.
const HeaderSize = 32

// DataSize is the usable payload per page.
const DataSize = Size - HeaderSize

// Type enumerates what a page holds.
type Type uint8

const (
	TypeFree Type = iota
	TypeHeader
	TypeInternalNode
	TypeLeafNode
	TypeData
	TypeOverflow
)

// NoPage marks the absence of a next/prev page link.
const NoPage int64 = -1

// Header is the 32-byte page header. data_size is stored on disk as a
// 3-byte little-endian unsigned integer (offsets 9-11) to keep the header
// exactly 32 bytes per the on-disk layout; this is ample since data_size
// can never exceed DataSize (4064).
type Header struct {
	PageID     int64
	PageType   Type
	DataSize   int32
	NextPageID int64
	PrevPageID int64
	Checksum   uint32
}

// Page is a single fixed-size unit of the data file.
type Page struct {
	Header Header
	Data   [DataSize]byte
}

// New allocates a zeroed page of the given id and type.
func New(id int64, typ Type) *Page {
	p := &Page{Header: Header{
		PageID:     id,
		PageType:   typ,
		NextPageID: NoPage,
		PrevPageID: NoPage,
	}}
	return p
}

func put24(buf []byte, v int32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
}

func get24(buf []byte) int32 {
	return int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16
}

// encodeHeaderFields writes every header field except Checksum into buf[0:28].
func encodeHeaderFields(h Header, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.PageID))
	buf[8] = byte(h.PageType)
	put24(buf[9:12], h.DataSize)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.NextPageID))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(h.PrevPageID))
}

// xorFold XOR-folds a byte slice (whose length is a multiple of 4) down to
// a single uint32, used as the page header checksum.
func xorFold(buf []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		sum ^= binary.LittleEndian.Uint32(buf[i : i+4])
	}
	return sum
}

// Encode serializes the full page (header + data) into a Size-byte buffer.
func (p *Page) Encode() []byte {
	buf := make([]byte, Size)
	var fields [28]byte
	encodeHeaderFields(p.Header, fields[:])
	p.Header.Checksum = xorFold(fields[:])

	copy(buf[0:28], fields[:])
	binary.LittleEndian.PutUint32(buf[28:32], p.Header.Checksum)
	copy(buf[HeaderSize:], p.Data[:])
	return buf
}

// Decode parses a Size-byte buffer into a Page, verifying the checksum
// unless the page type is Free (freed pages are zeroed and carry no
// meaningful checksum).
func Decode(buf []byte) (*Page, error) {
	const op = "page.Decode"
	if len(buf) != Size {
		return nil, derrors.New(derrors.KindInvalidArgument, op, "buffer is not exactly one page")
	}

	var h Header
	h.PageID = int64(binary.LittleEndian.Uint64(buf[0:8]))
	h.PageType = Type(buf[8])
	h.DataSize = get24(buf[9:12])
	h.NextPageID = int64(binary.LittleEndian.Uint64(buf[12:20]))
	h.PrevPageID = int64(binary.LittleEndian.Uint64(buf[20:28]))
	h.Checksum = binary.LittleEndian.Uint32(buf[28:32])

	if h.PageType != TypeFree {
		want := xorFold(buf[0:28])
		if want != h.Checksum {
			return nil, derrors.New(derrors.KindCorruption, op, "page header checksum mismatch")
		}
	}

	p := &Page{Header: h}
	copy(p.Data[:], buf[HeaderSize:])
	return p, nil
}
