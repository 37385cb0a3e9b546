// Package record implements the codec for a single on-flash record: the
// concatenation of a small header, a fixed-size payload, and a CRC-32
// trailer computed over the payload alone.
//
// Layout, contiguous:
//
//	+-----------+--------------+---------+----------+
//	| pattern   | occurrence   | payload | crc32     |
//	| 2B LE     | 2B LE        | size B  | 4B LE     |
//	+-----------+--------------+---------+----------+
//
// A header of all 0xFF bytes means "not present" (the erased state) — see
// Empty. Whether a non-erased, non-empty header names a configured block
// is a question this package can't answer on its own (it has no notion of
// a block table), so ParseHeader reports only pattern and occurrence (Empty
// answers whether the header is erased) and leaves the "is this pattern
// known" decision to the caller.
package record

import (
	"github.com/nvblock/nvblock/internal/checksum"
	"github.com/nvblock/nvblock/internal/encoding"
)

// HeaderSize is the width of the pattern+occurrence header, in bytes.
const HeaderSize = 4

// CRCSize is the width of the CRC-32 trailer, in bytes.
const CRCSize = 4

// Size returns the total on-flash footprint of a record carrying a
// payload of payloadSize bytes.
func Size(payloadSize int) int {
	return HeaderSize + payloadSize + CRCSize
}

// Encode appends pattern, occurrence, payload, and the CRC-32 of payload
// to dst, returning the extended slice. The caller is responsible for
// checking payload against the block's configured size before calling —
// the codec itself doesn't know the configured size for a pattern.
func Encode(dst []byte, pattern, occurrence uint16, payload []byte) []byte {
	buf := make([]byte, Size(len(payload)))
	encoding.EncodeFixed16(buf[0:2], pattern)
	encoding.EncodeFixed16(buf[2:4], occurrence)
	copy(buf[HeaderSize:], payload)
	crc := checksum.Value(payload)
	encoding.EncodeFixed32(buf[HeaderSize+len(payload):], crc)
	return append(dst, buf...)
}

// Empty reports whether a 4-byte header is all 0xFF — the state flash
// reads back as after an erase, meaning no record has been written here
// since.
func Empty(header []byte) bool {
	for _, b := range header {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// ParseHeader decodes the pattern and occurrence counter from a 4-byte
// header. Callers must check Empty(header) first; ParseHeader does not
// special-case the all-0xFF encoding itself (0xFFFF/0xFFFF is a valid,
// if exotic, pattern/occurrence pair in isolation — Empty is the
// authoritative check).
func ParseHeader(header []byte) (pattern, occurrence uint16) {
	return encoding.DecodeFixed16(header[0:2]), encoding.DecodeFixed16(header[2:4])
}

// Verify recomputes the CRC-32 over the payload region of record (a full
// encoded record: header + payload + crc32) and compares it against the
// trailer stored at the end of record. The payload region is the
// len(payload) bytes following the header; only the length of payload is
// used, its bytes are not compared against the record. It returns false
// if record is shorter than Size(len(payload)).
func Verify(record []byte, payload []byte) bool {
	want := Size(len(payload))
	if len(record) < want {
		return false
	}
	body := record[HeaderSize : HeaderSize+len(payload)]
	crc := encoding.DecodeFixed32(record[HeaderSize+len(payload):])
	return checksum.Verify(body, crc)
}
