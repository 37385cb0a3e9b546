// Package layout implements the boot-time scan that locates the active
// page, reconstructs per-block read pointers, and decides whether the
// region is healthy or needs a full reset. The scan follows an explicit
// state machine: SCAN_PAGES -> {no_active -> FRESH_ERASE} / {active ->
// FIND_TAIL -> VERIFY_TAIL_ERASED -> SCAN_RECORDS} -> (any error) ->
// FULL_RESET.
package layout

import (
	"github.com/nvblock/nvblock/flash"
)

// HeaderSize is the width of a page header, in bytes.
const HeaderSize = 4

// PageState is the role a page plays, as read from its header.
type PageState int

const (
	// PageErased means the page reads back as all 0xFF: never written
	// since the last erase.
	PageErased PageState = iota
	// PageActive means the page is the current write target.
	PageActive
	// PageStale means the page's live records have all been copied
	// elsewhere; it is a candidate for the next erase.
	PageStale
	// PageCorrupt means the header matches none of the three known
	// encodings — a bit pattern no legal Program sequence can produce
	// from an erased page.
	PageCorrupt
)

var (
	headerErased = [HeaderSize]byte{0xFF, 0xFF, 0xFF, 0xFF}
	headerActive = [HeaderSize]byte{0xAA, 0x55, 0xFF, 0xFF}
	headerStale  = [HeaderSize]byte{0xAA, 0x55, 0xFF, 0xAA}
)

// ParsePageHeader classifies a 4-byte page header.
func ParsePageHeader(header []byte) PageState {
	switch {
	case equalHeader(header, headerErased):
		return PageErased
	case equalHeader(header, headerActive):
		return PageActive
	case equalHeader(header, headerStale):
		return PageStale
	default:
		return PageCorrupt
	}
}

func equalHeader(b []byte, want [HeaderSize]byte) bool {
	if len(b) != HeaderSize {
		return false
	}
	for i := range want {
		if b[i] != want[i] {
			return false
		}
	}
	return true
}

// MarkActive programs the active-page header at base. The page must
// currently be erased; Program's AND semantics mean writing this header
// over an erased page (all 0xFF) yields exactly the active encoding.
func MarkActive(dev flash.Device, base uint32) error {
	return dev.Program(base, headerActive[:])
}

// MarkStale programs the stale-page header over an active page's header.
// Active (AA 55 FF FF) -> stale (AA 55 FF AA) is a pure 1->0 transition
// in the fourth byte, so this is always legal without an intervening
// erase.
func MarkStale(dev flash.Device, base uint32) error {
	return dev.Program(base, headerStale[:])
}

// PageBase returns the absolute address of page index i within a region
// starting at regionStart with the given sector size.
func PageBase(regionStart, sectorSize, i uint32) uint32 {
	return regionStart + i*sectorSize
}

// PageCount returns how many pages fit in a region of the given size.
func PageCount(regionSize, sectorSize uint32) uint32 {
	return regionSize / sectorSize
}
