package layout

import (
	"errors"
	"fmt"

	"github.com/nvblock/nvblock/flash"
	"github.com/nvblock/nvblock/internal/logging"
	"github.com/nvblock/nvblock/internal/record"
)

// ErrHardFail is returned when the recovery path itself cannot complete
// (a sector erase failed during FULL_RESET or FRESH_ERASE). The caller
// must treat the store as uninitialized.
var ErrHardFail = errors.New("layout: recovery erase failed, store is unusable")

// BlockSpec is the compile-time schema entry for one logical block: a
// unique pattern identifier and its fixed payload size.
type BlockSpec struct {
	Pattern uint16
	Size    int
}

// BlockPointer is the reconstructed location of a block's freshest valid
// record.
type BlockPointer struct {
	Addr       uint32
	Occurrence uint16
}

// ScanResult is everything the appender needs to resume operation after
// a boot-time scan: where the active page is, where the next append
// lands, and the freshest known copy of each block.
type ScanResult struct {
	ActivePageBase uint32
	WritePointer   uint32
	Pointers       map[uint16]BlockPointer

	// DirtyBoot is true when this scan had to discard the prior region
	// contents because it was corrupt. A fresh, all-0xFF region is the
	// expected first-boot state, not dirt, so it leaves this false.
	DirtyBoot bool
}

// Scan performs the boot-time layout scan described by the component's
// state machine: locate the active page, replay its records to rebuild
// read pointers, and fall back to a full region reset on any integrity
// violation.
func Scan(dev flash.Device, regionStart, regionSize uint32, blocks []BlockSpec, defaults map[uint16][]byte, log logging.Logger) (*ScanResult, error) {
	log = logging.OrDefault(log)
	sectorSize := dev.SectorSize()
	pages := PageCount(regionSize, sectorSize)

	byPattern := make(map[uint16]BlockSpec, len(blocks))
	for _, b := range blocks {
		byPattern[b.Pattern] = b
	}

	activeIdx, corrupt, err := scanPageHeaders(dev, regionStart, sectorSize, pages)
	if err != nil {
		return nil, err
	}

	if corrupt {
		log.Warnf("%sintegrity violation while scanning page headers, resetting region", logging.NSInit)
		return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, true)
	}

	if activeIdx < 0 {
		log.Infof("%sno active page found, treating region as fresh", logging.NSInit)
		return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, false)
	}

	base := PageBase(regionStart, sectorSize, uint32(activeIdx))
	page := make([]byte, sectorSize)
	if err := dev.Read(base, page); err != nil {
		log.Warnf("%sfailed to read active page: %v", logging.NSInit, err)
		return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, true)
	}

	tailOffset, recordsOK := findTail(page, byPattern)
	if !recordsOK {
		log.Warnf("%sunknown pattern or truncated record in active page", logging.NSInit)
		return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, true)
	}

	if !tailErased(page, tailOffset) {
		log.Warnf("%snon-erased tail past write pointer, torn write suspected", logging.NSInit)
		return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, true)
	}

	pointers, ok := scanRecords(page, base, tailOffset, byPattern)
	if !ok {
		log.Warnf("%sCRC mismatch while replaying active page records", logging.NSInit)
		return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, true)
	}

	return &ScanResult{
		ActivePageBase: base,
		WritePointer:   base + uint32(tailOffset),
		Pointers:       pointers,
	}, nil
}

// scanPageHeaders classifies every page's header, looking for a single
// active page. More than one active header is treated as an integrity
// violation (a crash between marking the new page active and marking
// the outgoing page stale) rather than resolved by scan order, per the
// double-active-page design decision.
func scanPageHeaders(dev flash.Device, regionStart, sectorSize, pages uint32) (activeIdx int, corrupt bool, err error) {
	activeIdx = -1
	header := make([]byte, HeaderSize)

	for i := uint32(0); i < pages; i++ {
		if err := dev.Read(PageBase(regionStart, sectorSize, i), header); err != nil {
			return -1, false, fmt.Errorf("layout: reading page %d header: %w", i, err)
		}
		switch ParsePageHeader(header) {
		case PageActive:
			if activeIdx != -1 {
				return -1, true, nil // second active page: corruption
			}
			activeIdx = int(i)
		case PageCorrupt:
			return -1, true, nil
		}
	}
	return activeIdx, false, nil
}

// findTail walks the active page's records from its first slot, stopping
// at the first erased (Empty) header — the tentative write pointer. It
// reports false if it encounters a pattern outside the configuration or
// a record whose declared size would run past the end of the page,
// either of which is an integrity violation. Running out of room for
// another header is not a violation: a page whose records fill it to
// (or to within a few bytes of) the boundary is a legal steady state,
// and tailErased still checks any remnant bytes.
func findTail(page []byte, byPattern map[uint16]BlockSpec) (offset int, ok bool) {
	offset = HeaderSize
	for {
		if offset+record.HeaderSize > len(page) {
			return offset, true
		}
		header := page[offset : offset+record.HeaderSize]
		if record.Empty(header) {
			return offset, true
		}
		pattern, _ := record.ParseHeader(header)
		spec, known := byPattern[pattern]
		if !known {
			return offset, false
		}
		size := record.Size(spec.Size)
		if offset+size > len(page) {
			return offset, false
		}
		offset += size
	}
}

// tailErased reports whether every byte from offset to the end of page
// is 0xFF, as the write pointer invariant requires.
func tailErased(page []byte, offset int) bool {
	for _, b := range page[offset:] {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// scanRecords replays the active page a second time, verifying each
// record's CRC and keeping, per pattern, the instance with the highest
// offset — which is also the highest occurrence counter, since records
// are appended in increasing-occurrence order. Pointers are absolute
// flash addresses (base plus in-page offset), matching what the
// appender stores at runtime.
func scanRecords(page []byte, base uint32, tailOffset int, byPattern map[uint16]BlockSpec) (map[uint16]BlockPointer, bool) {
	pointers := make(map[uint16]BlockPointer)
	offset := HeaderSize
	for offset < tailOffset {
		header := page[offset : offset+record.HeaderSize]
		pattern, occurrence := record.ParseHeader(header)
		spec := byPattern[pattern] // already validated known by findTail
		size := record.Size(spec.Size)

		rec := page[offset : offset+size]
		payload := rec[record.HeaderSize : record.HeaderSize+spec.Size]
		if !record.Verify(rec, payload) {
			return nil, false
		}

		pointers[pattern] = BlockPointer{Addr: base + uint32(offset), Occurrence: occurrence}
		offset += size
	}
	return pointers, true
}

// Reset forces a full erase-and-reinitialize of the region. It is the
// same recovery Scan falls back to on an integrity violation, exported
// so the write path can invoke it directly when a device fault leaves
// the in-RAM descriptor out of sync with flash.
func Reset(dev flash.Device, regionStart, regionSize uint32, blocks []BlockSpec, defaults map[uint16][]byte, log logging.Logger) (*ScanResult, error) {
	log = logging.OrDefault(log)
	sectorSize := dev.SectorSize()
	pages := PageCount(regionSize, sectorSize)
	return resetRegion(dev, regionStart, sectorSize, pages, blocks, defaults, log, true)
}

// resetRegion erases every page in the region, marks page 0 active,
// optionally deposits a compile-time defaults blob, and returns a fresh
// ScanResult. dirty distinguishes a true recovery (the region held data
// that had to be discarded) from the expected first-boot state of an
// all-0xFF region.
func resetRegion(dev flash.Device, regionStart, sectorSize, pages uint32, blocks []BlockSpec, defaults map[uint16][]byte, log logging.Logger, dirty bool) (*ScanResult, error) {
	for i := uint32(0); i < pages; i++ {
		if err := dev.EraseSector(PageBase(regionStart, sectorSize, i)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHardFail, err)
		}
	}

	base := PageBase(regionStart, sectorSize, 0)
	if err := MarkActive(dev, base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardFail, err)
	}

	writePointer := base + HeaderSize
	pointers := make(map[uint16]BlockPointer)

	for _, b := range blocks {
		payload, hasDefault := defaults[b.Pattern]
		if !hasDefault {
			continue
		}
		if len(payload) != b.Size {
			log.Errorf("%sdefault payload for pattern %#04x is %d bytes, want %d; skipping", logging.NSInit, b.Pattern, len(payload), b.Size)
			continue
		}
		buf := record.Encode(nil, b.Pattern, 0, payload)
		if err := dev.Program(writePointer, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHardFail, err)
		}
		pointers[b.Pattern] = BlockPointer{Addr: writePointer, Occurrence: 0}
		writePointer += uint32(len(buf))
	}

	log.Infof("%sregion reset complete, active page at %#08x, write pointer %#08x", logging.NSInit, base, writePointer)

	return &ScanResult{
		ActivePageBase: base,
		WritePointer:   writePointer,
		Pointers:       pointers,
		DirtyBoot:      dirty,
	}, nil
}
