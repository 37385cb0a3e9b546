package nvblock

// write.go implements the appender: dedup, page roll, and the inner
// append routine GC re-enters directly, factoring the actual record
// programming out so the recursive GC call doesn't need a dedup-skip
// flag threaded through Write.

import (
	"bytes"
	"fmt"

	"github.com/nvblock/nvblock/internal/layout"
	"github.com/nvblock/nvblock/internal/logging"
	"github.com/nvblock/nvblock/internal/record"
)

// blockHeaderHalf is half the 4-byte record header, the rewind amount
// applied when a write lands writePointer exactly on the next sector
// boundary.
const blockHeaderHalf = 2

// maxOccurrenceBeforeRoll is the highest occurrence value a record may
// carry. A write whose next occurrence for its block would exceed this
// forces a page roll first, rather than letting the 16-bit counter wrap.
const maxOccurrenceBeforeRoll = 0xFFFE

// Write stores payload under pattern, durably, before returning.
// payload must equal the block's configured size exactly.
func (s *Store) Write(pattern uint16, payload []byte) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	spec, ok := s.blocks[pattern]
	if !ok {
		return ErrUnknownBlock
	}
	if len(payload) != spec.Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(payload), spec.Size)
	}

	if ptr, ok := s.pointers[pattern]; ok {
		if current, err := s.readPayload(ptr, spec.Size); err == nil && bytes.Equal(current, payload) {
			return nil
		}
	}

	size := uint32(record.Size(spec.Size))
	needsRoll := size > s.pageEnd()-s.writePointer
	if !needsRoll && s.nextOccurrence(pattern) > maxOccurrenceBeforeRoll {
		needsRoll = true
	}

	if needsRoll {
		if err := s.rollPage(pattern); err != nil {
			return err
		}
	}

	return s.appendRecord(pattern, payload)
}

// nextOccurrence returns the occurrence counter the next record for
// pattern should carry. A block's counter restarts at 0 whenever its
// existing pointer does not fall inside the current active page — which
// covers both a block GC just copied forward and the block whose write
// triggered the roll, with no separate reset needed: once rollPage has
// moved activePageBase, every pointer still addressing the old page
// reads as "not in this page" and naturally restarts at 0.
func (s *Store) nextOccurrence(pattern uint16) uint16 {
	ptr, ok := s.pointers[pattern]
	if !ok {
		return 0
	}
	if ptr.Addr < s.activePageBase || ptr.Addr >= s.pageEnd() {
		return 0
	}
	return ptr.Occurrence + 1
}

// appendRecord is the inner append routine: it assumes the page-roll
// decision has already been made (there is room for one more record in
// the active page) and unconditionally programs it. GC calls this
// directly, bypassing Write's dedup check entirely.
func (s *Store) appendRecord(pattern uint16, payload []byte) error {
	occurrence := s.nextOccurrence(pattern)
	buf := record.Encode(nil, pattern, occurrence, payload)
	addr := s.writePointer

	if err := s.dev.Program(addr, buf); err != nil {
		return s.recoverFromFault(fmt.Errorf("%w: programming record: %v", ErrDeviceFault, err))
	}

	s.pointers[pattern] = layout.BlockPointer{Addr: addr, Occurrence: occurrence}
	s.writePointer += uint32(len(buf))

	if s.writePointer == s.pageEnd() {
		s.writePointer -= blockHeaderHalf
	}

	return nil
}

// rollPage erases the next page, marks it active, runs garbage
// collection from the outgoing page, and finally marks the outgoing
// page stale — in that order, so a crash mid-roll always leaves flash
// in a state the scanner's double-active-page check can recognize.
func (s *Store) rollPage(triggering uint16) error {
	outgoing := s.activePageBase
	next := outgoing + s.sectorSize
	if next >= s.regionStart+s.regionSize {
		next = s.regionStart
	}

	if err := s.dev.EraseSector(next); err != nil {
		return s.recoverFromFault(fmt.Errorf("%w: erasing next page: %v", ErrDeviceFault, err))
	}
	if err := layout.MarkActive(s.dev, next); err != nil {
		return s.recoverFromFault(fmt.Errorf("%w: marking new active page: %v", ErrDeviceFault, err))
	}

	s.activePageBase = next
	s.writePointer = next + layout.HeaderSize

	if err := s.runGC(outgoing, triggering); err != nil {
		return err
	}

	if err := layout.MarkStale(s.dev, outgoing); err != nil {
		return s.recoverFromFault(fmt.Errorf("%w: marking outgoing page stale: %v", ErrDeviceFault, err))
	}

	s.log.Infof("%spage roll complete, new active page at %#08x", logging.NSAppend, next)
	return nil
}

// recoverFromFault responds to a device-level failure observed on the
// write path by forcing a full region reset, per the error-handling
// design: a transient driver failure here always resets the region and
// sets errorDetected, unlike the same failure surfacing from Init.
func (s *Store) recoverFromFault(cause error) error {
	s.log.Warnf("%s%v", logging.NSAppend, cause)
	if err := s.hardReset(); err != nil {
		return err
	}
	return cause
}
