package nvblock

// gc.go implements copy-forward garbage collection, invoked only from a
// page roll: every block other than the one that triggered the roll gets
// its latest live record copied into the new active page.

import (
	"fmt"

	"github.com/nvblock/nvblock/internal/logging"
)

// runGC copies the freshest live record of every configured block other
// than triggering out of the outgoing page and into the (already active)
// new page, by calling appendRecord directly — never Write, so dedup
// never suppresses a GC copy.
func (s *Store) runGC(outgoing uint32, triggering uint16) error {
	outgoingEnd := outgoing + s.sectorSize

	for pattern, spec := range s.blocks {
		if pattern == triggering {
			continue
		}
		ptr, ok := s.pointers[pattern]
		if !ok {
			continue
		}
		if ptr.Addr < outgoing || ptr.Addr >= outgoingEnd {
			continue // already lives in the new page, or never written
		}

		payload, err := s.readPayload(ptr, spec.Size)
		if err != nil {
			return s.recoverFromFault(fmt.Errorf("%w: reading live record %#04x during gc: %v", ErrDeviceFault, pattern, err))
		}
		if err := s.appendRecord(pattern, payload); err != nil {
			return err
		}
	}

	s.log.Debugf("%sgarbage collection from page %#08x complete", logging.NSGC, outgoing)
	return nil
}
