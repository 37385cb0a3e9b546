package nvblock

// read.go implements the reader: verify and copy out the freshest
// record for a block.

import (
	"fmt"

	"github.com/nvblock/nvblock/internal/layout"
	"github.com/nvblock/nvblock/internal/record"
)

// Read copies the freshest verified payload for pattern into dst, which
// must be at least as large as the block's configured size. It returns
// the number of bytes copied.
func (s *Store) Read(pattern uint16, dst []byte) (int, error) {
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	spec, ok := s.blocks[pattern]
	if !ok {
		return 0, ErrUnknownBlock
	}
	if len(dst) < spec.Size {
		return 0, fmt.Errorf("%w: destination buffer is %d bytes, need %d", ErrSizeMismatch, len(dst), spec.Size)
	}
	ptr, ok := s.pointers[pattern]
	if !ok {
		return 0, ErrNoReadPointer
	}

	payload, err := s.readPayload(ptr, spec.Size)
	if err != nil {
		return 0, err
	}
	copy(dst, payload)
	return spec.Size, nil
}

// readPayload reads the full record at ptr.Addr (header + payload + CRC)
// and verifies it, returning the payload alone. A CRC failure here means
// a record the boot-time scanner already accepted as valid no longer
// verifies — a runtime inconsistency distinct from a torn write, so it
// is reported as ErrCorrupt rather than driving a region reset.
func (s *Store) readPayload(ptr layout.BlockPointer, size int) ([]byte, error) {
	buf := make([]byte, record.Size(size))
	if err := s.dev.Read(ptr.Addr, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceFault, err)
	}
	payload := buf[record.HeaderSize : record.HeaderSize+size]
	if !record.Verify(buf, payload) {
		return nil, ErrCorrupt
	}
	return payload, nil
}
