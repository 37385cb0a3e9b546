package nvblock

// store.go implements the store descriptor and boot-time Open, the
// public counterpart to the layout scanner's internal state machine.

import (
	"fmt"

	"github.com/nvblock/nvblock/flash"
	"github.com/nvblock/nvblock/internal/layout"
	"github.com/nvblock/nvblock/internal/logging"
)

// Store is a log-structured block store over a flash.Device. A Store is
// not safe for concurrent use; see the package doc comment.
type Store struct {
	dev flash.Device
	cfg Config

	blocks map[uint16]BlockSpec
	log    Logger

	regionStart uint32
	regionSize  uint32
	sectorSize  uint32

	initialized   bool
	errorDetected bool
	dirtyBoot     bool

	activePageBase uint32
	writePointer   uint32
	pointers       map[uint16]layout.BlockPointer
}

// Open validates cfg, runs the boot-time layout scan against dev, and
// returns a ready-to-use Store. Open never leaves flash in a state the
// scanner or a subsequent Open can't make sense of: a device fault
// during recovery surfaces as ErrHardFail rather than a partially
// initialized Store.
func Open(dev flash.Device, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Store{
		dev:         dev,
		cfg:         *cfg,
		blocks:      cfg.blockByPattern(),
		log:         logging.OrDefault(cfg.Logger),
		regionStart: cfg.RegionStart,
		regionSize:  cfg.RegionSize,
		sectorSize:  cfg.SectorSize,
	}

	// A fatal log event means the region could not be brought back to a
	// consistent state; stop honoring calls until the caller reopens.
	s.log = logging.WithFatal(s.log, func() {
		s.errorDetected = true
		s.initialized = false
	})

	result, err := layout.Scan(dev, cfg.RegionStart, cfg.RegionSize, s.layoutBlocks(), cfg.Defaults, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardFail, err)
	}

	s.activePageBase = result.ActivePageBase
	s.writePointer = result.WritePointer
	s.pointers = result.Pointers
	s.dirtyBoot = result.DirtyBoot
	// A page whose records run right up to the sector boundary scans to
	// a write pointer at the boundary itself; pull it back the same way
	// the appender does so the next Write still detects the page as full
	// instead of landing in the neighboring page's header.
	if s.writePointer >= s.pageEnd() {
		s.writePointer = s.pageEnd() - blockHeaderHalf
	}
	s.initialized = true
	// Per the chosen recovery policy, errorDetected does not stay set
	// across a successful Open — DirtyBoot is the durable signal that
	// the prior session's data had to be discarded.
	s.errorDetected = false

	return s, nil
}

// layoutBlocks projects the Store's block schema into the shape the
// layout package expects, decoupling that internal package from the
// public Config/BlockSpec types.
func (s *Store) layoutBlocks() []layout.BlockSpec {
	out := make([]layout.BlockSpec, len(s.cfg.Blocks))
	for i, b := range s.cfg.Blocks {
		out[i] = layout.BlockSpec{Pattern: b.Pattern, Size: b.Size}
	}
	return out
}

// GetError reports whether any integrity error has been observed since
// the last successful Open. It is sticky within a session: a device fault
// on the write path (including garbage collection) that forces a region
// reset sets it, and it stays set until the Store is reopened. A failed
// Read (ErrCorrupt or ErrDeviceFault) does not set it.
func (s *Store) GetError() bool {
	return s.errorDetected
}

// DirtyBoot reports whether the most recent Open had to discard the
// region's prior contents due to corruption (a torn write, an unknown
// pattern, a double active page, and so on). It reflects the boot that
// produced this Store and does not change afterward.
func (s *Store) DirtyBoot() bool {
	return s.dirtyBoot
}

// pageEnd returns the address one past the end of the current active
// page.
func (s *Store) pageEnd() uint32 {
	return s.activePageBase + s.sectorSize
}

// hardReset forces a full region reset in response to a device fault
// observed mid-session (outside the boot-time scanner), bringing the
// in-RAM descriptor back in sync with flash. Unlike a fresh Open, this
// always marks the session as having observed an error.
func (s *Store) hardReset() error {
	result, err := layout.Reset(s.dev, s.regionStart, s.regionSize, s.layoutBlocks(), s.cfg.Defaults, s.log)
	if err != nil {
		s.initialized = false
		s.log.Fatalf("%srecovery reset failed: %v", logging.NSStore, err)
		return fmt.Errorf("%w: %v", ErrHardFail, err)
	}
	s.activePageBase = result.ActivePageBase
	s.writePointer = result.WritePointer
	s.pointers = result.Pointers
	s.errorDetected = true
	return nil
}
