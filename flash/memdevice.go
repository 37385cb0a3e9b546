package flash

import (
	"errors"
	"sync"
)

var (
	// ErrInjectedReadFault is returned by Read when read fault injection
	// is armed.
	ErrInjectedReadFault = errors.New("flash: injected read fault")

	// ErrInjectedProgramFault is returned by Program when program fault
	// injection is armed.
	ErrInjectedProgramFault = errors.New("flash: injected program fault")

	// ErrInjectedEraseFault is returned by EraseSector/ChipErase when
	// erase fault injection is armed.
	ErrInjectedEraseFault = errors.New("flash: injected erase fault")

	// ErrOutOfRange is returned when an operation addresses bytes outside
	// the managed region.
	ErrOutOfRange = errors.New("flash: address out of range")
)

// MemDevice is an in-memory Device that models NOR flash physics faithfully
// enough to exercise the layout scanner and appender under test: Program
// only clears bits, EraseSector/ChipErase reset to 0xFF, and a handful of
// knobs let a test arm a fault that fires on the next n calls to a given
// operation or tear a program off partway through, simulating a power
// loss mid-write.
//
// MemDevice is safe for concurrent use; the core above it is not expected
// to call it concurrently, but tests that poke at it from a second
// goroutine (to simulate a tear arriving mid-call) need the lock held
// throughout each operation.
type MemDevice struct {
	mu         sync.Mutex
	data       []byte
	sectorSize uint32

	programCalls int
	eraseCalls   int

	failReadIn    int // >0: fail this many calls from now, then clear
	failProgramIn int
	failEraseIn   int

	// tearAtBytes, when >= 0, truncates the NEXT Program call to write
	// only this many leading bytes before returning success, simulating
	// a power loss that lands mid-record. It is consumed (reset to -1)
	// after firing once.
	tearAtBytes int
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice allocates a simulated flash region of size bytes, erased
// (all 0xFF), with the given sector erase granularity.
func NewMemDevice(size, sectorSize uint32) *MemDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &MemDevice{
		data:        data,
		sectorSize:  sectorSize,
		tearAtBytes: -1,
	}
}

func (d *MemDevice) SectorSize() uint32 { return d.sectorSize }
func (d *MemDevice) Size() uint32       { return uint32(len(d.data)) }

func (d *MemDevice) Read(addr uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failReadIn > 0 {
		d.failReadIn--
		return ErrInjectedReadFault
	}
	if uint64(addr)+uint64(len(dst)) > uint64(len(d.data)) {
		return ErrOutOfRange
	}
	copy(dst, d.data[addr:int(addr)+len(dst)])
	return nil
}

func (d *MemDevice) Program(addr uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.programCalls++
	if d.failProgramIn > 0 {
		d.failProgramIn--
		return ErrInjectedProgramFault
	}
	if uint64(addr)+uint64(len(src)) > uint64(len(d.data)) {
		return ErrOutOfRange
	}

	n := len(src)
	if d.tearAtBytes >= 0 {
		if d.tearAtBytes < n {
			n = d.tearAtBytes
		}
		d.tearAtBytes = -1
	}

	for i := 0; i < n; i++ {
		d.data[int(addr)+i] &= src[i]
	}
	return nil
}

func (d *MemDevice) EraseSector(addr uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.eraseCalls++
	if d.failEraseIn > 0 {
		d.failEraseIn--
		return ErrInjectedEraseFault
	}
	if addr >= uint32(len(d.data)) {
		return ErrOutOfRange
	}

	start := (addr / d.sectorSize) * d.sectorSize
	end := start + d.sectorSize
	if end > uint32(len(d.data)) {
		end = uint32(len(d.data))
	}
	for i := start; i < end; i++ {
		d.data[i] = 0xFF
	}
	return nil
}

func (d *MemDevice) ChipErase() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.eraseCalls++
	if d.failEraseIn > 0 {
		d.failEraseIn--
		return ErrInjectedEraseFault
	}
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return nil
}

// FailNextRead arms n consecutive future Read calls to fail.
func (d *MemDevice) FailNextRead(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReadIn = n
}

// FailNextProgram arms n consecutive future Program calls to fail.
func (d *MemDevice) FailNextProgram(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failProgramIn = n
}

// FailNextErase arms n consecutive future EraseSector/ChipErase calls to
// fail.
func (d *MemDevice) FailNextErase(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failEraseIn = n
}

// TearNextProgram arms the next Program call to apply only the first n
// bytes of its source and silently drop the rest, modeling a power loss
// partway through a flash program cycle. The call still returns nil: the
// device has no way to know the write was cut short, which is exactly
// what makes torn writes dangerous and why every record carries a CRC.
func (d *MemDevice) TearNextProgram(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tearAtBytes = n
}

// ProgramCalls returns the number of Program calls observed so far,
// including failed and torn ones. Tests use this to assert that a
// dedup-suppressed write issued zero Program calls.
func (d *MemDevice) ProgramCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.programCalls
}

// EraseCalls returns the number of EraseSector/ChipErase calls observed
// so far.
func (d *MemDevice) EraseCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eraseCalls
}

// Snapshot returns a copy of the raw flash contents, for tests that want
// to corrupt bytes directly (e.g. flipping a CRC trailer to simulate a
// torn write landing after the checksum rather than before it) and then
// feed the result back in with Restore.
func (d *MemDevice) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

// Restore replaces the raw flash contents with data, which must be the
// same length as the device. Used together with Snapshot to inject
// corruption a real Program call could never produce (e.g. flipping a
// bit back to 1 without an erase), for testing the scanner's response to
// bitrot rather than torn writes.
func (d *MemDevice) Restore(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.data, data)
}
