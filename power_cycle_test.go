package nvblock

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestPowerCycleReconstructsReadPointers(t *testing.T) {
	dev := newTestDevice(2)
	cfg := testConfig(BlockSpec{Pattern: 0x0001, Size: 4}, BlockSpec{Pattern: 0x0002, Size: 4})

	s1, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Write(0x0001, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write 0x0001: %v", err)
	}
	if err := s1.Write(0x0002, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("Write 0x0002: %v", err)
	}
	// Overwrite 0x0001 so the scanner must pick the highest-occurrence copy,
	// not merely the first one it encounters.
	if err := s1.Write(0x0001, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("second Write 0x0001: %v", err)
	}

	// Tear down the in-RAM descriptor and reconstruct it from flash, as a
	// power cycle would.
	s2, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}

	buf := make([]byte, 4)
	if n, err := s2.Read(0x0001, buf); err != nil || !bytes.Equal(buf[:n], []byte{9, 9, 9, 9}) {
		t.Errorf("Read(0x0001) after power cycle = %v, %v, want {9,9,9,9}, nil", buf[:n], err)
	}
	if n, err := s2.Read(0x0002, buf); err != nil || !bytes.Equal(buf[:n], []byte{5, 6, 7, 8}) {
		t.Errorf("Read(0x0002) after power cycle = %v, %v, want {5,6,7,8}, nil", buf[:n], err)
	}
	if s2.DirtyBoot() {
		t.Errorf("DirtyBoot() = true after a clean power cycle, want false")
	}
}

func TestPowerCycleAfterPageRoll(t *testing.T) {
	dev := newTestDevice(2)
	cfg := testConfig(BlockSpec{Pattern: 0x0001, Size: 4}, BlockSpec{Pattern: 0x0002, Size: 4})

	s1, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	passengerPayload := []byte{0xCA, 0xFE, 0x00, 0x01}
	if err := s1.Write(0x0002, passengerPayload); err != nil {
		t.Fatalf("Write(passenger): %v", err)
	}
	var last []byte
	for i := byte(0); s1.activePageBase == s1.regionStart; i++ {
		last = []byte{i, i + 1, i + 2, i + 3}
		if err := s1.Write(0x0001, last); err != nil {
			t.Fatalf("Write round %d: %v", i, err)
		}
	}

	// Power cycle with the active page now at a nonzero base; the scan
	// must rebuild pointers as absolute addresses into that page.
	s2, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if s2.DirtyBoot() {
		t.Errorf("DirtyBoot() = true after a clean post-roll power cycle, want false")
	}
	if s2.activePageBase == s2.regionStart {
		t.Errorf("activePageBase = %#x, expected the rolled page", s2.activePageBase)
	}

	buf := make([]byte, 4)
	if n, err := s2.Read(0x0001, buf); err != nil || !bytes.Equal(buf[:n], last) {
		t.Errorf("Read(0x0001) after roll+cycle = %v, %v, want %v, nil", buf[:n], err, last)
	}
	if n, err := s2.Read(0x0002, buf); err != nil || !bytes.Equal(buf[:n], passengerPayload) {
		t.Errorf("Read(0x0002) after roll+cycle = %v, %v, want %v, nil", buf[:n], err, passengerPayload)
	}
}

func TestTornRecordRecoveryOnReopen(t *testing.T) {
	dev := newTestDevice(2)
	cfg := testConfig(BlockSpec{Pattern: 0x0001, Size: 4})

	s1, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}

	// Simulate a power loss partway through programming the record: only
	// the header and the first two payload bytes land before power is cut,
	// leaving the rest of the record's flash bytes at their erased value.
	dev.TearNextProgram(6)
	if err := s1.Write(0x0001, []byte{0xAA, 0xBB, 0xCC, 0xDD}); err != nil {
		t.Fatalf("torn Write: %v", err)
	}

	s2, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("second Open after torn write: %v", err)
	}
	if !s2.DirtyBoot() {
		t.Errorf("DirtyBoot() = false, want true: a torn record's CRC must not verify")
	}
	if !s2.initialized {
		t.Errorf("initialized = false, want true: the recovery erase itself succeeded")
	}
	if _, err := s2.Read(0x0001, make([]byte, 4)); !errors.Is(err, ErrNoReadPointer) {
		t.Errorf("Read(0x0001) after recovery reset: got %v, want ErrNoReadPointer", err)
	}
}

func TestMidSessionDeviceFaultResetsRegion(t *testing.T) {
	dev := newTestDevice(2)
	cfg := testConfig(BlockSpec{Pattern: 0x0001, Size: 4})

	s, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Write(0x0001, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("seed Write: %v", err)
	}
	if s.GetError() {
		t.Fatalf("GetError() = true before any fault, want false")
	}

	dev.FailNextProgram(1)
	err = s.Write(0x0001, []byte{5, 6, 7, 8})
	if !errors.Is(err, ErrDeviceFault) {
		t.Fatalf("Write during injected fault: got %v, want ErrDeviceFault", err)
	}
	if !s.GetError() {
		t.Errorf("GetError() = false after a mid-session device fault, want true")
	}
	if _, err := s.Read(0x0001, make([]byte, 4)); !errors.Is(err, ErrNoReadPointer) {
		t.Errorf("Read after fault-triggered reset: got %v, want ErrNoReadPointer", err)
	}

	// The store must still be usable after the reset.
	if err := s.Write(0x0001, []byte{7, 7, 7, 7}); err != nil {
		t.Fatalf("Write after recovery: %v", err)
	}
}

func TestHardFailLeavesStoreUninitialized(t *testing.T) {
	dev := newTestDevice(2)
	s, err := Open(dev, testConfig(BlockSpec{Pattern: 0x0001, Size: 4}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A program fault forces the recovery reset, and the armed erase
	// fault makes the reset itself fail: the store must stop honoring
	// calls entirely rather than run with flash it can't trust.
	dev.FailNextProgram(1)
	dev.FailNextErase(1)
	err = s.Write(0x0001, []byte{1, 2, 3, 4})
	if !errors.Is(err, ErrHardFail) {
		t.Fatalf("Write with failing recovery: got %v, want ErrHardFail", err)
	}
	if err := s.Write(0x0001, []byte{1, 2, 3, 4}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Write after hard fail: got %v, want ErrNotInitialized", err)
	}
	if _, err := s.Read(0x0001, make([]byte, 4)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Read after hard fail: got %v, want ErrNotInitialized", err)
	}
}

// fatalRecorder is a caller-supplied Logger that keeps only the fatal
// messages, for asserting the store both reports and reacts to a failed
// recovery through whatever Logger the Config carries.
type fatalRecorder struct {
	fatals []string
}

func (l *fatalRecorder) Errorf(format string, args ...any) {}
func (l *fatalRecorder) Warnf(format string, args ...any)  {}
func (l *fatalRecorder) Infof(format string, args ...any)  {}
func (l *fatalRecorder) Debugf(format string, args ...any) {}
func (l *fatalRecorder) Fatalf(format string, args ...any) {
	l.fatals = append(l.fatals, fmt.Sprintf(format, args...))
}

func TestFailedRecoveryReachesCallerLoggerAndStopsStore(t *testing.T) {
	dev := newTestDevice(2)
	rec := &fatalRecorder{}
	cfg := testConfig(BlockSpec{Pattern: 0x0001, Size: 4})
	cfg.Logger = rec

	s, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	dev.FailNextProgram(1)
	dev.FailNextErase(1)
	if err := s.Write(0x0001, []byte{1, 2, 3, 4}); !errors.Is(err, ErrHardFail) {
		t.Fatalf("Write with failing recovery: got %v, want ErrHardFail", err)
	}

	if len(rec.fatals) != 1 {
		t.Fatalf("caller logger saw %d fatal messages, want 1: %q", len(rec.fatals), rec.fatals)
	}
	if !s.GetError() {
		t.Errorf("GetError() = false after a failed recovery, want true")
	}
	if err := s.Write(0x0001, []byte{1, 2, 3, 4}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Write after the fatal transition: got %v, want ErrNotInitialized", err)
	}
}

func TestUninitializedRejectionTouchesNoDriver(t *testing.T) {
	dev := newTestDevice(2)
	var s Store
	s.dev = dev
	s.blocks = map[uint16]BlockSpec{0x0001: {Pattern: 0x0001, Size: 4}}

	before := dev.ProgramCalls() + dev.EraseCalls()
	if _, err := s.Read(0x0001, make([]byte, 4)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Read before Open: got %v, want ErrNotInitialized", err)
	}
	if err := s.Write(0x0001, []byte{1, 2, 3, 4}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Write before Open: got %v, want ErrNotInitialized", err)
	}
	if got := dev.ProgramCalls() + dev.EraseCalls(); got != before {
		t.Errorf("driver call count changed (%d -> %d) on an uninitialized store", before, got)
	}
}
