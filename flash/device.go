// Package flash defines the low-level NOR flash driver contract the rest
// of nvblock is built on, plus an in-memory implementation for tests.
//
// Real NOR flash can only ever clear bits (1 -> 0) when programmed; the
// only way to set a bit back to 1 is to erase the containing sector, which
// clears the whole sector to 0xFF. Every component above this package
// treats those two facts as physical law: Program is never called on a
// region it doesn't already believe to be erased or compatible, and the
// only way forward once a sector is dirty is EraseSector.
package flash

// Device is the driver contract consumed by the layout scanner, the
// appender, and the garbage collector. A real implementation talks to a
// memory-mapped NOR part or a driver IC over SPI; MemDevice in this
// package is a software stand-in for tests. Nvblock is single-threaded
// by design (one caller, no concurrent access to a Device), so this
// interface carries no context.Context — there is nothing here to cancel.
//
// Addresses are absolute offsets into the flash region nvblock has been
// configured to own, not the flash part's own address space — callers
// (store.go) are responsible for adding any base offset before reaching
// this interface.
type Device interface {
	// Read copies len(dst) bytes starting at addr into dst.
	Read(addr uint32, dst []byte) error

	// Program writes src at addr. Only 1->0 bit transitions take effect;
	// a Program call that tries to set a bit the device already reads as
	// 0 back to 1 leaves that bit at 0, mirroring real NOR flash.
	Program(addr uint32, src []byte) error

	// EraseSector resets every byte in the sector containing addr to
	// 0xFF. addr need not be sector-aligned; implementations round down.
	EraseSector(addr uint32) error

	// ChipErase resets the entire managed region to 0xFF.
	ChipErase() error

	// SectorSize reports the erase granularity, in bytes.
	SectorSize() uint32

	// Size reports the total size of the managed region, in bytes.
	Size() uint32
}
