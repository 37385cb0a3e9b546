package nvblock

import "errors"

// Sentinel errors returned by Config validation, Open, Write, and Read.
// Callers should use errors.Is to test for these rather than comparing
// formatted messages.
var (
	// ErrInvalidConfig is returned by Open when a Config fails
	// validation (bad region geometry, duplicate or reserved patterns,
	// mismatched default payload sizes).
	ErrInvalidConfig = errors.New("nvblock: invalid configuration")

	// ErrCapacityExceeded is returned by Open when the configured
	// blocks cannot all fit in a single page, which would make garbage
	// collection unable to complete a page roll.
	ErrCapacityExceeded = errors.New("nvblock: configured blocks exceed page capacity")

	// ErrNotInitialized is returned by Write and Read when called before
	// a successful Open, or after Open failed.
	ErrNotInitialized = errors.New("nvblock: store is not initialized")

	// ErrUnknownBlock is returned by Write and Read when the pattern
	// does not match any configured block.
	ErrUnknownBlock = errors.New("nvblock: unknown block pattern")

	// ErrSizeMismatch is returned by Write when the payload length does
	// not equal the configured size for the block.
	ErrSizeMismatch = errors.New("nvblock: payload size does not match configured block size")

	// ErrNoReadPointer is returned by Read when the block has never
	// been written (and has no configured default).
	ErrNoReadPointer = errors.New("nvblock: block has no stored value")

	// ErrCorrupt is returned by Read when the stored record's CRC does
	// not verify.
	ErrCorrupt = errors.New("nvblock: stored record failed CRC verification")

	// ErrDeviceFault wraps an underlying flash.Device error observed
	// during a Write or Read. On the write path (including garbage
	// collection) the store attempts a full region reset before
	// propagating this to the caller; Read returns it without a reset.
	ErrDeviceFault = errors.New("nvblock: flash device operation failed")

	// ErrHardFail is returned when even the recovery reset could not
	// complete; the store is left uninitialized.
	ErrHardFail = errors.New("nvblock: recovery failed, store is unusable")
)
