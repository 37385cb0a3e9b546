/*
Package nvblock implements a log-structured block store for raw NOR flash:
fixed-size logical blocks, each identified by a 16-bit pattern, persisted
across power cycles in a two-sector rotating region with copy-forward
garbage collection.

# Usage

A caller configures a Config naming the flash region, its sector size, and
the schema of logical blocks it wants to store, opens a Store against a
flash.Device, and then calls Write and Read by block pattern:

	cfg := nvblock.DefaultConfig()
	cfg.RegionStart = 0
	cfg.RegionSize = 2 * 4096
	cfg.SectorSize = 4096
	cfg.Blocks = []nvblock.BlockSpec{{Pattern: 0x0001, Size: 10}}

	store, err := nvblock.Open(dev, cfg)
	if err != nil {
		// handle initialization failure
	}
	_ = store.Write(0x0001, payload)
	n, err := store.Read(0x0001, buf)

# Concurrency

A Store is not safe for concurrent use. The core is single-threaded and
synchronous by design: every call runs to completion against the
supplied flash.Device before returning, with no background goroutines
and no suspension points. Callers needing concurrent access must
serialize their own calls.

# Durability

Every record carries a CRC-32 over its payload. A power loss during a
program leaves at most one record with a broken checksum; the next Open
detects the anomaly and resets the region rather than risk serving a
torn value. See DESIGN.md for the full recovery policy.
*/
package nvblock
