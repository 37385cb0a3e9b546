// Command nvdump reads a captured nvblock region from a raw binary file
// pulled off real hardware (it does not read a live flash.Device) and
// writes a support bundle a developer can attach to a bug report: the
// region's raw pages plus a manifest describing every record nvdump could
// decode.
//
// Usage:
//
//	nvdump --file=<path> --blocks=<pattern:size,...> [options]
//
// nvdump decodes what the on-flash format allows, prints a summary, and
// lets --archive pick how the bundle itself (not the wire format) gets
// packed for transport.
package main

import (
	"bytes"
	"compress/flate"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/xxh3"

	"github.com/nvblock/nvblock/internal/layout"
	"github.com/nvblock/nvblock/internal/record"
)

var (
	filePath   = flag.String("file", "", "path to a raw binary capture of the region (required)")
	blocksFlag = flag.String("blocks", "", "comma-separated pattern:size pairs, e.g. 0x0001:10,0x0002:4 (required)")
	regionSize = flag.Uint("region-size", 0, "total region size in bytes; defaults to the file size")
	sectorSize = flag.Uint("sector-size", 4096, "flash sector size in bytes")
	outPath    = flag.String("out", "", "output bundle path (default: <file>.nvdump)")
	archive    = flag.String("archive", "none", "bundle compression: none, snappy, lz4, or zstd")
	help       = flag.Bool("help", false, "print usage")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *filePath == "" || *blocksFlag == "" {
		fmt.Fprintln(os.Stderr, "nvdump: --file and --blocks are required")
		printUsage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nvdump: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: nvdump --file=<path> --blocks=<pattern:size,...> [--archive=none|snappy|lz4|zstd] [--out=<path>]")
	flag.PrintDefaults()
}

func run() error {
	data, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("reading capture: %w", err)
	}

	blocks, err := parseBlocks(*blocksFlag)
	if err != nil {
		return fmt.Errorf("parsing --blocks: %w", err)
	}

	size := uint32(*regionSize)
	if size == 0 {
		size = uint32(len(data))
	}
	if uint64(size) > uint64(len(data)) {
		return fmt.Errorf("region-size (%d) exceeds capture length (%d)", size, len(data))
	}
	sector := uint32(*sectorSize)
	if sector == 0 || size%sector != 0 {
		return fmt.Errorf("region size %d is not a multiple of sector size %d", size, sector)
	}

	manifest := buildManifest(data[:size], sector, blocks)

	out := *outPath
	if out == "" {
		out = *filePath + ".nvdump"
	}
	bundle := bytes.Join([][]byte{data[:size], []byte(manifest)}, []byte{0})

	packed, err := compressBundle(*archive, bundle)
	if err != nil {
		return fmt.Errorf("compressing bundle: %w", err)
	}
	if err := os.WriteFile(out, packed, 0o644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	fmt.Printf("wrote %s (%d bytes, archive=%s)\n", out, len(packed), *archive)
	fmt.Print(manifest)
	return nil
}

// blockTable is the pattern/size schema nvdump was told about via --blocks;
// it has no access to a live Config, since the whole point of the tool is to
// make sense of a capture pulled off a device that may no longer be running.
type blockTable map[uint16]int

func parseBlocks(spec string) (blockTable, error) {
	table := make(blockTable)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed entry %q, want pattern:size", entry)
		}
		pattern, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("parsing pattern in %q: %w", entry, err)
		}
		size, err := strconv.Atoi(parts[1])
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("parsing size in %q: %w", entry, err)
		}
		table[uint16(pattern)] = size
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("no blocks given")
	}
	return table, nil
}

// buildManifest walks every page in data and renders a human-readable
// summary plus a trailing fingerprint line, independent of the archive
// chosen for the bundle: the fingerprint is computed over the decoded
// record list so two dumps of the same logical flash state hash
// identically even if retaken minutes apart with a different --archive.
func buildManifest(data []byte, sector uint32, blocks blockTable) string {
	byPattern := make(map[uint16]layout.BlockSpec, len(blocks))
	for pattern, size := range blocks {
		byPattern[pattern] = layout.BlockSpec{Pattern: pattern, Size: size}
	}

	var buf bytes.Buffer
	var fingerprint bytes.Buffer

	pages := uint32(len(data)) / sector
	for i := uint32(0); i < pages; i++ {
		page := data[i*sector : (i+1)*sector]
		state := layout.ParsePageHeader(page[:layout.HeaderSize])
		fmt.Fprintf(&buf, "page %d @ %#08x: %s\n", i, i*sector, pageStateName(state))

		offset := layout.HeaderSize
		for offset+record.HeaderSize <= len(page) {
			header := page[offset : offset+record.HeaderSize]
			if record.Empty(header) {
				fmt.Fprintf(&buf, "  tail at offset %#x\n", offset)
				break
			}
			pattern, occurrence := record.ParseHeader(header)
			spec, known := byPattern[pattern]
			if !known {
				fmt.Fprintf(&buf, "  offset %#x: unknown pattern %#04x, stopping scan\n", offset, pattern)
				break
			}
			size := record.Size(spec.Size)
			if offset+size > len(page) {
				fmt.Fprintf(&buf, "  offset %#x: record for pattern %#04x runs past page end\n", offset, pattern)
				break
			}
			rec := page[offset : offset+size]
			payload := rec[record.HeaderSize : record.HeaderSize+spec.Size]
			ok := record.Verify(rec, payload)
			fmt.Fprintf(&buf, "  offset %#x: pattern %#04x occurrence %d crc=%s\n", offset, pattern, occurrence, crcLabel(ok))
			fmt.Fprintf(&fingerprint, "%d:%04x:%d:%v;", i, pattern, occurrence, ok)
			offset += size
		}
	}

	fmt.Fprintf(&buf, "fingerprint: %016x\n", xxh3.Hash(fingerprint.Bytes()))
	return buf.String()
}

func pageStateName(s layout.PageState) string {
	switch s {
	case layout.PageErased:
		return "erased"
	case layout.PageActive:
		return "active"
	case layout.PageStale:
		return "stale"
	default:
		return "corrupt"
	}
}

func crcLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

// compressBundle packs bundle for transport. This has nothing to do with
// the on-flash format, which stays raw and uncompressed — it is purely
// how nvdump shrinks the support bundle it just wrote.
func compressBundle(kind string, bundle []byte) ([]byte, error) {
	switch kind {
	case "none":
		return bundle, nil
	case "snappy":
		return snappy.Encode(nil, bundle), nil
	case "lz4":
		return compressLZ4(bundle)
	case "zstd":
		return compressZstd(bundle)
	default:
		return nil, fmt.Errorf("unknown archive kind %q", kind)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst, ht[:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible (or too small to benefit); fall back to flate
		// rather than ship the lz4 "no savings" zero-length sentinel.
		var out bytes.Buffer
		w, err := flate.NewWriter(&out, flate.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, nil), nil
}
