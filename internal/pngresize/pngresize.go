// Package pngresize implements PNG dimension recovery: given a
// PNG whose declared IHDR dimensions were tampered with (CRC now invalid),
// it proposes one or more plausible corrected (width, height) pairs and
// splices each into a standalone recovered PNG.
//
// It drives the same DB-then-brute-force strategy as internal/pngrepair's
// IHDR step but keeps every accepted candidate (plural) rather than
// stopping at the first — the image_resize analyzer may legitimately
// surface more than one plausible reconstruction for the user to compare.
package pngresize

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// IHDRRow mirrors internal/pngrepair.IHDRRow — duplicated to keep this
// package free of a cross-package type dependency (both are adapted from
// the same internal/ihdrtable.Row shape).
type IHDRRow struct {
	Width, Height       int
	BitDepth, ColorType uint8
	Interlace           uint8
}

// IHDRLookup resolves candidate rows sharing crc.
type IHDRLookup func(crc uint32) ([]IHDRRow, error)

// Candidate is one accepted (width, height) reconstruction.
type Candidate struct {
	Width, Height int
	// PNG holds the full recovered file: the original bytes with only the
	// width/height fields of IHDR spliced.
	PNG []byte
}

// fallbackMinHeight and fallbackMaxHeight bound the brute-force fallback
// height range. This range is an arbitrary tunable; kept as documented
// defaults rather than silently widened.
const (
	fallbackMinHeight = 100
	fallbackMaxHeight = 3500
)

func be32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

func ihdrCRC(width, height uint32, bitDepth, colorType, interlace uint8) uint32 {
	data := make([]byte, 13)
	putBE32(data[0:4], width)
	putBE32(data[4:8], height)
	data[8] = bitDepth
	data[9] = colorType
	data[10] = 0
	data[11] = 0
	data[12] = interlace
	h := crc32.NewIEEE()
	h.Write([]byte("IHDR"))
	h.Write(data)
	return h.Sum32()
}

// splice rebuilds a PNG by replacing the width (bytes [16,20)) and height
// (bytes [20,24)) fields of the first IHDR chunk, keeping everything else —
// including the now-stale CRC, which the caller is responsible for fixing
// up if it cares to.
func splice(original []byte, width, height uint32) []byte {
	out := append([]byte(nil), original...)
	putBE32(out[16:20], width)
	putBE32(out[20:24], height)
	return out
}

// Recover reconstructs plausible (width, height) pairs for a PNG whose
// stored IHDR CRC no longer validates. input must be at least 33 bytes
// (8-byte header + 25-byte IHDR chunk) with a standard layout: width at
// [16,20), height at [20,24), bit_depth at byte 24, color_type at byte 25,
// interlace at byte 28, CRC at [29,33).
func Recover(input []byte, lookup IHDRLookup) ([]Candidate, string, error) {
	if len(input) < 33 {
		return nil, "", fmt.Errorf("pngresize: input too short to contain an IHDR chunk")
	}

	width := be32(input[16:20])
	height := be32(input[20:24])
	bitDepth := input[24]
	colorType := input[25]
	interlace := input[28]
	storedCRC := be32(input[29:33])

	if ihdrCRC(width, height, bitDepth, colorType, interlace) == storedCRC {
		return nil, "IHDR CRC is already valid; no dimension recovery needed", nil
	}

	var candidates []Candidate
	seen := map[[2]int]bool{}

	if lookup != nil {
		rows, err := lookup(storedCRC)
		if err == nil {
			for _, row := range rows {
				if ihdrCRC(uint32(row.Width), uint32(row.Height), row.BitDepth, row.ColorType, row.Interlace) != storedCRC {
					continue
				}
				key := [2]int{row.Width, row.Height}
				if seen[key] {
					continue
				}
				seen[key] = true
				candidates = append(candidates, Candidate{
					Width:  row.Width,
					Height: row.Height,
					PNG:    splice(input, uint32(row.Width), uint32(row.Height)),
				})
			}
		}
	}

	if len(candidates) == 0 {
		for h := fallbackMinHeight; h <= fallbackMaxHeight; h++ {
			if ihdrCRC(width, uint32(h), bitDepth, colorType, interlace) == storedCRC {
				key := [2]int{int(width), h}
				if seen[key] {
					continue
				}
				seen[key] = true
				candidates = append(candidates, Candidate{
					Width:  int(width),
					Height: h,
					PNG:    splice(input, width, uint32(h)),
				})
			}
		}
	}

	return candidates, "", nil
}

// FileName returns the "recovered_<w>x<h>.png" artifact name for a
// candidate.
func (c Candidate) FileName() string {
	return fmt.Sprintf("recovered_%dx%d.png", c.Width, c.Height)
}
