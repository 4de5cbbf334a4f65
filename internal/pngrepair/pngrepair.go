// Package pngrepair implements the PNG structural repair engine: given the
// raw bytes of a file purporting to be a PNG, it reconstructs a
// byte-for-byte valid header, IHDR, critical ancillary chunks, IDAT stream
// and IEND terminator.
//
// The step ordering, the DOS→Unix IDAT repair, and the "drop unknown
// ancillary chunks" rule all follow PNG Check & Repair Tool conventions.
// Repair is kept a pure function of its input bytes plus an injected IHDR
// lookup — it
// performs no I/O and knows nothing about results.json, archives, or the
// filesystem; the pcrt analyzer adapter (internal/analyzer) owns all of
// that, decoupling repair logic from artifact materialization.
package pngrepair

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// IHDRRow is one candidate (width, height, bit_depth, color_type,
// interlace) reconstruction for a given CRC — the shape internal/ihdrtable
// returns, duplicated here so this package stays free of a DB dependency.
type IHDRRow struct {
	Width, Height       int
	BitDepth, ColorType uint8
	Interlace           uint8
}

// IHDRLookup resolves the candidate rows sharing crc.
type IHDRLookup func(crc uint32) ([]IHDRRow, error)

// Result is everything Repair learned and produced.
type Result struct {
	Output         []byte
	Fixed          bool
	ExtraAfterIEND []byte
	Log            []string
	Errors         []string
}

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

var canonicalIEND = []byte{0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82}

// criticalAncillary is the set of ancillary chunk types the repair engine
// keeps — every other non-IHDR/IDAT/IEND chunk is dropped as non-critical
// to rendering and potentially invalid.
var criticalAncillary = map[string]bool{
	"PLTE": true, "tRNS": true, "cHRM": true, "gAMA": true, "iCCP": true,
	"sBIT": true, "sRGB": true, "bKGD": true, "hIST": true, "pHYs": true, "sPLT": true,
}

// maxBruteForceDim bounds the IHDR dimension brute force to [1, 5000).
const maxBruteForceDim = 5000

// maxDOSUnixK bounds how many missing 0x0A->0x0D re-insertions the DOS→Unix
// repair will attempt. The underlying search is O(C(n,k)) and pathological
// IDAT chunks can make it catastrophic — this module caps k rather than
// search time, since a combinatorial explosion in k is the dominant cost
// driver.
const maxDOSUnixK = 16

// maxDOSUnixCombinations bounds the total number of candidate subsets
// tried before giving up and falling back to an unchanged copy.
const maxDOSUnixCombinations = 2_000_000

// Repair reconstructs a PNG from possibly-corrupt input bytes. lookup may be nil, in which case IHDR recovery always falls
// through to the brute-force search.
func Repair(input []byte, lookup IHDRLookup) Result {
	r := Result{}

	if !hasAll(input, "IHDR", "IDAT", "IEND") {
		r.Errors = append(r.Errors, "File may not be a PNG image")
		return r
	}

	var buf bytes.Buffer

	if len(input) >= 8 && bytes.Equal(input[:8], pngHeader) {
		buf.Write(pngHeader)
	} else {
		buf.Write(pngHeader)
		r.Fixed = true
		r.Log = append(r.Log, "replaced missing/invalid PNG header")
	}

	ihdrEnd, bitDepth, colorType, interlace, ok := repairIHDR(input, &buf, &r, lookup)
	if !ok {
		return r
	}

	firstIDAT := bytes.Index(input, []byte("IDAT"))
	firstIDATChunkStart := firstIDAT - 4

	repairAncillaryChunks(input, ihdrEnd, firstIDATChunkStart, &buf, &r)

	iendTag := bytes.Index(input, []byte("IEND"))
	iendChunkStart := iendTag - 4

	repairIDATChunks(input, firstIDATChunkStart, iendChunkStart, &buf, &r)

	_ = bitDepth
	_ = colorType
	_ = interlace

	if iendChunkStart+12 <= len(input) && bytes.Equal(input[iendChunkStart:iendChunkStart+12], canonicalIEND) {
		buf.Write(canonicalIEND)
	} else {
		buf.Write(canonicalIEND)
		r.Fixed = true
		r.Log = append(r.Log, "replaced missing/invalid IEND chunk")
	}

	if iendChunkStart+12 < len(input) {
		r.ExtraAfterIEND = append([]byte(nil), input[iendChunkStart+12:]...)
	}

	r.Output = buf.Bytes()
	return r
}

func hasAll(data []byte, tags ...string) bool {
	for _, t := range tags {
		if !bytes.Contains(data, []byte(t)) {
			return false
		}
	}
	return true
}

func crcOf(tagAndData []byte) uint32 {
	return crc32.ChecksumIEEE(tagAndData)
}

func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// repairIHDR locates, validates and (if necessary) reconstructs the IHDR
// chunk. It returns the offset in input just past the
// original IHDR chunk (for locating what follows it) and the bit depth,
// color type and interlace values used, read from whichever IHDR data bytes
// ended up accepted.
func repairIHDR(input []byte, buf *bytes.Buffer, r *Result, lookup IHDRLookup) (ihdrEnd int, bitDepth, colorType, interlace uint8, ok bool) {
	tagOffset := bytes.Index(input, []byte("IHDR"))
	chunkStart := tagOffset - 4
	dataStart := tagOffset + 4
	dataEnd := dataStart + 13
	crcEnd := dataEnd + 4

	if chunkStart < 0 || crcEnd > len(input) {
		r.Errors = append(r.Errors, "IHDR chunk is truncated")
		return 0, 0, 0, 0, false
	}

	data := append([]byte(nil), input[dataStart:dataEnd]...)
	storedCRC := be32(input[dataEnd:crcEnd])
	computed := crcOf(append([]byte("IHDR"), data...))

	if computed == storedCRC {
		buf.Write(input[chunkStart:crcEnd])
		return crcEnd, data[8], data[9], data[12], true
	}

	recovered, note := recoverIHDRData(storedCRC, data, lookup)
	if recovered == nil {
		r.Errors = append(r.Errors, "Could not recover IHDR dimensions")
		buf.Write(input[chunkStart:crcEnd])
		return crcEnd, data[8], data[9], data[12], true
	}

	r.Fixed = true
	r.Log = append(r.Log, note)

	var out bytes.Buffer
	lenField := make([]byte, 4)
	putBE32(lenField, 13)
	out.Write(lenField)
	out.WriteString("IHDR")
	out.Write(recovered)
	crcField := make([]byte, 4)
	putBE32(crcField, crcOf(append([]byte("IHDR"), recovered...)))
	out.Write(crcField)
	buf.Write(out.Bytes())

	return crcEnd, recovered[8], recovered[9], recovered[12], true
}

func buildIHDRData(width, height uint32, bitDepth, colorType, interlace uint8) []byte {
	d := make([]byte, 13)
	putBE32(d[0:4], width)
	putBE32(d[4:8], height)
	d[8] = bitDepth
	d[9] = colorType
	d[10] = 0
	d[11] = 0
	d[12] = interlace
	return d
}

// recoverIHDRData implements the IHDR recovery path: a DB lookup first,
// then a width/height brute force holding bit_depth/color_type/interlace at
// whatever the corrupt data already carries (the assumption is that only
// the dimension fields were tampered with).
func recoverIHDRData(storedCRC uint32, original []byte, lookup IHDRLookup) ([]byte, string) {
	if lookup != nil {
		if rows, err := lookup(storedCRC); err == nil {
			for _, row := range rows {
				candidate := buildIHDRData(uint32(row.Width), uint32(row.Height), row.BitDepth, row.ColorType, row.Interlace)
				if crcOf(append([]byte("IHDR"), candidate...)) == storedCRC {
					return candidate, fmt.Sprintf("recovered IHDR via CRC lookup: %dx%d", row.Width, row.Height)
				}
			}
		}
	}

	bitDepth, colorType, interlace := original[8], original[9], original[12]
	for width := 1; width < maxBruteForceDim; width++ {
		for height := 1; height < maxBruteForceDim; height++ {
			candidate := buildIHDRData(uint32(width), uint32(height), bitDepth, colorType, interlace)
			if crcOf(append([]byte("IHDR"), candidate...)) == storedCRC {
				return candidate, fmt.Sprintf("recovered IHDR via brute force: %dx%d", width, height)
			}
		}
	}
	return nil, ""
}

// repairAncillaryChunks walks every chunk between the end of IHDR and the
// start of the first IDAT, keeping only the critical set and fixing each
// kept chunk's CRC.
func repairAncillaryChunks(input []byte, from, to int, buf *bytes.Buffer, r *Result) {
	pos := from
	for pos+8 <= to && pos+8 <= len(input) {
		length := int(be32(input[pos : pos+4]))
		chunkType := string(input[pos+4 : pos+8])
		dataStart := pos + 8
		dataEnd := dataStart + length
		crcEnd := dataEnd + 4
		if length < 0 || crcEnd > len(input) || crcEnd > to {
			break
		}

		if criticalAncillary[chunkType] {
			data := input[dataStart:dataEnd]
			storedCRC := be32(input[dataEnd:crcEnd])
			computed := crcOf(append([]byte(chunkType), data...))

			if computed == storedCRC {
				buf.Write(input[pos:crcEnd])
			} else {
				buf.Write(input[pos:dataEnd])
				crcField := make([]byte, 4)
				putBE32(crcField, computed)
				buf.Write(crcField)
				r.Fixed = true
				r.Log = append(r.Log, fmt.Sprintf("fixed CRC of ancillary chunk %s", chunkType))
			}
		}
		pos = crcEnd
	}
}

// repairIDATChunks walks every IDAT occurrence between from and to (the
// start of the IEND chunk), repairing length/CRC mismatches via the
// DOS→Unix re-insertion search and otherwise fixing a wrong CRC in place
//.
func repairIDATChunks(input []byte, from, to int, buf *bytes.Buffer, r *Result) {
	pos := from
	for pos >= 0 && pos < to {
		if pos+8 > len(input) {
			break
		}
		tag := string(input[pos+4 : pos+8])
		if tag != "IDAT" {
			break
		}

		declaredLength := int(be32(input[pos : pos+4]))
		dataStart := pos + 8

		nextStart := nextChunkStart(input, dataStart, to)
		actualDataEnd := nextStart - 4
		if actualDataEnd < dataStart || actualDataEnd+4 > len(input) {
			break
		}
		actualLen := actualDataEnd - dataStart
		actualData := input[dataStart:actualDataEnd]
		storedCRC := be32(input[actualDataEnd : actualDataEnd+4])

		if actualLen == declaredLength {
			computed := crcOf(append([]byte("IDAT"), actualData...))
			if computed == storedCRC {
				buf.Write(input[pos : actualDataEnd+4])
			} else {
				buf.Write(input[pos:actualDataEnd])
				crcField := make([]byte, 4)
				putBE32(crcField, computed)
				buf.Write(crcField)
				r.Fixed = true
				r.Log = append(r.Log, "fixed CRC of IDAT chunk")
			}
		} else {
			k := declaredLength - actualLen
			repaired, found := dosUnixRepair(actualData, k, storedCRC)
			if found {
				lenField := make([]byte, 4)
				putBE32(lenField, uint32(declaredLength))
				buf.Write(lenField)
				buf.WriteString("IDAT")
				buf.Write(repaired)
				crcField := make([]byte, 4)
				putBE32(crcField, storedCRC)
				buf.Write(crcField)
				r.Fixed = true
				r.Log = append(r.Log, fmt.Sprintf("repaired IDAT chunk via DOS→Unix re-insertion (k=%d)", k))
			} else {
				buf.Write(input[pos : actualDataEnd+4])
				r.Errors = append(r.Errors, "failed to repair length-mismatched IDAT chunk")
			}
		}

		pos = nextStart
	}
}

// nextChunkStart returns the offset of the next chunk's length field after
// from, bounded by to (the IEND chunk start, which always terminates the
// IDAT run).
func nextChunkStart(input []byte, from, to int) int {
	rest := input[from:]
	idatRel := bytes.Index(rest, []byte("IDAT"))
	candidates := []int{to}
	if idatRel >= 0 {
		candidates = append(candidates, from+idatRel-4)
	}
	best := to
	for _, c := range candidates {
		if c >= from && c < best {
			best = c
		}
	}
	return best
}

// dosUnixRepair searches for a k-subset of 0x0A positions in data at which
// re-inserting a 0x0D byte immediately before each produces a payload whose
// CRC32("IDAT" || payload) equals wantCRC. Candidate
// subsets are tried in ascending lexicographic order over the 0x0A position
// list, matching "accept the first such subset (lexicographic over the
// combination iterator)".
func dosUnixRepair(data []byte, k int, wantCRC uint32) ([]byte, bool) {
	if k <= 0 || k > maxDOSUnixK {
		return nil, false
	}

	var positions []int
	for i, b := range data {
		if b == 0x0A {
			positions = append(positions, i)
		}
	}
	if k > len(positions) {
		return nil, false
	}

	combo := make([]int, k)
	for i := range combo {
		combo[i] = i
	}

	tried := 0
	for {
		if tried >= maxDOSUnixCombinations {
			return nil, false
		}
		tried++

		chosen := make([]int, k)
		for i, idx := range combo {
			chosen[i] = positions[idx]
		}
		candidate := insertBeforeEach(data, chosen, 0x0D)
		if crcOf(append([]byte("IDAT"), candidate...)) == wantCRC {
			return candidate, true
		}

		if !nextCombination(combo, len(positions)) {
			return nil, false
		}
	}
}

// insertBeforeEach returns a copy of data with byte b inserted immediately
// before each position in positions (which must be ascending).
func insertBeforeEach(data []byte, positions []int, b byte) []byte {
	out := make([]byte, 0, len(data)+len(positions))
	prev := 0
	for _, p := range positions {
		out = append(out, data[prev:p]...)
		out = append(out, b)
		prev = p
	}
	out = append(out, data[prev:]...)
	return out
}

// nextCombination advances combo (ascending indices into [0, n)) to the
// next lexicographic k-combination, returning false once exhausted.
func nextCombination(combo []int, n int) bool {
	k := len(combo)
	i := k - 1
	for i >= 0 && combo[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	combo[i]++
	for j := i + 1; j < k; j++ {
		combo[j] = combo[j-1] + 1
	}
	return true
}
