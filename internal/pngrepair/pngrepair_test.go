package pngrepair

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func chunk(tag string, data []byte) []byte {
	var b bytes.Buffer
	lenField := make([]byte, 4)
	binary.BigEndian.PutUint32(lenField, uint32(len(data)))
	b.Write(lenField)
	b.WriteString(tag)
	b.Write(data)
	crcField := make([]byte, 4)
	binary.BigEndian.PutUint32(crcField, crc32.ChecksumIEEE(append([]byte(tag), data...)))
	b.Write(crcField)
	return b.Bytes()
}

func buildPNG(width, height uint32, idat []byte) []byte {
	var b bytes.Buffer
	b.Write(pngHeader)
	ihdrData := buildIHDRData(width, height, 8, 0, 0)
	b.Write(chunk("IHDR", ihdrData))
	b.Write(chunk("IDAT", idat))
	b.Write(canonicalIEND)
	return b.Bytes()
}

func TestRepair_ValidPNG_Unchanged(t *testing.T) {
	input := buildPNG(64, 64, []byte("some compressed bytes"))
	res := Repair(input, nil)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Fixed {
		t.Fatalf("expected Fixed=false for an already-valid PNG, log=%v", res.Log)
	}
	if !bytes.Equal(res.Output, input) {
		t.Fatalf("output diverged from a valid input:\ngot  %x\nwant %x", res.Output, input)
	}
}

func TestRepair_NotAPNG(t *testing.T) {
	res := Repair([]byte("definitely not a png"), nil)
	if len(res.Errors) == 0 {
		t.Fatalf("expected a sanity-gate error")
	}
}

func TestRepair_CorruptWidthRecoveredViaLookup(t *testing.T) {
	width, height := uint32(64), uint32(64)
	correctData := buildIHDRData(width, height, 8, 0, 0)
	correctCRC := crc32.ChecksumIEEE(append([]byte("IHDR"), correctData...))

	// Corrupt only the width field, but keep the chunk's CRC as it was
	// computed for the *original* (correct) dimensions — simulating a
	// tamper that touches the width field without touching the IHDR CRC.
	tampered := append([]byte(nil), correctData...)
	binary.BigEndian.PutUint32(tampered[0:4], 999)

	var b bytes.Buffer
	b.Write(pngHeader)
	b.Write(len4(13))
	b.WriteString("IHDR")
	b.Write(tampered)
	b.Write(len4(correctCRC))
	b.Write(chunk("IDAT", []byte("payload")))
	b.Write(canonicalIEND)

	lookup := func(crc uint32) ([]IHDRRow, error) {
		if crc != correctCRC {
			return nil, nil
		}
		return []IHDRRow{{Width: int(width), Height: int(height), BitDepth: 8, ColorType: 0, Interlace: 0}}, nil
	}

	res := Repair(b.Bytes(), lookup)
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if !res.Fixed {
		t.Fatalf("expected Fixed=true, log=%v", res.Log)
	}

	gotIHDRData := res.Output[16 : 16+13]
	if !bytes.Equal(gotIHDRData, correctData) {
		t.Fatalf("recovered IHDR data = %x, want %x", gotIHDRData, correctData)
	}
}

func len4(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestDosUnixRepair_ReinsertsCR(t *testing.T) {
	// origWithCR is what the IDAT payload looked like before a DOS→Unix
	// pass stripped a CR preceding one of its 0x0A bytes; actualNoCR is
	// what remains on disk. The stored CRC still reflects origWithCR.
	origWithCR := []byte{0x01, 0x0D, 0x0A, 0x02, 0x0A, 0x03}
	actualNoCR := []byte{0x01, 0x0A, 0x02, 0x0A, 0x03}
	wantCRC := crc32.ChecksumIEEE(append([]byte("IDAT"), origWithCR...))

	repaired, ok := dosUnixRepair(actualNoCR, 1, wantCRC)
	if !ok {
		t.Fatalf("dosUnixRepair: no solution found")
	}
	if !bytes.Equal(repaired, origWithCR) {
		t.Fatalf("repaired = %x, want %x", repaired, origWithCR)
	}
}
