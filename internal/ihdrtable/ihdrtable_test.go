package ihdrtable

import (
	"testing"

	"github.com/aperisolve/core/dbopen"
	_ "modernc.org/sqlite"
)

func TestValidDepthColorPairs_Count(t *testing.T) {
	pairs := ValidDepthColorPairs()
	if len(pairs) != 15 {
		t.Fatalf("got %d pairs, want 15", len(pairs))
	}
}

func TestComputeCRC_MatchesRealIHDR(t *testing.T) {
	// A 1x1 8-bit grayscale, non-interlaced IHDR has a well-known CRC.
	got := ComputeCRC(1, 1, 8, 0, 0)
	want := uint32(0x3A7E9B55)
	if got != want {
		t.Fatalf("ComputeCRC = %08X, want %08X", got, want)
	}
}

func TestComputeCRC_DistinctForDifferentDimensions(t *testing.T) {
	a := ComputeCRC(100, 100, 8, 2, 0)
	b := ComputeCRC(200, 100, 8, 2, 0)
	if a == b {
		t.Fatal("expected different CRCs for different widths")
	}
}

func TestPopulateAndLookup(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))

	n, err := Populate(db)
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if n == 0 {
		t.Fatal("Populate: expected rows inserted")
	}

	populated, err := Populated(db)
	if err != nil {
		t.Fatalf("Populated: %v", err)
	}
	if !populated {
		t.Fatal("Populated: expected true after Populate")
	}

	crc := ComputeCRC(1024, 768, 8, 2, 0)
	rows, err := Lookup(db, crc)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.Width == 1024 && r.Height == 768 && r.BitDepth == 8 && r.ColorType == 2 && r.Interlace == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("Lookup: expected a matching row in %+v", rows)
	}
}

func TestLookup_NoMatchReturnsEmpty(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))

	rows, err := Lookup(db, 0xDEADBEEF)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("Lookup: expected no rows on an empty table, got %+v", rows)
	}
}
