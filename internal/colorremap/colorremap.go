// Package colorremap implements the color remapping analyzer: applies a
// random byte substitution table to each of an image's RGB channels,
// alpha untouched, and repeats for a fixed number of iterations.
//
// Each iteration builds its own 0..255 → 0..255 random substitution table.
// PRNG draws use math/rand; the remap is cosmetic, so cryptographic
// randomness is not needed.
package colorremap

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
)

// Iterations is the fixed remap count.
const Iterations = 8

// Result is one remap artifact.
type Result struct {
	Index int
	PNG   []byte
}

// Remap applies Iterations random substitution tables to img's RGB
// channels, leaving alpha untouched. r supplies randomness; pass nil to use
// a new source seeded with the fixed defaultSeed.
func Remap(img image.Image, r *rand.Rand) ([]Result, error) {
	if r == nil {
		r = rand.New(rand.NewSource(defaultSeed()))
	}

	bounds := img.Bounds()
	results := make([]Result, 0, Iterations)

	for i := 0; i < Iterations; i++ {
		var table [256]uint8
		randomTable(r, &table)

		out := image.NewRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				rr, gg, bb, aa := rgba8(img.At(x, y))
				out.SetRGBA(x, y, color.RGBA{
					R: table[rr],
					G: table[gg],
					B: table[bb],
					A: aa,
				})
			}
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, out); err != nil {
			return nil, fmt.Errorf("colorremap: encode png: %w", err)
		}
		results = append(results, Result{Index: i, PNG: buf.Bytes()})
	}

	return results, nil
}

// randomTable fills t with a uniform-random byte for every index — a random
// substitution table, not necessarily a bijection.
func randomTable(r *rand.Rand, t *[256]uint8) {
	for i := range t {
		t[i] = uint8(r.Intn(256))
	}
}

func rgba8(c color.Color) (r, g, b, a uint8) {
	rr, gg, bb, aa := c.RGBA()
	return uint8(rr >> 8), uint8(gg >> 8), uint8(bb >> 8), uint8(aa >> 8)
}

// defaultSeed is a fixed seed so callers that pass nil still get
// deterministic, testable output; production callers are expected to pass
// their own time-seeded rand.Rand.
func defaultSeed() int64 { return 1 }
