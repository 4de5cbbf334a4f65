package colorremap

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: uint8(x + y), A: 200})
		}
	}
	return img
}

func TestRemap_EmitsFixedIterationCount(t *testing.T) {
	results, err := Remap(testImage(), rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if len(results) != Iterations {
		t.Fatalf("results = %d, want %d", len(results), Iterations)
	}
	for i, res := range results {
		if res.Index != i {
			t.Fatalf("result %d has index %d", i, res.Index)
		}
		if _, err := png.Decode(bytes.NewReader(res.PNG)); err != nil {
			t.Fatalf("result %d does not decode as PNG: %v", i, err)
		}
	}
}

func TestRemap_DeterministicForSameSeed(t *testing.T) {
	a, err := Remap(testImage(), rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Remap a: %v", err)
	}
	b, err := Remap(testImage(), rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Remap b: %v", err)
	}
	for i := range a {
		if !bytes.Equal(a[i].PNG, b[i].PNG) {
			t.Fatalf("iteration %d differs across identical seeds", i)
		}
	}
}

func TestRemap_PreservesAlpha(t *testing.T) {
	results, err := Remap(testImage(), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(results[0].PNG))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	_, _, _, a := decoded.At(1, 1).RGBA()
	if uint8(a>>8) != 200 {
		t.Fatalf("alpha = %d, want 200", uint8(a>>8))
	}
}
