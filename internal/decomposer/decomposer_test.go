package decomposer

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestDecompose_GrayEmitsEightPlanes(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x*16 + y)})
		}
	}

	res, err := Decompose(img)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(res.Planes) != 8 {
		t.Fatalf("planes = %d, want 8", len(res.Planes))
	}
	for i, p := range res.Planes {
		if p.Channel != "Gray" {
			t.Fatalf("plane %d channel = %q, want Gray", i, p.Channel)
		}
		if p.Bit != i {
			t.Fatalf("plane %d bit = %d", i, p.Bit)
		}
		if _, err := png.Decode(bytes.NewReader(p.PNG)); err != nil {
			t.Fatalf("plane %d does not decode as PNG: %v", i, err)
		}
	}
}

func TestDecompose_OpaqueColorSkipsAlphaPlanes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 0xAA, G: 0x55, B: 0x0F, A: 0xFF})
	img.SetRGBA(1, 0, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xFF})
	img.SetRGBA(0, 1, color.RGBA{R: 0x40, G: 0x50, B: 0x60, A: 0xFF})
	img.SetRGBA(1, 1, color.RGBA{R: 0x01, G: 0x80, B: 0xFE, A: 0xFF})

	res, err := Decompose(img)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	// Red, Green, Blue and superimposed RGB per bit, no Alpha planes since
	// every pixel is fully opaque.
	if len(res.Planes) != 32 {
		t.Fatalf("planes = %d, want 32", len(res.Planes))
	}
	for _, p := range res.Planes {
		if p.Channel == "Alpha" {
			t.Fatalf("unexpected Alpha plane for an opaque image")
		}
	}
}

func TestDecompose_TranslucentColorEmitsAlphaPlanes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 128})

	res, err := Decompose(img)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	alpha := 0
	for _, p := range res.Planes {
		if p.Channel == "Alpha" {
			alpha++
		}
	}
	if alpha != 8 {
		t.Fatalf("alpha planes = %d, want 8", alpha)
	}
}

func TestDecompose_PaletteConvertedWithNote(t *testing.T) {
	palette := color.Palette{color.RGBA{A: 255}, color.RGBA{R: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, 3, 3), palette)
	img.SetColorIndex(1, 1, 1)

	res, err := Decompose(img)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if res.Note == "" {
		t.Fatalf("expected a palette-conversion note")
	}
	if len(res.Planes) == 0 || res.Planes[0].Channel == "Gray" {
		t.Fatalf("expected color planes after palette conversion, got %+v", res.Planes[0].Channel)
	}
}

func TestBitPlaneGray(t *testing.T) {
	cases := []struct {
		v    uint8
		bit  int
		want uint8
	}{
		{0b00000001, 0, 255},
		{0b00000001, 1, 0},
		{0b10000000, 7, 255},
		{0b01111111, 7, 0},
	}
	for _, c := range cases {
		if got := bitPlaneGray(c.v, c.bit).Y; got != c.want {
			t.Fatalf("bitPlaneGray(%#b, %d) = %d, want %d", c.v, c.bit, got, c.want)
		}
	}
}
