// Package decomposer implements the LSB bit-plane decomposer: for each 8-bit channel of an image it emits one
// monochrome PNG per bit position, plus a superimposed RGB view per bit for
// color images.
//
// This package walks a per-channel, per-bit loop using the standard
// library's image/color/image/png packages; decoding of the wider input
// format set happens upstream in the worker.
package decomposer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// Plane is one emitted bit-plane image, keyed by channel label.
type Plane struct {
	Channel string // "Gray", "Red", "Green", "Blue", "Alpha", "RGB"
	Bit     int
	PNG     []byte
}

// Result is every plane produced for one input image, plus an optional note
// (e.g. "palette image converted to RGB").
type Result struct {
	Planes []Plane
	Note   string
}

// Decompose emits eight monochrome planes per channel, plus eight
// superimposed RGB planes when the image carries color channels.
func Decompose(img image.Image) (Result, error) {
	var res Result

	if p, ok := img.(*image.Paletted); ok {
		img = paletteToRGBA(p)
		res.Note = "palette image converted to RGB"
	}

	bounds := img.Bounds()
	gray, isGray := asGray(img)

	if isGray {
		for bit := 0; bit < 8; bit++ {
			plane := image.NewGray(bounds)
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					v := gray.GrayAt(x, y).Y
					plane.SetGray(x, y, bitPlaneGray(v, bit))
				}
			}
			data, err := encodePNG(plane)
			if err != nil {
				return res, err
			}
			res.Planes = append(res.Planes, Plane{Channel: "Gray", Bit: bit, PNG: data})
		}
		return res, nil
	}

	for bit := 0; bit < 8; bit++ {
		redPlane := image.NewGray(bounds)
		greenPlane := image.NewGray(bounds)
		bluePlane := image.NewGray(bounds)
		alphaPlane := image.NewGray(bounds)
		rgbPlane := image.NewRGBA(bounds)

		hasAlpha := false
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, a := rgba8(img.At(x, y))
				rBit := bitPlaneGray(r, bit)
				gBit := bitPlaneGray(g, bit)
				bBit := bitPlaneGray(b, bit)
				if a != 255 {
					hasAlpha = true
				}
				redPlane.SetGray(x, y, rBit)
				greenPlane.SetGray(x, y, gBit)
				bluePlane.SetGray(x, y, bBit)
				alphaPlane.SetGray(x, y, bitPlaneGray(a, bit))
				rgbPlane.SetRGBA(x, y, color.RGBA{R: rBit.Y, G: gBit.Y, B: bBit.Y, A: 255})
			}
		}

		if err := appendPlane(&res, "Red", bit, redPlane); err != nil {
			return res, err
		}
		if err := appendPlane(&res, "Green", bit, greenPlane); err != nil {
			return res, err
		}
		if err := appendPlane(&res, "Blue", bit, bluePlane); err != nil {
			return res, err
		}
		if hasAlpha {
			if err := appendPlane(&res, "Alpha", bit, alphaPlane); err != nil {
				return res, err
			}
		}
		if err := appendPlane(&res, "RGB", bit, rgbPlane); err != nil {
			return res, err
		}
	}

	return res, nil
}

func appendPlane(res *Result, channel string, bit int, img image.Image) error {
	data, err := encodePNG(img)
	if err != nil {
		return err
	}
	res.Planes = append(res.Planes, Plane{Channel: channel, Bit: bit, PNG: data})
	return nil
}

func bitPlaneGray(v uint8, bit int) color.Gray {
	if (v>>uint(bit))&1 == 1 {
		return color.Gray{Y: 255}
	}
	return color.Gray{Y: 0}
}

func rgba8(c color.Color) (r, g, b, a uint8) {
	rr, gg, bb, aa := c.RGBA()
	return uint8(rr >> 8), uint8(gg >> 8), uint8(bb >> 8), uint8(aa >> 8)
}

func asGray(img image.Image) (*image.Gray, bool) {
	if g, ok := img.(*image.Gray); ok {
		return g, true
	}
	return nil, false
}

func paletteToRGBA(p *image.Paletted) *image.RGBA {
	bounds := p.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, p.At(x, y))
		}
	}
	return out
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("decomposer: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
