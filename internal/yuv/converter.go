// Package yuv converts RGBA pictures into the NV21 layout the marker detector
// consumes: a full resolution luma plane followed by interleaved V/U samples
// taken from every other row and column.
package yuv

import (
	"image"
)

// Converted is one NV21 picture. Luma holds w*h bytes and Chroma w*h/2 bytes.
// Both slices alias the converter's scratch buffers and are only valid until
// the next Convert call.
type Converted struct {
	Width  int
	Height int
	Luma   []byte
	Chroma []byte
}

// Planar returns luma and chroma as one contiguous slice, the layout expected
// by detectors that take a single NV21 buffer.
func (c Converted) Planar() []byte {
	if len(c.Luma) == 0 {
		return nil
	}
	return c.Luma[:len(c.Luma)+len(c.Chroma)]
}

// Empty reports whether the conversion produced nothing
func (c Converted) Empty() bool {
	return c.Width == 0 || c.Height == 0
}

// Converter owns the two scratch buffers. It is not safe for concurrent use;
// the pipeline gives each converter a single owner.
type Converter struct {
	buf      []byte
	pixels   int
	reallocs int
}

// NewConverter creates a converter with no scratch allocated yet
func NewConverter() *Converter {
	return &Converter{}
}

// Reallocations counts how many times the scratch buffers were resized
func (c *Converter) Reallocations() int {
	return c.reallocs
}

// Convert encodes img. A nil or zero sized picture yields an empty result.
func (c *Converter) Convert(img *image.RGBA) Converted {
	if img == nil {
		return Converted{}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Converted{}
	}

	c.ensure(w, h)
	frameSize := w * h
	luma := c.buf[:frameSize]
	chroma := c.buf[frameSize : frameSize+frameSize/2]

	yIndex := 0
	uvIndex := 0
	for j := 0; j < h; j++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+j):]
		for i := 0; i < w; i++ {
			r := int(row[i*4])
			g := int(row[i*4+1])
			bl := int(row[i*4+2])

			luma[yIndex] = clamp(((66*r + 129*g + 25*bl + 128) >> 8) + 16)
			yIndex++

			// With an odd width or height the w*h/2 plane the detector
			// expects is short of whole pairs; the trailing ones are dropped.
			if j%2 == 0 && i%2 == 0 && uvIndex+1 < len(chroma) {
				u := ((-38*r - 74*g + 112*bl + 128) >> 8) + 128
				v := ((112*r - 94*g - 18*bl + 128) >> 8) + 128
				chroma[uvIndex] = clamp(v)
				chroma[uvIndex+1] = clamp(u)
				uvIndex += 2
			}
		}
	}

	return Converted{Width: w, Height: h, Luma: luma, Chroma: chroma}
}

// ensure reallocates scratch only when the pixel count changes
func (c *Converter) ensure(w, h int) {
	pixels := w * h
	if c.buf != nil && c.pixels == pixels {
		return
	}
	c.pixels = pixels
	c.buf = make([]byte, pixels+pixels/2)
	c.reallocs++
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
