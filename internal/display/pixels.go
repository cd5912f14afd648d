package display

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb/xproto"
)

// putImageHeader is the size of a PutImage request without its data
const putImageHeader = 24

// pixelFormat is the server's ZPixmap layout for the root depth
type pixelFormat struct {
	depth        byte
	bitsPerPixel byte
	scanlinePad  byte
}

func formatFor(setup *xproto.SetupInfo, depth byte) (pixelFormat, error) {
	for _, f := range setup.PixmapFormats {
		if f.Depth == depth {
			return pixelFormat{depth: depth, bitsPerPixel: f.BitsPerPixel, scanlinePad: f.ScanlinePad}, nil
		}
	}
	return pixelFormat{}, fmt.Errorf("no format found for depth %d", depth)
}

// pack converts img to BGR(x) scanlines padded to the format's scanline pad
func (f pixelFormat) pack(img *image.RGBA) ([]byte, int, error) {
	bytesPerPixel := int(f.bitsPerPixel) / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, 0, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	padBytes := int(f.scanlinePad) / 8
	if padBytes == 0 {
		padBytes = 1
	}
	stride := (width*bytesPerPixel + padBytes - 1) / padBytes * padBytes

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride:]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			s := x * 4
			d := x * bytesPerPixel
			dst[d] = src[s+2]
			dst[d+1] = src[s+1]
			dst[d+2] = src[s]
			if bytesPerPixel == 4 && f.depth == 32 {
				dst[d+3] = src[s+3]
			}
		}
	}
	return data, stride, nil
}

// rowsPerRequest returns how many scanlines fit in one PutImage request.
// maxLength is in 4-byte units, as reported by the server.
func (f pixelFormat) rowsPerRequest(stride int, maxLength uint16) int {
	limit := int(maxLength)*4 - putImageHeader
	rows := limit / stride
	if rows < 1 {
		rows = 1
	}
	return rows
}
