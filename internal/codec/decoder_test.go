package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	convey.Convey("Given a decoder", t, func() {
		d := NewDecoder()

		convey.Convey("empty input yields no frame", func() {
			f, err := d.Decode(nil)
			convey.So(f, convey.ShouldBeNil)
			convey.So(errors.Is(err, ErrNoFrame), convey.ShouldBeTrue)
		})

		convey.Convey("malformed bytes degrade to no frame", func() {
			f, err := d.Decode([]byte{0xff, 0xd8, 0x00, 0x01, 0x02})
			convey.So(f, convey.ShouldBeNil)
			convey.So(errors.Is(err, ErrNoFrame), convey.ShouldBeTrue)
			convey.So(d.Stats().Failed, convey.ShouldEqual, 1)
		})

		convey.Convey("a PNG frame is decoded with its pixels", func() {
			f, err := d.Decode(encodePNG(t, 4, 2, color.RGBA{R: 200, G: 10, B: 30, A: 255}))
			convey.So(err, convey.ShouldBeNil)
			convey.So(f.Width, convey.ShouldEqual, 4)
			convey.So(f.Height, convey.ShouldEqual, 2)
			convey.So(f.Seq, convey.ShouldEqual, 1)
			convey.So(f.Image.RGBAAt(3, 1), convey.ShouldResemble, color.RGBA{R: 200, G: 10, B: 30, A: 255})
			f.Release()
		})

		convey.Convey("a JPEG frame is decoded", func() {
			f, err := d.Decode(encodeJPEG(t, 16, 8))
			convey.So(err, convey.ShouldBeNil)
			convey.So(f.Image.Bounds().Dx(), convey.ShouldEqual, 16)
			f.Release()
		})

		convey.Convey("sequence numbers increase", func() {
			a, _ := d.Decode(encodePNG(t, 2, 2, color.RGBA{A: 255}))
			b, _ := d.Decode(encodePNG(t, 2, 2, color.RGBA{A: 255}))
			convey.So(b.Seq, convey.ShouldBeGreaterThan, a.Seq)
			a.Release()
			b.Release()
		})
	})
}

func TestBufferReuse(t *testing.T) {
	convey.Convey("Given a decoder and same-sized frames", t, func() {
		d := NewDecoder()
		data := encodePNG(t, 8, 8, color.RGBA{G: 255, A: 255})

		convey.Convey("a released buffer backs the next frame", func() {
			first, err := d.Decode(data)
			convey.So(err, convey.ShouldBeNil)
			pix := &first.Image.Pix[0]
			first.Release()

			second, err := d.Decode(data)
			convey.So(err, convey.ShouldBeNil)
			convey.So(&second.Image.Pix[0], convey.ShouldEqual, pix)
			convey.So(d.Stats().Allocations, convey.ShouldEqual, 1)
			convey.So(d.Stats().Reused, convey.ShouldEqual, 1)
			second.Release()
		})

		convey.Convey("a buffer still held by a reader is never reused", func() {
			first, _ := d.Decode(data)
			first.Retain()
			first.Release()
			convey.So(first.Holders(), convey.ShouldEqual, 1)

			second, _ := d.Decode(data)
			convey.So(&second.Image.Pix[0], convey.ShouldNotEqual, &first.Image.Pix[0])
			convey.So(d.Stats().Allocations, convey.ShouldEqual, 2)
			first.Release()
			second.Release()
		})

		convey.Convey("a dimension change allocates a new buffer", func() {
			first, _ := d.Decode(data)
			first.Release()
			other, _ := d.Decode(encodePNG(t, 4, 4, color.RGBA{A: 255}))
			convey.So(other.Width, convey.ShouldEqual, 4)
			convey.So(d.Stats().Allocations, convey.ShouldEqual, 2)
			other.Release()
		})

		convey.Convey("releasing too often panics", func() {
			f, _ := d.Decode(data)
			f.Release()
			convey.So(f.Release, convey.ShouldPanic)
		})
	})
}

// withSize rewrites the SOF0 dimensions of a baseline JPEG
func withSize(t *testing.T, data []byte, w, h int) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	for i := 0; i+8 < len(out); i++ {
		if out[i] == 0xff && out[i+1] == 0xc0 {
			out[i+5], out[i+6] = byte(h>>8), byte(h)
			out[i+7], out[i+8] = byte(w>>8), byte(w)
			return out
		}
	}
	t.Fatal("no SOF0 marker")
	return nil
}

func TestFrameSizeLimit(t *testing.T) {
	convey.Convey("Given a decoder limited to 64x64", t, func() {
		d := NewDecoder()
		d.SetMaxPixels(64 * 64)

		convey.Convey("a tiny frame claiming 8000x8000 is dropped before decoding", func() {
			data := withSize(t, encodeJPEG(t, 8, 8), 8000, 8000)
			convey.So(len(data), convey.ShouldBeLessThan, 2048)

			f, err := d.Decode(data)
			convey.So(f, convey.ShouldBeNil)
			convey.So(errors.Is(err, ErrNoFrame), convey.ShouldBeTrue)
			convey.So(d.Stats().Oversized, convey.ShouldEqual, 1)
			convey.So(d.Stats().Allocations, convey.ShouldEqual, 0)
		})

		convey.Convey("a frame at the limit is decoded", func() {
			f, err := d.Decode(encodeJPEG(t, 64, 64))
			convey.So(err, convey.ShouldBeNil)
			f.Release()
		})

		convey.Convey("a non-positive limit restores the default", func() {
			d.SetMaxPixels(0)
			f, err := d.Decode(encodeJPEG(t, 128, 128))
			convey.So(err, convey.ShouldBeNil)
			f.Release()
		})
	})
}
