// Package codec turns compressed video frames into RGBA pictures while
// recycling pixel buffers between frames.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// ErrNoFrame means the input did not produce a picture. The pipeline treats it
// as a gap in the stream.
var ErrNoFrame = errors.New("codec: frame unavailable")

// maxFree bounds the recycled buffers kept around. One is in flight in each
// branch at steady state.
const maxFree = 2

// DefaultMaxPixels is the frame size limit when none is set, 4K UHD
const DefaultMaxPixels = 3840 * 2160

// Stats counts decoder activity
type Stats struct {
	Decoded     uint64
	Failed      uint64
	Allocations uint64
	Reused      uint64
	Oversized   uint64
}

// Decoder decodes compressed frames. A backing buffer is only reused after
// every holder of the frame that used it has released it.
type Decoder struct {
	mu     sync.Mutex
	free   []*image.RGBA
	bounds image.Rectangle
	seq    uint64
	stats  Stats
	now    func() time.Time

	maxPixels int
}

// NewDecoder creates a decoder with an empty buffer pool
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now, maxPixels: DefaultMaxPixels}
}

// SetMaxPixels sets the largest width*height accepted. Frames whose header
// claims more are dropped before any pixel memory is allocated. n <= 0
// restores DefaultMaxPixels.
func (d *Decoder) SetMaxPixels(n int) {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	d.mu.Lock()
	d.maxPixels = n
	d.mu.Unlock()
}

// Decode decodes one compressed frame. The returned frame has one holder,
// the caller.
func (d *Decoder) Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		d.fail()
		return nil, ErrNoFrame
	}

	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		d.fail()
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	d.mu.Lock()
	limit := d.maxPixels
	d.mu.Unlock()
	if hdr.Width <= 0 || hdr.Height <= 0 || hdr.Width*hdr.Height > limit {
		d.mu.Lock()
		d.stats.Failed++
		d.stats.Oversized++
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrNoFrame, hdr.Width, hdr.Height, limit)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		d.fail()
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	b := src.Bounds()
	if b.Empty() {
		d.fail()
		return nil, ErrNoFrame
	}

	dst := d.buffer(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	d.mu.Lock()
	d.seq++
	d.stats.Decoded++
	seq := d.seq
	d.mu.Unlock()

	f := &Frame{
		Image:   dst,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Seq:     seq,
		Arrived: d.now(),
		owner:   d,
	}
	f.refs.Store(1)
	return f, nil
}

// Stats returns a snapshot of the counters
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Decoder) fail() {
	d.mu.Lock()
	d.stats.Failed++
	d.mu.Unlock()
}

// buffer pops a released buffer of the right size or allocates one. A size
// change drops every pooled buffer.
func (d *Decoder) buffer(w, h int) *image.RGBA {
	want := image.Rect(0, 0, w, h)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bounds != want {
		d.bounds = want
		d.free = d.free[:0]
	}
	if n := len(d.free); n > 0 {
		buf := d.free[n-1]
		d.free[n-1] = nil
		d.free = d.free[:n-1]
		d.stats.Reused++
		return buf
	}
	d.stats.Allocations++
	return image.NewRGBA(want)
}

func (d *Decoder) recycle(buf *image.RGBA) {
	if buf == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf.Rect != d.bounds || len(d.free) >= maxFree {
		return
	}
	d.free = append(d.free, buf)
}
