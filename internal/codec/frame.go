package codec

import (
	"image"
	"sync/atomic"
	"time"
)

// Frame is a decoded picture. Its pixels must not be modified once Decode
// returns it. Every holder calls Release exactly once; the last Release hands
// the backing buffer back to the decoder for the next frame.
type Frame struct {
	Image   *image.RGBA
	Width   int
	Height  int
	Seq     uint64
	Arrived time.Time

	refs  atomic.Int32
	owner *Decoder
}

// Retain adds a holder. Call it before handing the frame to a second branch.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops a holder.
func (f *Frame) Release() {
	switch n := f.refs.Add(-1); {
	case n == 0:
		if f.owner != nil {
			f.owner.recycle(f.Image)
		}
		f.Image = nil
	case n < 0:
		panic("codec: frame released more times than retained")
	}
}

// Holders reports the number of outstanding holders.
func (f *Frame) Holders() int {
	return int(f.refs.Load())
}
