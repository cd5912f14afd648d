// Package output presents decoded camera frames with the HUD drawn on top.
package output

import (
	"image"
	"image/draw"

	"github.com/disintegration/gift"

	"github.com/frogdesign/akart/internal/config"
)

// Output defines the interface for frame output mechanisms:
// - MJPEG HTTP stream
// - X11 preview window
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output. The output must not keep a
	// reference to frame after returning.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
}

// ConfigFromDisplay copies the display section
func ConfigFromDisplay(c config.DisplayConfig) Config {
	return Config{Width: c.Width, Height: c.Height, FPS: c.FPS}
}

// Scaler fits frames into a fixed size, keeping the aspect ratio and
// letterboxing with black. The destination buffer is reused between calls,
// so a Scaler belongs to one goroutine.
type Scaler struct {
	width  int
	height int
	dst    *image.RGBA
	tmp    *image.RGBA
	filter *gift.GIFT
	srcW   int
	srcH   int
}

// NewScaler creates a scaler to width x height. A zero size disables
// scaling.
func NewScaler(width, height int) *Scaler {
	return &Scaler{width: width, height: height}
}

// Fit returns src scaled into the target size. It returns src itself when
// no scaling is needed.
func (s *Scaler) Fit(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	if s.width <= 0 || s.height <= 0 || (b.Dx() == s.width && b.Dy() == s.height) {
		return src
	}

	if s.filter == nil || s.srcW != b.Dx() || s.srcH != b.Dy() {
		s.filter = gift.New(gift.ResizeToFit(s.width, s.height, gift.LinearResampling))
		s.tmp = image.NewRGBA(s.filter.Bounds(b))
		s.dst = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		s.srcW, s.srcH = b.Dx(), b.Dy()
	}

	s.filter.Draw(s.tmp, src)

	draw.Draw(s.dst, s.dst.Bounds(), image.Black, image.Point{}, draw.Src)
	tb := s.tmp.Bounds()
	at := image.Pt((s.width-tb.Dx())/2, (s.height-tb.Dy())/2)
	draw.Draw(s.dst, image.Rectangle{Min: at, Max: at.Add(tb.Size())}, s.tmp, tb.Min, draw.Src)
	return s.dst
}
