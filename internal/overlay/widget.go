// Package overlay draws the driving HUD over display frames: the aim reticle,
// the rings around located vehicles and text labels.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the provided image
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// GetPosition returns the widget's position
func (w *BaseWidget) GetPosition() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.x, w.y
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.mu.Lock()
	w.x = x
	w.y = y
	w.mu.Unlock()
}

// GetOpacity returns the widget's opacity
func (w *BaseWidget) GetOpacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.mu.Lock()
	w.opacity = math.Max(0, math.Min(1, opacity))
	w.mu.Unlock()
}

// BlendImage blends a source image onto a destination image at the given
// position with the specified opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}
		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}
			blendPixel(dst, dx, dy, src.At(sx, sy), opacity)
		}
	}
}

// blendPixel composites c over the destination pixel with its alpha scaled
// by opacity. Both sides are alpha-premultiplied, as image.RGBA stores them.
func blendPixel(dst *image.RGBA, x, y int, c color.Color, opacity float64) {
	sr, sg, sb, sa := c.RGBA()
	alpha := float64(sa) * opacity / 0xffff
	if alpha <= 0 {
		return
	}

	dr, dg, db, da := dst.At(x, y).RGBA()
	mix := func(s, d uint32) uint8 {
		v := (float64(s)*opacity + float64(d)*(1-alpha)) / 0x101
		return uint8(math.Min(255, v))
	}
	dst.SetRGBA(x, y, color.RGBA{
		R: mix(sr, dr),
		G: mix(sg, dg),
		B: mix(sb, db),
		A: mix(sa, da),
	})
}

// DrawRectangle draws a filled rectangle with the specified colour and opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	rect := image.Rect(0, 0, width, height)
	tmp := image.NewRGBA(rect)
	draw.Draw(tmp, rect, image.NewUniform(c), image.Point{}, draw.Src)
	BlendImage(dst, tmp, x, y, opacity)
}

// DrawRing draws a circle outline of the given stroke width centred on
// (cx, cy)
func DrawRing(dst *image.RGBA, cx, cy, radius, stroke float64, c color.Color, opacity float64) {
	outer := radius + stroke/2
	inner := math.Max(0, radius-stroke/2)

	minX := int(math.Floor(cx - outer))
	maxX := int(math.Ceil(cx + outer))
	minY := int(math.Floor(cy - outer))
	maxY := int(math.Ceil(cy + outer))
	b := dst.Bounds()

	for y := minY; y <= maxY; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if d >= inner && d <= outer {
				blendPixel(dst, x, y, c, opacity)
			}
		}
	}
}
