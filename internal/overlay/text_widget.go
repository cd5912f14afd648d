package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget displays a line of text. The text can be changed while frames
// are being rendered.
type TextWidget struct {
	*BaseWidget
	text      string
	fontSize  int
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a white text widget at (x, y)
func NewTextWidget(id, text string, x, y int) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, x, y, 1.0),
		text:       text,
		fontSize:   13, // basicfont size
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// SetText replaces the text
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

// Text returns the current text
func (w *TextWidget) Text() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// SetColors sets the text colour and an optional background
func (w *TextWidget) SetColors(text color.RGBA, background *color.RGBA) {
	w.mu.Lock()
	w.textColor = text
	w.bgColor = background
	w.mu.Unlock()
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	w.mu.RLock()
	text, textColor, bgColor := w.text, w.textColor, w.bgColor
	x, y, opacity, enabled := w.x, w.y, w.opacity, w.enabled
	w.mu.RUnlock()

	if !enabled || text == "" {
		return nil
	}

	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	textWidthPx := d.MeasureString(text).Ceil()

	widgetWidth := textWidthPx + w.padding*2
	widgetHeight := w.fontSize + w.padding*2

	if bgColor != nil {
		DrawRectangle(img, x, y, widgetWidth, widgetHeight, *bgColor, opacity)
	}

	// Draw into a scratch image so opacity applies to the glyphs only
	textImg := image.NewRGBA(image.Rect(0, 0, textWidthPx, w.fontSize))
	textDrawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	textDrawer.DrawString(text)

	BlendImage(img, textImg, x+w.padding, y+w.padding, opacity)
	return nil
}

// Size returns the rendered width and height including padding
func (w *TextWidget) Size() (int, int) {
	d := &font.Drawer{Face: basicfont.Face7x13}
	return d.MeasureString(w.Text()).Ceil() + w.padding*2, w.fontSize + w.padding*2
}
