package overlay

import (
	"image"
	"image/color"
	"math"
	"sort"
	"sync"
)

// Surface receives vehicle positions once per detection pass. It is only
// called from the delivery goroutine.
type Surface interface {
	SetTarget(id string, x, y float64)
	ClearAll()
}

// Aim geometry in pixels
const (
	AimRadius    = 30.0
	TargetRadius = 10.0
	AimStroke    = 3.0
)

var aimColor = color.RGBA{255, 0, 0, 255}

// Target is a located vehicle in screen coordinates
type Target struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type point struct {
	x, y  float64
	valid bool
}

// AimOverlay draws the reticle at the frame centre and a ring on every
// located vehicle. Positions arrive centred with y up; the overlay moves the
// origin to its own centre and flips y.
type AimOverlay struct {
	*BaseWidget

	mu     sync.RWMutex
	width  int
	height int
	points map[string]*point
}

// NewAimOverlay creates an aim overlay for frames of the given size
func NewAimOverlay(width, height int) *AimOverlay {
	return &AimOverlay{
		BaseWidget: NewBaseWidget("aim", 0, 0, 0.5),
		width:      width,
		height:     height,
		points:     make(map[string]*point),
	}
}

// Type returns the widget type
func (a *AimOverlay) Type() string {
	return "aim"
}

// SetSize changes the frame size used to place targets
func (a *AimOverlay) SetSize(width, height int) {
	a.mu.Lock()
	a.width, a.height = width, height
	a.mu.Unlock()
}

// SetTarget places vehicle id at locator coordinates (x, y)
func (a *AimOverlay) SetTarget(id string, x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.points[id]
	if !ok {
		p = &point{}
		a.points[id] = p
	}
	p.x = float64(a.width)/2 + x
	p.y = float64(a.height)/2 - y
	p.valid = true
}

// ClearAll hides every target until it is set again
func (a *AimOverlay) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.points {
		p.valid = false
	}
}

// Targets returns the visible targets in screen coordinates, sorted by id
func (a *AimOverlay) Targets() []Target {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Target, 0, len(a.points))
	for id, p := range a.points {
		if p.valid {
			out = append(out, Target{ID: id, X: p.x, Y: p.y})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TargetedID returns the visible vehicle closest to the frame centre, if it
// lies inside the reticle
func (a *AimOverlay) TargetedID() (string, bool) {
	a.mu.RLock()
	cx, cy := float64(a.width)/2, float64(a.height)/2
	a.mu.RUnlock()

	best, bestDist := "", math.Inf(1)
	for _, t := range a.Targets() {
		d := math.Hypot(t.X-cx, t.Y-cy)
		if d <= AimRadius && d < bestDist {
			best, bestDist = t.ID, d
		}
	}
	return best, best != ""
}

// Render draws the reticle and target rings. The frame size is taken from
// img.
func (a *AimOverlay) Render(img *image.RGBA) error {
	if !a.IsEnabled() {
		return nil
	}
	b := img.Bounds()
	if b.Dx() != a.size().X || b.Dy() != a.size().Y {
		a.SetSize(b.Dx(), b.Dy())
	}

	opacity := a.GetOpacity()
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	DrawRing(img, cx, cy, AimRadius, AimStroke, aimColor, opacity)

	for _, t := range a.Targets() {
		DrawRing(img, float64(b.Min.X)+t.X, float64(b.Min.Y)+t.Y, TargetRadius, AimStroke, aimColor, opacity)
	}
	return nil
}

func (a *AimOverlay) size() image.Point {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return image.Pt(a.width, a.height)
}
