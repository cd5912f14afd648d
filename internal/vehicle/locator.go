package vehicle

import (
	"math"

	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/marker"
)

// DefaultMinDepth is the clamp used when a calibration carries no usable
// MinDepth. Depth is never divided by anything smaller.
const DefaultMinDepth = 1e-3

// Calibration maps averaged marker positions into overlay coordinates
type Calibration struct {
	XOffset      float64 // added to the left marker x, subtracted from the right
	XBias        float64
	YBias        float64
	XFactor      float64
	YFactor      float64
	DepthDivisor float64 // camera z at which depth normalizes to 1
	MinDepth     float64 // smallest depth magnitude divided by
}

// CalibrationFromConfig copies the locator section
func CalibrationFromConfig(c config.LocatorConfig) Calibration {
	return Calibration{
		XOffset:      c.XOffset,
		XBias:        c.XBias,
		YBias:        c.YBias,
		XFactor:      c.XFactor,
		YFactor:      c.YFactor,
		DepthDivisor: c.DepthDivisor,
		MinDepth:     c.MinDepth,
	}
}

// Estimate is one vehicle's position for one pass. The overlay still has to
// move the origin to its centre and flip y.
type Estimate struct {
	ID           string  `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Sides        int     `json:"sides"`
	Depth        float64 `json:"depth"`
	DepthClamped bool    `json:"depth_clamped,omitempty"`
}

// Estimate averages the visible markers and normalizes for depth. ok is
// false when neither marker is visible.
func (c Calibration) Estimate(left, right marker.Pose) (e Estimate, ok bool) {
	leftSeen := left.ID >= 0 && left.Visible
	rightSeen := right.ID >= 0 && right.Visible
	if !leftSeen && !rightSeen {
		return Estimate{}, false
	}

	var x, y, z float64
	if leftSeen {
		lx, ly, lz := left.Transform.Translation()
		x += lx + c.XOffset
		y += ly
		z += lz
		e.Sides++
	}
	if rightSeen {
		rx, ry, rz := right.Transform.Translation()
		x += rx - c.XOffset
		y += ry
		z += rz
		e.Sides++
	}

	n := float64(e.Sides)
	x /= n
	y /= n
	z /= n

	floor := c.MinDepth
	if !(floor > 0) || math.IsInf(floor, 0) {
		floor = DefaultMinDepth
	}
	depth := z / c.DepthDivisor
	if math.IsNaN(depth) || math.Abs(depth) < floor {
		if depth == 0 || math.IsNaN(depth) {
			depth = floor
		} else {
			depth = math.Copysign(floor, depth)
		}
		e.DepthClamped = true
	}
	e.Depth = depth
	x /= depth
	y /= depth

	x += c.XBias
	y += c.YBias
	e.X = x * c.XFactor
	e.Y = y * c.YFactor
	return e, true
}

// Locator estimates the position of every roster vehicle from a pass
type Locator struct {
	roster *Roster
	cal    Calibration
}

// NewLocator creates a locator over roster
func NewLocator(roster *Roster, cal Calibration) *Locator {
	return &Locator{roster: roster, cal: cal}
}

// Locate stores the poses on each vehicle and returns one estimate per
// vehicle with at least one marker visible. Vehicles with none are omitted.
func (l *Locator) Locate(poses marker.Poses) []Estimate {
	out := make([]Estimate, 0, len(l.roster.vehicles))
	for _, v := range l.roster.vehicles {
		v.left = poseFor(poses, v.car.Left)
		v.right = poseFor(poses, v.car.Right)

		e, ok := l.cal.Estimate(v.left, v.right)
		if !ok {
			continue
		}
		e.ID = v.car.ID
		out = append(out, e)
	}
	return out
}

func poseFor(poses marker.Poses, id int) marker.Pose {
	if id < 0 {
		return marker.Pose{ID: id}
	}
	p, ok := poses[id]
	if !ok {
		return marker.Pose{ID: id}
	}
	return p
}
