// Package marker defines the contract the pipeline needs from a fiducial
// marker detector and adapts it into per-pass pose snapshots.
package marker

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/frogdesign/akart/internal/yuv"
)

var (
	// ErrNotInitialized is returned when detection runs before Init
	ErrNotInitialized = errors.New("marker: detector not initialized")

	// ErrUnknownDetector is returned by New for an unregistered kind
	ErrUnknownDetector = errors.New("marker: unknown detector kind")
)

// Transform is a column-major 4x4 affine matrix. Elements 12, 13 and 14 hold
// the translation in camera space.
type Transform [16]float64

// Translation returns the position part of the transform
func (t Transform) Translation() (x, y, z float64) {
	return t[12], t[13], t[14]
}

// Translate returns the identity rotation moved to (x, y, z)
func Translate(x, y, z float64) Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		x, y, z, 1,
	}
}

// Params carries the per-session calibration a detector is initialized with
type Params struct {
	CameraParams string  // camera intrinsics file
	MarkerSizeMM float64 // physical marker edge length
	Markers      []int   // ids the session tracks
}

// Detector is the marker detection capability. Implementations may keep
// state between frames and are driven from a single goroutine.
type Detector interface {
	// Init loads calibration. Called once per session before any frame.
	Init(params Params) error

	// SubmitFrame runs detection on an NV21 buffer and reports whether it ran
	SubmitFrame(nv21 []byte, width, height int) bool

	// QueryMarkerVisible reports whether id was seen in the last pass
	QueryMarkerVisible(id int) bool

	// QueryMarkerTransform returns the pose of id from the last pass
	QueryMarkerTransform(id int) Transform

	// Close releases detector resources at session end
	Close() error

	// Name returns a human-readable name for this detector
	Name() string
}

// New creates a detector by config kind
func New(kind string) (Detector, error) {
	switch kind {
	case "", "scripted":
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, kind)
	}
}

// checkParams validates calibration common to every detector
func checkParams(p Params) error {
	if p.MarkerSizeMM <= 0 {
		return fmt.Errorf("marker size must be positive: %v", p.MarkerSizeMM)
	}
	if p.CameraParams != "" {
		if _, err := os.Stat(p.CameraParams); err != nil {
			return fmt.Errorf("camera parameters: %w", err)
		}
	}
	return nil
}

// Pose is one marker's state in one detection pass
type Pose struct {
	ID        int
	Visible   bool
	Transform Transform
}

// Poses maps marker id to its pose for one pass
type Poses map[int]Pose

// Visible reports whether id was seen. Unknown and negative ids are not.
func (p Poses) Visible(id int) bool {
	if id < 0 {
		return false
	}
	return p[id].Visible
}

// Adapter drives a Detector with converted frames and snapshots the poses
// of the tracked markers after each pass.
type Adapter struct {
	det         Detector
	markers     []int
	initialized bool
	passes      atomic.Uint64
	skipped     atomic.Uint64
}

// NewAdapter wraps det for the given marker ids
func NewAdapter(det Detector, markers []int) *Adapter {
	return &Adapter{
		det:     det,
		markers: append([]int(nil), markers...),
	}
}

// Init initializes the underlying detector with the tracked markers
func (a *Adapter) Init(params Params) error {
	params.Markers = a.markers
	if err := a.det.Init(params); err != nil {
		return fmt.Errorf("failed to initialize %s detector: %w", a.det.Name(), err)
	}
	a.initialized = true
	return nil
}

// Detect submits frame and returns the poses of every tracked marker. ok is
// false when detection did not run; the caller skips that pass.
func (a *Adapter) Detect(frame yuv.Converted) (poses Poses, ok bool, err error) {
	if !a.initialized {
		return nil, false, ErrNotInitialized
	}
	if frame.Empty() {
		a.skipped.Add(1)
		return nil, false, nil
	}
	if !a.det.SubmitFrame(frame.Planar(), frame.Width, frame.Height) {
		a.skipped.Add(1)
		return nil, false, nil
	}
	a.passes.Add(1)

	poses = make(Poses, len(a.markers))
	for _, id := range a.markers {
		p := Pose{ID: id, Visible: a.det.QueryMarkerVisible(id)}
		if p.Visible {
			p.Transform = a.det.QueryMarkerTransform(id)
		}
		poses[id] = p
	}
	return poses, true, nil
}

// Counts returns the number of completed and skipped passes
func (a *Adapter) Counts() (passes, skipped uint64) {
	return a.passes.Load(), a.skipped.Load()
}

// Close tears the detector down. Safe to call when Init failed.
func (a *Adapter) Close() error {
	if !a.initialized {
		return nil
	}
	a.initialized = false
	return a.det.Close()
}
