package marker

import (
	"sync"
)

// Scripted is a Detector whose answers are set by the caller. It backs bench
// driving without a camera calibration and the tests of everything above it.
type Scripted struct {
	mu          sync.RWMutex
	poses       map[int]Transform
	initialized bool
	submitted   int
	reject      bool
	params      Params
}

// NewScripted creates a scripted detector that sees nothing
func NewScripted() *Scripted {
	return &Scripted{poses: make(map[int]Transform)}
}

// Name returns the detector name
func (s *Scripted) Name() string {
	return "scripted"
}

// Init records the calibration
func (s *Scripted) Init(params Params) error {
	if err := checkParams(params); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	s.initialized = true
	return nil
}

// Show makes id visible at t from the next pass on
func (s *Scripted) Show(id int, t Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poses[id] = t
}

// Hide makes id invisible
func (s *Scripted) Hide(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.poses, id)
}

// RejectFrames makes SubmitFrame report that detection did not run
func (s *Scripted) RejectFrames(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// SubmitFrame counts the frame
func (s *Scripted) SubmitFrame(nv21 []byte, width, height int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.reject || len(nv21) < width*height {
		return false
	}
	s.submitted++
	return true
}

// Submitted returns the number of frames detection ran on
func (s *Scripted) Submitted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submitted
}

// QueryMarkerVisible reports whether id is shown
func (s *Scripted) QueryMarkerVisible(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.poses[id]
	return ok
}

// QueryMarkerTransform returns the transform id is shown at
func (s *Scripted) QueryMarkerTransform(id int) Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poses[id]
}

// Close forgets the calibration
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

// Initialized reports whether Init succeeded and Close has not run
func (s *Scripted) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}
