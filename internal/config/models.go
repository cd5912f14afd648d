package config

import (
	"fmt"
	"math"
	"time"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	Vehicle  VehicleConfig  `json:"vehicle" yaml:"vehicle"`
	Control  ControlConfig  `json:"control" yaml:"control"`
	Locator  LocatorConfig  `json:"locator" yaml:"locator"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Detector DetectorConfig `json:"detector" yaml:"detector"`
	Roster   []CarConfig    `json:"roster" yaml:"roster"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Display  DisplayConfig  `json:"display" yaml:"display"`
}

// VehicleConfig selects the car this client drives and how it is reached
type VehicleConfig struct {
	Name      string       `json:"name" yaml:"name"`
	Transport string       `json:"transport" yaml:"transport"` // loopback
	Source    SourceConfig `json:"source" yaml:"source"`
}

// SourceConfig describes where compressed video frames come from
type SourceConfig struct {
	Kind     string `json:"kind" yaml:"kind"`         // gstreamer, appsink or file
	Pipeline string `json:"pipeline" yaml:"pipeline"` // gst-launch source elements, must end in MJPEG
	File     string `json:"file" yaml:"file"`         // still image replayed by the file source
	FPS      int    `json:"fps" yaml:"fps"`
}

// ControlConfig holds the motor command constants in device units
type ControlConfig struct {
	SpeedMax       int           `json:"speed_max" yaml:"speed_max"`
	TurnMax        int           `json:"turn_max" yaml:"turn_max"`
	TurnDeadzone   int           `json:"turn_deadzone" yaml:"turn_deadzone"`
	ReverseSpeed   float64       `json:"reverse_speed" yaml:"reverse_speed"`
	HitDuration    time.Duration `json:"hit_duration" yaml:"hit_duration"`
	HitSpeedFactor float64       `json:"hit_speed_factor" yaml:"hit_speed_factor"`
}

// LocatorConfig holds the screen-space calibration for position estimates
type LocatorConfig struct {
	XOffset      float64 `json:"x_offset" yaml:"x_offset"`
	XBias        float64 `json:"x_bias" yaml:"x_bias"`
	YBias        float64 `json:"y_bias" yaml:"y_bias"`
	XFactor      float64 `json:"x_factor" yaml:"x_factor"`
	YFactor      float64 `json:"y_factor" yaml:"y_factor"`
	DepthDivisor float64 `json:"depth_divisor" yaml:"depth_divisor"`
	MinDepth     float64 `json:"min_depth" yaml:"min_depth"`
}

// PipelineConfig sets the sampling intervals between stages
type PipelineConfig struct {
	FrameInterval   time.Duration `json:"frame_interval" yaml:"frame_interval"`
	DetectInterval  time.Duration `json:"detect_interval" yaml:"detect_interval"`
	DisplayInterval time.Duration `json:"display_interval" yaml:"display_interval"`
	Workers         int           `json:"workers" yaml:"workers"`                   // 0 means one per available CPU
	MaxFramePixels  int           `json:"max_frame_pixels" yaml:"max_frame_pixels"` // frames claiming more are dropped before decoding
}

// DetectorConfig holds marker detector calibration
type DetectorConfig struct {
	Kind         string  `json:"kind" yaml:"kind"` // scripted
	CameraParams string  `json:"camera_params" yaml:"camera_params"`
	MarkerSizeMM float64 `json:"marker_size_mm" yaml:"marker_size_mm"`

	// Script places markers for the scripted detector when a session starts
	Script []ScriptedMarker `json:"script,omitempty" yaml:"script,omitempty"`
}

// ScriptedMarker is a marker the scripted detector reports at a fixed camera
// position
type ScriptedMarker struct {
	Marker int     `json:"marker" yaml:"marker"`
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Z      float64 `json:"z" yaml:"z"`
}

// CarConfig is one roster entry: a vehicle and the markers on its rear
type CarConfig struct {
	ID    string `json:"id" yaml:"id"`
	Left  int    `json:"left" yaml:"left"`
	Right int    `json:"right" yaml:"right"`
}

// RelayConfig points at the hit coordination server
type RelayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
}

// DisplayConfig selects the direct display output
type DisplayConfig struct {
	Kind   string `json:"kind" yaml:"kind"` // mjpeg or x11
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	FPS    int    `json:"fps" yaml:"fps"`
}

// Defaults returns the configuration written on first run
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Vehicle: VehicleConfig{
			Name:      "gargamella",
			Transport: "loopback",
			Source: SourceConfig{
				Kind:     "gstreamer",
				Pipeline: "videotestsrc is-live=true ! video/x-raw,width=640,height=480 ! jpegenc",
				FPS:      30,
			},
		},
		Control: ControlConfig{
			SpeedMax:       50,
			TurnMax:        50,
			TurnDeadzone:   10,
			ReverseSpeed:   0.4,
			HitDuration:    2 * time.Second,
			HitSpeedFactor: 0.3,
		},
		Locator: LocatorConfig{
			XOffset:      0,
			XBias:        16,
			YBias:        25,
			XFactor:      15,
			YFactor:      18,
			DepthDivisor: -80,
			MinDepth:     1e-3,
		},
		Pipeline: PipelineConfig{
			FrameInterval:   33 * time.Millisecond,
			DetectInterval:  30 * time.Millisecond,
			DisplayInterval: 33 * time.Millisecond,
			MaxFramePixels:  3840 * 2160,
		},
		Detector: DetectorConfig{
			Kind:         "scripted",
			MarkerSizeMM: 40,
		},
		Roster: []CarConfig{
			{ID: "gargamella", Left: 0, Right: 1},
			{ID: "taxiguerrilla", Left: 2, Right: 3},
		},
		Relay: RelayConfig{
			Enabled: false,
			URL:     "ws://localhost:3000/ws",
		},
		Display: DisplayConfig{
			Kind:   "mjpeg",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
	}
}

// Validate checks the invariants the pipeline and controller rely on
func (c *Config) Validate() error {
	if c.Pipeline.FrameInterval <= 0 || c.Pipeline.DetectInterval <= 0 || c.Pipeline.DisplayInterval <= 0 {
		return fmt.Errorf("pipeline intervals must be positive")
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline workers must not be negative: %d", c.Pipeline.Workers)
	}
	if c.Control.SpeedMax <= 0 || c.Control.SpeedMax > 127 {
		return fmt.Errorf("control speed_max out of range: %d", c.Control.SpeedMax)
	}
	if c.Control.TurnMax <= 0 || c.Control.TurnMax > 127 {
		return fmt.Errorf("control turn_max out of range: %d", c.Control.TurnMax)
	}
	if c.Control.TurnDeadzone < 0 || c.Control.TurnDeadzone >= c.Control.TurnMax {
		return fmt.Errorf("control turn_deadzone must be in [0, turn_max): %d", c.Control.TurnDeadzone)
	}
	if c.Locator.DepthDivisor == 0 || math.IsNaN(c.Locator.DepthDivisor) {
		return fmt.Errorf("locator depth_divisor must be a non-zero number")
	}
	if !(c.Locator.MinDepth > 0) || math.IsInf(c.Locator.MinDepth, 0) {
		return fmt.Errorf("locator min_depth must be positive: %v", c.Locator.MinDepth)
	}
	if c.Pipeline.MaxFramePixels < 0 {
		return fmt.Errorf("pipeline max_frame_pixels must not be negative: %d", c.Pipeline.MaxFramePixels)
	}

	for _, m := range c.Detector.Script {
		if m.Marker < 0 {
			return fmt.Errorf("detector script: negative marker id %d", m.Marker)
		}
	}

	seenIDs := make(map[string]bool, len(c.Roster))
	seenMarkers := make(map[int]string, len(c.Roster)*2)
	for _, car := range c.Roster {
		if car.ID == "" {
			return fmt.Errorf("roster entry without id")
		}
		if seenIDs[car.ID] {
			return fmt.Errorf("duplicate roster id: %s", car.ID)
		}
		seenIDs[car.ID] = true
		for _, marker := range []int{car.Left, car.Right} {
			if marker < 0 {
				return fmt.Errorf("car %s: negative marker id %d", car.ID, marker)
			}
			if owner, ok := seenMarkers[marker]; ok {
				return fmt.Errorf("marker %d assigned to both %s and %s", marker, owner, car.ID)
			}
			seenMarkers[marker] = car.ID
		}
	}
	return nil
}
