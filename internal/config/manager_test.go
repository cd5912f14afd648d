package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	convey.Convey("a missing config file is created with defaults", t, func() {
		path := filepath.Join(t.TempDir(), "nested", "config.yaml")
		m, err := NewManager(path)
		convey.So(err, convey.ShouldBeNil)

		_, statErr := os.Stat(path)
		convey.So(statErr, convey.ShouldBeNil)

		cfg := m.Get()
		convey.So(cfg.Control.SpeedMax, convey.ShouldEqual, 50)
		convey.So(cfg.Control.TurnDeadzone, convey.ShouldEqual, 10)
		convey.So(cfg.Locator.DepthDivisor, convey.ShouldEqual, -80)
		convey.So(cfg.Pipeline.FrameInterval, convey.ShouldEqual, 33*time.Millisecond)
		convey.So(len(cfg.Roster), convey.ShouldEqual, 2)
	})
}

func TestLoadKeepsDefaultsForMissingSections(t *testing.T) {
	convey.Convey("a partial file only overrides what it names", t, func() {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte("server_port: 9090\npipeline:\n  frame_interval: 50ms\n  detect_interval: 66ms\n  display_interval: 40ms\n")
		convey.So(os.WriteFile(path, data, 0644), convey.ShouldBeNil)

		m, err := NewManager(path)
		convey.So(err, convey.ShouldBeNil)
		cfg := m.Get()
		convey.So(cfg.ServerPort, convey.ShouldEqual, 9090)
		convey.So(cfg.Pipeline.DetectInterval, convey.ShouldEqual, 66*time.Millisecond)
		convey.So(cfg.Control.TurnMax, convey.ShouldEqual, 50)
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := Defaults()
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		convey.Convey("a shared marker id is rejected", func() {
			cfg.Roster[1].Left = cfg.Roster[0].Right
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("a dead zone as wide as the turn range is rejected", func() {
			cfg.Control.TurnDeadzone = cfg.Control.TurnMax
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("a depth clamp that is off is rejected", func() {
			for _, floor := range []float64{0, -1e-3, math.NaN(), math.Inf(1)} {
				cfg.Locator.MinDepth = floor
				convey.So(cfg.Validate(), convey.ShouldNotBeNil)
			}
		})

		convey.Convey("a negative frame size limit is rejected", func() {
			cfg.Pipeline.MaxFramePixels = -1
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("a zero sampling interval is rejected", func() {
			cfg.Pipeline.DetectInterval = 0
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})
	})
}

func TestViperRoundTrip(t *testing.T) {
	convey.Convey("a value set through viper is persisted", t, func() {
		path := filepath.Join(t.TempDir(), "config.yaml")
		m, err := NewManager(path)
		convey.So(err, convey.ShouldBeNil)

		v, err := m.GetViper()
		convey.So(err, convey.ShouldBeNil)
		convey.So(v.GetInt("control.turn_max"), convey.ShouldEqual, 50)

		v.Set("control.turn_deadzone", 12)
		convey.So(m.ApplyViper(v), convey.ShouldBeNil)

		reloaded, err := NewManager(path)
		convey.So(err, convey.ShouldBeNil)
		convey.So(reloaded.Get().Control.TurnDeadzone, convey.ShouldEqual, 12)
		convey.So(reloaded.Get().Roster[1].ID, convey.ShouldEqual, "taxiguerrilla")
	})
}
