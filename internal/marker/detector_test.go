package marker

import (
	"errors"
	"image"
	"testing"

	"github.com/frogdesign/akart/internal/yuv"
	"github.com/smartystreets/goconvey/convey"
)

func converted(w, h int) yuv.Converted {
	return yuv.NewConverter().Convert(image.NewRGBA(image.Rect(0, 0, w, h)))
}

func TestAdapter(t *testing.T) {
	convey.Convey("Given an adapter over a scripted detector", t, func() {
		det := NewScripted()
		a := NewAdapter(det, []int{0, 1, 2, 3})

		convey.Convey("detection before Init fails", func() {
			_, _, err := a.Detect(converted(4, 4))
			convey.So(errors.Is(err, ErrNotInitialized), convey.ShouldBeTrue)
		})

		convey.Convey("Init rejects a missing camera parameter file", func() {
			err := a.Init(Params{CameraParams: "/nonexistent/camera_para.dat", MarkerSizeMM: 40})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("once initialized", func() {
			convey.So(a.Init(Params{MarkerSizeMM: 40}), convey.ShouldBeNil)
			det.Show(1, Translate(10, 20, -80))

			convey.Convey("poses are reported for every tracked marker", func() {
				poses, ok, err := a.Detect(converted(4, 4))
				convey.So(err, convey.ShouldBeNil)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(len(poses), convey.ShouldEqual, 4)
				convey.So(poses.Visible(0), convey.ShouldBeFalse)
				convey.So(poses.Visible(1), convey.ShouldBeTrue)
				x, y, z := poses[1].Transform.Translation()
				convey.So([]float64{x, y, z}, convey.ShouldResemble, []float64{10, 20, -80})
			})

			convey.Convey("an empty frame skips the pass", func() {
				_, ok, err := a.Detect(yuv.Converted{})
				convey.So(err, convey.ShouldBeNil)
				convey.So(ok, convey.ShouldBeFalse)
				_, skipped := a.Counts()
				convey.So(skipped, convey.ShouldEqual, 1)
			})

			convey.Convey("a pass the detector did not run is skipped", func() {
				det.RejectFrames(true)
				_, ok, _ := a.Detect(converted(4, 4))
				convey.So(ok, convey.ShouldBeFalse)
			})

			convey.Convey("Close tears the detector down once", func() {
				convey.So(a.Close(), convey.ShouldBeNil)
				convey.So(det.Initialized(), convey.ShouldBeFalse)
				convey.So(a.Close(), convey.ShouldBeNil)
			})
		})
	})
}

func TestNew(t *testing.T) {
	convey.Convey("detectors are created by kind", t, func() {
		d, err := New("scripted")
		convey.So(err, convey.ShouldBeNil)
		convey.So(d.Name(), convey.ShouldEqual, "scripted")

		_, err = New("artoolkit-native")
		convey.So(errors.Is(err, ErrUnknownDetector), convey.ShouldBeTrue)
	})
}

func TestPosesVisible(t *testing.T) {
	convey.Convey("negative ids are never visible", t, func() {
		p := Poses{-1: {ID: -1, Visible: true}}
		convey.So(p.Visible(-1), convey.ShouldBeFalse)
	})
}
