package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestAimOverlay(t *testing.T) {
	convey.Convey("Given an aim overlay on a 200x100 frame", t, func() {
		aim := NewAimOverlay(200, 100)

		convey.Convey("targets are moved to the centre with y flipped", func() {
			aim.SetTarget("gargamella", 20, 10)
			convey.So(aim.Targets(), convey.ShouldResemble, []Target{{ID: "gargamella", X: 120, Y: 40}})
		})

		convey.Convey("ClearAll hides targets until they are set again", func() {
			aim.SetTarget("gargamella", 0, 0)
			aim.ClearAll()
			convey.So(aim.Targets(), convey.ShouldBeEmpty)
			_, ok := aim.TargetedID()
			convey.So(ok, convey.ShouldBeFalse)

			aim.SetTarget("gargamella", 1, 1)
			convey.So(len(aim.Targets()), convey.ShouldEqual, 1)
		})

		convey.Convey("the targeted vehicle is the closest one inside the reticle", func() {
			aim.SetTarget("gargamella", 20, 0)
			aim.SetTarget("taxiguerrilla", 5, 5)
			id, ok := aim.TargetedID()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(id, convey.ShouldEqual, "taxiguerrilla")
		})

		convey.Convey("a vehicle outside the reticle is a miss", func() {
			aim.SetTarget("gargamella", AimRadius+1, 0)
			_, ok := aim.TargetedID()
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("Render draws the reticle around the centre", func() {
			img := image.NewRGBA(image.Rect(0, 0, 200, 100))
			convey.So(aim.Render(img), convey.ShouldBeNil)
			onRing := img.RGBAAt(100+int(AimRadius), 50)
			convey.So(onRing.R, convey.ShouldBeGreaterThan, 0)
			centre := img.RGBAAt(100, 50)
			convey.So(centre, convey.ShouldResemble, color.RGBA{})
		})
	})
}

func TestHUD(t *testing.T) {
	convey.Convey("Given the driving HUD", t, func() {
		m, aim, battery := NewHUD(320, 240)

		convey.Convey("the battery label starts unknown and follows updates", func() {
			convey.So(battery.Text(), convey.ShouldEqual, "BAT --")
			battery.SetText(BatteryLabel(87))
			convey.So(battery.Text(), convey.ShouldEqual, "BAT 87%")
		})

		convey.Convey("widgets are unique by id", func() {
			convey.So(m.AddWidget(aim), convey.ShouldNotBeNil)
			convey.So(m.RemoveWidget("battery"), convey.ShouldBeNil)
			_, ok := m.GetWidget("battery")
			convey.So(ok, convey.ShouldBeFalse)
			convey.So(m.RemoveWidget("battery"), convey.ShouldNotBeNil)
		})

		convey.Convey("rendering draws the label background in the corner", func() {
			img := image.NewRGBA(image.Rect(0, 0, 320, 240))
			for i := range img.Pix {
				img.Pix[i] = 255
			}
			convey.So(m.Render(img), convey.ShouldBeNil)
			corner := img.RGBAAt(9, 9)
			convey.So(corner.R, convey.ShouldBeLessThan, 255)
		})

		convey.Convey("a disabled overlay leaves the frame untouched", func() {
			m.SetEnabled(false)
			img := image.NewRGBA(image.Rect(0, 0, 320, 240))
			convey.So(m.Render(img), convey.ShouldBeNil)
			convey.So(img.RGBAAt(160+int(AimRadius), 120), convey.ShouldResemble, color.RGBA{})
		})
	})
}

func TestBlend(t *testing.T) {
	convey.Convey("blending opaque red at half opacity over white gives pink", t, func() {
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))
		img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
		blendPixel(img, 0, 0, color.RGBA{255, 0, 0, 255}, 0.5)
		got := img.RGBAAt(0, 0)
		convey.So(got.R, convey.ShouldEqual, 255)
		convey.So(got.G, convey.ShouldBeBetween, 126, 129)
		convey.So(got.A, convey.ShouldEqual, 255)
	})
}
