package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/frogdesign/akart/internal/codec"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type recordingOutput struct {
	mu     sync.Mutex
	frames []*image.RGBA
	got    chan struct{}
}

func newRecordingOutput() *recordingOutput {
	return &recordingOutput{got: make(chan struct{}, 16)}
}

func (o *recordingOutput) Start() error    { return nil }
func (o *recordingOutput) Stop() error     { return nil }
func (o *recordingOutput) Name() string    { return "recording" }
func (o *recordingOutput) IsRunning() bool { return true }

func (o *recordingOutput) WriteFrame(frame *image.RGBA) error {
	cp := image.NewRGBA(frame.Bounds())
	copy(cp.Pix, frame.Pix)
	o.mu.Lock()
	o.frames = append(o.frames, cp)
	o.mu.Unlock()
	o.got <- struct{}{}
	return nil
}

type markCorner struct{}

func (markCorner) Render(img *image.RGBA) error {
	img.SetRGBA(0, 0, color.RGBA{0, 255, 0, 255})
	return nil
}

func TestScaler(t *testing.T) {
	convey.Convey("Given a 100x100 scaler", t, func() {
		s := NewScaler(100, 100)

		convey.Convey("a frame of the right size is returned as is", func() {
			src := solid(100, 100, color.RGBA{255, 0, 0, 255})
			convey.So(s.Fit(src), convey.ShouldEqual, src)
		})

		convey.Convey("a wide frame is letterboxed top and bottom", func() {
			out := s.Fit(solid(200, 100, color.RGBA{255, 255, 255, 255}))
			convey.So(out.Bounds(), convey.ShouldResemble, image.Rect(0, 0, 100, 100))
			convey.So(out.RGBAAt(50, 5), convey.ShouldResemble, color.RGBA{0, 0, 0, 255})
			convey.So(out.RGBAAt(50, 50).R, convey.ShouldBeGreaterThan, 200)
		})
	})

	convey.Convey("A zero size disables scaling", t, func() {
		src := solid(30, 20, color.RGBA{})
		convey.So(NewScaler(0, 0).Fit(src), convey.ShouldEqual, src)
	})
}

func TestCompositor(t *testing.T) {
	convey.Convey("Given a compositor with a HUD and one output", t, func() {
		out := newRecordingOutput()
		c := NewCompositor(Config{Width: 8, Height: 8}, markCorner{}, out)
		c.Start()
		defer c.Stop()

		src := solid(8, 8, color.RGBA{10, 20, 30, 255})
		frame := (&codec.Frame{Image: src, Width: 8, Height: 8}).Retain()

		c.OnDisplay(frame)
		frame.Release()

		select {
		case <-out.got:
		case <-time.After(time.Second):
			t.Fatal("no frame written")
		}

		convey.Convey("the HUD is drawn on a copy of the frame", func() {
			out.mu.Lock()
			got := out.frames[0]
			out.mu.Unlock()
			convey.So(got.RGBAAt(0, 0), convey.ShouldResemble, color.RGBA{0, 255, 0, 255})
			convey.So(got.RGBAAt(1, 1), convey.ShouldResemble, color.RGBA{10, 20, 30, 255})
		})

		convey.Convey("the frame is released once composed", func() {
			convey.So(frame.Holders(), convey.ShouldEqual, 0)
			convey.So(c.Written(), convey.ShouldEqual, 1)
		})
	})

	convey.Convey("Stopping a compositor that never started returns", t, func() {
		c := NewCompositor(Config{}, nil)
		c.Stop()
		c.Stop()
	})
}

func TestMJPEGOutput(t *testing.T) {
	convey.Convey("Given a running MJPEG output", t, func() {
		m := NewMJPEGOutput(Config{Width: 16, Height: 16, FPS: 30})

		convey.Convey("frames are refused before start", func() {
			convey.So(m.WriteFrame(solid(16, 16, color.RGBA{})), convey.ShouldNotBeNil)
		})

		convey.So(m.Start(), convey.ShouldBeNil)
		defer m.Stop()

		convey.Convey("a second start fails", func() {
			convey.So(m.Start(), convey.ShouldNotBeNil)
		})

		convey.Convey("the last frame is kept as JPEG", func() {
			convey.So(m.WriteFrame(solid(16, 16, color.RGBA{200, 0, 0, 255})), convey.ShouldBeNil)
			img, err := jpeg.Decode(bytes.NewReader(m.LastFrame()))
			convey.So(err, convey.ShouldBeNil)
			convey.So(img.Bounds().Dx(), convey.ShouldEqual, 16)
		})

		convey.Convey("a client receives multipart frames", func() {
			convey.So(m.WriteFrame(solid(16, 16, color.RGBA{0, 0, 200, 255})), convey.ShouldBeNil)

			srv := httptest.NewServer(m.GetHTTPHandler())
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
			resp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()

			convey.So(resp.Header.Get("Content-Type"), convey.ShouldStartWith, "multipart/x-mixed-replace")
			line, err := bufio.NewReader(resp.Body).ReadString('\n')
			convey.So(err, convey.ShouldBeNil)
			convey.So(strings.TrimSpace(line), convey.ShouldEqual, "--frame")
		})

		convey.Convey("stats report frames as JSON", func() {
			convey.So(m.WriteFrame(solid(16, 16, color.RGBA{})), convey.ShouldBeNil)
			rec := httptest.NewRecorder()
			m.GetStatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			var s Stats
			convey.So(json.Unmarshal(rec.Body.Bytes(), &s), convey.ShouldBeNil)
			convey.So(s.Running, convey.ShouldBeTrue)
			convey.So(s.Frames, convey.ShouldEqual, 1)
		})
	})

	convey.Convey("A stopped output answers the stream with 503", t, func() {
		m := NewMJPEGOutput(Config{})
		rec := httptest.NewRecorder()
		m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
		convey.So(rec.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
	})
}
