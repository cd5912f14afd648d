package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/frogdesign/akart/internal/codec"
	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/marker"
	"github.com/frogdesign/akart/internal/vehicle"
	"github.com/smartystreets/goconvey/convey"
)

func TestSlot(t *testing.T) {
	convey.Convey("Given a slot", t, func() {
		var dropped []int
		s := NewSlot(func(v int) { dropped = append(dropped, v) })

		convey.Convey("a newer item overwrites an untaken one", func() {
			s.Put(1)
			s.Put(2)
			v, ok := s.TryTake()
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(v, convey.ShouldEqual, 2)
			convey.So(dropped, convey.ShouldResemble, []int{1})
			convey.So(s.Drops(), convey.ShouldEqual, 1)
		})

		convey.Convey("Take waits for an item", func() {
			got := make(chan int, 1)
			go func() {
				v, _ := s.Take()
				got <- v
			}()
			time.Sleep(10 * time.Millisecond)
			s.Put(7)
			convey.So(<-got, convey.ShouldEqual, 7)
		})

		convey.Convey("Close wakes a waiting Take and drops the pending item", func() {
			done := make(chan bool, 1)
			go func() {
				_, ok := s.Take()
				done <- ok
			}()
			time.Sleep(10 * time.Millisecond)
			s.Close()
			convey.So(<-done, convey.ShouldBeFalse)

			convey.So(s.Put(9), convey.ShouldBeFalse)
			convey.So(dropped, convey.ShouldResemble, []int{9})
		})
	})
}

func TestSampler(t *testing.T) {
	convey.Convey("Given a sampler", t, func() {
		var forwarded, dropped []int
		s := NewSampler(time.Hour,
			func(v int) { forwarded = append(forwarded, v) },
			func(v int) { dropped = append(dropped, v) })

		convey.Convey("N items in one interval forward exactly the most recent", func() {
			for i := 1; i <= 5; i++ {
				s.Offer(i)
			}
			convey.So(s.Tick(), convey.ShouldBeTrue)
			convey.So(forwarded, convey.ShouldResemble, []int{5})
			convey.So(dropped, convey.ShouldResemble, []int{1, 2, 3, 4})

			st := s.Stats()
			convey.So(st.Offered, convey.ShouldEqual, 5)
			convey.So(st.Forwarded, convey.ShouldEqual, 1)
			convey.So(st.Dropped, convey.ShouldEqual, 4)
		})

		convey.Convey("an interval with nothing forwards nothing", func() {
			convey.So(s.Tick(), convey.ShouldBeFalse)
			s.Offer(1)
			s.Tick()
			convey.So(s.Tick(), convey.ShouldBeFalse)
			convey.So(forwarded, convey.ShouldResemble, []int{1})
		})

		convey.Convey("Run stops with its context and drops what is pending", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				s.Run(ctx)
				close(done)
			}()
			s.Offer(3)
			cancel()
			<-done
			convey.So(forwarded, convey.ShouldBeEmpty)
			convey.So(dropped, convey.ShouldResemble, []int{3})
		})
	})
}

func TestStage(t *testing.T) {
	convey.Convey("Given a stage on a pool of four workers", t, func() {
		pool := NewPool(4)
		defer pool.Close()

		var mu sync.Mutex
		running, maxRunning := 0, 0
		seen := make(chan int, 100)
		st := NewStage(pool, func(v int) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			seen <- v
		}, nil)

		convey.Convey("items never run concurrently and the last one always runs", func() {
			for i := 1; i <= 50; i++ {
				st.Offer(i)
			}
			last := 0
			timeout := time.After(2 * time.Second)
		wait:
			for last != 50 {
				select {
				case last = <-seen:
				case <-timeout:
					break wait
				}
			}
			convey.So(last, convey.ShouldEqual, 50)
			mu.Lock()
			convey.So(maxRunning, convey.ShouldEqual, 1)
			mu.Unlock()

			stats := st.Stats()
			convey.So(stats.Processed+stats.Dropped, convey.ShouldEqual, 50)
		})
	})
}

func TestDelivery(t *testing.T) {
	convey.Convey("callbacks run in posting order", t, func() {
		d := NewDelivery()
		var got []int
		done := make(chan struct{})
		for i := 0; i < 10; i++ {
			i := i
			d.Post(func() { got = append(got, i) })
		}
		d.Post(func() { close(done) })
		<-done
		d.Close()
		convey.So(got, convey.ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
		convey.So(d.Post(func() {}), convey.ShouldBeFalse)
	})
}

type recordingConsumer struct {
	displays  chan int
	estimates chan []vehicle.Estimate
}

func (c *recordingConsumer) OnDisplay(f *codec.Frame) {
	select {
	case c.displays <- f.Width:
	default:
	}
}

func (c *recordingConsumer) OnEstimates(seq uint64, e []vehicle.Estimate) {
	select {
	case c.estimates <- e:
	default:
	}
}

func pngFrame(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestPipeline(t *testing.T) {
	convey.Convey("Given a running pipeline with a scripted detector", t, func() {
		roster, err := vehicle.NewRoster([]config.CarConfig{{ID: "gargamella", Left: 0, Right: 1}})
		convey.So(err, convey.ShouldBeNil)

		det := marker.NewScripted()
		adapter := marker.NewAdapter(det, roster.Markers())
		convey.So(adapter.Init(marker.Params{MarkerSizeMM: 40}), convey.ShouldBeNil)
		det.Show(0, marker.Translate(10, 20, -80))
		det.Show(1, marker.Translate(30, 20, -80))

		locator := vehicle.NewLocator(roster, vehicle.Calibration{DepthDivisor: -80, XFactor: 1, YFactor: 1})
		sched := NewScheduler(2)
		consumer := &recordingConsumer{
			displays:  make(chan int, 1),
			estimates: make(chan []vehicle.Estimate, 1),
		}
		p := New(sched, Intervals{Frame: 5 * time.Millisecond, Detect: 5 * time.Millisecond, Display: 5 * time.Millisecond}, adapter, locator, consumer)
		convey.So(p.Start(context.Background()), convey.ShouldBeNil)
		defer func() {
			p.Stop()
			sched.Close()
		}()

		convey.Convey("a pushed frame reaches both branches", func() {
			frame := pngFrame(8, 6)
			stop := make(chan struct{})
			go func() {
				for {
					select {
					case <-stop:
						return
					default:
						p.Push(frame)
						time.Sleep(time.Millisecond)
					}
				}
			}()
			defer close(stop)

			var ests []vehicle.Estimate
			select {
			case ests = <-consumer.estimates:
			case <-time.After(2 * time.Second):
			}
			convey.So(len(ests), convey.ShouldEqual, 1)
			convey.So(ests[0].ID, convey.ShouldEqual, "gargamella")
			convey.So(ests[0].X, convey.ShouldAlmostEqual, 20)
			convey.So(ests[0].Y, convey.ShouldAlmostEqual, 20)

			width := 0
			select {
			case width = <-consumer.displays:
			case <-time.After(2 * time.Second):
			}
			convey.So(width, convey.ShouldEqual, 8)
		})

		convey.Convey("malformed frames are skipped without stopping the pipeline", func() {
			p.Push([]byte("not a jpeg"))
			p.Push(nil)
			time.Sleep(30 * time.Millisecond)
			p.Push(pngFrame(4, 4))

			width := 0
			select {
			case width = <-consumer.displays:
			case <-time.After(2 * time.Second):
			}
			convey.So(width, convey.ShouldEqual, 4)
			convey.So(p.Stats().DecodeFailed, convey.ShouldBeGreaterThanOrEqualTo, 1)
		})

		convey.Convey("a second Start is rejected", func() {
			convey.So(p.Start(context.Background()), convey.ShouldEqual, ErrStarted)
		})
	})
}
