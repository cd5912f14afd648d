package control

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
)

type sent struct {
	kind  string
	value int
}

type recordingTransport struct {
	mu        sync.Mutex
	startCode int
	stopCode  int
	log       []sent
}

func (r *recordingTransport) Start() int { return r.startCode }
func (r *recordingTransport) Stop() int  { return r.stopCode }

func (r *recordingTransport) SendSpeed(v int8) { r.add("speed", int(v)) }
func (r *recordingTransport) SendTurn(v int8)  { r.add("turn", int(v)) }

func (r *recordingTransport) SendArmFlag(on bool) {
	v := 0
	if on {
		v = 1
	}
	r.add("arm", v)
}

func (r *recordingTransport) add(kind string, v int) {
	r.mu.Lock()
	r.log = append(r.log, sent{kind, v})
	r.mu.Unlock()
}

func (r *recordingTransport) sent() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.log...)
}

func (r *recordingTransport) reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}

func defaultSettings() Settings {
	return Settings{
		SpeedMax:       50,
		TurnMax:        50,
		TurnDeadzone:   10,
		ReverseSpeed:   0.4,
		HitDuration:    20 * time.Millisecond,
		HitSpeedFactor: 0.5,
	}
}

func TestControllerLifecycle(t *testing.T) {
	convey.Convey("Given a controller that has not been started", t, func() {
		tr := &recordingTransport{}
		c := New(tr, defaultSettings())

		convey.Convey("commands panic with ErrNotStarted", func() {
			convey.So(func() { c.SetThrottle(0.5) }, convey.ShouldPanicWith, ErrNotStarted)
			convey.So(func() { c.SetSteering(0.5) }, convey.ShouldPanicWith, ErrNotStarted)
			convey.So(func() { c.Neutral() }, convey.ShouldPanicWith, ErrNotStarted)
			convey.So(tr.sent(), convey.ShouldBeEmpty)
		})

		convey.Convey("a nonzero start code is reported as a transport error", func() {
			tr.startCode = 3
			err := c.Start()
			convey.So(errors.Is(err, ErrStartFailed), convey.ShouldBeTrue)
			var te *TransportError
			convey.So(errors.As(err, &te), convey.ShouldBeTrue)
			convey.So(te.Code, convey.ShouldEqual, 3)
			convey.So(c.Started(), convey.ShouldBeFalse)
		})

		convey.Convey("status follows start and stop", func() {
			var got []bool
			c.Status().Subscribe(func(v bool) { got = append(got, v) })
			convey.So(c.Start(), convey.ShouldBeNil)
			convey.So(c.Stop(), convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, []bool{false, true, false})
		})

		convey.Convey("commands panic again after stop", func() {
			convey.So(c.Start(), convey.ShouldBeNil)
			convey.So(c.Stop(), convey.ShouldBeNil)
			convey.So(func() { c.SetThrottle(1) }, convey.ShouldPanicWith, ErrNotStarted)
		})

		convey.Convey("a nonzero stop code is reported", func() {
			tr.stopCode = 1
			convey.So(c.Start(), convey.ShouldBeNil)
			convey.So(errors.Is(c.Stop(), ErrStopFailed), convey.ShouldBeTrue)
		})
	})
}

func TestControllerCommands(t *testing.T) {
	convey.Convey("Given a started controller", t, func() {
		tr := &recordingTransport{}
		c := New(tr, defaultSettings())
		convey.So(c.Start(), convey.ShouldBeNil)
		defer c.Stop()

		convey.Convey("half throttle sends speed 25 and arms", func() {
			c.SetThrottle(0.5)
			convey.So(tr.sent(), convey.ShouldResemble, []sent{{"speed", 25}, {"arm", 1}})
			convey.So(c.Command(), convey.ShouldResemble, MotorCommand{Speed: 25, Armed: true})
		})

		convey.Convey("zero throttle is neutral regardless of prior state", func() {
			c.SetThrottle(1)
			c.SetSteering(1)
			tr.reset()
			c.SetThrottle(0)
			convey.So(tr.sent(), convey.ShouldResemble, []sent{{"speed", 0}, {"turn", 0}, {"arm", 0}})
			convey.So(c.Command(), convey.ShouldResemble, MotorCommand{})
		})

		convey.Convey("throttle outside the range is clamped", func() {
			c.SetThrottle(4)
			convey.So(c.Command().Speed, convey.ShouldEqual, 50)
			c.SetThrottle(-4)
			convey.So(c.Command().Speed, convey.ShouldEqual, -50)
		})

		convey.Convey("steering is inverted and scaled", func() {
			c.SetSteering(0.5)
			convey.So(tr.sent(), convey.ShouldResemble, []sent{{"turn", -25}})
		})

		convey.Convey("steering inside the dead zone sends nothing and keeps the last turn", func() {
			c.SetSteering(-0.5)
			tr.reset()
			c.SetSteering(0.1)
			c.SetSteering(-0.19)
			convey.So(tr.sent(), convey.ShouldBeEmpty)
			convey.So(c.Command().Turn, convey.ShouldEqual, 25)
		})

		convey.Convey("steering at the dead zone edge is sent", func() {
			c.SetSteering(-0.2)
			convey.So(tr.sent(), convey.ShouldResemble, []sent{{"turn", 10}})
		})

		convey.Convey("neutral is idempotent", func() {
			c.Neutral()
			first := tr.sent()
			tr.reset()
			c.Neutral()
			convey.So(tr.sent(), convey.ShouldResemble, first)
			convey.So(c.Command(), convey.ShouldResemble, MotorCommand{})
		})

		convey.Convey("reverse uses the reverse speed", func() {
			c.Reverse()
			convey.So(c.Command(), convey.ShouldResemble, MotorCommand{Speed: -20, Armed: true})
		})

		convey.Convey("max speed scales the current throttle", func() {
			c.SetThrottle(1)
			c.SetMaxSpeed(50)
			convey.So(c.Command().Speed, convey.ShouldEqual, 25)
		})
	})
}

func TestControllerGame(t *testing.T) {
	convey.Convey("Given a started controller", t, func() {
		tr := &recordingTransport{}
		c := New(tr, defaultSettings())
		convey.So(c.Start(), convey.ShouldBeNil)
		defer c.Stop()

		convey.Convey("switching the game off stops the car and ignores driving", func() {
			c.SetThrottle(1)
			c.SetGameOn(false)
			convey.So(c.Command(), convey.ShouldResemble, MotorCommand{})
			tr.reset()
			c.SetThrottle(1)
			c.SetSteering(1)
			c.Reverse()
			convey.So(tr.sent(), convey.ShouldBeEmpty)

			convey.Convey("but neutral still goes through", func() {
				c.SetThrottle(0)
				convey.So(len(tr.sent()), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("a hit slows the car until it wears off", func() {
			c.SetThrottle(1)
			c.Hit()
			convey.So(c.Hitting(), convey.ShouldBeTrue)
			convey.So(c.Command().Speed, convey.ShouldEqual, 25)

			deadline := time.Now().Add(time.Second)
			for c.Hitting() && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			convey.So(c.Hitting(), convey.ShouldBeFalse)
			convey.So(c.Command().Speed, convey.ShouldEqual, 50)
		})

		convey.Convey("battery replays -1 until the car reports", func() {
			var got []int
			c.BatteryLevel().Subscribe(func(v int) { got = append(got, v) })
			c.OnBattery(87)
			convey.So(got, convey.ShouldResemble, []int{-1, 87})
		})

		convey.Convey("a disconnect publishes a false status", func() {
			c.OnDisconnect()
			v, _ := c.Status().Get()
			convey.So(v, convey.ShouldBeFalse)
		})
	})
}
